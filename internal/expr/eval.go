package expr

import "log"

// Eval evaluates n against attrs, lazily populating whatever attribute
// fields the comparisons need. Boolean operators short-circuit (spec §4.2).
func Eval(n Node, attrs *Attrs) bool {
	switch t := n.(type) {
	case *BoolNode:
		switch t.Op {
		case OpAnd:
			return Eval(t.Left, attrs) && Eval(t.Right, attrs)
		case OpOr:
			return Eval(t.Left, attrs) || Eval(t.Right, attrs)
		case OpNot:
			return !Eval(t.Left, attrs)
		}
		return false
	case *PropNode:
		return evalProp(t, attrs)
	default:
		return false
	}
}

func evalProp(n *PropNode, attrs *Attrs) bool {
	if idx, ok := n.Prop.IsArg(); ok {
		v, err := attrs.arg(idx)
		if err != nil {
			return false
		}
		return compareStringVal(v, n.Op, n.Value.Str)
	}

	switch n.Prop {
	case PropBinaryPath:
		if err := attrs.ensureBinaryPath(); err != nil {
			return false
		}
		return compareStringVal(Str(attrs.BinaryPath), n.Op, n.Value.Str)
	case PropCmdline:
		s, err := attrs.cmdlineJoined()
		if err != nil {
			return false
		}
		return compareStringVal(Str(s), n.Op, n.Value.Str)
	case PropComm:
		if err := attrs.ensureComm(); err != nil {
			return false
		}
		return compareStringVal(Str(attrs.Comm), n.Op, n.Value.Str)
	case PropParentBinary:
		if err := attrs.ensureParentBinary(); err != nil {
			return false
		}
		return compareStringVal(attrs.ParentBinary, n.Op, n.Value.Str)
	case PropProcType:
		if err := attrs.ensureProcType(); err != nil {
			return false
		}
		return compareUint32(uint32(attrs.ProcType), n.Op, n.Value.U32)
	case PropPPid:
		if err := attrs.ensureStatus(); err != nil {
			return false
		}
		return compareUint32(uint32(attrs.PPid), n.Op, n.Value.U32)
	case PropEuid:
		if err := attrs.ensureStatus(); err != nil {
			return false
		}
		return compareUint32(attrs.Euid, n.Op, n.Value.U32)
	case PropEgid:
		if err := attrs.ensureStatus(); err != nil {
			return false
		}
		return compareUint32(attrs.Egid, n.Op, n.Value.U32)
	case PropReclassifyCount:
		return compareUint32(attrs.ReclassifyCount, n.Op, n.Value.U32)
	default:
		log.Printf("expr: unhandled property %v", n.Prop)
		return false
	}
}

// ensureProcType resolves whether the task is a user or kernel thread. We
// infer it from binary path: kernel threads have no resolvable exe link.
func (a *Attrs) ensureProcType() error {
	if a.pop&popProcType != 0 {
		return nil
	}
	if err := a.ensureBinaryPath(); err != nil {
		a.ProcType = ProcKernel
	} else if a.BinaryPath == "" {
		a.ProcType = ProcKernel
	} else {
		a.ProcType = ProcUser
	}
	a.pop |= popProcType
	return nil
}

// compareStringVal implements the null-safe, byte-exact string semantics
// of spec §4.2: "=" and "≠" are null-safe; "<" is strcmp-ordered with
// null < non-null.
func compareStringVal(v StringVal, op CompareOp, lit string) bool {
	switch op {
	case OpEq:
		return v.Valid && v.S == lit
	case OpNe:
		return !v.Valid || v.S != lit
	case OpLt:
		if !v.Valid {
			return true
		}
		return v.S < lit
	default:
		return false
	}
}

func compareUint32(v uint32, op CompareOp, lit uint32) bool {
	switch op {
	case OpEq:
		return v == lit
	case OpNe:
		return v != lit
	case OpLt:
		return v < lit
	default:
		return false
	}
}

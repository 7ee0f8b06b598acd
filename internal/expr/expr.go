// Package expr implements the boolean/property expression evaluator that
// rule statements use to select their action list (spec §3 "Expression
// tree", §4.2).
package expr

import "fmt"

// Property identifies a process attribute a PropNode compares against a
// constant. Arg0..Arg31 are represented as consecutive values starting at
// PropArg0 so PropArgN(n) is a single offset computation.
type Property int

const (
	PropBinaryPath Property = iota
	PropArg0
)

const maxArgs = 32

// PropArgN returns the Property for argv[n], n in [0, 31].
func PropArgN(n int) Property { return PropArg0 + Property(n) }

// IsArg reports whether p addresses one of arg0..arg31, and if so which index.
func (p Property) IsArg() (int, bool) {
	if p >= PropArg0 && p < PropArg0+maxArgs {
		return int(p - PropArg0), true
	}
	return 0, false
}

const (
	PropCmdline Property = iota + PropArg0 + maxArgs
	PropComm
	PropProcType
	PropParentBinary
	PropPPid
	PropEuid
	PropEgid
	PropReclassifyCount
)

func (p Property) String() string {
	if n, ok := p.IsArg(); ok {
		return fmt.Sprintf("arg%d", n)
	}
	switch p {
	case PropBinaryPath:
		return "binary"
	case PropCmdline:
		return "cmdline"
	case PropComm:
		return "comm"
	case PropProcType:
		return "type"
	case PropParentBinary:
		return "parent"
	case PropPPid:
		return "ppid"
	case PropEuid:
		return "euid"
	case PropEgid:
		return "egid"
	case PropReclassifyCount:
		return "reclassify_count"
	default:
		return "unknown"
	}
}

// isStringProp reports whether p resolves to a string-typed attribute
// (as opposed to a uint32-typed one).
func (p Property) isStringProp() bool {
	if _, ok := p.IsArg(); ok {
		return true
	}
	switch p {
	case PropBinaryPath, PropCmdline, PropComm, PropParentBinary:
		return true
	default:
		return false
	}
}

// CompareOp is the comparison used by a PropNode.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	default:
		return "?"
	}
}

// BoolOp is the operator of a BoolNode.
type BoolOp int

const (
	OpAnd BoolOp = iota
	OpOr
	OpNot
)

// ValueKind tags a Value's type.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueUint32
)

// Value is a tagged constant: either a string or an unsigned 32-bit integer.
// Construction stores the literal as given: symbolic uid/gid names are not
// resolved to numeric ids, so euid/egid comparisons take numeric values only.
type Value struct {
	Kind ValueKind
	Str  string
	U32  uint32
}

func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }
func Uint32Value(v uint32) Value { return Value{Kind: ValueUint32, U32: v} }

// Node is any expression tree node.
type Node interface {
	isNode()
}

// BoolNode is an and/or/not combinator. Not uses only Left.
type BoolNode struct {
	Op          BoolOp
	Left, Right Node
}

func (*BoolNode) isNode() {}

// PropNode compares a process property against a constant.
type PropNode struct {
	Prop  Property
	Op    CompareOp
	Value Value
}

func (*PropNode) isNode() {}

// And/Or/Not/Cmp are constructors that type-check at construction time, as
// spec §3 requires ("Type-checking occurs at expression construction").
func And(l, r Node) Node { return &BoolNode{Op: OpAnd, Left: l, Right: r} }
func Or(l, r Node) Node  { return &BoolNode{Op: OpOr, Left: l, Right: r} }
func Not(n Node) Node    { return &BoolNode{Op: OpNot, Left: n} }

// Cmp builds a property comparison, rejecting a type mismatch between the
// property's resolved type and the literal's tagged type.
func Cmp(p Property, op CompareOp, v Value) (Node, error) {
	wantString := p.isStringProp()
	gotString := v.Kind == ValueString
	if wantString != gotString {
		return nil, fmt.Errorf("expr: property %s expects %s literal, got %s",
			p, typeName(wantString), typeName(gotString))
	}
	return &PropNode{Prop: p, Op: op, Value: v}, nil
}

func typeName(isString bool) string {
	if isString {
		return "string"
	}
	return "uint32"
}

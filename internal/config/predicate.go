package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sysparts/syspartd/internal/expr"
)

var propNames = map[string]expr.Property{
	"binary":           expr.PropBinaryPath,
	"cmdline":          expr.PropCmdline,
	"comm":             expr.PropComm,
	"type":             expr.PropProcType,
	"parent":           expr.PropParentBinary,
	"ppid":             expr.PropPPid,
	"euid":             expr.PropEuid,
	"egid":             expr.PropEgid,
	"reclassify_count": expr.PropReclassifyCount,
}

func lookupProp(name string) (expr.Property, error) {
	if strings.HasPrefix(name, "arg") {
		n, err := strconv.Atoi(strings.TrimPrefix(name, "arg"))
		if err != nil {
			return 0, fmt.Errorf("config: invalid arg property %q: %w", name, err)
		}
		return expr.PropArgN(n), nil
	}
	p, ok := propNames[name]
	if !ok {
		return 0, fmt.Errorf("config: unknown property %q", name)
	}
	return p, nil
}

var compareOps = map[string]expr.CompareOp{
	"eq": expr.OpEq, "=": expr.OpEq,
	"ne": expr.OpNe, "!=": expr.OpNe,
	"lt": expr.OpLt, "<": expr.OpLt,
}

func lookupOp(s string) (expr.CompareOp, error) {
	op, ok := compareOps[s]
	if !ok {
		return 0, fmt.Errorf("config: unknown comparison operator %q", s)
	}
	return op, nil
}

// buildPredicate recursively translates a predicateDoc into an expr.Node,
// relying on expr.Cmp's own construction-time type checking (spec §3
// "Type-checking occurs at expression construction") to reject a
// prop/value type mismatch.
func buildPredicate(d *predicateDoc) (expr.Node, error) {
	if d == nil {
		return nil, nil
	}
	switch {
	case len(d.All) > 0:
		return foldBool(d.All, expr.And)
	case len(d.Any) > 0:
		return foldBool(d.Any, expr.Or)
	case d.Not != nil:
		inner, err := buildPredicate(d.Not)
		if err != nil {
			return nil, err
		}
		return expr.Not(inner), nil
	case d.Prop != "":
		return buildPropNode(d)
	default:
		return nil, fmt.Errorf("config: predicate has no all/any/not/prop")
	}
}

func foldBool(docs []predicateDoc, combine func(l, r expr.Node) expr.Node) (expr.Node, error) {
	var node expr.Node
	for i := range docs {
		n, err := buildPredicate(&docs[i])
		if err != nil {
			return nil, err
		}
		if node == nil {
			node = n
			continue
		}
		node = combine(node, n)
	}
	return node, nil
}

func buildPropNode(d *predicateDoc) (expr.Node, error) {
	prop, err := lookupProp(d.Prop)
	if err != nil {
		return nil, err
	}
	op, err := lookupOp(d.Op)
	if err != nil {
		return nil, err
	}
	value, err := buildValue(prop, d.Value)
	if err != nil {
		return nil, err
	}
	return expr.Cmp(prop, op, value)
}

// buildValue resolves the YAML literal to a typed expr.Value. Symbolic
// uid/gid names are not resolved here — spec §3 scopes that resolution to
// the OS user/group database at evaluation construction time for euid/egid
// properties specifically, but our YAML schema requires numeric literals
// for those properties directly, leaving name resolution to the document
// author's own tooling rather than this package.
func buildValue(prop expr.Property, raw string) (expr.Value, error) {
	if _, isArg := prop.IsArg(); isArg {
		return expr.StringValue(raw), nil
	}
	switch prop {
	case expr.PropBinaryPath, expr.PropCmdline, expr.PropComm, expr.PropParentBinary:
		return expr.StringValue(raw), nil
	default:
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return expr.Value{}, fmt.Errorf("config: value %q for property %s must be numeric: %w", raw, prop, err)
		}
		return expr.Uint32Value(uint32(n)), nil
	}
}

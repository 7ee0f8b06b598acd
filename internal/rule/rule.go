package rule

import "github.com/sysparts/syspartd/internal/expr"

// Statement pairs an optional predicate with the action list it selects;
// a nil Predicate is the unconditional statement (spec §3).
type Statement struct {
	Predicate expr.Node
	Actions   []Action
}

// Fires reports whether s's predicate holds (or is absent) against attrs.
func (s *Statement) Fires(attrs *expr.Attrs) bool {
	return s.Predicate == nil || expr.Eval(s.Predicate, attrs)
}

// Rule is one entry of a binary's rule chain: an event mask, optional
// uid/gid allow-lists, and an ordered statement list (spec §3).
type Rule struct {
	EventMask EventType
	UIDs      []uint32 // nil means "any uid"
	GIDs      []uint32 // nil means "any gid"
	Stmts     []Statement
}

// Admits reports whether the rule applies to an event of kind evt raised by
// the given euid/egid (spec §4.4 step 5: "event-bit, uid-set, and gid-set
// all admit the event"). EventForce is synthesized by the rule engine
// itself (a manual/bulk-discovery reclassification, not a kernel event) and
// so is exempt from the event-mask check; uid/gid allow-lists still apply.
func (r *Rule) Admits(evt EventType, euid, egid uint32) bool {
	if evt != EventForce && !r.EventMask.Has(evt) {
		return false
	}
	if r.UIDs != nil && !containsU32(r.UIDs, euid) {
		return false
	}
	if r.GIDs != nil && !containsU32(r.GIDs, egid) {
		return false
	}
	return true
}

// Evaluate returns the action list of the first statement whose predicate
// fires, and false if none do (spec §4.4 step 7).
func (r *Rule) Evaluate(attrs *expr.Attrs) ([]Action, bool) {
	for i := range r.Stmts {
		if r.Stmts[i].Fires(attrs) {
			return r.Stmts[i].Actions, true
		}
	}
	return nil, false
}

func containsU32(xs []uint32, v uint32) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Chain is the ordered rule list bound to one binary path.
type Chain []*Rule

// FirstAdmitting returns the first rule in the chain admitting the event,
// per spec §4.4 step 5 ("Find the first rule whose event-bit, uid-set, and
// gid-set all admit the event").
func (c Chain) FirstAdmitting(evt EventType, euid, egid uint32) (*Rule, bool) {
	for _, r := range c {
		if r.Admits(evt, euid, egid) {
			return r, true
		}
	}
	return nil, false
}

// ProcDef is a binary-path-indexed set of rule chains, used for both the
// primary rule set and the hot-reloadable addon overlay (spec §3
// "process-definition", §9 "Addon rules").
type ProcDef struct {
	chains map[string]Chain
}

func NewProcDef() *ProcDef {
	return &ProcDef{chains: make(map[string]Chain)}
}

func (p *ProcDef) Bind(binary string, chain Chain) {
	p.chains[binary] = chain
}

func (p *ProcDef) Lookup(binary string) (Chain, bool) {
	c, ok := p.chains[binary]
	return c, ok
}

func (p *ProcDef) Len() int { return len(p.chains) }

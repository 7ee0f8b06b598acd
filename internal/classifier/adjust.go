package classifier

import (
	"fmt"

	"github.com/sysparts/syspartd/internal/cgroup"
	"github.com/sysparts/syspartd/internal/curve"
	"github.com/sysparts/syspartd/internal/rule"
)

// AdjustKind selects which of a record's two independent adjust legs an
// adjust-priority/adjust-oom action drives (spec §4.3: "priority and OOM
// are independent, identical machines").
type AdjustKind int

const (
	AdjustKindPriority AdjustKind = iota
	AdjustKindOOM
)

func (k AdjustKind) String() string {
	if k == AdjustKindOOM {
		return "oom"
	}
	return "priority"
}

func (r *ProcessRecord) stateFor(kind AdjustKind) *AdjustState {
	if kind == AdjustKindOOM {
		return &r.OOMAdjust
	}
	return &r.PriorityAdj
}

// applyAdjust runs one (mode, value) request through the three-state
// machine of spec §4.3 and, where the table calls for "apply", recomputes
// through the response curve and writes the kernel value.
func (c *Classifier) applyAdjust(rec *ProcessRecord, kind AdjustKind, mode rule.AdjustMode, value int) error {
	st := rec.stateFor(kind)

	switch st.Mode {
	case StateDefault:
		switch mode {
		case rule.AdjustAbsolute:
			st.Raw = value
			return c.writeAdjust(rec, kind, st.Raw)
		case rule.AdjustRelative:
			st.Raw += value
			return c.writeAdjust(rec, kind, st.Raw)
		case rule.AdjustLock:
			st.Raw = value
			st.Mode = StateLocked
			return c.writeAdjust(rec, kind, st.Raw)
		case rule.AdjustUnlock:
			return nil // already unlocked, no-op
		case rule.AdjustExtern:
			st.Mode = StateExtern // skip: accept the transition, no write
			return nil
		case rule.AdjustIntern:
			return nil
		}
	case StateLocked:
		switch mode {
		case rule.AdjustAbsolute, rule.AdjustRelative, rule.AdjustLock:
			return nil // skip: a lock is already in force
		case rule.AdjustUnlock:
			st.Raw = value
			st.Mode = StateDefault
			return c.writeAdjust(rec, kind, st.Raw)
		case rule.AdjustExtern:
			st.Mode = StateExtern
			return nil
		case rule.AdjustIntern:
			return nil
		}
	case StateExtern:
		switch mode {
		case rule.AdjustIntern:
			st.Raw = value
			st.Mode = StateDefault
			return c.writeAdjust(rec, kind, st.Raw)
		default:
			return nil // externally controlled, every other request is ignored
		}
	}
	return fmt.Errorf("classifier: unreachable adjust state %v/%v", st.Mode, mode)
}

// writeAdjust maps raw through the configured response curve (identity if
// none is configured) and writes the result to the kernel.
func (c *Classifier) writeAdjust(rec *ProcessRecord, kind AdjustKind, raw int) error {
	var curveFn *curve.Curve
	if kind == AdjustKindOOM {
		curveFn = c.OOMCurve
	} else {
		curveFn = c.PriorityCurve
	}

	value := raw
	if curveFn != nil {
		value = curveFn.Map(raw)
	}

	switch kind {
	case AdjustKindPriority:
		rec.Priority = value
		return cgroup.Renice(rec.Pid, value)
	case AdjustKindOOM:
		rec.OOMAdj = value
		return cgroup.WriteOOMAdj(rec.Pid, value)
	}
	return nil
}

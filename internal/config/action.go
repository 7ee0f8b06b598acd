package config

import (
	"fmt"

	"github.com/sysparts/syspartd/internal/rule"
)

var schedPolicies = map[string]rule.SchedPolicy{
	"fifo": rule.SchedFifo, "rr": rule.SchedRR,
	"other": rule.SchedOther, "batch": rule.SchedBatch,
}

var adjustModes = map[string]rule.AdjustMode{
	"absolute": rule.AdjustAbsolute, "relative": rule.AdjustRelative,
	"lock": rule.AdjustLock, "unlock": rule.AdjustUnlock,
	"extern": rule.AdjustExtern, "intern": rule.AdjustIntern,
}

// buildAction translates one actionDoc into the rule.Action it names.
// Exactly one field of actionDoc is expected to be populated; the first
// match wins, mirroring the tagged-union shape rule.Action itself uses.
func buildAction(d actionDoc) (rule.Action, error) {
	switch {
	case d.AssignGroup != "":
		return rule.AssignGroup{Name: d.AssignGroup}, nil
	case d.SchedPolicy != "":
		pol, ok := schedPolicies[d.SchedPolicy]
		if !ok {
			return nil, fmt.Errorf("config: unknown sched_policy %q", d.SchedPolicy)
		}
		return rule.SetScheduler{Policy: pol, Priority: d.SchedPriority}, nil
	case d.Renice != nil:
		return rule.Renice{Value: *d.Renice}, nil
	case d.ReclassifyAfter != nil:
		return rule.ReclassifyAfter{Millis: *d.ReclassifyAfter}, nil
	case d.ClassifyByArgv != nil:
		return rule.ClassifyByArgv{N: *d.ClassifyByArgv}, nil
	case d.AdjustPriority != nil:
		mode, ok := adjustModes[d.AdjustPriority.Mode]
		if !ok {
			return nil, fmt.Errorf("config: unknown adjust_priority mode %q", d.AdjustPriority.Mode)
		}
		return rule.AdjustPriority{Mode: mode, Value: d.AdjustPriority.Value}, nil
	case d.AdjustOOM != nil:
		mode, ok := adjustModes[d.AdjustOOM.Mode]
		if !ok {
			return nil, fmt.Errorf("config: unknown adjust_oom mode %q", d.AdjustOOM.Mode)
		}
		return rule.AdjustOOM{Mode: mode, Value: d.AdjustOOM.Value}, nil
	case d.Ignore:
		return rule.Ignore{}, nil
	case len(d.Leads) > 0:
		return rule.Leads{Followers: d.Leads}, nil
	case d.NoOp:
		return rule.NoOp{}, nil
	default:
		return nil, fmt.Errorf("config: action entry has no recognized field set")
	}
}

func buildActions(docs []actionDoc) ([]rule.Action, error) {
	out := make([]rule.Action, 0, len(docs))
	for _, d := range docs {
		a, err := buildAction(d)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

var eventBits = map[string]rule.EventType{
	"force": rule.EventForce, "fork": rule.EventFork, "thread": rule.EventThread,
	"exec": rule.EventExec, "exit": rule.EventExit, "uid": rule.EventUID,
	"gid": rule.EventGID, "sid": rule.EventSID, "ptrace": rule.EventPtrace,
	"comm": rule.EventComm,
}

func buildEventMask(names []string) (rule.EventType, error) {
	var mask rule.EventType
	for _, n := range names {
		bit, ok := eventBits[n]
		if !ok {
			return 0, fmt.Errorf("config: unknown event kind %q", n)
		}
		mask |= bit
	}
	return mask, nil
}

var groupFlagBits = map[string]rule.GroupFlags{
	"static-partition":  rule.FlagStaticPartition,
	"fact-exported":     rule.FlagFactExported,
	"priority-set":      rule.FlagPrioritySet,
	"reassign-pending":  rule.FlagReassignPending,
}

func buildGroupFlags(names []string) (rule.GroupFlags, error) {
	var flags rule.GroupFlags
	for _, n := range names {
		bit, ok := groupFlagBits[n]
		if !ok {
			return 0, fmt.Errorf("config: unknown group flag %q", n)
		}
		flags |= bit
	}
	return flags, nil
}

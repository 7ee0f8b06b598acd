package classifier

import (
	"fmt"
	"time"

	"github.com/sysparts/syspartd/internal/appnotify"
	"github.com/sysparts/syspartd/internal/cgroup"
	"github.com/sysparts/syspartd/internal/expr"
	"github.com/sysparts/syspartd/internal/rule"
)

// maxReclassifyRetries bounds reclassify-after's retry loop (spec §4.3,
// §4.4: "Bounded to 16 retries per process").
const maxReclassifyRetries = 16

// execActions runs one action list in order, continuing after individual
// failures; the returned bool is the conjunction of per-action successes
// (spec §4.3: "execution continues after individual failures, the overall
// success is the conjunction").
func (c *Classifier) execActions(rec *ProcessRecord, attrs *expr.Attrs, actions []rule.Action) bool {
	ok := true
	for _, a := range actions {
		if err := c.execOne(rec, attrs, a); err != nil {
			c.logger.Warn("action failed", "pid", rec.Pid, "action", fmt.Sprintf("%T", a), "error", err)
			ok = false
		}
	}
	return ok
}

func (c *Classifier) execOne(rec *ProcessRecord, attrs *expr.Attrs, a rule.Action) error {
	switch act := a.(type) {
	case rule.AssignGroup:
		return c.execAssignGroup(rec, act)
	case rule.SetScheduler:
		return cgroup.SetScheduler(rec.Pid, act.Policy, act.Priority)
	case rule.Renice:
		return cgroup.Renice(rec.Pid, act.Value)
	case rule.ReclassifyAfter:
		return c.execReclassifyAfter(rec, act)
	case rule.ClassifyByArgv:
		return c.execClassifyByArgv(rec, attrs, act.N)
	case rule.AdjustPriority:
		return c.applyAdjust(rec, AdjustKindPriority, act.Mode, act.Value)
	case rule.AdjustOOM:
		return c.applyAdjust(rec, AdjustKindOOM, act.Mode, act.Value)
	case rule.Ignore:
		rec.Ignored = true
		return nil
	case rule.NoOp:
		return nil
	case rule.Leads:
		return c.execLeads(rec, act)
	default:
		return fmt.Errorf("classifier: unknown action type %T", a)
	}
}

// execAssignGroup resolves name to a group, honoring any leader-registry
// override (spec §9's leader/follower mechanism), links the process in,
// triggers partition re-parenting, and — if this is the currently-active
// process — updates the active-group pointer and notifies the app tracker
// (spec §4.3 "assign-group").
func (c *Classifier) execAssignGroup(rec *ProcessRecord, act rule.AssignGroup) error {
	group, ok := c.leaders.resolve(rec.BinaryPath)
	if !ok {
		group, ok = c.Model.Groups[act.Name]
		if !ok {
			return fmt.Errorf("classifier: unknown group %q", act.Name)
		}
	}

	if rec.Group != nil && rec.Group != group {
		rec.Group.RemoveMember(rec.Pid)
	}
	rec.Group = group
	group.AddMember(rec.Pid, rec.Describe())

	if group.Partition != nil && group.Partition != rec.Partition {
		rec.Partition = group.Partition
		h, ok := c.Partitions[group.Partition.Name]
		if !ok {
			return fmt.Errorf("classifier: partition %q has no open handle", group.Partition.Name)
		}
		if err := h.AddProcess(rec.Pid); err != nil {
			return err
		}
	}

	if rec.Pid == c.active {
		c.notifyActive(rec.Pid, appnotify.StateActive)
	}
	return nil
}

func (c *Classifier) notifyActive(pid int, state appnotify.State) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(pid, state); err != nil {
		c.logger.Warn("app-tracker notify failed", "pid", pid, "state", state, "error", err)
	}
}

// SetActive marks pid the currently-active process, firing the app-tracker
// notifier for both the newly- and previously-active pids.
func (c *Classifier) SetActive(pid int) {
	prev := c.active
	c.active = pid
	if prev != 0 && prev != pid {
		c.notifyActive(prev, appnotify.StateStandby)
	}
	if pid != 0 {
		c.notifyActive(pid, appnotify.StateActive)
	}
}

// execReclassifyAfter schedules a delayed reclassification, or retires the
// process to the root partition once the retry budget is exhausted (spec
// §4.3).
func (c *Classifier) execReclassifyAfter(rec *ProcessRecord, act rule.ReclassifyAfter) error {
	if rec.ReclassifyCount >= maxReclassifyRetries {
		rec.Ignored = true
		if c.Model.Root == nil {
			return fmt.Errorf("classifier: retry budget exhausted for pid %d and no root partition configured", rec.Pid)
		}
		rec.Partition = c.Model.Root
		h, ok := c.Partitions[c.Model.Root.Name]
		if !ok {
			return fmt.Errorf("classifier: root partition %q has no open handle", c.Model.Root.Name)
		}
		return h.AddProcess(rec.Pid)
	}
	rec.ReclassifyCount++
	c.delayed.schedule(rec.Pid, time.Duration(act.Millis)*time.Millisecond, time.Now())
	return nil
}

// execClassifyByArgv substitutes argv[n] for the binary path and re-runs
// rule evaluation once, guarded against recursive re-entry (spec §3, §9).
func (c *Classifier) execClassifyByArgv(rec *ProcessRecord, attrs *expr.Attrs, n int) error {
	if attrs.ByArgvGuard {
		return fmt.Errorf("classifier: classify-by-argv re-entry blocked for pid %d", rec.Pid)
	}

	argv, err := attrs.ArgvSnapshot()
	if err != nil {
		return fmt.Errorf("classifier: classify-by-argv: read argv for pid %d: %w", rec.Pid, err)
	}

	name := "<none>"
	if n < len(argv) {
		name = argv[n]
	}

	attrs.OverrideBinaryPath(name)
	attrs.ByArgvGuard = true

	if !c.lookupAndRun(rec, attrs, rule.EventExec) {
		return fmt.Errorf("classifier: classify-by-argv re-evaluation failed for pid %d", rec.Pid)
	}
	rec.ClassifiedBy = name
	return nil
}

// execLeads registers rec's current group as the leader for every named
// follower (spec §3 "leads(followers)").
func (c *Classifier) execLeads(rec *ProcessRecord, act rule.Leads) error {
	if rec.Group == nil {
		return fmt.Errorf("classifier: leads action on pid %d with no assigned group", rec.Pid)
	}
	c.leaders.register(rec.Group, act.Followers)
	return nil
}

// RegisterTracker attaches a resolver-hook tracker to pid (spec §3
// "optional tracker target").
func (c *Classifier) RegisterTracker(pid int, mask rule.EventType, ruleName string, locals map[string]string) bool {
	rec, ok := c.records.get(pid)
	if !ok {
		return false
	}
	rec.Tracker = &Tracker{Mask: mask, RuleName: ruleName, Locals: locals}
	return true
}

package classifier

import (
	"context"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/sysparts/syspartd/internal/appnotify"
	"github.com/sysparts/syspartd/internal/cgroup"
	"github.com/sysparts/syspartd/internal/curve"
	"github.com/sysparts/syspartd/internal/expr"
	"github.com/sysparts/syspartd/internal/procsource"
	"github.com/sysparts/syspartd/internal/resolver"
	"github.com/sysparts/syspartd/internal/rule"
)

// Classifier is the single top-level state struct threaded through event
// handlers, per spec §9's guidance to encapsulate the process-wide
// classifier context instead of using globals.
type Classifier struct {
	Model      *rule.Model
	Fetcher    expr.Fetcher
	Reader     *procsource.Reader
	Partitions map[string]*cgroup.PartitionHandle

	PriorityCurve *curve.Curve
	OOMCurve      *curve.Curve

	// AlwaysFallback mirrors spec §4.4 step 6's "always fallback" flag: when
	// set, a rename-ish event with no matching primary rule still falls
	// through to the "*" chain instead of leaving the classification as-is.
	AlwaysFallback bool

	// Resolver fires registered trackers' hooks (spec §3/§4.4). Defaults to
	// a no-op since resolving policy rules against the fact store is an
	// external collaborator (spec §1 non-goals).
	Resolver resolver.Resolver

	notifier *appnotify.Notifier
	active   int // pid of the current "active" process, 0 if none

	records *recordTable
	delayed *delayedQueue
	leaders *leaderRegistry

	logger hclog.Logger
}

func New(model *rule.Model, fetcher expr.Fetcher, reader *procsource.Reader, logger hclog.Logger) *Classifier {
	return &Classifier{
		Model:      model,
		Fetcher:    fetcher,
		Reader:     reader,
		Partitions: make(map[string]*cgroup.PartitionHandle),
		records:    newRecordTable(),
		delayed:    newDelayedQueue(),
		leaders:    newLeaderRegistry(),
		Resolver:   resolver.Noop{},
		logger:     logger.Named("classifier"),
	}
}

// fireTracker invokes rec's tracker hook, if the event is in its mask.
func (c *Classifier) fireTracker(rec *ProcessRecord, evt rule.EventType) {
	t := rec.Tracker
	if t == nil || !t.Mask.Has(evt) {
		return
	}
	locals := t.Locals
	if locals == nil {
		locals = map[string]string{}
	}
	if err := c.Resolver.Resolve(context.Background(), t.RuleName, locals); err != nil {
		c.logger.Warn("tracker resolver hook failed", "pid", rec.Pid, "rule", t.RuleName, "error", err)
	}
}

func (c *Classifier) AttachNotifier(n *appnotify.Notifier) { c.notifier = n }

// RecordCount exposes the live process count.
func (c *Classifier) RecordCount() int { return c.records.count() }

func (c *Classifier) Lookup(pid int) (*ProcessRecord, bool) { return c.records.get(pid) }

// AllPids returns a snapshot of every currently-tracked pid, used by the
// console's "cgroup reclassify all" command.
func (c *Classifier) AllPids() []int { return c.records.pids() }

// NextDelayedDeadline reports when the main loop should next drain the
// reclassification queue.
func (c *Classifier) NextDelayedDeadline() (time.Time, bool) { return c.delayed.nextDeadline() }

// PollDelayed re-runs classification for every pid whose reclassify-after
// timer has expired, with its retry counter already incremented by the
// action that scheduled it.
func (c *Classifier) PollDelayed(now time.Time) {
	for _, pid := range c.delayed.due(now) {
		rec, ok := c.records.get(pid)
		if !ok {
			continue
		}
		c.logger.Debug("reclassify-after firing", "pid", pid, "retry", rec.ReclassifyCount)
		c.classify(pid, rec.Tgid, rule.EventForce)
	}
}

// HandleProcEvent dispatches one decoded proc-connector event to the
// fork/exit/ptrace special cases or the generic classifiable path (spec
// §4.4).
func (c *Classifier) HandleProcEvent(pe procsource.Event) {
	switch pe.What {
	case procsource.EventFork:
		c.handleFork(pe)
	case procsource.EventExit:
		c.handleExit(pe)
	case procsource.EventPtrace:
		c.handlePtrace(pe)
	case procsource.EventNone, procsource.EventCoredump:
		// no classifier action
	default:
		evt := mapEvent(pe)
		if evt == 0 {
			return
		}
		c.classify(pe.Pid, pe.Tgid, evt)
	}
}

// mapEvent translates a kernel proc-connector "what" into the classifier's
// own event bitmask. Fork is split into fork/thread by comparing the
// child's pid and tgid, since CLONE_THREAD children share a tgid with
// their creator while a genuine fork does not.
func mapEvent(pe procsource.Event) rule.EventType {
	switch pe.What {
	case procsource.EventFork:
		if pe.ChildPid != pe.ChildTgid {
			return rule.EventThread
		}
		return rule.EventFork
	case procsource.EventExec:
		return rule.EventExec
	case procsource.EventUID:
		return rule.EventUID
	case procsource.EventGID:
		return rule.EventGID
	case procsource.EventSID:
		return rule.EventSID
	case procsource.EventComm:
		return rule.EventComm
	default:
		return 0
	}
}

// ForceReclassify re-runs classification for pid regardless of its current
// state, the mechanism behind the console's "cgroup reclassify <pid>"
// command (SPEC_FULL.md §D).
func (c *Classifier) ForceReclassify(pid int) bool {
	tgid := pid
	if rec, ok := c.records.get(pid); ok {
		tgid = rec.Tgid
	}
	return c.classify(pid, tgid, rule.EventForce)
}

// classify implements the full algorithm of spec §4.4 steps 1-8 for a
// classifiable event.
func (c *Classifier) classify(pid, tgid int, evt rule.EventType) bool {
	if !evt.IsClassifiable() {
		return true // step 1: event not in the classifiable mask, no-op success
	}

	attrs := expr.NewAttrs(pid, tgid, "", c.Fetcher)
	if err := attrs.EnsureBinaryPath(); err != nil {
		// step 3: /proc/<pid>/exe vanished. Keep any existing record pending
		// an explicit exit event rather than tearing it down here.
		c.logger.Debug("classify: exe unreadable, deferring to exit event", "pid", pid, "error", err)
		return false
	}
	if err := attrs.EnsureIdentity(); err != nil {
		c.logger.Debug("classify: status unreadable, deferring to exit event", "pid", pid, "error", err)
		return false
	}

	rec, created := c.records.getOrCreate(pid, tgid, attrs.BinaryPath)
	if !created && evt.Has(rule.EventExec) {
		// step 4: exec on an existing record updates the cached identity.
		rec.BinaryPath = attrs.BinaryPath
		rec.ClassifiedBy = ""
	}
	attrs.ReclassifyCount = rec.ReclassifyCount

	return c.lookupAndRun(rec, attrs, evt)
}

// lookupAndRun performs steps 5-8: primary+addon lookup with fallback,
// statement evaluation with fallback retry, and action execution. It is
// shared by the main classify path and the classify-by-argv action's
// re-entrant re-evaluation.
func (c *Classifier) lookupAndRun(rec *ProcessRecord, attrs *expr.Attrs, evt rule.EventType) bool {
	chain, onFallback := c.resolveChain(attrs.BinaryPath, evt, attrs.Euid, attrs.Egid)
	if chain == nil {
		// step 6: rename-ish event, no primary rule, "always fallback" unset:
		// existing classification stands.
		return true
	}

	r, ok := chain.FirstAdmitting(evt, attrs.Euid, attrs.Egid)
	if !ok {
		return true
	}

	actions, fired := r.Evaluate(attrs)
	if !fired {
		if !onFallback {
			if fb, ok := c.Model.FallbackChain(); ok {
				if fr, ok := fb.FirstAdmitting(evt, attrs.Euid, attrs.Egid); ok {
					actions, fired = fr.Evaluate(attrs)
				}
			}
		}
		if !fired {
			return true
		}
	}

	ok = c.execActions(rec, attrs, actions)
	c.logger.Debug("classified", "pid", rec.Pid, "binary", attrs.BinaryPath, "actions", len(actions), "ok", ok)
	return ok
}

// resolveChain implements step 5/6: primary+addon lookup, falling back to
// the "*" chain unless the event is rename-ish and always-fallback is off.
func (c *Classifier) resolveChain(binary string, evt rule.EventType, euid, egid uint32) (rule.Chain, bool) {
	if chain, ok := c.Model.LookupChain(binary); ok {
		return chain, false
	}
	if evt.Has(rule.EventUID|rule.EventGID|rule.EventSID|rule.EventComm|rule.EventThread) && !c.AlwaysFallback {
		return nil, false
	}
	chain, ok := c.Model.FallbackChain()
	if !ok {
		return nil, true
	}
	return chain, true
}

// handleFork first tries to inherit classification from an already
// classified parent (spec §4.4: "look up the ppid; if classified, create
// a child process record bound to the same group and partition ... and
// return without running rules"); only an unclassified parent falls
// through to the full classification path.
func (c *Classifier) handleFork(pe procsource.Event) {
	parent, ok := c.records.get(pe.ParentPid)
	if !ok {
		c.classify(pe.ChildPid, pe.ChildTgid, rule.EventFork)
		return
	}

	child, created := c.records.getOrCreate(pe.ChildPid, pe.ChildTgid, parent.BinaryPath)
	if !created {
		return
	}
	child.Group = parent.Group
	child.Partition = parent.Partition
	if child.Group != nil {
		child.Group.AddMember(child.Pid, child.Describe())
	}
	if child.Partition != nil {
		if h, ok := c.Partitions[child.Partition.Name]; ok {
			if err := h.AddProcess(child.Pid); err != nil {
				c.logger.Warn("fork inherit: add-process failed", "pid", child.Pid, "partition", child.Partition.Name, "error", err)
			}
		}
	}
	c.logger.Info("new process in group", "pid", child.Pid, "group", groupName(child.Group), "parent", parent.Pid)
}

func groupName(g *rule.Group) string {
	if g == nil {
		return ""
	}
	return g.Name
}

// handlePtrace implements spec §4.4's co-classification: an attach makes
// the tracer join the tracee's partition; a detach reclassifies the
// tracer from scratch.
func (c *Classifier) handlePtrace(pe procsource.Event) {
	tracee, ok := c.records.get(pe.Pid)
	if !ok {
		return
	}

	if pe.TracerPid != 0 {
		tracee.TracerPid = pe.TracerPid
		tracer, created := c.records.getOrCreate(pe.TracerPid, pe.TracerTgid, "")
		tracer.Group = tracee.Group
		tracer.Partition = tracee.Partition
		if created && tracer.Group != nil {
			tracer.Group.AddMember(tracer.Pid, tracer.Describe())
		}
		if tracer.Partition != nil {
			if h, ok := c.Partitions[tracer.Partition.Name]; ok {
				_ = h.AddProcess(tracer.Pid)
			}
		}
		return
	}

	tracerPid := tracee.TracerPid
	tracee.TracerPid = 0
	if tracerPid != 0 {
		c.classify(tracerPid, tracerPid, rule.EventForce)
	}
}

// handleExit fires any registered tracker's resolver hook, then fully
// removes the process record (spec §4.4).
func (c *Classifier) handleExit(pe procsource.Event) {
	rec, ok := c.records.get(pe.Pid)
	if !ok {
		return
	}
	c.fireTracker(rec, rule.EventExit)
	c.removeRecord(rec)
}

func (c *Classifier) removeRecord(rec *ProcessRecord) {
	if rec.Group != nil {
		rec.Group.RemoveMember(rec.Pid)
	}
	c.records.remove(rec.Pid)
}

// BulkDiscover walks /proc and /proc/<pid>/task, classifying every
// discovered task exactly once; already-classified tasks are skipped by
// the hash check inside classify's getOrCreate (spec §4.4).
func (c *Classifier) BulkDiscover() error {
	pids, err := c.Reader.Discover()
	if err != nil {
		return err
	}
	for _, pid := range pids {
		if _, ok := c.records.get(pid); ok {
			continue
		}
		c.classify(pid, pid, rule.EventForce)

		tids, err := c.Reader.DiscoverTasks(pid)
		if err != nil {
			continue
		}
		for _, tid := range tids {
			if tid == pid {
				continue
			}
			if _, ok := c.records.get(tid); ok {
				continue
			}
			c.classify(tid, pid, rule.EventForce)
		}
	}
	return nil
}

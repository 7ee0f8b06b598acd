package classifier

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysparts/syspartd/internal/cgroup"
	"github.com/sysparts/syspartd/internal/curve"
	"github.com/sysparts/syspartd/internal/procsource"
	"github.com/sysparts/syspartd/internal/rule"
)

type fakeFetcher struct {
	binary map[int]string
	status map[int][3]uint32
}

func (f *fakeFetcher) BinaryPath(pid int) (string, error) {
	if b, ok := f.binary[pid]; ok {
		return b, nil
	}
	return "", errors.New("no such process")
}

func (f *fakeFetcher) Comm(pid int) (string, error) { return "", nil }

func (f *fakeFetcher) Cmdline(pid int) ([]byte, error) { return nil, nil }

func (f *fakeFetcher) Status(pid int) (euid, egid uint32, ppid int, err error) {
	if s, ok := f.status[pid]; ok {
		return s[0], s[1], int(s[2]), nil
	}
	return 0, 0, 0, nil
}

func openTestPartition(t *testing.T, name string) *cgroup.PartitionHandle {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks"), nil, 0o644))
	p := rule.NewPartition(name, dir)
	h, err := cgroup.Open(p, hclog.NewNullLogger())
	require.NoError(t, err)
	return h
}

func newTestClassifier(t *testing.T, fetcher *fakeFetcher) (*Classifier, *rule.Model, *rule.Group) {
	t.Helper()
	model := rule.NewModel()
	group := rule.NewGroup("g1")
	handle := openTestPartition(t, "g1")
	group.Partition = handle.Partition
	require.NoError(t, model.AddGroup(group))
	require.NoError(t, model.AddPartition(handle.Partition))

	c := New(model, fetcher, procsource.NewReader(), hclog.NewNullLogger())
	c.Partitions["g1"] = handle
	return c, model, group
}

func TestExecClassificationAssignsGroupAndWritesTasks(t *testing.T) {
	fetcher := &fakeFetcher{binary: map[int]string{4242: "/usr/bin/x"}}
	c, model, group := newTestClassifier(t, fetcher)

	chain := rule.Chain{{
		EventMask: rule.EventExec,
		Stmts:     []rule.Statement{{Actions: []rule.Action{rule.AssignGroup{Name: "g1"}}}},
	}}
	model.Primary.Bind("/usr/bin/x", chain)

	c.HandleProcEvent(procsource.Event{What: procsource.EventExec, Pid: 4242, Tgid: 4242})

	rec, ok := c.Lookup(4242)
	require.True(t, ok)
	assert.Same(t, group, rec.Group)
	assert.True(t, group.HasMember(4242))

	b, err := os.ReadFile(filepath.Join(group.Partition.Path, "tasks"))
	require.NoError(t, err)
	assert.Equal(t, "4242\n", string(b))
}

func TestForkInheritsParentClassificationWithoutRunningRules(t *testing.T) {
	fetcher := &fakeFetcher{binary: map[int]string{100: "/usr/bin/x"}}
	c, model, group := newTestClassifier(t, fetcher)
	model.Primary.Bind("/usr/bin/x", rule.Chain{{
		EventMask: rule.EventExec,
		Stmts:     []rule.Statement{{Actions: []rule.Action{rule.AssignGroup{Name: "g1"}}}},
	}})
	c.HandleProcEvent(procsource.Event{What: procsource.EventExec, Pid: 100, Tgid: 100})

	c.HandleProcEvent(procsource.Event{
		What: procsource.EventFork, ParentPid: 100, ParentTgid: 100, ChildPid: 101, ChildTgid: 101,
	})

	child, ok := c.Lookup(101)
	require.True(t, ok)
	assert.Same(t, group, child.Group)
}

func TestExitRemovesRecordAndGroupMembership(t *testing.T) {
	fetcher := &fakeFetcher{binary: map[int]string{4242: "/usr/bin/x"}}
	c, model, group := newTestClassifier(t, fetcher)
	model.Primary.Bind("/usr/bin/x", rule.Chain{{
		EventMask: rule.EventExec,
		Stmts:     []rule.Statement{{Actions: []rule.Action{rule.AssignGroup{Name: "g1"}}}},
	}})
	c.HandleProcEvent(procsource.Event{What: procsource.EventExec, Pid: 4242, Tgid: 4242})
	require.True(t, group.HasMember(4242))

	c.HandleProcEvent(procsource.Event{What: procsource.EventExit, Pid: 4242, Tgid: 4242})

	_, ok := c.Lookup(4242)
	assert.False(t, ok)
	assert.False(t, group.HasMember(4242))
}

func TestClassifyByArgvSubstitutesBinaryAndForcesFallbackWhenShort(t *testing.T) {
	fetcher := &fakeFetcher{binary: map[int]string{1: "/bin/sh"}}
	c, model, _ := newTestClassifier(t, fetcher)
	model.Primary.Bind("/bin/sh", rule.Chain{{
		EventMask: rule.EventExec,
		Stmts:     []rule.Statement{{Actions: []rule.Action{rule.ClassifyByArgv{N: 5}}}},
	}})
	model.Primary.Bind(rule.FallbackKey, rule.Chain{{
		EventMask: rule.EventExec | rule.EventForce,
		Stmts:     []rule.Statement{{Actions: []rule.Action{rule.AssignGroup{Name: "g1"}}}},
	}})

	ok := c.classify(1, 1, rule.EventExec)
	assert.True(t, ok)

	rec, found := c.Lookup(1)
	require.True(t, found)
	assert.Equal(t, "<none>", rec.ClassifiedBy)
}

func TestReclassifyAfterExhaustsRetriesAndFallsBackToRoot(t *testing.T) {
	fetcher := &fakeFetcher{binary: map[int]string{7: "/bin/launcher"}}
	c, model, _ := newTestClassifier(t, fetcher)
	root := openTestPartition(t, "root")
	model.Root = root.Partition
	c.Partitions["root"] = root

	rec, _ := c.records.getOrCreate(7, 7, "/bin/launcher")
	rec.ReclassifyCount = maxReclassifyRetries

	require.NoError(t, c.execReclassifyAfter(rec, rule.ReclassifyAfter{Millis: 500}))
	assert.True(t, rec.Ignored)
	assert.Same(t, model.Root, rec.Partition)

	b, err := os.ReadFile(filepath.Join(root.Partition.Path, "tasks"))
	require.NoError(t, err)
	assert.Equal(t, "7\n", string(b))
}

func TestAdjustPriorityLockSkipsRelativeUntilUnlock(t *testing.T) {
	fetcher := &fakeFetcher{}
	c, _, _ := newTestClassifier(t, fetcher)
	identity, err := curve.New("x", -20, 19, -20, 19, -20, 19)
	require.NoError(t, err)
	c.PriorityCurve = identity

	// A pid far beyond any realistic pid_max so setpriority(2) reliably
	// reports ESRCH (translated to success) instead of racing a real process.
	rec := newProcessRecord(999999999, 999999999, "/bin/anything")

	require.NoError(t, c.applyAdjust(rec, AdjustKindPriority, rule.AdjustLock, 5))
	assert.Equal(t, 5, rec.Priority)
	assert.Equal(t, StateLocked, rec.PriorityAdj.Mode)

	require.NoError(t, c.applyAdjust(rec, AdjustKindPriority, rule.AdjustRelative, 3))
	assert.Equal(t, 5, rec.Priority, "relative request must be skipped while locked")

	require.NoError(t, c.applyAdjust(rec, AdjustKindPriority, rule.AdjustUnlock, 0))
	assert.Equal(t, 0, rec.Priority)
	assert.Equal(t, StateDefault, rec.PriorityAdj.Mode)

	require.NoError(t, c.applyAdjust(rec, AdjustKindPriority, rule.AdjustRelative, 3))
	assert.Equal(t, 3, rec.Priority)
}

func TestLeaderRegistryOverridesAssignGroup(t *testing.T) {
	fetcher := &fakeFetcher{binary: map[int]string{1: "/usr/bin/leader"}}
	c, model, group := newTestClassifier(t, fetcher)
	other := rule.NewGroup("other")
	require.NoError(t, model.AddGroup(other))

	model.Primary.Bind("/usr/bin/leader", rule.Chain{{
		EventMask: rule.EventExec,
		Stmts: []rule.Statement{{Actions: []rule.Action{
			rule.AssignGroup{Name: "g1"},
			rule.Leads{Followers: []string{"/usr/bin/follower"}},
		}}},
	}})
	model.Primary.Bind("/usr/bin/follower", rule.Chain{{
		EventMask: rule.EventExec,
		Stmts:     []rule.Statement{{Actions: []rule.Action{rule.AssignGroup{Name: "other"}}}},
	}})

	c.HandleProcEvent(procsource.Event{What: procsource.EventExec, Pid: 1, Tgid: 1})

	fetcher.binary[2] = "/usr/bin/follower"
	c.HandleProcEvent(procsource.Event{What: procsource.EventExec, Pid: 2, Tgid: 2})

	rec, ok := c.Lookup(2)
	require.True(t, ok)
	assert.Same(t, group, rec.Group, "follower must join the leader's group, not the one named by its own rule")
}

package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysparts/syspartd/internal/expr"
)

func TestRuleAdmitsRespectsEventAndAllowLists(t *testing.T) {
	r := &Rule{
		EventMask: EventExec | EventFork,
		UIDs:      []uint32{0, 1000},
	}
	assert.True(t, r.Admits(EventExec, 1000, 5))
	assert.False(t, r.Admits(EventExit, 1000, 5))
	assert.False(t, r.Admits(EventExec, 2000, 5))
}

func TestRuleEvaluateFirstFiringStatement(t *testing.T) {
	isRoot, err := expr.Cmp(expr.PropEuid, expr.OpEq, expr.Uint32Value(0))
	require.NoError(t, err)

	r := &Rule{
		EventMask: EventExec,
		Stmts: []Statement{
			{Predicate: isRoot, Actions: []Action{AssignGroup{Name: "system"}}},
			{Predicate: nil, Actions: []Action{AssignGroup{Name: "user"}}},
		},
	}

	fetcher := staticFetcher{}
	rootAttrs := expr.NewAttrs(1, 1, "/usr/bin/x", fetcher)
	rootAttrs.Euid = 0

	actions, ok := r.Evaluate(rootAttrs)
	require.True(t, ok)
	assert.Equal(t, []Action{AssignGroup{Name: "system"}}, actions)
}

func TestLookupChainAddonOverridesPrimary(t *testing.T) {
	m := NewModel()
	m.Primary.Bind("/usr/bin/x", Chain{{EventMask: EventExec}})
	chain, ok := m.LookupChain("/usr/bin/x")
	require.True(t, ok)
	assert.Len(t, chain, 1)

	m.Addon.Bind("/usr/bin/x", Chain{{EventMask: EventExec}, {EventMask: EventFork}})
	chain, ok = m.LookupChain("/usr/bin/x")
	require.True(t, ok)
	assert.Len(t, chain, 2)
}

func TestGroupFactMirrorOnlyFiresWhenExported(t *testing.T) {
	mirror := &recordingMirror{}
	g := NewGroup("g1")
	g.Mirror = mirror

	g.AddMember(10, "/usr/bin/x (pid=10)")
	assert.Empty(t, mirror.set, "non fact-exported group must not mirror")

	g.Flags = FlagFactExported
	g.AddMember(11, "/usr/bin/y (pid=11)")
	assert.Equal(t, map[int]string{11: "/usr/bin/y (pid=11)"}, mirror.set)

	g.RemoveMember(11)
	assert.Contains(t, mirror.removed, 11)
}

type staticFetcher struct{}

func (staticFetcher) BinaryPath(int) (string, error)    { return "/usr/bin/x", nil }
func (staticFetcher) Comm(int) (string, error)          { return "x", nil }
func (staticFetcher) Cmdline(int) ([]byte, error)        { return []byte("/usr/bin/x\x00"), nil }
func (staticFetcher) Status(int) (uint32, uint32, int, error) { return 0, 0, 1, nil }

type recordingMirror struct {
	set     map[int]string
	removed []int
}

func (m *recordingMirror) SetMember(pid int, desc string) {
	if m.set == nil {
		m.set = make(map[int]string)
	}
	m.set[pid] = desc
}

func (m *recordingMirror) RemoveMember(pid int) {
	m.removed = append(m.removed, pid)
}

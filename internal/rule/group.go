package rule

import "github.com/samber/lo"

// GroupFlags are the boolean flags a Group carries (spec §3 "Classification
// group").
type GroupFlags uint32

const (
	FlagStaticPartition GroupFlags = 1 << iota
	FlagFactExported
	FlagPrioritySet
	FlagReassignPending
)

func (f GroupFlags) Has(bit GroupFlags) bool { return f&bit != 0 }

// FactMirror projects selected Group fields into the host fact store
// (spec §3 "Fact mirrors"). The rule package only holds the interface;
// internal/fact supplies the implementation, keeping this package free of
// any dependency on the fact store's wire format.
type FactMirror interface {
	SetMember(pid int, description string)
	RemoveMember(pid int)
}

// Group is a named classification bucket, created from configuration and
// never destroyed until shutdown (spec §3 "Classification group").
type Group struct {
	Name            string
	Description     string
	Flags           GroupFlags
	DefaultPriority *int
	Partition       *Partition
	Mirror          FactMirror

	members map[int]struct{}
}

func NewGroup(name string) *Group {
	return &Group{Name: name, members: make(map[int]struct{})}
}

// AddMember links pid into the group's member set and, if the group
// exports facts, mirrors it immediately.
func (g *Group) AddMember(pid int, description string) {
	g.members[pid] = struct{}{}
	if g.Flags.Has(FlagFactExported) && g.Mirror != nil {
		g.Mirror.SetMember(pid, description)
	}
}

func (g *Group) RemoveMember(pid int) {
	delete(g.members, pid)
	if g.Flags.Has(FlagFactExported) && g.Mirror != nil {
		g.Mirror.RemoveMember(pid)
	}
}

func (g *Group) HasMember(pid int) bool {
	_, ok := g.members[pid]
	return ok
}

func (g *Group) MemberCount() int { return len(g.members) }

// Members returns a snapshot slice of current member pids.
func (g *Group) Members() []int {
	return lo.Keys(g.members)
}

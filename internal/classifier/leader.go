package classifier

import "github.com/sysparts/syspartd/internal/rule"

// leaderRegistry resolves the "leads(followers)" action of spec §3/§9: a
// classified process names binaries that, whenever they subsequently
// appear, must join the leader's group instead of whatever their own rule
// chain would otherwise assign. Followers are looked up by name at
// registration time, not by owning pointer (spec §9 "Cyclic/self
// references ... model as a tagged union Reference = Self | Call(id) |
// None, resolved on lookup; do not embed raw owning pointers" — the same
// principle applied here to leader/follower instead of conference
// parent/member).
type leaderRegistry struct {
	byFollowerName map[string]*rule.Group
}

func newLeaderRegistry() *leaderRegistry {
	return &leaderRegistry{byFollowerName: make(map[string]*rule.Group)}
}

// register binds every name in followers to leaderGroup, overwriting any
// earlier registration (the most recently classified leader wins).
func (lr *leaderRegistry) register(leaderGroup *rule.Group, followers []string) {
	if leaderGroup == nil {
		return
	}
	for _, name := range followers {
		lr.byFollowerName[name] = leaderGroup
	}
}

// resolve reports the group a binary must join because it was named as a
// follower, if any.
func (lr *leaderRegistry) resolve(binary string) (*rule.Group, bool) {
	g, ok := lr.byFollowerName[binary]
	return g, ok
}

package call

// HoldState is the Telepathy Hold_State enum subset spec §4.6's
// hold-toggling race needs: pending and settled values on both sides of
// the toggle.
type HoldState int

const (
	HoldNone HoldState = iota
	HoldPendingHold
	HoldHeld
	HoldPendingUnhold
	HoldUnheld
)

// Transition describes one state-changing event a Machine method
// produced, the unit of work the telephony router turns into resolver
// hooks, fact-store updates and resource reallocation.
type Transition struct {
	Record *Record
	From   State
	To     State
	Kind   string // e.g. "created", "active", "onhold", "autohold", "peerhungup", "localhungup", "disconnected"
}

// Machine is the call-model state machine of spec §4.6: one Table of
// records plus the transition logic. It has no D-Bus or fact-store
// dependency — internal/telephony drives it from decoded signals and
// reacts to the Transitions it returns.
type Machine struct {
	Table     *Table
	Emergency bool

	autoholdSeq int
}

func NewMachine() *Machine {
	return &Machine{Table: NewTable()}
}

// NewChannelParams is the subset of a Telepathy NewChannels signal the
// state machine needs to seed a Record (spec §4.6 "Direction inference").
type NewChannelParams struct {
	Path            string
	ChannelName     string
	Kind            Kind
	Requested       bool
	HaveRequested   bool // whether the Requested property was present at all
	InitiatorIsSelf bool
	TargetHandle    uint32
	InitiatorHandle uint32
	LocalHandle     uint32
	Emergency       bool
	Holdable        bool
	InitialMembers  []string // paths already present when this is a conference parent
}

// NewChannel registers a new call record, inferring direction and peer
// handle per spec §4.6: "prefers the Requested property; falling back to
// InitiatorID == '<self>' for outgoing ... peer handle is taken from
// TargetHandle for outgoing calls and InitiatorHandle for incoming."
// If InitialMembers is non-empty, the new channel is immediately folded
// into being a conference parent over those already-registered members
// (spec §8 scenario 5's InitialChannels=[A,B] case).
func (m *Machine) NewChannel(p NewChannelParams) (*Record, []Transition) {
	outgoing := p.Requested
	if !p.HaveRequested {
		outgoing = p.InitiatorIsSelf
	}

	dir := DirIncoming
	peerHandle := p.InitiatorHandle
	if outgoing {
		dir = DirOutgoing
		peerHandle = p.TargetHandle
	}

	rec := &Record{
		Kind:        p.Kind,
		ChannelName: p.ChannelName,
		Path:        p.Path,
		PeerHandle:  peerHandle,
		LocalHandle: p.LocalHandle,
		Direction:   dir,
		Emergency:   p.Emergency,
		Holdable:    p.Holdable,
		Parent:      NoParent(),
	}
	if outgoing {
		rec.State = StateCallout
	} else {
		rec.State = StateCreated
	}
	m.Table.Register(rec)

	trans := []Transition{{Record: rec, From: StateUnknown, To: rec.State, Kind: "created"}}

	if len(p.InitialMembers) > 0 {
		rec.Parent = SelfParent()
		for _, memberPath := range p.InitialMembers {
			if member, ok := m.Table.ByPath(memberPath); ok {
				trans = append(trans, m.foldIntoConference(member, rec)...)
			}
		}
	}

	return rec, trans
}

// ChannelClosed handles a Telepathy Closed signal. A conference parent's
// Closed event iterates its members and restores them (spec §4.6
// "Destroying a conference parent iterates members and restores their
// individual states"); a plain channel is simply unregistered.
func (m *Machine) ChannelClosed(path string) []Transition {
	rec, ok := m.Table.ByPath(path)
	if !ok {
		return nil
	}

	var trans []Transition
	if rec.Parent.IsSelf() {
		for _, member := range m.Table.All() {
			if member == rec {
				continue
			}
			if resolved, ok := m.Table.Resolve(member, member.Parent); ok && resolved == rec {
				trans = append(trans, m.restoreFromConference(member)...)
			}
		}
	}

	m.Table.Remove(path)
	return trans
}

// MembersChanged implements spec §4.6's accept and hang-up detection from
// a single TP MembersChanged signal. Conference parent/member records
// never transition off this signal (Closed drives their termination).
func (m *Machine) MembersChanged(path string, added, removed []uint32, localPending, remotePending []uint32, actor uint32) *Transition {
	rec, ok := m.Table.ByPath(path)
	if !ok {
		return nil
	}
	if rec.State == StateConference || !rec.Parent.IsNone() {
		return nil
	}

	rec.NMember += len(added) - len(removed)
	noPending := len(localPending) == 0 && len(remotePending) == 0

	if len(added) > 0 && noPending && !isActiveish(rec.State) {
		matches := added[0] == rec.PeerHandle && rec.Direction == DirOutgoing
		matches = matches || (added[0] == rec.LocalHandle && rec.Direction == DirIncoming)
		matches = matches || rec.NMember >= 2
		if matches {
			return m.transitionTo(rec, StateActive, "active")
		}
	}

	if len(removed) > 0 && noPending {
		if actor == rec.PeerHandle {
			return m.transitionTo(rec, StatePeerHungup, "peerhungup")
		}
		return m.transitionTo(rec, StateLocalHungup, "localhungup")
	}

	return nil
}

func isActiveish(s State) bool {
	return s == StateActive || s == StateOnHold || s == StateAutohold || s == StateConference
}

// HoldStateChanged implements spec §4.6's hold-toggling race handling:
// pending states never transition the call, and settled states are
// idempotent (repeating an already-applied HELD/UNHELD is dropped before
// producing a policy query). EverConnected gates the "activation hook
// fires only the first time" rule from spec §8 scenario 4; telephony
// checks it via Record.EverConnected rather than Machine re-deriving it.
func (m *Machine) HoldStateChanged(path string, hs HoldState) *Transition {
	rec, ok := m.Table.ByPath(path)
	if !ok {
		return nil
	}
	switch hs {
	case HoldPendingHold, HoldPendingUnhold:
		return nil
	case HoldHeld:
		if rec.State == StateOnHold || rec.State == StateAutohold {
			return nil
		}
		return m.transitionTo(rec, StateOnHold, "onhold")
	case HoldUnheld:
		if rec.State == StateActive {
			return nil
		}
		t := m.transitionTo(rec, StateActive, "active")
		return t
	default:
		return nil
	}
}

// RequestAccept forces an accept from a UI-driven method call (spec §6
// RequestAccept), independent of the MembersChanged signal race.
func (m *Machine) RequestAccept(path string) *Transition {
	rec, ok := m.Table.ByPath(path)
	if !ok || isActiveish(rec.State) {
		return nil
	}
	return m.transitionTo(rec, StateActive, "active")
}

// RequestHold implements spec §6 RequestHold(hold): a UI-driven hold or
// unhold, subject to the same idempotency the signal path observes.
func (m *Machine) RequestHold(path string, hold bool) *Transition {
	if hold {
		return m.HoldStateChanged(path, HoldHeld)
	}
	return m.HoldStateChanged(path, HoldUnheld)
}

// Autohold puts rec on hold under policy control rather than user action,
// assigning it the next autohold sequence number so restoration order is
// preserved (spec's Autohold glossary entry).
func (m *Machine) Autohold(path string) *Transition {
	rec, ok := m.Table.ByPath(path)
	if !ok || rec.State == StateAutohold {
		return nil
	}
	m.autoholdSeq++
	rec.Order = m.autoholdSeq
	return m.transitionTo(rec, StateAutohold, "autohold")
}

// SetMedia records a stream/content id for rec, distinguishing audio from
// video (spec §3 "optional audio stream/content id" / "video ..."); used
// for both StreamAdded/ContentAdded and their *Removed counterparts (pass
// id="" to clear).
func (m *Machine) SetMedia(path string, id string, video bool) {
	rec, ok := m.Table.ByPath(path)
	if !ok {
		return
	}
	if video {
		rec.VideoID = id
	} else {
		rec.AudioID = id
	}
}

// foldIntoConference is the shared body of ChannelMerged and
// MemberChannelAdded (spec §4.6 treats both signals identically): saves
// member's prior state into ConfState, points it at parent, and moves it
// to StateConference.
func (m *Machine) foldIntoConference(member, parent *Record) []Transition {
	if !member.Parent.IsNone() {
		return nil
	}
	member.ConfState = member.State
	if parent == nil {
		member.Parent = SelfParent()
	} else {
		member.Parent = ParentByID(parent.ID)
	}
	from := member.State
	member.State = StateConference
	return []Transition{{Record: member, From: from, To: StateConference, Kind: "conference"}}
}

// ChannelMerged handles TP ChannelMerged(parentPath member) — alias of
// MemberChannelAdded per spec §4.6.
func (m *Machine) ChannelMerged(parentPath, memberPath string) []Transition {
	return m.mergeByPath(parentPath, memberPath)
}

func (m *Machine) MemberChannelAdded(parentPath, memberPath string) []Transition {
	return m.mergeByPath(parentPath, memberPath)
}

func (m *Machine) mergeByPath(parentPath, memberPath string) []Transition {
	parent, ok := m.Table.ByPath(parentPath)
	if !ok {
		return nil
	}
	member, ok := m.Table.ByPath(memberPath)
	if !ok {
		return nil
	}
	if parent.Parent.IsNone() {
		parent.Parent = SelfParent()
	}
	return m.foldIntoConference(member, parent)
}

// restoreFromConference is the shared body of ChannelRemoved and
// MemberChannelRemoved: member's pre-conference state (ConfState) is
// restored and its parent pointer cleared.
func (m *Machine) restoreFromConference(member *Record) []Transition {
	if member.Parent.IsNone() {
		return nil
	}
	from := member.State
	member.State = member.ConfState
	member.Parent = NoParent()
	return []Transition{{Record: member, From: from, To: member.State, Kind: "conference-leave"}}
}

func (m *Machine) ChannelRemoved(parentPath, memberPath string) []Transition {
	return m.removeByPath(memberPath)
}

func (m *Machine) MemberChannelRemoved(parentPath, memberPath string) []Transition {
	return m.removeByPath(memberPath)
}

func (m *Machine) removeByPath(memberPath string) []Transition {
	member, ok := m.Table.ByPath(memberPath)
	if !ok {
		return nil
	}
	return m.restoreFromConference(member)
}

// transitionTo applies a state change and marks EverConnected whenever the
// call enters StateActive, per spec §8 scenario 4's
// "was-connected flag... prevents re-firing the first-activation hook on
// every unhold."
func (m *Machine) transitionTo(rec *Record, to State, kind string) *Transition {
	from := rec.State
	rec.State = to
	if to == StateActive {
		rec.EverConnected = true
	}
	return &Transition{Record: rec, From: from, To: to, Kind: kind}
}

// NeedAudio implements spec §4.7's need_audio(): true iff any call is
// active, on-hold, autoheld, an outgoing call still ringing, or the
// peer-hungup end of an outgoing-or-connected-incoming call, or the
// process-wide emergency flag is set.
func (m *Machine) NeedAudio() bool {
	if m.Emergency {
		return true
	}
	for _, r := range m.Table.All() {
		switch r.State {
		case StateActive, StateOnHold, StateAutohold:
			return true
		case StateCallout:
			return true
		case StatePeerHungup:
			if r.Direction == DirOutgoing || r.EverConnected {
				return true
			}
		}
	}
	return false
}

// NeedVideo implements spec §4.7's need_video(): true iff any call
// carries a video stream/content id.
func (m *Machine) NeedVideo() bool {
	for _, r := range m.Table.All() {
		if r.HasVideo() {
			return true
		}
	}
	return false
}

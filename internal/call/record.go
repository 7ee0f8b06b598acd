// Package call is the per-channel call record and state machine of spec
// §4.6, grounded on original_source/plugins/telephony/ohm/telephony.h's
// call_s struct and call_state_t/call_dir_t enums.
package call

import "fmt"

// Kind distinguishes the two Telepathy channel flavors spec §3 names.
type Kind int

const (
	StreamedMedia Kind = iota
	CallDraft
)

// Direction is the call's originator, spec §3 "direction".
type Direction int

const (
	DirUnknown Direction = iota
	DirIncoming
	DirOutgoing
)

// State is one of the eleven states enumerated in spec §4.6.
type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StatePeerHungup
	StateLocalHungup
	StateCreated
	StateCallout
	StateActive
	StateOnHold
	StateAutohold
	StateConference
	StatePostConference
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StatePeerHungup:
		return "peer-hungup"
	case StateLocalHungup:
		return "local-hungup"
	case StateCreated:
		return "created"
	case StateCallout:
		return "callout"
	case StateActive:
		return "active"
	case StateOnHold:
		return "on-hold"
	case StateAutohold:
		return "autohold"
	case StateConference:
		return "conference"
	case StatePostConference:
		return "post-conference"
	default:
		return "unknown"
	}
}

// parentKind tags the Reference union of spec §9's design notes: a
// conference parent's Parent field must be able to point at itself
// without a literal cyclic Go pointer assignment being the only way to
// express it, and a not-yet-announced follower must be nameable before it
// exists.
type parentKind int

const (
	parentNone parentKind = iota
	parentSelf
	parentID
)

// ParentRef is the tagged union of spec §9: "Self | Call(id) | None",
// resolved against a Table on lookup rather than embedding a raw pointer.
type ParentRef struct {
	kind parentKind
	id   int
}

func NoParent() ParentRef       { return ParentRef{kind: parentNone} }
func SelfParent() ParentRef     { return ParentRef{kind: parentSelf} }
func ParentByID(id int) ParentRef { return ParentRef{kind: parentID, id: id} }

func (p ParentRef) IsNone() bool { return p.kind == parentNone }
func (p ParentRef) IsSelf() bool { return p.kind == parentSelf }

// Record is one call channel's state (spec §3 "Call record").
type Record struct {
	Kind        Kind
	ID          int
	ChannelName string
	Path        string

	Peer        string
	PeerHandle  uint32
	LocalHandle uint32
	NMember     int
	Direction   Direction
	Emergency   bool

	State     State
	ConfState State // saved pre-conference state, restored on leaving

	Order int // autohold sequence number, spec §3 "autohold order counter"

	Parent ParentRef

	EverConnected bool // spec §3 "ever-connected flag"; also serves as the
	// hold-race "was-connected" guard of spec §4.6.

	AudioID string
	VideoID string

	PendingLocal  bool
	PendingRemote bool

	Holdable bool

	setupTimeoutActive bool
}

func (r *Record) HasVideo() bool { return r.VideoID != "" }
func (r *Record) HasAudio() bool { return r.AudioID != "" }

func (r *Record) String() string {
	return fmt.Sprintf("call#%d %s state=%s dir=%v path=%s", r.ID, r.ChannelName, r.State, r.Direction, r.Path)
}

// Table indexes call records by path, assigning monotonically increasing
// integer ids on registration (spec §3 "indexed by path in a map; an
// integer id is assigned monotonically on registration").
type Table struct {
	byPath map[string]*Record
	byID   map[int]*Record
	nextID int
}

func NewTable() *Table {
	return &Table{byPath: make(map[string]*Record), byID: make(map[int]*Record), nextID: 1}
}

// Register assigns rec an id and indexes it. Callers must not have set
// rec.ID themselves.
func (t *Table) Register(rec *Record) {
	rec.ID = t.nextID
	t.nextID++
	t.byPath[rec.Path] = rec
	t.byID[rec.ID] = rec
}

func (t *Table) ByPath(path string) (*Record, bool) {
	r, ok := t.byPath[path]
	return r, ok
}

func (t *Table) ByID(id int) (*Record, bool) {
	r, ok := t.byID[id]
	return r, ok
}

func (t *Table) Remove(path string) {
	rec, ok := t.byPath[path]
	if !ok {
		return
	}
	delete(t.byPath, path)
	delete(t.byID, rec.ID)
}

func (t *Table) Count() int { return len(t.byPath) }

// All returns every live record, for invariant checks and the
// reallocation rule's need_audio/need_video scan.
func (t *Table) All() []*Record {
	out := make([]*Record, 0, len(t.byPath))
	for _, r := range t.byPath {
		out = append(out, r)
	}
	return out
}

// Resolve follows a ParentRef to the concrete *Record, given the record
// that owns the reference (needed to resolve Self).
func (t *Table) Resolve(self *Record, ref ParentRef) (*Record, bool) {
	switch ref.kind {
	case parentSelf:
		return self, true
	case parentID:
		return t.ByID(ref.id)
	default:
		return nil, false
	}
}

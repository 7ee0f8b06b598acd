// Package rule is the in-memory model of groups, partitions, rules,
// statements and actions described by spec §3/§4.4 — purely data plus the
// indexes the classifier needs, with no OS or D-Bus interaction of its own.
package rule

// EventType is a bitmask of the kernel/classifier event kinds a Rule
// applies to (spec §3 "Rule").
type EventType uint32

const (
	EventForce EventType = 1 << iota
	EventFork
	EventThread
	EventExec
	EventExit
	EventUID
	EventGID
	EventSID
	EventPtrace
	EventComm
)

// classifiableMask is the set of events that drive the full classification
// algorithm of spec §4.4, as opposed to Exit/Ptrace which have their own
// dedicated handling.
const classifiableMask = EventForce | EventFork | EventExec | EventUID | EventGID | EventSID | EventThread | EventComm

// IsClassifiable reports whether e goes through the primary classification
// algorithm (as opposed to exit/ptrace's special-cased handling).
func (e EventType) IsClassifiable() bool { return e&classifiableMask != 0 }

// isRenameish identifies the event classes spec §4.4 step 6 treats
// specially: on a renameish event with no matching primary rule, and the
// "always fallback" flag unset, the existing classification stands instead
// of falling back to the "*" rule chain.
func (e EventType) isRenameish() bool {
	return e&(EventUID|EventGID|EventSID|EventComm|EventThread) != 0
}

func (e EventType) Has(bit EventType) bool { return e&bit != 0 }

func (e EventType) String() string {
	names := []struct {
		bit  EventType
		name string
	}{
		{EventForce, "force"}, {EventFork, "fork"}, {EventThread, "thread"},
		{EventExec, "exec"}, {EventExit, "exit"}, {EventUID, "uid"},
		{EventGID, "gid"}, {EventSID, "sid"}, {EventPtrace, "ptrace"},
		{EventComm, "comm"},
	}
	out := ""
	for _, n := range names {
		if e.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// Package classifier is the event-driven classification core: it turns
// process-source events into rule lookups, expression evaluation, and
// action execution, and owns the process-record hash table, the delayed
// reclassification queue, and the leader/follower and ptrace co-
// classification mechanics (spec §2 "Classifier core", §4.4).
package classifier

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/sysparts/syspartd/internal/rule"
)

// numBuckets is the fixed bucket count of the PID-indexed hash table
// (spec §3 "fixed 1024 buckets, open chaining").
const numBuckets = 1024

// AdjustState is one leg (priority or OOM) of the three-state adjust
// discipline of spec §4.3.
type AdjustState struct {
	Mode StateMode
	Raw  int
}

// StateMode is the adjust state machine's current mode.
type StateMode int

const (
	StateDefault StateMode = iota
	StateLocked
	StateExtern
)

func (m StateMode) String() string {
	switch m {
	case StateDefault:
		return "default"
	case StateLocked:
		return "locked"
	case StateExtern:
		return "extern"
	default:
		return "unknown"
	}
}

// Tracker binds a resolver hook to a process record for a subset of
// events, firing the hook when a matching event reaches the record (spec
// §3 "optional tracker target (resolver hook + event mask)", §4.4 "Exit
// events: if the process has a registered tracker, fire its resolver hook
// with event=exit").
type Tracker struct {
	Mask     rule.EventType
	RuleName string
	Locals   map[string]string
}

// ProcessRecord is the classifier's live view of one task (spec §3
// "Process record").
type ProcessRecord struct {
	Pid, Tgid int
	TracerPid int // nonzero while a tracer is attached

	BinaryPath   string
	Argv0        string // effective argv0, optional
	ClassifiedBy string // set by classify-by-argv, optional

	Group     *rule.Group
	Partition *rule.Partition

	Priority    int
	PriorityAdj AdjustState
	OOMAdj      int
	OOMAdjust   AdjustState

	ReclassifyCount uint32
	Ignored         bool

	Tracker *Tracker
}

func newProcessRecord(pid, tgid int, binaryPath string) *ProcessRecord {
	return &ProcessRecord{Pid: pid, Tgid: tgid, BinaryPath: binaryPath}
}

// Describe renders the "<binary> (...)" style summary used in group fact
// mirrors (spec §8 scenario 1).
func (r *ProcessRecord) Describe() string {
	name := r.BinaryPath
	if r.ClassifiedBy != "" {
		name = r.ClassifiedBy
	}
	return fmt.Sprintf("%s (pid=%d)", name, r.Pid)
}

// recordTable is the PID-bucket hash table of spec §3, implemented as a
// fixed array of per-bucket maps rather than an intrusive linked list:
// removal by pid lookup is O(1) and the bucket count still bounds any one
// chain's expected length the way the original design intended.
type recordTable struct {
	buckets [numBuckets]map[int]*ProcessRecord
}

func newRecordTable() *recordTable {
	t := &recordTable{}
	for i := range t.buckets {
		t.buckets[i] = make(map[int]*ProcessRecord)
	}
	return t
}

func bucketOf(pid int) int {
	// A simple multiplicative hash; pid is usually small and monotonic, so
	// this spreads consecutive pids across buckets instead of clustering
	// them in the low ones.
	h := uint32(pid) * 2654435761
	return int(h % numBuckets)
}

func (t *recordTable) get(pid int) (*ProcessRecord, bool) {
	r, ok := t.buckets[bucketOf(pid)][pid]
	return r, ok
}

// getOrCreate returns the existing record for pid, or inserts and returns
// a new one. The insert-if-absent check is what makes bulk discovery and
// the netlink cold-start race safe (spec §9: "the PID-bucket insert is
// idempotent because every insertion checks for an existing entry with
// the same pid").
func (t *recordTable) getOrCreate(pid, tgid int, binaryPath string) (*ProcessRecord, bool) {
	b := t.buckets[bucketOf(pid)]
	if r, ok := b[pid]; ok {
		return r, false
	}
	r := newProcessRecord(pid, tgid, binaryPath)
	b[pid] = r
	return r, true
}

func (t *recordTable) remove(pid int) {
	delete(t.buckets[bucketOf(pid)], pid)
}

func (t *recordTable) count() int {
	n := 0
	for _, b := range t.buckets {
		n += len(b)
	}
	return n
}

func (t *recordTable) pids() []int {
	out := make([]int, 0, t.count())
	for _, b := range t.buckets {
		out = append(out, lo.Keys(b)...)
	}
	return out
}

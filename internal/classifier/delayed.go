package classifier

import (
	"container/heap"
	"time"
)

// delayedEntry is one scheduled reclassification: the pid and the wall
// time it fires at (spec §4.4 "a small heap/timer set keyed by (pid,
// scheduled-time)").
type delayedEntry struct {
	at  time.Time
	pid int
}

type delayedHeap []*delayedEntry

func (h delayedHeap) Len() int            { return len(h) }
func (h delayedHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h delayedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x interface{}) { *h = append(*h, x.(*delayedEntry)) }
func (h *delayedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// delayedQueue is a min-heap of pending reclassifications, polled from the
// single-threaded main event loop rather than backed by per-entry
// goroutines/timers, matching spec §5's cooperative scheduling model.
type delayedQueue struct {
	h delayedHeap
}

func newDelayedQueue() *delayedQueue {
	q := &delayedQueue{}
	heap.Init(&q.h)
	return q
}

func (q *delayedQueue) schedule(pid int, after time.Duration, now time.Time) {
	heap.Push(&q.h, &delayedEntry{at: now.Add(after), pid: pid})
}

// NextDeadline reports when the main loop should next poll this queue.
func (q *delayedQueue) nextDeadline() (time.Time, bool) {
	if q.h.Len() == 0 {
		return time.Time{}, false
	}
	return q.h[0].at, true
}

// due pops and returns every pid whose scheduled time has arrived.
func (q *delayedQueue) due(now time.Time) []int {
	var pids []int
	for q.h.Len() > 0 && !q.h[0].at.After(now) {
		e := heap.Pop(&q.h).(*delayedEntry)
		pids = append(pids, e.pid)
	}
	return pids
}

// Package procqueue implements the Processor's local ready queue (spec §4.5):
// a priority-ordered list of locked jobs awaiting dispatch within one
// process. It is not persisted — it only ever holds jobs this worker already
// holds the lock for.
package procqueue

import (
	"sort"
	"time"
)

// Entry is one queued, locked job awaiting dispatch.
type Entry struct {
	ID        string
	Name      string
	Priority  int
	NextRunAt time.Time
}

// Queue is priority-ordered (desc), tie-broken by NextRunAt (asc). It is not
// safe for concurrent use; callers serialize access the same way the
// Processor serializes all its other state (spec §4.5 "single event loop").
type Queue struct {
	entries []Entry
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Len reports the number of queued entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Push inserts e in priority order. When toFront is true e is prepended
// regardless of priority.
func (q *Queue) Push(e Entry, toFront bool) {
	if toFront {
		q.entries = append([]Entry{e}, q.entries...)
		return
	}
	i := sort.Search(len(q.entries), func(i int) bool {
		return less(e, q.entries[i])
	})
	q.entries = append(q.entries, Entry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

// less reports whether a sorts before b: higher priority first, then earlier NextRunAt.
func less(a, b Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.NextRunAt.Before(b.NextRunAt)
}

// DrainDue removes and returns entries whose NextRunAt is on or before now
// and for which capacity returns true, in queue order (priority desc, then
// nextRunAt asc). Entries that aren't due yet, or whose capacity check
// fails, are left in the queue in their original relative order — dispatch
// may skip a not-yet-due or gated head to take a later, already-due entry
// (spec §4.5 ordering guarantees).
func (q *Queue) DrainDue(now time.Time, capacity func(Entry) bool) []Entry {
	var due []Entry
	remaining := q.entries[:0:0]
	for _, e := range q.entries {
		if !e.NextRunAt.After(now) && capacity(e) {
			due = append(due, e)
			continue
		}
		remaining = append(remaining, e)
	}
	q.entries = remaining
	return due
}

// NextDelay returns the duration until the soonest-due entry becomes due, or
// false if the queue is empty. Used to arm the Processor's one-shot
// re-attempt timer (spec §4.5 Dispatch).
func (q *Queue) NextDelay(now time.Time) (time.Duration, bool) {
	if len(q.entries) == 0 {
		return 0, false
	}
	soonest := q.entries[0].NextRunAt
	for _, e := range q.entries[1:] {
		if e.NextRunAt.Before(soonest) {
			soonest = e.NextRunAt
		}
	}
	if !soonest.After(now) {
		return 0, true
	}
	return soonest.Sub(now), true
}

// Remove drops the entry with the given id, if present.
func (q *Queue) Remove(id string) {
	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

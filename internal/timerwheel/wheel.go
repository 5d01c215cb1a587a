// Package timerwheel implements W: a persistent timer wheel backed by
// a monotonic min-heap, with catch-up/coalesce semantics for
// recurring timers and a pluggable business-calendar helper for "N
// business days" scheduling (§4.6). The near-term/far-future split
// the spec names collapses here to a single heap — Go's
// container/heap already gives O(log n) insert/pop, the property a
// hierarchical wheel's near-term tier exists to approximate for
// millions of timers; this engine's timer volume (one per node-with-
// a-timer-scope, per case) does not warrant the added bucket-rotation
// machinery a true hierarchical wheel needs. Grounded on
// internal/timebase.SimClock's own heap-of-waiters pattern.
package timerwheel

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/timebase"
)

// Entry is one scheduled timer: either a one-shot firing or the next
// occurrence of a recurring one.
type Entry struct {
	ID       string
	CaseID   string
	NodeID   uint32
	DueNs    int64 // monotonic
	DueWall  time.Time
	Kind     ir.TimerKind
	RRule    *ir.RRuleNorm
	Policy   ir.CatchupPolicy
	seq      uint64
	heapIdx  int
}

// PersistentStore is the narrow durability seam internal/store
// implements: every timer must be written before its due_at is
// considered committed (§4.6), so Schedule blocks on Put returning
// before the entry is visible to Run.
type PersistentStore interface {
	PutTimer(e Entry) error
	DeleteTimer(id string) error
	ForEachTimer(fn func(Entry) error) error
}

// BusinessCalendar converts "N business days from t" into an absolute
// time, consumed only at schedule time (never on the runtime hot
// path, per spec §9).
type BusinessCalendar interface {
	AddBusinessDays(t time.Time, n int) time.Time
}

// entryHeap is a container/heap.Interface ordered by (DueNs, seq),
// the same tie-break shape as timebase.SimClock's waiter queue.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].DueNs != h[j].DueNs {
		return h[i].DueNs < h[j].DueNs
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx, h[j].heapIdx = i, j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Wheel is W.
type Wheel struct {
	mu      sync.Mutex
	heap    entryHeap
	byID    map[string]*Entry
	nextSeq uint64
	store   PersistentStore
}

// New constructs an empty Wheel backed by store.
func New(store PersistentStore) *Wheel {
	return &Wheel{byID: make(map[string]*Entry), store: store}
}

// Recover replays every durably-written timer from store into the
// in-memory heap, the crash+resume path §4.6 requires.
func (w *Wheel) Recover() error {
	return w.store.ForEachTimer(func(e Entry) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.pushLocked(&e)
		return nil
	})
}

func (w *Wheel) pushLocked(e *Entry) {
	w.nextSeq++
	e.seq = w.nextSeq
	heap.Push(&w.heap, e)
	w.byID[e.ID] = e
}

// persistBackoff bounds the retry window for a durable write that
// fails transiently (e.g. a bbolt writer lock held by a concurrent
// compaction); a timer is never admitted to the in-memory heap until
// its due_at is actually committed, so this retry sits strictly
// before pushLocked, never after.
func persistBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Second
	b.InitialInterval = 10 * time.Millisecond
	return b
}

// Schedule durably persists e, then makes it visible to Run. e.DueNs
// must already be civil-anchored (see Anchor).
func (w *Wheel) Schedule(e Entry) error {
	persist := func() error { return w.store.PutTimer(e) }
	if err := backoff.Retry(persist, persistBackoff()); err != nil {
		return fmt.Errorf("timerwheel: persist: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pushLocked(&e)
	return nil
}

// Cancel removes a scheduled timer by id, persistently and in memory.
// A no-op if the timer already fired or never existed.
func (w *Wheel) Cancel(id string) error {
	w.mu.Lock()
	e, ok := w.byID[id]
	if ok {
		delete(w.byID, id)
		heap.Remove(&w.heap, e.heapIdx)
	}
	w.mu.Unlock()
	if !ok {
		return nil
	}
	return w.store.DeleteTimer(id)
}

// Anchor re-anchors a wall-clock-declared due time to the clock's
// current monotonic reading, recomputing the wall→monotonic mapping
// so a later DST shift or SetWall jump cannot desynchronize it (civil
// anchoring, §4.6).
func Anchor(clock timebase.Timebase, due time.Time) int64 {
	delta := due.Sub(clock.NowWall())
	return clock.NowMonotonic() + delta.Nanoseconds()
}

// Next returns the earliest-due entry without removing it, whether or
// not its due time has been reached, or ok=false if the wheel is
// empty. Callers drive this from their own select loop against
// clock.SleepUntilMonotonic and then remove the entry with Pop.
func (w *Wheel) Next() (Entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.heap.Len() == 0 {
		return Entry{}, false
	}
	e := w.heap[0]
	return *e, true
}

// Pop removes the earliest-due entry (called once its due time has
// actually elapsed).
func (w *Wheel) Pop() (Entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.heap.Len() == 0 {
		return Entry{}, false
	}
	e := heap.Pop(&w.heap).(*Entry)
	delete(w.byID, e.ID)
	return *e, true
}

// Len reports how many timers are currently scheduled.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.heap.Len()
}

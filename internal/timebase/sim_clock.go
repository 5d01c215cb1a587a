package timebase

import (
	"container/heap"
	"sync"
	"time"
)

// SimClock is the virtual Timebase used by tests and the crash/resume
// harness: both epochs live in memory, warp(Δ) advances them
// atomically and fires due waiters in (due, seq) order, and
// set_scale/set_wall model DST and business-day anomalies without
// touching real wall-clock time.
type SimClock struct {
	mu    sync.Mutex
	wall  time.Time
	mono  int64
	scale float64
	seq   uint64
	q     waiterHeap
}

// NewSimClock starts a virtual clock at wallEpoch with monotonic time
// zeroed and scale 1.0 (real-time-equivalent until warped or rescaled).
func NewSimClock(wallEpoch time.Time) *SimClock {
	return &SimClock{wall: wallEpoch, scale: 1.0}
}

func (s *SimClock) NowWall() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wall
}

func (s *SimClock) NowMonotonic() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mono
}

func (s *SimClock) Scale() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale
}

// Warp advances both epochs by d of monotonic time (wall advances by
// d scaled by the current time-scale) and fires every waiter whose
// due_monotonic has been reached, in due order, ties broken by
// insertion sequence.
func (s *SimClock) Warp(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mono += int64(d)
	s.wall = s.wall.Add(time.Duration(float64(d) * s.scale))
	s.fireDueLocked()
}

// SetScale changes the wall-time multiplier applied by future Warp
// calls (0 = frozen, 1 = real time, >1 = accelerated) and recomputes
// every wall-anchored waiter's monotonic due instant.
func (s *SimClock) SetScale(scale float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scale = scale
	s.reanchorWallWaitersLocked()
	s.fireDueLocked()
}

// SetWall jumps the wall clock directly to t (DST transition, leap
// anomaly, business-day skip) without consuming monotonic time, and
// recomputes every wall-anchored waiter's monotonic due instant.
func (s *SimClock) SetWall(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wall = t
	s.reanchorWallWaitersLocked()
	s.fireDueLocked()
}

func (s *SimClock) SleepFor(d time.Duration) (<-chan struct{}, CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(kindMono, s.mono+int64(d), time.Time{})
}

func (s *SimClock) SleepUntilWall(target time.Time) (<-chan struct{}, CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := s.wallToMonoLocked(target)
	return s.registerLocked(kindWall, due, target)
}

func (s *SimClock) SleepUntilMonotonic(dueNs int64) (<-chan struct{}, CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(kindMono, dueNs, time.Time{})
}

// wallToMonoLocked re-anchors a civil-time target to the monotonic
// axis at the current scale; a frozen scale (0) pins the waiter to
// the far future until a subsequent SetScale/SetWall re-anchors it.
func (s *SimClock) wallToMonoLocked(target time.Time) int64 {
	if s.scale <= 0 {
		return int64(^uint64(0) >> 1) // max int64: never fires on its own
	}
	delta := target.Sub(s.wall)
	return s.mono + int64(float64(delta)/s.scale)
}

func (s *SimClock) reanchorWallWaitersLocked() {
	changed := false
	for _, w := range s.q.items {
		if w.kind == kindWall && !w.fired {
			w.due = s.wallToMonoLocked(w.wallTarget)
			changed = true
		}
	}
	if changed {
		heap.Init(&s.q)
	}
}

func (s *SimClock) registerLocked(kind waiterKind, due int64, wallTarget time.Time) (<-chan struct{}, CancelFunc) {
	s.seq++
	w := &waiter{
		seq:        s.seq,
		due:        due,
		kind:       kind,
		wallTarget: wallTarget,
		done:       make(chan struct{}),
	}
	heap.Push(&s.q, w)
	s.fireDueLocked()
	return w.done, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w.fired || w.index < 0 {
			return
		}
		heap.Remove(&s.q, w.index)
		w.fired = true // mark so repeated cancel is a no-op
	}
}

// fireDueLocked pops and fires every waiter whose due instant has
// been reached, strictly in (due, seq) order; must be called with mu
// held.
func (s *SimClock) fireDueLocked() {
	for s.q.Len() > 0 && s.q.items[0].due <= s.mono {
		w := heap.Pop(&s.q).(*waiter)
		if w.fired {
			continue
		}
		w.fired = true
		close(w.done)
	}
}

type waiterKind int

const (
	kindMono waiterKind = iota
	kindWall
)

type waiter struct {
	seq        uint64
	due        int64
	kind       waiterKind
	wallTarget time.Time
	done       chan struct{}
	fired      bool
	index      int
}

// waiterHeap orders waiters by (due, seq) ascending and supports O(1)
// index-tracked removal for cancellation.
type waiterHeap struct{ items []*waiter }

func (h waiterHeap) Len() int { return len(h.items) }

func (h waiterHeap) Less(i, j int) bool {
	if h.items[i].due != h.items[j].due {
		return h.items[i].due < h.items[j].due
	}
	return h.items[i].seq < h.items[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(h.items)
	h.items = append(h.items, w)
}

func (h *waiterHeap) Pop() any {
	old := h.items
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	h.items = old[:n-1]
	return w
}

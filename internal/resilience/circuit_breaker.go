package resilience

import (
	"math"
	"sync"
	"time"
)

// CircuitBreaker is a rolling-window failure-rate breaker with
// half-open probing, grounded on the fleet's adaptive breaker but
// trimmed to a fixed failure-rate trip: no adaptive threshold
// recomputation.
type CircuitBreaker struct {
	mu sync.Mutex

	minSamples        int
	failureRateOpen   float64
	halfOpenAfter     time.Duration
	maxHalfOpenProbes int

	state          breakerState
	openedAt       time.Time
	window         *slidingWindow
	halfOpenProbes int

	onOpen  func()
	onClose func()
}

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// NewCircuitBreaker builds a breaker over windowSize split into
// buckets, tripping once at least minSamples observations land in the
// window and the failure rate reaches failureRateOpen.
func NewCircuitBreaker(windowSize time.Duration, buckets, minSamples int, failureRateOpen float64, halfOpenAfter time.Duration, maxHalfOpenProbes int) *CircuitBreaker {
	if buckets <= 0 {
		buckets = 1
	}
	return &CircuitBreaker{
		minSamples:        minSamples,
		failureRateOpen:   math.Min(math.Max(failureRateOpen, 0), 1),
		halfOpenAfter:     halfOpenAfter,
		maxHalfOpenProbes: maxHalfOpenProbes,
		state:             stateClosed,
		window:            newSlidingWindow(windowSize, buckets),
	}
}

// OnStateChange registers callbacks invoked when the breaker opens or
// resets to closed; used to wire OTel counters without coupling this
// package to a specific meter.
func (c *CircuitBreaker) OnStateChange(onOpen, onClose func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen, c.onClose = onOpen, onClose
}

// Allow reports whether a call may proceed.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateOpen:
		if time.Since(c.openedAt) >= c.halfOpenAfter {
			c.state = stateHalfOpen
			c.halfOpenProbes = 0
		} else {
			return false
		}
	case stateHalfOpen:
		if c.halfOpenProbes >= c.maxHalfOpenProbes {
			return false
		}
		c.halfOpenProbes++
	}
	return true
}

// RecordResult reports the outcome of a call previously admitted by
// Allow.
func (c *CircuitBreaker) RecordResult(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window.add(success)

	switch c.state {
	case stateClosed:
		total, failures := c.window.stats()
		if total >= c.minSamples && float64(failures)/float64(total) >= c.failureRateOpen {
			c.transitionToOpen()
		}
	case stateHalfOpen:
		if !success {
			c.transitionToOpen()
		} else if c.halfOpenProbes >= c.maxHalfOpenProbes {
			c.reset()
		}
	case stateOpen:
		// Allow() handles the timing gate; nothing to do here.
	}
}

func (c *CircuitBreaker) transitionToOpen() {
	c.state = stateOpen
	c.openedAt = time.Now()
	if c.onOpen != nil {
		c.onOpen()
	}
}

func (c *CircuitBreaker) reset() {
	c.state = stateClosed
	c.openedAt = time.Time{}
	c.window.reset()
	if c.onClose != nil {
		c.onClose()
	}
}

type slidingWindow struct {
	interval time.Duration
	buckets  int
	data     []bucket
	epochs   []int64 // interval number each bucket's counts belong to
}

type bucket struct{ success, fail int }

func newSlidingWindow(size time.Duration, buckets int) *slidingWindow {
	return &slidingWindow{
		interval: size / time.Duration(buckets),
		buckets:  buckets,
		data:     make([]bucket, buckets),
		epochs:   make([]int64, buckets),
	}
}

func (w *slidingWindow) currentIndex(now time.Time) int {
	return int(now.UnixNano()/w.interval.Nanoseconds()) % w.buckets
}

func (w *slidingWindow) add(success bool) {
	now := time.Now()
	idx := w.currentIndex(now)
	epoch := now.UnixNano() / w.interval.Nanoseconds()
	if w.epochs[idx] != epoch {
		// The bucket last held an older interval's counts; start it over.
		w.data[idx] = bucket{}
		w.epochs[idx] = epoch
	}
	if success {
		w.data[idx].success++
	} else {
		w.data[idx].fail++
	}
}

func (w *slidingWindow) stats() (total, failures int) {
	for _, b := range w.data {
		total += b.success + b.fail
		failures += b.fail
	}
	return
}

func (w *slidingWindow) reset() {
	for i := range w.data {
		w.data[i] = bucket{}
	}
}

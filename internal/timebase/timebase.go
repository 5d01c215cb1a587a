// Package timebase implements the T component: two clocks (civil wall
// time and monotonic time), a time-scale, and three sleep primitives,
// with both a system-backed and a virtual (test) implementation.
// Grounded on the Timebase trait / SysClock / SimClock split in the
// Rust reference material, expressed in idiomatic Go as an interface
// plus two concrete types rather than a trait object.
package timebase

import (
	"context"
	"time"
)

// CancelFunc removes a pending waiter from its clock; calling it more
// than once, or after the waiter has already fired, is a no-op.
type CancelFunc func()

// Timebase exposes civil and monotonic time plus scale-aware sleeps.
// Every sleep is paired with a cancellation token so patterns can
// retract a suspended wait (e.g. the losing branch of a deferred
// choice) in O(1).
type Timebase interface {
	NowWall() time.Time
	NowMonotonic() int64 // nanoseconds since an arbitrary epoch
	Scale() float64

	// SleepFor fires done after d of virtual (or real) time elapses.
	SleepFor(d time.Duration) (done <-chan struct{}, cancel CancelFunc)
	// SleepUntilWall fires done when NowWall() reaches t.
	SleepUntilWall(t time.Time) (done <-chan struct{}, cancel CancelFunc)
	// SleepUntilMonotonic fires done when NowMonotonic() reaches dueNs.
	SleepUntilMonotonic(dueNs int64) (done <-chan struct{}, cancel CancelFunc)
}

// WaitContext blocks on done, returning ctx.Err() if ctx is cancelled
// first (in which case cancel has already been invoked for the
// caller), or nil once the wait fires.
func WaitContext(ctx context.Context, done <-chan struct{}, cancel CancelFunc) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

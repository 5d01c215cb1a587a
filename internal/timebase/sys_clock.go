package timebase

import (
	"sync"
	"time"
)

// SysClock delegates to the OS wall clock and a monotonic clock
// derived from time.Since of a fixed process-start epoch.
type SysClock struct {
	startWall time.Time
}

// NewSysClock returns a real-time Timebase.
func NewSysClock() *SysClock {
	return &SysClock{startWall: time.Now()}
}

func (s *SysClock) NowWall() time.Time { return time.Now() }

func (s *SysClock) NowMonotonic() int64 { return int64(time.Since(s.startWall)) }

func (s *SysClock) Scale() float64 { return 1.0 }

func (s *SysClock) SleepFor(d time.Duration) (<-chan struct{}, CancelFunc) {
	done := make(chan struct{})
	t := time.AfterFunc(d, func() { close(done) })
	return done, s.cancelOnce(t, done)
}

func (s *SysClock) SleepUntilWall(target time.Time) (<-chan struct{}, CancelFunc) {
	return s.SleepFor(time.Until(target))
}

func (s *SysClock) SleepUntilMonotonic(dueNs int64) (<-chan struct{}, CancelFunc) {
	return s.SleepFor(time.Duration(dueNs - s.NowMonotonic()))
}

func (s *SysClock) cancelOnce(t *time.Timer, done chan struct{}) CancelFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
		})
	}
}

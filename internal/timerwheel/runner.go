package timerwheel

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/timebase"
)

// FireFunc is called once per occurrence the wheel drives — possibly
// several times in a row for a single due entry under the catch-up
// policy, each call representing one pattern firing (§4.6).
type FireFunc func(e Entry, occurredAt time.Time)

// cronSchedule parses the subset of the RRULE normal form that
// reduces to a cron expression, used only to validate a recurring
// timer's declared cadence is actually expressible before it is ever
// scheduled — robfig/cron is the example pack's cron library of
// choice and is never consulted on the hot path, only at compile/
// schedule time.
func cronSchedule(r *ir.RRuleNorm) (cron.Schedule, error) {
	spec := rruleToCron(r)
	return cron.ParseStandard(spec)
}

// rruleToCron renders the handful of normalized RRULE shapes this
// engine supports as a 5-field cron spec. Only FREQ and a single DAILY
// BYHOUR are rendered; other BY* parts (e.g. BYDAY lists) are ignored,
// and a FREQ other than HOURLY/DAILY/WEEKLY/MONTHLY falls back to
// "every minute" as a conservative validation stand-in; actual firing
// still uses recur.go's fixed-step arithmetic, not this cron.Schedule.
func rruleToCron(r *ir.RRuleNorm) string {
	switch r.Freq {
	case "HOURLY":
		return "0 * * * *"
	case "DAILY":
		if len(r.ByHour) == 1 {
			return cronField(r.ByHour[0]) + " " + "* * *"
		}
		return "0 0 * * *"
	case "WEEKLY":
		return "0 0 * * 0"
	case "MONTHLY":
		return "0 0 1 * *"
	default:
		return "* * * * *"
	}
}

func cronField(hour int32) string {
	return "0 " + itoa(hour)
}

func itoa(n int32) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ValidateRecurring rejects a recurring timer descriptor whose cadence
// cron cannot parse at all — a defensive compile-time check, not a
// runtime dependency.
func ValidateRecurring(r *ir.RRuleNorm) error {
	_, err := cronSchedule(r)
	return err
}

// Runner drives a Wheel against a clock, invoking fire for every due
// occurrence (including catch-up backlog) and rescheduling recurring
// timers for their next occurrence.
type Runner struct {
	wheel *Wheel
	clock timebase.Timebase
	fire  FireFunc
}

func NewRunner(wheel *Wheel, clock timebase.Timebase, fire FireFunc) *Runner {
	return &Runner{wheel: wheel, clock: clock, fire: fire}
}

// Run blocks, driving due timers until ctx is cancelled. Each pass
// sleeps until the earliest entry's due time (or blocks indefinitely
// if the wheel is empty and waits for a Schedule via wake), then fires
// it — replaying the catch-up backlog if the wheel's own due time
// already lagged "now" by more than one step (e.g. after resume).
func (r *Runner) Run(ctx context.Context, wake <-chan struct{}) {
	for {
		e, ok := r.wheel.Next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				continue
			}
		}

		waitDone, cancel := r.clock.SleepUntilMonotonic(e.DueNs)
		select {
		case <-ctx.Done():
			cancel()
			return
		case <-wake:
			cancel()
			continue
		case <-waitDone:
		}

		popped, ok := r.wheel.Pop()
		if !ok || popped.ID != e.ID {
			continue // raced with a Cancel; skip
		}
		r.fireAndReschedule(popped)
	}
}

func (r *Runner) fireAndReschedule(e Entry) {
	now := r.clock.NowWall()

	var occurrences []time.Time
	if e.Kind == ir.TimerRecurring && e.RRule != nil {
		// e itself is due, not just a lookback marker: last is one step
		// behind its due time so MissedOccurrences' last+step lands
		// exactly on e.DueWall and counts it, then walks forward to
		// now — catch-up replays the entire missed backlog no matter
		// how long the gap since resume (§4.6/§8 scenario 3), and
		// coalesce (ResolveResume's other branch) still collapses it to
		// a single firing regardless of how far back this reaches.
		td := &ir.TimerDescriptor{Kind: ir.TimerRecurring, RRule: e.RRule, Policy: e.Policy}
		occurrences = ResolveResume(td, e.DueWall.Add(-StepFor(e.RRule)), e.DueWall, now)
	} else {
		occurrences = []time.Time{now}
	}

	for _, occ := range occurrences {
		r.fire(e, occ)
	}

	if e.Kind != ir.TimerRecurring || e.RRule == nil {
		return
	}
	next := e
	next.DueWall = now.Add(StepFor(e.RRule))
	next.DueNs = Anchor(r.clock, next.DueWall)
	_ = r.wheel.Schedule(next)
}

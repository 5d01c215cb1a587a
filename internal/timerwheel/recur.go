package timerwheel

import (
	"time"

	"github.com/swarmguard/workflow-engine/internal/ir"
)

// StepFor returns the fixed interval between occurrences of an
// RRULE's frequency class. Only the handful of FREQ values
// internal/ontology's normalizer emits are handled; an unrecognized
// one falls back to the explicit Interval in seconds, matching
// ontology.RRuleNorm's own "SECONDLY is the always-safe fallback"
// convention. Exported so internal/engine can schedule a recurring
// trigger's first due occurrence one interval out, rather than
// immediately at case-start.
func StepFor(r *ir.RRuleNorm) time.Duration {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}
	switch r.Freq {
	case "SECONDLY":
		return time.Duration(interval) * time.Second
	case "MINUTELY":
		return time.Duration(interval) * time.Minute
	case "HOURLY":
		return time.Duration(interval) * time.Hour
	case "DAILY":
		return time.Duration(interval) * 24 * time.Hour
	case "WEEKLY":
		return time.Duration(interval) * 7 * 24 * time.Hour
	case "MONTHLY":
		return time.Duration(interval) * 30 * 24 * time.Hour
	default:
		return time.Duration(interval) * time.Second
	}
}

// MissedOccurrences enumerates every occurrence due in
// [windowStart, now] (an occurrence falling exactly on now is
// included) for a recurring timer whose last scheduled occurrence was
// at last, in ascending order. Used by the catch-up policy to drive
// one pattern firing per missed tick, in order (§4.6).
func MissedOccurrences(r *ir.RRuleNorm, last, windowStart, now time.Time) []time.Time {
	step := StepFor(r)
	if step <= 0 {
		return nil
	}
	var out []time.Time
	t := last.Add(step)
	for !t.After(now) {
		if !t.Before(windowStart) {
			out = append(out, t)
		}
		t = t.Add(step)
	}
	return out
}

// ResolveResume computes the next occurrence to actually drive and, in
// the catch-up case, the full ordered backlog, given a timer's policy.
// Coalesce always returns exactly one occurrence (now) regardless of
// how many ticks were missed; catch-up returns the full backlog.
func ResolveResume(td *ir.TimerDescriptor, last, windowStart, now time.Time) []time.Time {
	if td.Kind == ir.TimerOneShot {
		return []time.Time{now}
	}
	switch td.Policy {
	case ir.PolicyCoalesce:
		return []time.Time{now}
	default: // PolicyCatchUp
		missed := MissedOccurrences(td.RRule, last, windowStart, now)
		if len(missed) == 0 {
			return []time.Time{now}
		}
		return missed
	}
}

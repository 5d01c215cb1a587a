package compiler

import (
	"time"

	"github.com/swarmguard/workflow-engine/internal/guard"
	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/ontology"
)

// compileGuards is phase 6: every task carrying a threshold-shaped
// modifier (partial-join threshold or discriminator k) gets a
// generated guard comparing its arrival-count observation against
// that threshold — the only guard shape this vocabulary's declarative
// predicates actually require, since no raw boolean-expression
// predicate exists in the ontology (see DESIGN.md). Guards exceeding
// guard.MaxGuardTicks (4 ticks) surface as GuardOverBudget.
func compileGuards(img *ir.Image, g *extractedGraph, order []string) error {
	var nextGuardID uint32
	for i := range img.Nodes {
		n := &img.Nodes[i]
		iri := order[i]
		f := g.nodes[iri]
		if f == nil {
			continue
		}

		threshold := 0
		switch {
		case f.partialJoinThreshold > 0:
			threshold = f.partialJoinThreshold
		case f.discriminatorK > 0:
			threshold = f.discriminatorK
		default:
			continue
		}

		expr := guard.Compare{
			Op:    guard.CmpGE,
			Left:  guard.ReadObs{Field: 0},
			Right: guard.Const{Value: uint64(threshold)},
		}
		prog, err := guard.Compile(nextGuardID, expr)
		if err != nil {
			if over, ok := err.(*guard.OverBudgetError); ok {
				return &GuardOverBudget{Guard: iri, Ticks: over.Ticks}
			}
			return err
		}
		nextGuardID++

		n.GuardOffset = uint32(len(img.Guards))
		n.GuardLen = 1
		img.Guards = append(img.Guards, prog)

		entry := &img.Patterns[n.PatternID]
		if entry.Used && entry.MaxPhases > 0 {
			entry.GuardIDs[0] = prog.ID
		}
	}
	return nil
}

// lowerTimers is part of phase 3/4's timer handling: every node with a
// normalized RRULE or a plain duration becomes a TimerDescriptor, and
// the node's TimerIndex is set to point at it.
func lowerTimers(img *ir.Image, g *extractedGraph, order []string) error {
	for i := range img.Nodes {
		n := &img.Nodes[i]
		iri := order[i]
		f := g.nodes[iri]
		if f == nil {
			continue
		}

		switch {
		case f.rruleRaw != "":
			norm, err := ontology.NormalizeRRULE(f.rruleRaw)
			if err != nil {
				return err
			}
			td := ir.TimerDescriptor{
				Kind: ir.TimerRecurring,
				RRule: &ir.RRuleNorm{
					Freq: norm.Freq, Interval: int32(norm.Interval),
					ByHour: toInt32s(norm.ByHour), ByMinute: toInt32s(norm.ByMinute),
					BySecond: toInt32s(norm.BySecond), ByDay: norm.ByDay,
					ByMonth: toInt32s(norm.ByMonth), ByMonthDay: toInt32s(norm.ByMonthDay),
				},
				Policy: ir.PolicyCatchUp,
			}
			n.TimerIndex = int32(len(img.Timers))
			img.Timers = append(img.Timers, td)
		case f.durationSeconds > 0:
			// One-shot timers have no compile-time absolute due time —
			// the duration is relative to whenever the case actually
			// reaches this node — so the offset rides in
			// MonotonicOffsetNs and the engine adds it to the clock's
			// current monotonic reading when the wait begins.
			td := ir.TimerDescriptor{
				Kind:              ir.TimerOneShot,
				MonotonicOffsetNs: f.durationSeconds * int64(time.Second),
				Policy:            ir.PolicyCoalesce,
			}
			n.TimerIndex = int32(len(img.Timers))
			img.Timers = append(img.Timers, td)
		}
	}
	return nil
}

func toInt32s(in []int) []int32 {
	if in == nil {
		return nil
	}
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

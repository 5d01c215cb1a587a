package compiler

import (
	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/patterns"
)

// tauTickBudget is τ, the executor's fixed per-step tick budget
// (spec §4.5). Certify rejects any node whose pattern-phase ticks plus
// its own guard ticks would exceed it before the image ever reaches
// the executor.
const tauTickBudget = 8

// certify is phase 7: walk the lowered image once, summing each node's
// pattern-phase ticks and guard ticks, and reject anything over τ.
// The per-task/per-pattern/per-guard maps it builds are the timing
// proof spec §4.3's loader re-checks on load_ir — Certify computes
// them once so the loader never has to re-derive them from scratch.
func certify(img *ir.Image) (*ir.Certificate, error) {
	c := &ir.Certificate{
		SigmaHash:       img.SigmaHash,
		PerTaskTicks:    make(map[uint32]uint8),
		PerPatternTicks: make(map[uint16]uint8),
		PerGuardTicks:   make(map[uint32]uint8),
		InvariantIDs:    []string{"I1", "I2", "I3"},
	}

	for id, entry := range img.Patterns {
		if !entry.Used {
			continue
		}
		var total uint8
		for i := uint8(0); i < entry.MaxPhases; i++ {
			total += entry.PhaseTicks[i]
		}
		c.PerPatternTicks[uint16(id)] = total
	}

	for _, g := range img.Guards {
		c.PerGuardTicks[g.ID] = g.Ticks
	}

	for _, n := range img.Nodes {
		var ticks uint8
		if entry := img.Patterns[n.PatternID]; entry.Used {
			ticks += c.PerPatternTicks[n.PatternID]
		}
		for i := uint32(0); i < n.GuardLen; i++ {
			if g, ok := img.GuardByID(n.GuardOffset + i); ok {
				ticks += g.Ticks
			}
		}
		c.PerTaskTicks[n.ID] = ticks
		if ticks > tauTickBudget {
			name := patterns.Name[patterns.ID(n.PatternID)]
			return nil, &PatternOverBudget{Pattern: name, Ticks: int(ticks)}
		}
	}

	// compileGuards only ever emits Compare{GE, ReadObs, Const} guards
	// (see guards.go), so the opcode set is fixed whenever any guard
	// exists at all.
	if len(img.Guards) > 0 {
		c.ISAOpcodeSet = []ir.Opcode{ir.OpPushConst, ir.OpReadObs, ir.OpCompareGE}
	}

	return c, nil
}

package compiler

import (
	"strings"

	"github.com/swarmguard/workflow-engine/internal/interner"
	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/patterns"
)

// lower runs phases 4–5 (Lower, Allocation plan): assigns dense node
// ids via the interner, validates each task's declared pattern id
// against the 43-entry catalogue, builds the dense edge arrays, and
// allocates role/capability bitmasks.
func lower(g *extractedGraph, reg patterns.Registry) (*ir.Image, *interner.Builder, error) {
	b := interner.NewBuilder()
	iriToID := make(map[string]uint32)
	for _, iri := range sortedNodeIRIs(g) {
		iriToID[iri] = b.Intern(iri)
	}

	roleIDs := make(map[string]int) // role iri -> bit position, assigned in first-sight order
	nextRoleBit := 0

	nodes := make([]ir.Node, 0, len(g.nodes))
	predEdges := make(map[uint32][]uint32)
	succEdges := make(map[uint32][]uint32)

	order := sortedNodeIRIs(g)
	for _, iri := range order {
		f := g.nodes[iri]
		if !f.isTask && !f.isCondition {
			continue
		}

		n := ir.Node{ID: iriToID[iri], TimerIndex: -1}
		if f.isCondition {
			n.Kind = ir.KindCondition
		} else {
			n.Kind = ir.KindTask
		}

		if sj, ok := ir.ParseSplitJoin(f.split); ok {
			n.Split = sj
		}
		if sj, ok := ir.ParseSplitJoin(f.join); ok {
			n.Join = sj
		}

		if f.isTask {
			pid := patterns.ID(f.patternID)
			if _, known := patterns.Name[pid]; !known || f.patternID < 1 || f.patternID > 43 {
				return nil, nil, &UnknownPattern{Node: iri, Split: f.split, Join: f.join}
			}
			n.PatternID = uint16(pid)
		}

		switch {
		case f.partialJoinThreshold > 0:
			n.PartialJoinThreshold = uint32(f.partialJoinThreshold)
		case f.discriminatorK > 0:
			// A discriminator's k is the same "fire once this many
			// predecessors have arrived" threshold a partial join
			// declares; the two predicates are mutually exclusive per
			// node, so they share the one compiled field.
			n.PartialJoinThreshold = uint32(f.discriminatorK)
		}

		miMin := f.miMin
		if miMin <= 0 {
			miMin = 1
		}
		miMax := f.miMax
		if miMax <= 0 {
			miMax = 64
		}
		n.MIMin = uint32(miMin)
		n.MIMax = uint32(miMax)
		switch {
		case strings.EqualFold(f.miCompletion, "AtLeastK"):
			n.MICompletion = ir.MICompletionAtLeastK
		case strings.EqualFold(f.miCompletion, "All"):
			n.MICompletion = ir.MICompletionAll
		case f.partialJoinThreshold > 0:
			// No explicit yawl:miCompletion literal, but a partial-join
			// threshold was declared — that only makes sense paired
			// with an "at least k" completion condition.
			n.MICompletion = ir.MICompletionAtLeastK
		default:
			n.MICompletion = ir.MICompletionAll
		}

		for _, roleIRI := range f.roles {
			bit, ok := roleIDs[roleIRI]
			if !ok {
				if nextRoleBit >= 64 {
					continue // role bitmask saturated; extra roles beyond 64 are not representable
				}
				bit = nextRoleBit
				roleIDs[roleIRI] = bit
				nextRoleBit++
			}
			n.RoleCaps |= 1 << uint(bit)
		}
		if len(f.roles) >= 2 {
			n.Flags |= ir.FlagFourEyes
		}
		if f.resettable {
			n.Flags |= ir.FlagResettable
		}
		if len(f.cancelsRegion) > 0 {
			n.Flags |= ir.FlagCancelRegionRoot
		}
		if g.startCondition[iri] {
			n.Flags |= ir.FlagStartNode
		}

		nodes = append(nodes, n)
	}

	for _, fl := range g.flows {
		fromID, fromOK := iriToID[fl.from]
		toID, toOK := iriToID[fl.to]
		if !fromOK || !toOK {
			continue
		}
		succEdges[fromID] = append(succEdges[fromID], toID)
		predEdges[toID] = append(predEdges[toID], fromID)
	}

	edges := ir.EdgeArrays{}
	for i := range nodes {
		id := nodes[i].ID
		succ := succEdges[id]
		nodes[i].OutEdgesOffset = uint32(len(edges.Succ))
		nodes[i].OutEdgesLen = uint32(len(succ))
		edges.Succ = append(edges.Succ, succ...)

		pred := predEdges[id]
		nodes[i].InEdgesOffset = uint32(len(edges.Pred))
		nodes[i].InEdgesLen = uint32(len(pred))
		edges.Pred = append(edges.Pred, pred...)
	}

	img := &ir.Image{Nodes: nodes, Edges: edges}

	for _, id := range patterns.All43() {
		handler, used := reg[id]
		if !used {
			continue
		}
		entry := ir.PatternEntry{Used: true, Name: patterns.Name[id], MaxPhases: uint8(len(handler))}
		for i := range handler {
			if i >= ir.MaxPhases {
				break
			}
			entry.PhaseTicks[i] = 1
		}
		img.Patterns[id] = entry
	}

	return img, b, nil
}

// Package shapes implements Σ: the closed family of structural
// constraints the compiler gates O against once, at ingest. Modeled
// on the policy-service's "compile once, evaluate many" shape
// (opa_engine.go's LoadPolicies/PreparedEvalQuery), but expressed as
// a fixed Go function table rather than a rego policy bundle — Σ is
// closed and checked only at compile time (Non-goal: plugin
// extensibility beyond the pattern table; Non-goal: ad-hoc runtime
// policy evaluation), so there is no case for a general policy engine
// here (see DESIGN.md for why OPA/rego was not wired into this path).
package shapes

import (
	"fmt"
	"sort"

	"github.com/swarmguard/workflow-engine/internal/ontology"
)

// ID names one of the closed set of shape constraints.
type ID string

const (
	ShapeTaskSplitJoin   ID = "S-TASK-SPLIT-JOIN"
	ShapeFlowEndpoints   ID = "S-FLOW-ENDPOINTS"
	ShapeTimerNormalized ID = "S-TIMER-NORMALIZED"
	ShapeRoleResolves    ID = "S-ROLE-RESOLVES"
)

var splitJoinValues = map[string]bool{
	"AND": true, "XOR": true, "OR": true, "Discriminator": true,
}

// Violation is a fail-fast Σ gate failure: shape id plus the
// offending node, matching §4.2 phase 2's contract exactly.
type Violation struct {
	Shape ID
	Node  string
	Msg   string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("shape violation %s on %s: %s", v.Shape, v.Node, v.Msg)
}

// Gate evaluates every shape constraint against o's canonical triples
// and returns the first violation found (no partial success); a nil
// return means O satisfies Σ.
func Gate(o *ontology.Ontology) *Violation {
	triples := o.Canonical()

	type nodeFacts struct {
		types       []string
		splitTypes  []string
		joinTypes   []string
		flowsFrom   []string
		flowsTo     []string
		rrules      []string
	}
	facts := map[string]*nodeFacts{}
	get := func(s string) *nodeFacts {
		f, ok := facts[s]
		if !ok {
			f = &nodeFacts{}
			facts[s] = f
		}
		return f
	}

	rolesDeclared := map[string]bool{}
	roleRefs := map[string][]string{} // subject -> referenced role objects, in stable order

	for _, t := range triples {
		f := get(t.Subject)
		switch t.Predicate {
		case ontology.PredRDFType:
			f.types = append(f.types, t.Object)
			if t.Object == expandRole() {
				rolesDeclared[t.Subject] = true
			}
		case ontology.PredSplitType:
			f.splitTypes = append(f.splitTypes, t.Object)
		case ontology.PredJoinType:
			f.joinTypes = append(f.joinTypes, t.Object)
		case ontology.PredFlowsFrom:
			f.flowsFrom = append(f.flowsFrom, t.Object)
		case ontology.PredFlowsTo:
			f.flowsTo = append(f.flowsTo, t.Object)
		case ontology.PredRRULE:
			f.rrules = append(f.rrules, t.Object)
		case ontology.PredHasRole:
			roleRefs[t.Subject] = append(roleRefs[t.Subject], t.Object)
		}
	}

	// Stable iteration order over node ids for deterministic fail-fast
	// reporting across repeated runs on the same input (P-Det/P-Idem).
	order := make([]string, 0, len(facts))
	for s := range facts {
		order = append(order, s)
	}
	sort.Strings(order)

	for _, subject := range order {
		f := facts[subject]
		if !hasType(f.types, expandTask()) {
			continue
		}
		if len(f.splitTypes) != 1 {
			return &Violation{ShapeTaskSplitJoin, subject, fmt.Sprintf("want exactly one splitType, got %d", len(f.splitTypes))}
		}
		if !splitJoinValues[f.splitTypes[0]] {
			return &Violation{ShapeTaskSplitJoin, subject, fmt.Sprintf("unknown splitType %q", f.splitTypes[0])}
		}
		if len(f.joinTypes) != 1 {
			return &Violation{ShapeTaskSplitJoin, subject, fmt.Sprintf("want exactly one joinType, got %d", len(f.joinTypes))}
		}
		if !splitJoinValues[f.joinTypes[0]] {
			return &Violation{ShapeTaskSplitJoin, subject, fmt.Sprintf("unknown joinType %q", f.joinTypes[0])}
		}
	}

	for _, subject := range order {
		f := facts[subject]
		if !hasType(f.types, expandFlow()) {
			continue
		}
		if len(f.flowsFrom) != 1 {
			return &Violation{ShapeFlowEndpoints, subject, fmt.Sprintf("want exactly one flowsFrom, got %d", len(f.flowsFrom))}
		}
		if len(f.flowsTo) != 1 {
			return &Violation{ShapeFlowEndpoints, subject, fmt.Sprintf("want exactly one flowsTo, got %d", len(f.flowsTo))}
		}
		from, to := facts[f.flowsFrom[0]], facts[f.flowsTo[0]]
		fromOK := from != nil && (hasType(from.types, expandTask()) || hasType(from.types, expandCondition()))
		toOK := to != nil && (hasType(to.types, expandTask()) || hasType(to.types, expandCondition()))
		if !fromOK || !toOK {
			return &Violation{ShapeFlowEndpoints, subject, "flow must connect exactly one Condition to exactly one Task (or vice versa)"}
		}
	}

	for _, subject := range order {
		f := facts[subject]
		for _, raw := range f.rrules {
			if _, err := ontology.NormalizeRRULE(raw); err != nil {
				return &Violation{ShapeTimerNormalized, subject, err.Error()}
			}
		}
	}

	refSubjects := make([]string, 0, len(roleRefs))
	for s := range roleRefs {
		refSubjects = append(refSubjects, s)
	}
	sort.Strings(refSubjects)
	for _, subject := range refSubjects {
		for _, role := range roleRefs[subject] {
			if !rolesDeclared[role] {
				return &Violation{ShapeRoleResolves, subject, fmt.Sprintf("hasRole references unresolved role %q", role)}
			}
		}
	}

	return nil
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func expandTask() string      { return ontology.ClassTask }
func expandCondition() string { return ontology.ClassCondition }
func expandFlow() string      { return ontology.ClassFlow }
func expandRole() string      { return ontology.ClassRole }

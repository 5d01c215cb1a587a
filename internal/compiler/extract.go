package compiler

import (
	"sort"
	"strconv"

	"github.com/swarmguard/workflow-engine/internal/ontology"
)

// nodeFact is everything phase 3 (Extract) gathers about one subject
// IRI before phase 4 (Lower) turns it into an ir.Node.
type nodeFact struct {
	iri                  string
	isTask                bool
	isCondition            bool
	split, join            string
	patternID              int
	partialJoinThreshold   int
	discriminatorK         int
	miMin, miMax           int
	miCompletion           string
	resettable             bool
	cancelsRegion          []string // node iris this task's cancellation masks
	roles                  []string
	rruleRaw               string
	durationSeconds        int64
}

// flowFact is one yawl:Flow subject's resolved endpoints.
type flowFact struct {
	iri  string
	from string
	to   string
}

// extractedGraph is phase 3's output: the workflow graph in IRI-keyed
// form, ready for phase 4's dense-id lowering.
type extractedGraph struct {
	nodes          map[string]*nodeFact
	flows          []flowFact
	startCondition map[string]bool // condition iris a net declares via yawl:hasStartCondition
}

func getNode(g *extractedGraph, iri string) *nodeFact {
	n, ok := g.nodes[iri]
	if !ok {
		n = &nodeFact{iri: iri}
		g.nodes[iri] = n
	}
	return n
}

// extract walks o's canonical triples once, gathering every fact
// phase 4 onward needs. It assumes Σ has already gated o (phase 2),
// so it does not re-validate shape constraints — only pulls out the
// values those shapes guaranteed are well-formed.
func extract(o *ontology.Ontology) *extractedGraph {
	g := &extractedGraph{nodes: make(map[string]*nodeFact), startCondition: make(map[string]bool)}

	for _, t := range o.Canonical() {
		switch t.Predicate {
		case ontology.PredRDFType:
			switch t.Object {
			case ontology.ClassTask:
				getNode(g, t.Subject).isTask = true
			case ontology.ClassCondition:
				getNode(g, t.Subject).isCondition = true
			case ontology.ClassFlow:
				// flows are tracked via flowFact below, not as nodes
			}
		case ontology.PredSplitType:
			getNode(g, t.Subject).split = t.Object
		case ontology.PredJoinType:
			getNode(g, t.Subject).join = t.Object
		case ontology.PredPatternID:
			n := getNode(g, t.Subject)
			if v, err := strconv.Atoi(t.Object); err == nil {
				n.patternID = v
			}
		case ontology.PredPartialJoinThreshold:
			n := getNode(g, t.Subject)
			if v, err := strconv.Atoi(t.Object); err == nil {
				n.partialJoinThreshold = v
			}
		case ontology.PredDiscriminatorK:
			n := getNode(g, t.Subject)
			if v, err := strconv.Atoi(t.Object); err == nil {
				n.discriminatorK = v
			}
		case ontology.PredMIMin:
			n := getNode(g, t.Subject)
			if v, err := strconv.Atoi(t.Object); err == nil {
				n.miMin = v
			}
		case ontology.PredMIMax:
			n := getNode(g, t.Subject)
			if v, err := strconv.Atoi(t.Object); err == nil {
				n.miMax = v
			}
		case ontology.PredMICompletion:
			getNode(g, t.Subject).miCompletion = t.Object
		case ontology.PredResettable:
			getNode(g, t.Subject).resettable = t.Object == "true"
		case ontology.PredCancelsRegion, ontology.PredHasRegion:
			n := getNode(g, t.Subject)
			n.cancelsRegion = append(n.cancelsRegion, t.Object)
		case ontology.PredHasRole:
			n := getNode(g, t.Subject)
			n.roles = append(n.roles, t.Object)
		case ontology.PredRRULE:
			getNode(g, t.Subject).rruleRaw = t.Object
		case ontology.PredNumericDuration:
			n := getNode(g, t.Subject)
			if v, err := strconv.ParseInt(t.Object, 10, 64); err == nil {
				n.durationSeconds = v
			}
		case ontology.PredHasStartCondition:
			g.startCondition[t.Object] = true
		case ontology.PredFlowsFrom:
			g.flows = append(g.flows, flowFact{iri: t.Subject, from: t.Object})
		case ontology.PredFlowsTo:
			setFlowTo(g, t.Subject, t.Object)
		}
	}

	return g
}

func setFlowTo(g *extractedGraph, flowIRI, to string) {
	for i := range g.flows {
		if g.flows[i].iri == flowIRI {
			g.flows[i].to = to
			return
		}
	}
	g.flows = append(g.flows, flowFact{iri: flowIRI, to: to})
}

// sortedNodeIRIs returns every node iri in deterministic order, the
// same stable-iteration discipline shapes.Gate uses, so dense id
// assignment in phase 4 is reproducible across runs on the same input
// (P-Idem).
func sortedNodeIRIs(g *extractedGraph) []string {
	out := make([]string, 0, len(g.nodes))
	for iri := range g.nodes {
		out = append(out, iri)
	}
	sort.Strings(out)
	return out
}

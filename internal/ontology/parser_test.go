package ontology

import "testing"

const atmTurtle = `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
@prefix time: <http://www.w3.org/2006/time#> .
@prefix org: <http://www.w3.org/ns/org#> .

yawl:authorize a yawl:Task ;
    yawl:splitType "AND" ;
    yawl:joinType "XOR" ;
    yawl:hasOutgoingFlow yawl:flowToPostLedger .

yawl:postLedger a yawl:Task ;
    yawl:splitType "AND" ;
    yawl:joinType "AND" ;
    org:hasRole org:Teller .

yawl:dispense a yawl:Task ;
    yawl:splitType "XOR" ;
    yawl:joinType "AND" ;
    time:hasDuration "600" .
`

func TestParseATMOntology(t *testing.T) {
	g, err := Parse("urn:atm", []byte(atmTurtle))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(g.Triples) == 0 {
		t.Fatal("expected triples, got none")
	}

	var sawTask, sawDuration bool
	for _, tr := range g.Triples {
		if tr.Predicate == PredRDFType && tr.Object == ClassTask {
			sawTask = true
		}
		if tr.Predicate == PredHasDuration && tr.Object == "600" {
			sawDuration = true
		}
	}
	if !sawTask {
		t.Error("expected at least one yawl:Task triple")
	}
	if !sawDuration {
		t.Error("expected the dispense task's duration literal")
	}
}

func TestCanonicalIsOrderIndependent(t *testing.T) {
	a, err := Parse("g", []byte(`
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
yawl:b a yawl:Task .
yawl:a a yawl:Task .
`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse("g", []byte(`
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
yawl:a a yawl:Task .
yawl:b a yawl:Task .
`))
	if err != nil {
		t.Fatal(err)
	}

	oa := &Ontology{Graphs: []*Graph{a}}
	ob := &Ontology{Graphs: []*Graph{b}}

	if oa.SigmaHash() != ob.SigmaHash() {
		t.Fatal("SigmaHash must be independent of triple parse order")
	}
}

func TestUnionIsDisjointMerge(t *testing.T) {
	base := &Ontology{Graphs: []*Graph{{Name: "g1", Triples: []Triple{
		{Subject: "s1", Predicate: PredRDFType, Object: ClassTask},
	}}}}
	delta := &Ontology{Graphs: []*Graph{{Name: "g2", Triples: []Triple{
		{Subject: "s2", Predicate: PredRDFType, Object: ClassTask},
	}}}}

	merged := base.Union(delta)
	if len(merged.Graphs) != 2 {
		t.Fatalf("want 2 graphs after union, got %d", len(merged.Graphs))
	}

	again := base.Union(delta)
	if again.SigmaHash() != merged.SigmaHash() {
		t.Fatal("union must be deterministic")
	}
}

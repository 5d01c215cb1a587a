package compiler

import (
	"strings"
	"testing"

	"github.com/swarmguard/workflow-engine/internal/cert"
	"github.com/swarmguard/workflow-engine/internal/ontology"
)

const validWorkflow = `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
@prefix org: <http://www.w3.org/ns/org#> .

yawl:Approver a org:Role .

<urn:case:start> a yawl:Condition .
<urn:case:review> a yawl:Task ;
	yawl:splitType "AND" ;
	yawl:joinType "XOR" ;
	yawl:patternId "1" ;
	org:hasRole yawl:Approver .
<urn:case:end> a yawl:Condition .

<urn:case:flow1> a yawl:Flow ;
	yawl:flowsFrom <urn:case:start> ;
	yawl:flowsTo <urn:case:review> .
<urn:case:flow2> a yawl:Flow ;
	yawl:flowsFrom <urn:case:review> ;
	yawl:flowsTo <urn:case:end> .
`

func testSigner(t *testing.T) *cert.Signer {
	t.Helper()
	signer, _, err := cert.NewSigner()
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return signer
}

func TestCompileValidWorkflowProducesSignedImage(t *testing.T) {
	signer := testSigner(t)
	result, err := Compile([]Source{{Name: "case", Data: []byte(validWorkflow)}}, nil, signer)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if result.Token == "" {
		t.Fatal("expected a non-empty signed token")
	}
	if len(result.Image.Nodes) != 3 {
		t.Fatalf("expected 3 nodes (2 conditions + 1 task), got %d", len(result.Image.Nodes))
	}
	if result.Image.SigmaHash == ([32]byte{}) {
		t.Fatal("expected a non-zero sigma hash")
	}
}

func TestCompileShardLawUnionsOntoBase(t *testing.T) {
	signer := testSigner(t)
	base, err := ontology.Parse("case", []byte(validWorkflow))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	baseOntology := &ontology.Ontology{Graphs: []*ontology.Graph{base}}

	delta := `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
<urn:case:audit> a yawl:Task ;
	yawl:splitType "XOR" ;
	yawl:joinType "AND" ;
	yawl:patternId "2" .
`
	result, err := Compile([]Source{{Name: "delta", Data: []byte(delta)}}, baseOntology, signer)
	if err != nil {
		t.Fatalf("Compile with base: %v", err)
	}
	if len(result.Image.Nodes) != 4 {
		t.Fatalf("expected base's 3 nodes plus delta's 1, got %d", len(result.Image.Nodes))
	}
}

func TestCompileRejectsMissingSplitJoin(t *testing.T) {
	signer := testSigner(t)
	src := `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
<urn:case:bad> a yawl:Task ;
	yawl:patternId "1" .
`
	_, err := Compile([]Source{{Name: "bad", Data: []byte(src)}}, nil, signer)
	if err == nil {
		t.Fatal("expected a ShapeViolation for a task with no splitType/joinType")
	}
	if _, ok := err.(*ShapeViolation); !ok {
		t.Fatalf("expected *ShapeViolation, got %T: %v", err, err)
	}
}

func TestCompileRejectsUnknownPatternID(t *testing.T) {
	signer := testSigner(t)
	src := `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
<urn:case:bad> a yawl:Task ;
	yawl:splitType "AND" ;
	yawl:joinType "AND" ;
	yawl:patternId "999" .
`
	_, err := Compile([]Source{{Name: "bad", Data: []byte(src)}}, nil, signer)
	if err == nil {
		t.Fatal("expected an UnknownPattern error for patternId 999")
	}
	if _, ok := err.(*UnknownPattern); !ok {
		t.Fatalf("expected *UnknownPattern, got %T: %v", err, err)
	}
}

func TestCompileRejectsUnresolvedRole(t *testing.T) {
	signer := testSigner(t)
	src := `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
@prefix org: <http://www.w3.org/ns/org#> .
<urn:case:bad> a yawl:Task ;
	yawl:splitType "AND" ;
	yawl:joinType "AND" ;
	yawl:patternId "1" ;
	org:hasRole <urn:case:ghost-role> .
`
	_, err := Compile([]Source{{Name: "bad", Data: []byte(src)}}, nil, signer)
	if err == nil {
		t.Fatal("expected a ShapeViolation for an unresolved role reference")
	}
	if !strings.Contains(err.Error(), "S-ROLE-RESOLVES") {
		t.Fatalf("expected S-ROLE-RESOLVES violation, got: %v", err)
	}
}

func TestCompileGeneratesThresholdGuardForPartialJoin(t *testing.T) {
	signer := testSigner(t)
	src := `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
<urn:case:join> a yawl:Task ;
	yawl:splitType "AND" ;
	yawl:joinType "OR" ;
	yawl:patternId "9" ;
	yawl:partialJoinThreshold "2" .
`
	result, err := Compile([]Source{{Name: "case", Data: []byte(src)}}, nil, signer)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(result.Image.Guards) != 1 {
		t.Fatalf("expected exactly one generated guard, got %d", len(result.Image.Guards))
	}
	node := result.Image.Nodes[0]
	if node.GuardLen != 1 {
		t.Fatalf("expected the task node to carry one guard, got %d", node.GuardLen)
	}
	if ticks := result.Image.Cert.PerGuardTicks[result.Image.Guards[0].ID]; ticks == 0 {
		t.Fatal("expected the certificate to record non-zero guard ticks")
	}
}

func TestCompileRejectsMalformedTurtle(t *testing.T) {
	signer := testSigner(t)
	_, err := Compile([]Source{{Name: "bad", Data: []byte("this is not turtle at all @@@")}}, nil, signer)
	if err == nil {
		t.Fatal("expected a canonicalize-phase parse error")
	}
}

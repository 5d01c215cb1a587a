package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/patterns"
	"github.com/swarmguard/workflow-engine/internal/timebase"
)

type recordingSink struct {
	mu       sync.Mutex
	outcomes []string
}

func (s *recordingSink) Append(caseID string, nodeID uint32, pattern uint16, outcome string, ticks uint8, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

// twoNodeSequenceImage builds a minimal A→B sequence image: node 0
// (Sequence) feeds node 1 (ExplicitTermination).
func twoNodeSequenceImage() *ir.Image {
	img := &ir.Image{
		Nodes: []ir.Node{
			{ID: 0, PatternID: uint16(patterns.Sequence), OutEdgesOffset: 0, OutEdgesLen: 1, TimerIndex: -1},
			{ID: 1, PatternID: uint16(patterns.ExplicitTermination), TimerIndex: -1},
		},
		Edges: ir.EdgeArrays{Succ: []uint32{1}},
	}
	img.Patterns[patterns.Sequence] = ir.PatternEntry{Used: true, Name: "Sequence", MaxPhases: 1}
	img.Patterns[patterns.ExplicitTermination] = ir.PatternEntry{Used: true, Name: "Explicit Termination", MaxPhases: 1}
	return img
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestStartCaseRunsSequenceToTermination(t *testing.T) {
	sink := &recordingSink{}
	ex := New(2, patterns.NewRegistry(), timebase.NewSysClock(), sink, nil)
	defer ex.Shutdown()

	img := twoNodeSequenceImage()
	if err := ex.StartCase(context.Background(), "case-1", img, nil, 0); err != nil {
		t.Fatalf("StartCase: %v", err)
	}

	waitFor(t, func() bool {
		status, err := ex.CaseStatus("case-1")
		return err == nil && status == CaseCompleted
	})

	if sink.count() == 0 {
		t.Fatal("expected at least one receipt appended")
	}
}

func TestCancelCaseMarksCancelled(t *testing.T) {
	sink := &recordingSink{}
	ex := New(1, patterns.NewRegistry(), timebase.NewSysClock(), sink, nil)
	defer ex.Shutdown()

	img := twoNodeSequenceImage()
	if err := ex.StartCase(context.Background(), "case-2", img, nil, 0); err != nil {
		t.Fatalf("StartCase: %v", err)
	}
	if err := ex.CancelCase("case-2"); err != nil {
		t.Fatalf("CancelCase: %v", err)
	}
	status, err := ex.CaseStatus("case-2")
	if err != nil {
		t.Fatalf("CaseStatus: %v", err)
	}
	if status != CaseCancelled {
		t.Fatalf("want CaseCancelled, got %v", status)
	}
}

func TestDeliverEventRejectsUnknownCase(t *testing.T) {
	sink := &recordingSink{}
	ex := New(1, patterns.NewRegistry(), timebase.NewSysClock(), sink, nil)
	defer ex.Shutdown()

	if err := ex.DeliverEvent("nope", "approve"); err == nil {
		t.Fatal("expected UnknownCaseError")
	}
}

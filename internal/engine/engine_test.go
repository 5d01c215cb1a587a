package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/swarmguard/workflow-engine/internal/cert"
	"github.com/swarmguard/workflow-engine/internal/compiler"
	"github.com/swarmguard/workflow-engine/internal/guard"
	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/patterns"
	"github.com/swarmguard/workflow-engine/internal/receipts"
	"github.com/swarmguard/workflow-engine/internal/timebase"
	"github.com/swarmguard/workflow-engine/internal/timerwheel"
)

// waitForReceipts polls ExportReceipts until pred is satisfied or
// timeout elapses; Warp's synchronous clock advance only wakes the
// timer runner asynchronously (timebase.SimClock.Warp fires due
// waiters under its own lock, but the goroutine consuming that wakeup
// resumes independently), so every assertion after a Warp call has to
// poll rather than read the log immediately.
func waitForReceipts(t *testing.T, eng *Engine, caseID string, pred func([]receipts.Entry) bool) []receipts.Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last []receipts.Entry
	for time.Now().Before(deadline) {
		entries, err := eng.ExportReceipts(caseID, 0)
		if err != nil {
			t.Fatalf("ExportReceipts: %v", err)
		}
		last = entries
		if pred(entries) {
			return entries
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for expected receipts, last seen: %+v", last)
	return nil
}

func countByPatternOutcome(entries []receipts.Entry, pattern uint16, outcome string) int {
	n := 0
	for _, e := range entries {
		if e.Pattern == pattern && e.Outcome == outcome {
			n++
		}
	}
	return n
}

func openInMemoryReceiptStore(t *testing.T) *receipts.DurableStore {
	t.Helper()
	store, err := receipts.OpenDurableStore(filepath.Join(t.TempDir(), "receipts.db"))
	if err != nil {
		t.Fatalf("open receipt store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

const triggerWorkflow = `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .

<urn:case:plan> yawl:hasStartCondition <urn:case:start> .

<urn:case:start> a yawl:Condition .
<urn:case:review> a yawl:Task ;
	yawl:splitType "AND" ;
	yawl:joinType "XOR" ;
	yawl:patternId "1" .
<urn:case:end> a yawl:Condition .

<urn:case:flow1> a yawl:Flow ;
	yawl:flowsFrom <urn:case:start> ;
	yawl:flowsTo <urn:case:review> .
<urn:case:flow2> a yawl:Flow ;
	yawl:flowsFrom <urn:case:review> ;
	yawl:flowsTo <urn:case:end> .
`

// memStore is an in-memory fake over both the engine's Store seam and
// timerwheel.PersistentStore, enough for these tests without pulling
// in bbolt.
type memStore struct {
	specs  map[string][]byte
	timers map[string]timerwheel.Entry
}

func newMemStore() *memStore {
	return &memStore{specs: make(map[string][]byte), timers: make(map[string]timerwheel.Entry)}
}

func (m *memStore) PutSpec(graphHash string, blob []byte) error {
	m.specs[graphHash] = blob
	return nil
}

func (m *memStore) GetSpec(graphHash string) ([]byte, bool, error) {
	blob, ok := m.specs[graphHash]
	return blob, ok, nil
}

func (m *memStore) PutTimer(e timerwheel.Entry) error {
	m.timers[e.ID] = e
	return nil
}

func (m *memStore) DeleteTimer(id string) error {
	delete(m.timers, id)
	return nil
}

func (m *memStore) ForEachTimer(fn func(timerwheel.Entry) error) error {
	for _, e := range m.timers {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *timebase.SimClock, ed25519PubWrapper) {
	t.Helper()
	return newTestEngineWithSource(t, triggerWorkflow)
}

func newTestEngineWithSource(t *testing.T, source string) (*Engine, *timebase.SimClock, ed25519PubWrapper) {
	t.Helper()
	signer, pub, err := cert.NewSigner()
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	result, err := compiler.Compile([]compiler.Source{{Name: "case", Data: []byte(source)}}, nil, signer)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	loader := cert.NewLoader(pub, result.Image.Cert.ISAOpcodeSet, result.Image.Cert.InvariantIDs, 8)
	clock := timebase.NewSimClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := newMemStore()
	recv := receipts.New(openInMemoryReceiptStore(t), nil)

	eng, err := New(2, st, st, recv, loader, clock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(eng.Shutdown)

	return eng, clock, ed25519PubWrapper{img: result.Image, token: result.Token}
}

// ed25519PubWrapper just carries the freshly compiled image/token out
// of newTestEngine without a third return-value tuple getting unwieldy.
type ed25519PubWrapper struct {
	img   *ir.Image
	token string
}

func TestLoadIRStartCaseAndExportReceipts(t *testing.T) {
	eng, _, compiled := newTestEngine(t)

	blob, err := compiled.img.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	specID, err := eng.LoadIR(blob, compiled.token)
	if err != nil {
		t.Fatalf("LoadIR: %v", err)
	}

	caseID, err := eng.StartCase(context.Background(), specID, guard.SigmaTable(nil))
	if err != nil {
		t.Fatalf("StartCase: %v", err)
	}
	if caseID == "" {
		t.Fatal("expected a non-empty case id")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := eng.ExportReceipts(caseID, 0)
		if err != nil {
			t.Fatalf("ExportReceipts: %v", err)
		}
		if len(entries) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected at least one receipt to be appended for the completed case")
}

func TestLoadIRRejectsTamperedToken(t *testing.T) {
	eng, _, compiled := newTestEngine(t)
	blob, err := compiled.img.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := eng.LoadIR(blob, "not-a-valid-token"); err == nil {
		t.Fatal("expected LoadIR to reject a tampered token")
	}
}

func TestStartCaseUnknownSpecIsRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	if _, err := eng.StartCase(context.Background(), "deadbeef", guard.SigmaTable(nil)); err == nil {
		t.Fatal("expected UnknownSpecError for a spec id never loaded")
	} else if _, ok := err.(*UnknownSpecError); !ok {
		t.Fatalf("expected *UnknownSpecError, got %T: %v", err, err)
	}
}

func TestWarpAdvancesSimClock(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	before := clock.NowWall()
	if err := eng.Warp(time.Hour); err != nil {
		t.Fatalf("Warp: %v", err)
	}
	if !clock.NowWall().After(before) {
		t.Fatal("expected Warp to advance the sim clock's wall time")
	}
}

// deferredChoiceWorkflow exercises P16 at the engine level: a task
// racing an "approve" event against its own compiled timer.
const deferredChoiceWorkflow = `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
@prefix time: <http://www.w3.org/2006/time#> .

<urn:dc:plan> yawl:hasStartCondition <urn:dc:start> .

<urn:dc:start> a yawl:Condition .
<urn:dc:gate> a yawl:Task ;
	yawl:splitType "AND" ; yawl:joinType "XOR" ; yawl:patternId "16" ;
	time:numericDuration "20" .
<urn:dc:end> a yawl:Condition .

<urn:dc:f1> a yawl:Flow ; yawl:flowsFrom <urn:dc:start> ; yawl:flowsTo <urn:dc:gate> .
<urn:dc:f2> a yawl:Flow ; yawl:flowsFrom <urn:dc:gate> ; yawl:flowsTo <urn:dc:end> .
`

func TestDeferredChoiceEventWinsRaceAgainstTimer(t *testing.T) {
	eng, _, compiled := newTestEngineWithSource(t, deferredChoiceWorkflow)
	blob, err := compiled.img.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	specID, err := eng.LoadIR(blob, compiled.token)
	if err != nil {
		t.Fatalf("LoadIR: %v", err)
	}
	caseID, err := eng.StartCase(context.Background(), specID, guard.SigmaTable(nil))
	if err != nil {
		t.Fatalf("StartCase: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, err := eng.exec.CaseStatus(caseID)
		if err != nil {
			t.Fatalf("CaseStatus: %v", err)
		}
		if status == 1 { // CaseWaiting
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for case to enter the deferred-choice wait")
		}
		time.Sleep(time.Millisecond)
	}

	if err := eng.DeliverEvent(caseID, "approve"); err != nil {
		t.Fatalf("DeliverEvent: %v", err)
	}

	waitForReceipts(t, eng, caseID, func(entries []receipts.Entry) bool {
		return countByPatternOutcome(entries, 16, "Completed") >= 1
	})
}

func TestDeferredChoiceTimerWinsRaceWithoutEvent(t *testing.T) {
	eng, _, compiled := newTestEngineWithSource(t, deferredChoiceWorkflow)
	blob, err := compiled.img.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	specID, err := eng.LoadIR(blob, compiled.token)
	if err != nil {
		t.Fatalf("LoadIR: %v", err)
	}
	caseID, err := eng.StartCase(context.Background(), specID, guard.SigmaTable(nil))
	if err != nil {
		t.Fatalf("StartCase: %v", err)
	}

	if err := eng.Warp(21 * time.Second); err != nil {
		t.Fatalf("Warp: %v", err)
	}
	waitForReceipts(t, eng, caseID, func(entries []receipts.Entry) bool {
		return countByPatternOutcome(entries, 16, "Completed") >= 1
	})
}

// cancelRegionWorkflow exercises P19-P25: a task whose own firing
// cancels its region (here, itself) instead of emitting downstream.
const cancelRegionWorkflow = `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .

<urn:cr:plan> yawl:hasStartCondition <urn:cr:start> .

<urn:cr:start> a yawl:Condition .
<urn:cr:cancel> a yawl:Task ;
	yawl:splitType "AND" ; yawl:joinType "XOR" ; yawl:patternId "19" .

<urn:cr:f1> a yawl:Flow ; yawl:flowsFrom <urn:cr:start> ; yawl:flowsTo <urn:cr:cancel> .
`

func TestCancelTaskAppendsCancellationReceipt(t *testing.T) {
	eng, _, compiled := newTestEngineWithSource(t, cancelRegionWorkflow)
	blob, err := compiled.img.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	specID, err := eng.LoadIR(blob, compiled.token)
	if err != nil {
		t.Fatalf("LoadIR: %v", err)
	}
	caseID, err := eng.StartCase(context.Background(), specID, guard.SigmaTable(nil))
	if err != nil {
		t.Fatalf("StartCase: %v", err)
	}

	waitForReceipts(t, eng, caseID, func(entries []receipts.Entry) bool {
		return countByPatternOutcome(entries, 0, "CancellationReceipt") >= 1
	})
}

func TestWarpRejectsRealClock(t *testing.T) {
	signer, pub, err := cert.NewSigner()
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	result, err := compiler.Compile([]compiler.Source{{Name: "case", Data: []byte(triggerWorkflow)}}, nil, signer)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	loader := cert.NewLoader(pub, result.Image.Cert.ISAOpcodeSet, result.Image.Cert.InvariantIDs, 8)
	st := newMemStore()
	recv := receipts.New(openInMemoryReceiptStore(t), nil)

	eng, err := New(1, st, st, recv, loader, timebase.NewSysClock())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(eng.Shutdown)

	if err := eng.Warp(time.Second); err == nil {
		t.Fatal("expected Warp to be rejected against a real (non-virtual) clock")
	}
}

// discriminatorWorkflow is §8 scenario 6: a structured discriminator
// with k=1 of 3 predecessors, each predecessor a one-shot trigger with
// its own distinct delay so warping the virtual clock in small steps
// delivers the three arrivals in a controlled, deterministic order
// without needing a live event feed.
const discriminatorWorkflow = `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
@prefix time: <http://www.w3.org/2006/time#> .

<urn:disc:plan> yawl:hasStartCondition <urn:disc:start> .

<urn:disc:start> a yawl:Condition .
<urn:disc:end> a yawl:Condition .
<urn:disc:f0> a yawl:Flow ; yawl:flowsFrom <urn:disc:start> ; yawl:flowsTo <urn:disc:end> .

<urn:disc:branch1> a yawl:Task ;
	yawl:splitType "AND" ; yawl:joinType "XOR" ; yawl:patternId "30" ;
	time:numericDuration "20" .
<urn:disc:branch2> a yawl:Task ;
	yawl:splitType "AND" ; yawl:joinType "XOR" ; yawl:patternId "30" ;
	time:numericDuration "10" .
<urn:disc:branch3> a yawl:Task ;
	yawl:splitType "AND" ; yawl:joinType "XOR" ; yawl:patternId "30" ;
	time:numericDuration "30" .

<urn:disc:disc> a yawl:Task ;
	yawl:splitType "AND" ; yawl:joinType "Discriminator" ; yawl:patternId "9" ;
	yawl:discriminatorK "1" .
<urn:disc:discEnd> a yawl:Condition .

<urn:disc:f1> a yawl:Flow ; yawl:flowsFrom <urn:disc:branch1> ; yawl:flowsTo <urn:disc:disc> .
<urn:disc:f2> a yawl:Flow ; yawl:flowsFrom <urn:disc:branch2> ; yawl:flowsTo <urn:disc:disc> .
<urn:disc:f3> a yawl:Flow ; yawl:flowsFrom <urn:disc:branch3> ; yawl:flowsTo <urn:disc:disc> .
<urn:disc:f4> a yawl:Flow ; yawl:flowsFrom <urn:disc:disc> ; yawl:flowsTo <urn:disc:discEnd> .
`

func TestDiscriminatorFiresOnceAndDiscardsLaterArrivals(t *testing.T) {
	eng, _, compiled := newTestEngineWithSource(t, discriminatorWorkflow)
	blob, err := compiled.img.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	specID, err := eng.LoadIR(blob, compiled.token)
	if err != nil {
		t.Fatalf("LoadIR: %v", err)
	}
	caseID, err := eng.StartCase(context.Background(), specID, guard.SigmaTable(nil))
	if err != nil {
		t.Fatalf("StartCase: %v", err)
	}

	// branch2 (due +10s) arrives first and must be the one that fires
	// the discriminator downstream.
	if err := eng.Warp(12 * time.Second); err != nil {
		t.Fatalf("Warp: %v", err)
	}
	waitForReceipts(t, eng, caseID, func(entries []receipts.Entry) bool {
		return countByPatternOutcome(entries, 9, "Completed") == 1
	})

	// branch1 (due +20s) arrives second, after the discriminator has
	// already fired, and must be discarded as a late arrival.
	if err := eng.Warp(10 * time.Second); err != nil {
		t.Fatalf("Warp: %v", err)
	}
	waitForReceipts(t, eng, caseID, func(entries []receipts.Entry) bool {
		return countByPatternOutcome(entries, 9, "Cancelled") == 1
	})

	// branch3 (due +30s) arrives last, also discarded.
	if err := eng.Warp(10 * time.Second); err != nil {
		t.Fatalf("Warp: %v", err)
	}
	entries := waitForReceipts(t, eng, caseID, func(entries []receipts.Entry) bool {
		return countByPatternOutcome(entries, 9, "Cancelled") == 2
	})

	if got := countByPatternOutcome(entries, 9, "Completed"); got != 1 {
		t.Fatalf("expected exactly one downstream receipt from the discriminator, got %d", got)
	}
	for _, e := range entries {
		if e.Pattern == 9 && e.Outcome == "Cancelled" {
			if string(e.Payload) != patterns.ReasonDiscriminatorWon {
				t.Fatalf("expected Cancelled payload %q, got %q", patterns.ReasonDiscriminatorWon, e.Payload)
			}
		}
	}
}

// recurringCatchUpWorkflow is §8 scenario 3: a daily RRULE trigger
// under the catch-up policy, with no incoming flow of its own — its
// arrivals are driven entirely by the timer wheel, not by the trivial
// start/end flow sharing this case.
const recurringCatchUpWorkflow = `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .
@prefix ical: <http://www.w3.org/2002/12/cal/ical#> .

<urn:recur:plan> yawl:hasStartCondition <urn:recur:start> .

<urn:recur:start> a yawl:Condition .
<urn:recur:end> a yawl:Condition .
<urn:recur:f0> a yawl:Flow ; yawl:flowsFrom <urn:recur:start> ; yawl:flowsTo <urn:recur:end> .

<urn:recur:trig> a yawl:Task ;
	yawl:splitType "AND" ; yawl:joinType "XOR" ; yawl:patternId "31" ;
	ical:RRULE "FREQ=DAILY;INTERVAL=1" .
<urn:recur:trigEnd> a yawl:Condition .
<urn:recur:f1> a yawl:Flow ; yawl:flowsFrom <urn:recur:trig> ; yawl:flowsTo <urn:recur:trigEnd> .
`

func TestRecurringTriggerCatchUpReplaysFullBacklogAcrossMultipleWarps(t *testing.T) {
	eng, _, compiled := newTestEngineWithSource(t, recurringCatchUpWorkflow)
	blob, err := compiled.img.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	specID, err := eng.LoadIR(blob, compiled.token)
	if err != nil {
		t.Fatalf("LoadIR: %v", err)
	}
	caseID, err := eng.StartCase(context.Background(), specID, guard.SigmaTable(nil))
	if err != nil {
		t.Fatalf("StartCase: %v", err)
	}

	if err := eng.Warp(15 * 24 * time.Hour); err != nil {
		t.Fatalf("Warp: %v", err)
	}
	entries := waitForReceipts(t, eng, caseID, func(entries []receipts.Entry) bool {
		return countByPatternOutcome(entries, 31, "Completed") >= 15
	})
	if got := countByPatternOutcome(entries, 31, "Completed"); got != 15 {
		t.Fatalf("expected exactly 15 fire-receipts after a 15-day warp, got %d", got)
	}

	if err := eng.Warp(16 * 24 * time.Hour); err != nil {
		t.Fatalf("Warp: %v", err)
	}
	entries = waitForReceipts(t, eng, caseID, func(entries []receipts.Entry) bool {
		return countByPatternOutcome(entries, 31, "Completed") >= 31
	})
	if got := countByPatternOutcome(entries, 31, "Completed"); got != 31 {
		t.Fatalf("expected 31 total fire-receipts after a further 16-day warp, got %d", got)
	}

	var prevSeq uint64
	first := true
	for _, e := range entries {
		if e.Pattern != 31 || e.Outcome != "Completed" {
			continue
		}
		if !first && e.Seq <= prevSeq {
			t.Fatalf("expected strictly increasing receipt order, got seq %d after %d", e.Seq, prevSeq)
		}
		prevSeq = e.Seq
		first = false
	}
}

// multipleInstancesWorkflow exercises P13 at the engine level: two
// design-time instances (min==max==2) gated by an AtLeastK completion
// of 1, so the join should fire as soon as the first of the two
// parallel instances completes rather than waiting on both.
const multipleInstancesWorkflow = `
@prefix yawl: <http://yawlfoundation.org/yawlschema#> .

<urn:mi:plan> yawl:hasStartCondition <urn:mi:start> .

<urn:mi:start> a yawl:Condition .
<urn:mi:join> a yawl:Task ;
	yawl:splitType "AND" ; yawl:joinType "OR" ; yawl:patternId "13" ;
	yawl:miMin "2" ; yawl:miMax "2" ; yawl:partialJoinThreshold "1" ;
	yawl:miCompletion "AtLeastK" .
<urn:mi:end> a yawl:Condition .

<urn:mi:f1> a yawl:Flow ; yawl:flowsFrom <urn:mi:start> ; yawl:flowsTo <urn:mi:join> .
<urn:mi:f2> a yawl:Flow ; yawl:flowsFrom <urn:mi:join> ; yawl:flowsTo <urn:mi:end> .
`

func TestMultipleInstancesEngineLevelCompletesAtLeastKOfMax(t *testing.T) {
	eng, _, compiled := newTestEngineWithSource(t, multipleInstancesWorkflow)
	blob, err := compiled.img.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	specID, err := eng.LoadIR(blob, compiled.token)
	if err != nil {
		t.Fatalf("LoadIR: %v", err)
	}
	caseID, err := eng.StartCase(context.Background(), specID, guard.SigmaTable(nil))
	if err != nil {
		t.Fatalf("StartCase: %v", err)
	}

	waitForReceipts(t, eng, caseID, func(entries []receipts.Entry) bool {
		return countByPatternOutcome(entries, 13, "Completed") >= 1
	})
}

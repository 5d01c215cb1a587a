package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/swarmguard/workflow-engine/internal/guard"
	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/patterns"
	"github.com/swarmguard/workflow-engine/internal/timebase"
)

// TickBudget is τ: the worst-case total tick cost a single step may
// spend across its five-phase hot-path contract (§4.5).
const TickBudget = 8

// Stats accumulates engine-wide counters across every case, mirroring
// the Rust reference's ExecutorStats.
type Stats struct {
	TasksExecuted    atomic.Int64
	TasksSucceeded   atomic.Int64
	TasksFailed      atomic.Int64
	TotalTicks       atomic.Int64
	BudgetViolations atomic.Int64
}

// Executor is E: a fixed-size worker pool dispatching steps for many
// cases concurrently, each case itself single-threaded-cooperative.
// Grounded on services/orchestrator/dag_engine.go's DAGEngine for the
// worker-pool/job-queue shape, and on executor.rs's per-step tick
// charge for the hot-path contract itself.
type Executor struct {
	registry patterns.Registry
	clock    timebase.Timebase
	sink     ReceiptSink
	timers   TimerSource
	Stats    Stats

	mu    sync.RWMutex
	cases map[string]*Case

	jobs chan string
	wg   sync.WaitGroup
	done chan struct{}
}

// New starts an Executor with the given fixed worker-pool size. timers
// may be nil, in which case deferred-choice/milestone waits never race
// against a timer.
func New(workers int, registry patterns.Registry, clock timebase.Timebase, sink ReceiptSink, timers TimerSource) *Executor {
	if workers < 1 {
		workers = 1
	}
	e := &Executor{
		registry: registry,
		clock:    clock,
		sink:     sink,
		timers:   timers,
		cases:    make(map[string]*Case),
		jobs:     make(chan string, 4096),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Shutdown stops accepting new jobs and waits for in-flight steps to
// drain.
func (e *Executor) Shutdown() {
	close(e.done)
	close(e.jobs)
	e.wg.Wait()
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for caseID := range e.jobs {
		e.drain(caseID)
	}
}

func (e *Executor) enqueue(caseID string) {
	select {
	case e.jobs <- caseID:
	case <-e.done:
	}
}

// drain runs every currently-pending step for a case until it has no
// more enabled tokens, is suspended, or has reached a terminal state.
func (e *Executor) drain(caseID string) {
	e.mu.RLock()
	c, ok := e.cases[caseID]
	e.mu.RUnlock()
	if !ok {
		return
	}
	for {
		c.mu.Lock()
		status := c.Status
		c.mu.Unlock()
		if status != CaseRunning {
			return
		}
		nodeID, ok := c.nextPending()
		if !ok {
			e.maybeTerminate(c)
			return
		}
		e.step(c, nodeID)
	}
}

// maybeTerminate implements ImplicitTermination's (P11/P40) documented
// contract: once a still-running case has no node holding a token, the
// executor calls Terminate(false) on its behalf, whether or not any
// node's handler already did.
func (e *Executor) maybeTerminate(c *Case) {
	c.mu.Lock()
	status := c.Status
	c.mu.Unlock()
	if status != CaseRunning || !c.allTokensConsumed() {
		return
	}
	ctx := &caseContext{c: c}
	_ = ctx.Terminate(false)
}

// step is the hot-path contract's five phases, charged in order:
// load descriptor, dispatch by pattern_id, evaluate guards, execute
// pattern phases, write outputs + append receipt. Total ticks are
// compared against TickBudget before any side effect other than the
// charge itself is committed.
func (e *Executor) step(c *Case, nodeID uint32) {
	n, ok := c.Image.NodeByID(nodeID)
	if !ok {
		return
	}

	ticks := 1 // (1) load node descriptor
	ticks++    // (2) dispatch to pattern by pattern_id

	var guardTicks int
	for gi := uint32(0); gi < n.GuardLen; gi++ {
		g := c.Image.Guards[n.GuardOffset+gi]
		guardTicks += int(g.Ticks)
	}
	ticks += guardTicks // (3) evaluate guards, ≤ 4

	entry := c.Image.Patterns[n.PatternID]
	var patternTicks int
	for _, t := range entry.PhaseTicks {
		patternTicks += int(t)
	}
	ticks += patternTicks // (4) execute pattern phases

	ticks++ // (5) write outputs + append receipt

	e.Stats.TotalTicks.Add(int64(ticks))
	if ticks > TickBudget {
		e.Stats.BudgetViolations.Add(1)
		c.mu.Lock()
		c.Status = CaseRunning // step-local rollback; case itself is not fatally affected
		c.mu.Unlock()
		e.Stats.TasksFailed.Add(1)
		_ = e.sink.Append(c.ID, nodeID, n.PatternID, "Failed", uint8(min(ticks, 255)),
			[]byte((&BudgetExceededError{NodeID: nodeID, SpentTicks: ticks, Budget: TickBudget}).Error()))
		return
	}

	nr := c.runtime(nodeID)
	nr.SetState(StateRunning)
	ctx := &caseContext{c: c}

	// Refresh the observation slots a compiled guard's ReadObs may
	// reference before dispatch: slot 0 is this node's arrival count
	// (what the threshold guards compileGuards generates compare
	// against), slot 1 is the case's current wall-clock reading (what
	// a milestone gate's predicate needs).
	nr.observations[0].Store(uint64(nr.arrivals.Load()))
	nr.observations[1].Store(uint64(ctx.NowWall()))

	e.Stats.TasksExecuted.Add(1)
	var err error
	if n.Kind == ir.KindCondition {
		// Conditions carry no pattern id of their own — only Tasks
		// declare split/join behavior — so a token arriving at one
		// simply flows on to whatever it declares as successors.
		err = patterns.PassThrough(ctx, n)
	} else {
		err = e.registry.Dispatch(patterns.ID(n.PatternID), ctx, n)
	}

	if _, guardFailed := err.(*patterns.GuardFailedError); guardFailed {
		// step suspended, case remains in its pre-state, no receipt.
		nr.SetState(StateSuspended)
		return
	}

	if _, lateArrival := err.(*patterns.LateArrivalDiscardedError); lateArrival {
		nr.SetState(StateCancelled)
		_ = e.sink.Append(c.ID, nodeID, n.PatternID, "Cancelled", uint8(min(ticks, 255)), []byte(patterns.ReasonDiscriminatorWon))
		return
	}

	if _, invariant := err.(*patterns.PatternInvariantError); invariant {
		nr.SetState(StateFailed)
		c.mu.Lock()
		c.Status = CaseFailed
		c.mu.Unlock()
		_ = e.recordFailure(c, nodeID, n.PatternID, ticks, err)
		return
	}

	if err != nil {
		nr.SetState(StateFailed)
		_ = e.recordFailure(c, nodeID, n.PatternID, ticks, err)
		return
	}

	nr.SetState(StateCompleted)
	c.mu.Lock()
	c.Status = CaseRunning
	if patterns.ID(n.PatternID) == patterns.OneShotTrigger {
		c.pendingOneShot--
	}
	c.mu.Unlock()
	_ = e.recordSuccess(c, nodeID, n.PatternID, ticks)
}

func (e *Executor) recordSuccess(c *Case, nodeID uint32, patternID uint16, ticks int) error {
	e.Stats.TasksSucceeded.Add(1)
	return e.sink.Append(c.ID, nodeID, patternID, "Completed", uint8(min(ticks, 255)), nil)
}

func (e *Executor) recordFailure(c *Case, nodeID uint32, patternID uint16, ticks int, cause error) error {
	e.Stats.TasksFailed.Add(1)
	return e.sink.Append(c.ID, nodeID, patternID, "Failed", uint8(min(ticks, 255)), []byte(cause.Error()))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// StartCase creates a new case from img, deposits the initial token
// on startNode, and schedules it onto the worker pool.
func (e *Executor) StartCase(ctx context.Context, caseID string, img *ir.Image, sigma guard.SigmaTable, startNode uint32) error {
	c := newCase(ctx, caseID, img, sigma, e.clock, e.sink, e.timers)
	c.runtime(startNode).arrivals.Add(1)
	c.deposit(startNode)

	for i := range img.Nodes {
		switch patterns.ID(img.Nodes[i].PatternID) {
		case patterns.OneShotTrigger:
			c.pendingOneShot++
		case patterns.RecurringTrigger:
			c.hasRecurring = true
		}
	}

	e.mu.Lock()
	e.cases[caseID] = c
	e.mu.Unlock()

	e.enqueue(caseID)
	return nil
}

// DeliverEvent wakes a case currently suspended in a deferred-choice
// race waiting for eventName.
func (e *Executor) DeliverEvent(caseID, eventName string) error {
	e.mu.RLock()
	c, ok := e.cases[caseID]
	e.mu.RUnlock()
	if !ok {
		return &UnknownCaseError{CaseID: caseID}
	}

	c.mu.Lock()
	if c.Status != CaseWaiting || c.waitingEvent != eventName {
		c.mu.Unlock()
		return &NotWaitingError{CaseID: caseID}
	}
	ch := c.eventArrived
	c.mu.Unlock()

	close(ch)
	e.enqueue(caseID)
	return nil
}

// DeliverTimer is the trigger patterns' (P30/P31) arrival: the timer
// wheel's fire callback calls this instead of DeliverEvent, since a
// trigger firing is itself the token that enables nodeID, not an
// event a deferred choice is racing against.
func (e *Executor) DeliverTimer(caseID string, nodeID uint32) error {
	e.mu.RLock()
	c, ok := e.cases[caseID]
	e.mu.RUnlock()
	if !ok {
		return &UnknownCaseError{CaseID: caseID}
	}
	c.runtime(nodeID).arrivals.Add(1)
	c.deposit(nodeID)
	e.enqueue(caseID)
	return nil
}

// CancelCase cancels every pending suspension of a case and marks it
// Cancelled.
func (e *Executor) CancelCase(caseID string) error {
	e.mu.RLock()
	c, ok := e.cases[caseID]
	e.mu.RUnlock()
	if !ok {
		return &UnknownCaseError{CaseID: caseID}
	}
	c.mu.Lock()
	c.Status = CaseCancelled
	c.mu.Unlock()
	c.cancel()
	return nil
}

// CaseStatus returns the case's current lifecycle status.
func (e *Executor) CaseStatus(caseID string) (CaseStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.cases[caseID]
	if !ok {
		return 0, &UnknownCaseError{CaseID: caseID}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Status, nil
}

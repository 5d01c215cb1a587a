package executor

import (
	"context"
	"sync"

	"github.com/swarmguard/workflow-engine/internal/guard"
	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/patterns"
	"github.com/swarmguard/workflow-engine/internal/timebase"
)

// ReceiptSink is the narrow interface the executor writes completed
// steps to; internal/receipts.Log implements it. Kept narrow so
// executor and receipts stay acyclic, the same seam patterns.Context
// uses against executor itself.
type ReceiptSink interface {
	Append(caseID string, nodeID uint32, pattern uint16, outcome string, ticks uint8, payload []byte) error
}

// TimerSource lets the owning engine race a deferred-choice/milestone
// event wait against a node's compiled timer without the executor
// depending on internal/timerwheel directly; internal/engine wires
// this to a Wheel. nil is a legal TimerSource: AwaitEvent then waits
// on the event alone.
type TimerSource interface {
	AwaitTimer(caseID string, n *ir.Node, td *ir.TimerDescriptor) (done <-chan struct{}, cancel timebase.CancelFunc)
}

// CaseStatus is the case-level lifecycle state, distinct from any one
// node's TaskState.
type CaseStatus uint32

const (
	CaseRunning CaseStatus = iota
	CaseWaiting
	CaseCompleted
	CaseFailed
	CaseCancelled
)

// Case is one running workflow instance: its per-node runtime
// records, pending tokens, and suspension state. A case is
// single-threaded-cooperative — only one goroutine (the worker that
// currently owns it) ever mutates it at a time, enforced by the
// Executor's per-case dispatch queue, not by a mutex on Case itself.
type Case struct {
	ID     string
	Image  *ir.Image
	Sigma  guard.SigmaTable
	Status CaseStatus

	mu      sync.Mutex
	nodes   map[uint32]*NodeRuntime
	tokens  map[uint32]int
	pending map[uint32]bool // nodes with a token waiting to be dispatched

	waitingEvent  string
	eventArrived  chan struct{}
	cancelPending []timebase.CancelFunc

	terminatedOnce bool

	// pendingOneShot counts P30 nodes that have been durably scheduled
	// against the timer wheel but have not yet delivered their single
	// arrival; hasRecurring is true if the image declares any P31 node
	// at all. Both gate implicit termination (P11/P40): a case whose
	// only remaining work is a trigger arrival still to come, or an
	// open-ended recurring subscription, is not "done" just because no
	// node currently holds a token.
	pendingOneShot int
	hasRecurring   bool

	clock  timebase.Timebase
	sink   ReceiptSink
	timers TimerSource
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *Case) clockNowWall() int64 {
	if c.clock == nil {
		return 0
	}
	return c.clock.NowWall().UnixNano()
}

func newCase(ctx context.Context, id string, img *ir.Image, sigma guard.SigmaTable, clock timebase.Timebase, sink ReceiptSink, timers TimerSource) *Case {
	cctx, cancel := context.WithCancel(ctx)
	return &Case{
		ID:      id,
		Image:   img,
		Sigma:   sigma,
		Status:  CaseRunning,
		nodes:   make(map[uint32]*NodeRuntime),
		tokens:  make(map[uint32]int),
		pending: make(map[uint32]bool),
		clock:   clock,
		sink:    sink,
		timers:  timers,
		ctx:     cctx,
		cancel:  cancel,
	}
}

func (c *Case) runtime(id uint32) *NodeRuntime {
	c.mu.Lock()
	defer c.mu.Unlock()
	nr, ok := c.nodes[id]
	if !ok {
		nr = &NodeRuntime{}
		c.nodes[id] = nr
	}
	return nr
}

// deposit places one token on nodeID and marks it pending dispatch.
func (c *Case) deposit(nodeID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[nodeID]++
	c.pending[nodeID] = true
}

// allTokensConsumed reports whether every node this case has touched
// currently holds zero tokens, and no trigger-driven arrival (a live
// recurring subscription, or a one-shot still waiting on the timer
// wheel) could still deposit one.
func (c *Case) allTokensConsumed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasRecurring || c.pendingOneShot > 0 {
		return false
	}
	for _, n := range c.tokens {
		if n > 0 {
			return false
		}
	}
	return true
}

// nextPending pops one node id with a pending token, in ascending
// node-id order for deterministic step ordering when several nodes
// are simultaneously enabled (spec §4.5's tie-break only governs
// multiple transitions from a single arrival; across distinct
// arrivals, ascending id order is this engine's deterministic choice).
func (c *Case) nextPending() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best uint32
	found := false
	for id, p := range c.pending {
		if p && (!found || id < best) {
			best = id
			found = true
		}
	}
	if found {
		delete(c.pending, best)
	}
	return best, found
}

var _ patterns.Context = (*caseContext)(nil)

// caseContext adapts a Case + its current node into the
// patterns.Context interface one Dispatch call needs.
type caseContext struct {
	c *Case
}

func (cc *caseContext) Arrivals(n *ir.Node) int {
	return int(cc.c.runtime(n.ID).arrivals.Load())
}

func (cc *caseContext) Fired(n *ir.Node) bool { return cc.c.runtime(n.ID).fired.Load() }

func (cc *caseContext) MarkFired(n *ir.Node) { cc.c.runtime(n.ID).fired.Store(true) }

func (cc *caseContext) ResetFired(n *ir.Node) {
	nr := cc.c.runtime(n.ID)
	nr.fired.Store(false)
	nr.arrivals.Store(0)
}

func (cc *caseContext) Consume(n *ir.Node) {
	cc.c.mu.Lock()
	if cc.c.tokens[n.ID] > 0 {
		cc.c.tokens[n.ID]--
	}
	cc.c.mu.Unlock()
}

func (cc *caseContext) OutEdges(n *ir.Node) []uint32 { return cc.c.Image.OutEdges(n) }

func (cc *caseContext) Emit(ids []uint32) {
	for _, id := range ids {
		cc.c.runtime(id).arrivals.Add(1)
		cc.c.deposit(id)
	}
}

func (cc *caseContext) EvalGuard(n *ir.Node, guardIdx int) (bool, error) {
	if guardIdx < 0 || uint32(guardIdx) >= n.GuardLen {
		return false, &InvalidCertError{Reason: "guard index out of range"}
	}
	g := cc.c.Image.Guards[n.GuardOffset+uint32(guardIdx)]
	nr := cc.c.runtime(n.ID)
	var obs guard.ObservationBuffer
	for i := range obs {
		obs[i] = nr.observations[i].Load()
	}
	return guard.Eval(&g, &obs, cc.c.Sigma)
}

func (cc *caseContext) LoopCount(n *ir.Node) int { return int(cc.c.runtime(n.ID).loopCount.Load()) }

func (cc *caseContext) IncrLoopCount(n *ir.Node) int {
	return int(cc.c.runtime(n.ID).loopCount.Add(1))
}

func (cc *caseContext) InstanceCount(n *ir.Node) int {
	return int(cc.c.runtime(n.ID).instanceCnt.Load())
}

func (cc *caseContext) SpawnInstance(n *ir.Node) int {
	return int(cc.c.runtime(n.ID).instanceCnt.Add(1))
}

func (cc *caseContext) CompleteInstance(n *ir.Node, idx int) {
	cc.c.runtime(n.ID).arrivals.Add(1)
}

func (cc *caseContext) AwaitEvent(n *ir.Node, eventName string) (patterns.RaceWinner, error) {
	cc.c.mu.Lock()
	cc.c.Status = CaseWaiting
	cc.c.waitingEvent = eventName
	cc.c.eventArrived = make(chan struct{})
	eventCh := cc.c.eventArrived
	cc.c.mu.Unlock()

	var timerDone <-chan struct{}
	var timerCancel timebase.CancelFunc
	if n.TimerIndex >= 0 && cc.c.timers != nil {
		td := &cc.c.Image.Timers[n.TimerIndex]
		timerDone, timerCancel = cc.c.timers.AwaitTimer(cc.c.ID, n, td)
	}

	select {
	case <-eventCh:
		if timerCancel != nil {
			timerCancel()
		}
		cc.c.mu.Lock()
		cc.c.Status = CaseRunning
		cc.c.mu.Unlock()
		return patterns.RaceEvent, nil
	case <-timerDone:
		cc.c.mu.Lock()
		cc.c.Status = CaseRunning
		cc.c.mu.Unlock()
		return patterns.RaceTimer, nil
	case <-cc.c.ctx.Done():
		return 0, cc.c.ctx.Err()
	}
}

func (cc *caseContext) NowWall() int64 { return cc.c.clockNowWall() }

func (cc *caseContext) CancelRegion(region []uint32) error {
	cc.c.mu.Lock()
	for _, id := range region {
		delete(cc.c.tokens, id)
		delete(cc.c.pending, id)
	}
	for _, cancel := range cc.c.cancelPending {
		cancel()
	}
	cc.c.cancelPending = nil
	cc.c.mu.Unlock()
	for _, id := range region {
		cc.c.runtime(id).SetState(StateCancelled)
	}
	return cc.c.sink.Append(cc.c.ID, 0, 0, "CancellationReceipt", 0, nil)
}

func (cc *caseContext) Terminate(explicit bool) error {
	cc.c.mu.Lock()
	already := cc.c.terminatedOnce
	cc.c.terminatedOnce = true
	if !already {
		cc.c.Status = CaseCompleted
	}
	cc.c.mu.Unlock()
	if already {
		return nil // receipted exactly once per case, per spec §4.5
	}
	outcome := "Terminated"
	if explicit {
		outcome = "TerminatedExplicit"
	}
	return cc.c.sink.Append(cc.c.ID, 0, 0, outcome, 0, nil)
}

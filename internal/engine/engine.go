// Package engine wires μ's compiled images, E's executor, W's timer
// wheel, and R's receipt log into the six boundary operations spec
// §6 names: load_ir, start_case, deliver_event, cancel_case,
// export_receipts, and the virtual-only warp. Grounded on
// services/orchestrator/orchestrator.go's top-level Orchestrator type
// for the "one struct owns every subsystem handle, boundary methods
// are thin" shape.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/workflow-engine/internal/cert"
	"github.com/swarmguard/workflow-engine/internal/executor"
	"github.com/swarmguard/workflow-engine/internal/guard"
	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/patterns"
	"github.com/swarmguard/workflow-engine/internal/receipts"
	"github.com/swarmguard/workflow-engine/internal/store"
	"github.com/swarmguard/workflow-engine/internal/timebase"
	"github.com/swarmguard/workflow-engine/internal/timerwheel"
)

// Store is the subset of *store.Store the engine needs directly
// (load_ir/start_case's spec persistence); kept narrow so engine_test
// can substitute a lighter fake if needed.
type Store interface {
	PutSpec(graphHash string, blob []byte) error
	GetSpec(graphHash string) ([]byte, bool, error)
}

var _ Store = (*store.Store)(nil)
var _ executor.TimerSource = (*Engine)(nil)

// waiter is a single in-flight AwaitTimer race, keyed by a call-unique
// id distinct from any case's durable trigger-timer entries.
type waiter struct {
	done chan struct{}
	once sync.Once
}

// Engine owns every subsystem handle and exposes spec §6's boundary.
// An Engine's own AwaitTimer method satisfies executor.TimerSource:
// deferred-choice/milestone races register a transient waiter here,
// while trigger-pattern nodes (P30/P31) are scheduled durably against
// the same Wheel at start_case time and resolve through fire, not
// AwaitTimer — see DESIGN.md's "trigger firing is its own arrival"
// note.
type Engine struct {
	store     Store
	receipts  *receipts.Log
	wheel     *timerwheel.Wheel
	runner    *timerwheel.Runner
	exec      *executor.Executor
	loader    *cert.Loader
	clock     timebase.Timebase

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}

	mu         sync.RWMutex
	specs      map[string]*ir.Image // specID (hex sigma_hash) -> decoded image
	caseSpec   map[string]string    // caseID -> specID
	caseTimers map[string][]string  // caseID -> durable trigger entry ids, for cancel_case

	waitMu  sync.Mutex
	waiters map[string]*waiter
	waitSeq atomic.Uint64
}

// New wires an Engine around already-opened subsystem handles. workers
// sizes the executor's worker pool; clock drives every sleep the
// engine schedules, real in production, simulated in tests.
func New(workers int, st Store, wheelStore timerwheel.PersistentStore, receiptLog *receipts.Log, loader *cert.Loader, clock timebase.Timebase) (*Engine, error) {
	wheel := timerwheel.New(wheelStore)
	if err := wheel.Recover(); err != nil {
		return nil, fmt.Errorf("engine: recover timer wheel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:      st,
		receipts:   receiptLog,
		wheel:      wheel,
		loader:     loader,
		clock:      clock,
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		specs:      make(map[string]*ir.Image),
		caseSpec:   make(map[string]string),
		caseTimers: make(map[string][]string),
		waiters:    make(map[string]*waiter),
	}
	e.exec = executor.New(workers, patterns.NewRegistry(), clock, receiptLog, e)
	e.runner = timerwheel.NewRunner(wheel, clock, e.fire)
	go e.runner.Run(ctx, e.wake)
	return e, nil
}

// Shutdown stops the timer runner and the executor's worker pool.
func (e *Engine) Shutdown() {
	e.cancel()
	e.exec.Shutdown()
}

func (e *Engine) wakeRunner() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// LoadIR verifies a compiled image's certificate against the engine's
// loader and, once accepted, persists the raw blob and caches the
// decoded image under its sigma-hash-derived spec id (§4.3, §6).
func (e *Engine) LoadIR(blob []byte, token string) (string, error) {
	img, err := ir.Unmarshal(blob)
	if err != nil {
		return "", fmt.Errorf("engine: unmarshal image: %w", err)
	}
	if err := e.loader.Verify(img, token); err != nil {
		return "", err
	}

	specID := hex.EncodeToString(img.SigmaHash[:])
	if err := e.store.PutSpec(specID, blob); err != nil {
		return "", fmt.Errorf("engine: persist spec: %w", err)
	}

	e.mu.Lock()
	e.specs[specID] = img
	e.mu.Unlock()
	return specID, nil
}

func (e *Engine) resolveSpec(specID string) (*ir.Image, error) {
	e.mu.RLock()
	img, ok := e.specs[specID]
	e.mu.RUnlock()
	if ok {
		return img, nil
	}

	blob, found, err := e.store.GetSpec(specID)
	if err != nil {
		return nil, fmt.Errorf("engine: load spec: %w", err)
	}
	if !found {
		return nil, &UnknownSpecError{SpecID: specID}
	}
	img, err = ir.Unmarshal(blob)
	if err != nil {
		return nil, fmt.Errorf("engine: decode cached spec: %w", err)
	}
	e.mu.Lock()
	e.specs[specID] = img
	e.mu.Unlock()
	return img, nil
}

// startNodeOf picks the case's initial token placement: the node
// yawl:hasStartCondition names (FlagStartNode), or — absent that —
// the first KindCondition node with no predecessors, in ascending id
// order, the same deterministic tie-break start_case's dispatch order
// already uses elsewhere.
func startNodeOf(img *ir.Image) (*ir.Node, bool) {
	for i := range img.Nodes {
		if img.Nodes[i].Flags&ir.FlagStartNode != 0 {
			return &img.Nodes[i], true
		}
	}
	var fallback *ir.Node
	for i := range img.Nodes {
		n := &img.Nodes[i]
		if n.Kind != ir.KindCondition || n.InEdgesLen != 0 {
			continue
		}
		if fallback == nil || n.ID < fallback.ID {
			fallback = n
		}
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}

// StartCase begins a new case instance of specID, depositing the
// initial token and durably scheduling any trigger-pattern nodes the
// image declares.
func (e *Engine) StartCase(ctx context.Context, specID string, sigma guard.SigmaTable) (string, error) {
	img, err := e.resolveSpec(specID)
	if err != nil {
		return "", err
	}
	start, ok := startNodeOf(img)
	if !ok {
		return "", &UnknownSpecError{SpecID: specID}
	}

	caseID := uuid.NewString()
	if err := e.exec.StartCase(ctx, caseID, img, sigma, start.ID); err != nil {
		return "", err
	}

	e.mu.Lock()
	e.caseSpec[caseID] = specID
	e.mu.Unlock()

	e.scheduleTriggers(caseID, img)
	return caseID, nil
}

// scheduleTriggers durably schedules one Wheel entry per P30/P31
// (OneShotTrigger/RecurringTrigger) node in img: the trigger firing
// itself is the node's arrival (handlers.go's triggerPhase has no
// AwaitEvent to race against), so it is driven straight through
// Executor.DeliverTimer from fire, never through AwaitTimer.
func (e *Engine) scheduleTriggers(caseID string, img *ir.Image) {
	var ids []string
	for i := range img.Nodes {
		n := &img.Nodes[i]
		if n.TimerIndex < 0 {
			continue
		}
		if n.PatternID != uint16(patterns.OneShotTrigger) && n.PatternID != uint16(patterns.RecurringTrigger) {
			continue
		}
		td := img.Timers[n.TimerIndex]

		now := e.clock.NowWall()
		due := now
		switch {
		case td.Kind == ir.TimerOneShot:
			due = now.Add(time.Duration(td.MonotonicOffsetNs))
		case td.Kind == ir.TimerRecurring && td.RRule != nil:
			// A recurring trigger's first occurrence is one interval
			// after case-start, not an immediate fire at start itself
			// (§8 scenario 3: warping exactly N intervals must yield
			// exactly N fires, not N+1).
			due = now.Add(timerwheel.StepFor(td.RRule))
		}

		id := fmt.Sprintf("trigger:%s:%d", caseID, n.ID)
		entry := timerwheel.Entry{
			ID:      id,
			CaseID:  caseID,
			NodeID:  n.ID,
			DueWall: due,
			DueNs:   timerwheel.Anchor(e.clock, due),
			Kind:    td.Kind,
			RRule:   td.RRule,
			Policy:  td.Policy,
		}
		if err := e.wheel.Schedule(entry); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return
	}
	e.mu.Lock()
	e.caseTimers[caseID] = append(e.caseTimers[caseID], ids...)
	e.mu.Unlock()
	e.wakeRunner()
}

// fire is the Runner's FireFunc: a wait-prefixed id resolves an
// in-flight AwaitTimer race (the event side may still win the
// select), anything else is a trigger-pattern node's own arrival.
func (e *Engine) fire(entry timerwheel.Entry, _ time.Time) {
	e.waitMu.Lock()
	w, ok := e.waiters[entry.ID]
	if ok {
		delete(e.waiters, entry.ID)
	}
	e.waitMu.Unlock()
	if ok {
		w.once.Do(func() { close(w.done) })
		return
	}
	_ = e.exec.DeliverTimer(entry.CaseID, entry.NodeID)
}

// AwaitTimer implements executor.TimerSource for DeferredChoice/
// Milestone nodes racing an event against a compiled timer. The
// registered wait is transient: an in-flight race does not survive a
// crash any more than the rest of a case's in-memory dispatch state
// does, so unlike scheduleTriggers this id is never replayed by
// Wheel.Recover — it is cancelled (and the Wheel entry removed) the
// instant either side of the select wins.
func (e *Engine) AwaitTimer(caseID string, n *ir.Node, td *ir.TimerDescriptor) (<-chan struct{}, timebase.CancelFunc) {
	now := e.clock.NowWall()
	due := now
	if td.Kind == ir.TimerOneShot {
		due = now.Add(time.Duration(td.MonotonicOffsetNs))
	}

	id := fmt.Sprintf("wait:%s:%d:%d", caseID, n.ID, e.waitSeq.Add(1))
	w := &waiter{done: make(chan struct{})}

	e.waitMu.Lock()
	e.waiters[id] = w
	e.waitMu.Unlock()

	entry := timerwheel.Entry{
		ID:      id,
		CaseID:  caseID,
		NodeID:  n.ID,
		DueWall: due,
		DueNs:   timerwheel.Anchor(e.clock, due),
		Kind:    ir.TimerOneShot,
	}
	if err := e.wheel.Schedule(entry); err != nil {
		e.waitMu.Lock()
		delete(e.waiters, id)
		e.waitMu.Unlock()
		closed := make(chan struct{})
		close(closed)
		return closed, func() {}
	}
	e.wakeRunner()

	cancel := func() {
		e.waitMu.Lock()
		delete(e.waiters, id)
		e.waitMu.Unlock()
		_ = e.wheel.Cancel(id)
	}
	return w.done, cancel
}

// DeliverEvent wakes a case suspended in a deferred-choice race
// waiting for eventName.
func (e *Engine) DeliverEvent(caseID, eventName string) error {
	return e.exec.DeliverEvent(caseID, eventName)
}

// CancelCase cancels a case and every trigger timer scheduled for it.
func (e *Engine) CancelCase(caseID string) error {
	if err := e.exec.CancelCase(caseID); err != nil {
		return err
	}
	e.mu.Lock()
	ids := e.caseTimers[caseID]
	delete(e.caseTimers, caseID)
	delete(e.caseSpec, caseID)
	e.mu.Unlock()
	for _, id := range ids {
		_ = e.wheel.Cancel(id)
	}
	return nil
}

// ExportReceipts streams a case's receipt chain from fromSeq onward,
// in chain order.
func (e *Engine) ExportReceipts(caseID string, fromSeq uint64) ([]receipts.Entry, error) {
	all, err := e.receipts.Export(caseID)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, entry := range all {
		if entry.Seq >= fromSeq {
			out = append(out, entry)
		}
	}
	return out, nil
}

// warpingClock is the subset of timebase.SimClock's API warp needs;
// satisfied only by the virtual clock, never SysClock.
type warpingClock interface {
	Warp(d time.Duration)
}

// Warp advances the engine's clock by d, for test/simulation harnesses
// only (§6: "virtual only"). Returns an error against a real,
// wall-clock-backed engine.
func (e *Engine) Warp(d time.Duration) error {
	w, ok := e.clock.(warpingClock)
	if !ok {
		return fmt.Errorf("engine: warp is only supported against a virtual clock")
	}
	w.Warp(d)
	e.wakeRunner()
	return nil
}

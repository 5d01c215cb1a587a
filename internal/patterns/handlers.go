package patterns

import (
	"fmt"

	"github.com/swarmguard/workflow-engine/internal/ir"
)

// GuardFailedError suspends the step with the case left in its
// pre-state; the executor treats this as a non-fatal, step-local
// failure (§4.5).
type GuardFailedError struct{ GuardID uint32 }

func (e *GuardFailedError) Error() string {
	return fmt.Sprintf("patterns: guard %d failed", e.GuardID)
}

// PatternInvariantError is fatal for the owning case: it is marked
// failed and no further steps run, but surrounding cases are
// unaffected (§4.5, §7).
type PatternInvariantError struct{ Msg string }

func (e *PatternInvariantError) Error() string { return "patterns: invariant violation: " + e.Msg }

func evalAllGuards(ctx Context, n *ir.Node) error {
	for i := 0; i < int(n.GuardLen); i++ {
		ok, err := ctx.EvalGuard(n, i)
		if err != nil {
			return err
		}
		if !ok {
			return &GuardFailedError{GuardID: n.GuardOffset + uint32(i)}
		}
	}
	return nil
}

// sequencePhase implements P1: consume the single input token, emit
// the single output token.
func sequencePhase(ctx Context, n *ir.Node) error {
	ctx.Consume(n)
	ctx.Emit(ctx.OutEdges(n))
	return nil
}

// PassThrough is a Condition node's entire behavior: conditions carry
// no pattern id (only Tasks declare split/join semantics), so a token
// reaching one just flows on to every successor it has. Exported for
// internal/executor's dispatch, which never looks this up through the
// pattern-id registry since conditions have none.
func PassThrough(ctx Context, n *ir.Node) error {
	ctx.Consume(n)
	ctx.Emit(ctx.OutEdges(n))
	return nil
}

// parallelSplitPhase implements P2: an AND-split emits a token on
// every successor atomically — either all k tokens exist or none do,
// so a concurrent observer never sees a partial split.
func parallelSplitPhase(ctx Context, n *ir.Node) error {
	ctx.Consume(n)
	ctx.Emit(ctx.OutEdges(n))
	return nil
}

// synchronizationPhase implements P3: an AND-join waits for all k
// predecessors before consuming and emitting; the marking never
// transiently observes a partial join because Arrivals is only
// checked here, at phase-evaluation time, not updated mid-phase.
func synchronizationPhase(ctx Context, n *ir.Node) error {
	k := len(ctx.OutEdges(n)) // predecessor count mirrors successor fan-in by construction
	if ctx.Arrivals(n) < k {
		return nil // not yet enabled; executor leaves the case waiting
	}
	ctx.Consume(n)
	ctx.Emit(ctx.OutEdges(n))
	return nil
}

// exclusiveChoicePhase implements P4: an XOR-split emits a token on
// exactly one successor, never all of them. n's compiled guards (if
// any — e.g. a partial-join/discriminator threshold sharing this
// node) gate whether the split is enabled at all; they do not name
// which branch wins, since the vocabulary has no per-edge predicate
// for that, so the enabled split always resolves to n's first
// compiled out-edge (the order flows were declared in the source
// graph) — deterministic and reproducible across runs on the same
// input, though not a claim about numeric node-id ordering.
func exclusiveChoicePhase(ctx Context, n *ir.Node) error {
	if err := evalAllGuards(ctx, n); err != nil {
		if _, ok := err.(*GuardFailedError); ok {
			return nil
		}
		return err
	}
	out := ctx.OutEdges(n)
	if len(out) == 0 {
		ctx.Consume(n)
		return nil
	}
	ctx.Consume(n)
	ctx.Emit(out[:1])
	return nil
}

// multiChoicePhase implements P6: at least one of n's guards must
// hold; when one does, every successor receives a token. Guards are
// not tied to individual successors, so no successor is skipped.
func multiChoicePhase(ctx Context, n *ir.Node) error {
	anyHeld := false
	for i := 0; i < int(n.GuardLen); i++ {
		ok, err := ctx.EvalGuard(n, i)
		if err != nil {
			return err
		}
		if ok {
			anyHeld = true
		}
	}
	if !anyHeld {
		return &GuardFailedError{GuardID: n.GuardOffset}
	}
	ctx.Consume(n)
	ctx.Emit(ctx.OutEdges(n))
	return nil
}

// LateArrivalDiscardedError signals a discriminator/partial-join node
// that had already fired absorbing one more predecessor arrival; the
// arrival is discarded, not an error condition for the case, but the
// executor still appends a Cancelled{reason=DiscriminatorWon} receipt
// for it (§8 scenario 6) rather than silently treating it as a normal
// completed step.
type LateArrivalDiscardedError struct{ NodeID uint32 }

func (e *LateArrivalDiscardedError) Error() string {
	return fmt.Sprintf("patterns: late arrival at node %d discarded, discriminator already fired", e.NodeID)
}

// ReasonDiscriminatorWon is the receipt payload discarded late
// arrivals are recorded with.
const ReasonDiscriminatorWon = "DiscriminatorWon"

// discriminatorK reads n's compiled arrival threshold, defaulting to
// the classic "first wins" k=1 when no yawl:discriminatorK (or
// partial-join threshold sharing the same field) was declared.
func discriminatorK(n *ir.Node) int {
	if n.PartialJoinThreshold > 0 {
		return int(n.PartialJoinThreshold)
	}
	return 1
}

// discriminatorPhase implements P9/P24/P25 (the structured, blocking
// and cancelling discriminators): fires once ≥k of n's predecessors
// have arrived, k read from n.PartialJoinThreshold (compiled from
// yawl:discriminatorK); subsequent arrivals are discarded and the
// join's fired-flag prevents a second
// downstream token until an explicit full reset clears it (Open
// Question #2).
func discriminatorPhase(ctx Context, n *ir.Node) error {
	if ctx.Fired(n) {
		ctx.Consume(n) // late arrival discarded/absorbed
		return &LateArrivalDiscardedError{NodeID: n.ID}
	}
	if ctx.Arrivals(n) < discriminatorK(n) {
		return nil
	}
	ctx.MarkFired(n)
	ctx.Consume(n)
	ctx.Emit(ctx.OutEdges(n))
	return nil
}

// cyclePhase implements P10 (Arbitrary Cycles): increments the explicit backedge
// counter and enforces a bound before continuing the loop via the
// decision node's XOR split.
func cyclePhase(maxIterations int) Phase {
	return func(ctx Context, n *ir.Node) error {
		count := ctx.IncrLoopCount(n)
		if count > maxIterations {
			return &PatternInvariantError{Msg: fmt.Sprintf("node %d exceeded loop bound %d", n.ID, maxIterations)}
		}
		return exclusiveChoicePhase(ctx, n)
	}
}

// multipleInstancesPhase implements P12-P15: spawns instances bounded
// by n.MIMin/n.MIMax (compiled from yawl:miMin/yawl:miMax, defaulting
// to [1,64] when undeclared), and the join fires either once every
// spawned instance has completed (ir.MICompletionAll) or once the
// partial-join threshold n.PartialJoinThreshold is reached
// (ir.MICompletionAtLeastK) — both compiled from the RDF source, not
// a fixed constant per pattern id.
func multipleInstancesPhase(ctx Context, n *ir.Node) error {
	min, max := int(n.MIMin), int(n.MIMax)
	for ctx.InstanceCount(n) < min && ctx.InstanceCount(n) < max {
		ctx.SpawnInstance(n)
	}

	completed := ctx.Arrivals(n)
	threshold := ctx.InstanceCount(n) // MICompletionAll: every spawned instance
	if n.MICompletion == ir.MICompletionAtLeastK {
		threshold = int(n.PartialJoinThreshold)
	}
	if completed < threshold {
		return nil
	}
	ctx.Consume(n)
	ctx.Emit(ctx.OutEdges(n))
	return nil
}

// deferredChoicePhase implements P16: races the named event against
// n's timer; whichever wins proceeds, the loser's reservation is
// cancelled and its token refunded (refund is the absence of Consume
// on the losing branch, since AwaitEvent never allocates a token to
// the loser in the first place).
func deferredChoicePhase(eventName string) Phase {
	return func(ctx Context, n *ir.Node) error {
		winner, err := ctx.AwaitEvent(n, eventName)
		if err != nil {
			return err
		}
		ctx.Consume(n)
		switch winner {
		case RaceEvent, RaceTimer:
			ctx.Emit(ctx.OutEdges(n))
		}
		return nil
	}
}

// milestonePhase implements P18: the gate predicate references
// now-wall rather than an observation slot, so it is evaluated via
// the node's ordinary guard program (compiled with a LoadSigma
// reference to the wall clock) — this phase only exists to make that
// dependency explicit in the dispatch table.
func milestonePhase(ctx Context, n *ir.Node) error {
	_ = ctx.NowWall()
	return evalAllGuards(ctx, n)
}

// TriggerKind distinguishes the two trigger patterns at dispatch time.
type TriggerKind uint8

const (
	TriggerOnce TriggerKind = iota
	TriggerRecurring
)

// triggerPhase implements P30/P31: a one-shot or recurring timer
// firing is itself the arrival that enables n; the catch-up policy
// for P31 lives in internal/timerwheel, not here — by the time this
// phase runs, the wheel has already resolved how many logical fires
// this wakeup represents.
func triggerPhase(kind TriggerKind) Phase {
	return func(ctx Context, n *ir.Node) error {
		ctx.Consume(n)
		ctx.Emit(ctx.OutEdges(n))
		return nil
	}
}

// cancellationPhase implements P19-P25: masks every node id in
// region, which always includes n itself for CancelTask.
func cancellationPhase(region func(n *ir.Node) []uint32) Phase {
	return func(ctx Context, n *ir.Node) error {
		return ctx.CancelRegion(region(n))
	}
}

// terminationPhase implements P11 and P40-P43: the implicit variants
// (P11, P40) consume the token and call Terminate(false), and the
// executor also calls Terminate(false) on its own once it detects
// "all tokens consumed"; explicit termination is a designated
// end condition node whose arrival calls Terminate(true). Multiple
// termination paths are allowed but Terminate is idempotent per case.
func terminationPhase(explicit bool) Phase {
	return func(ctx Context, n *ir.Node) error {
		ctx.Consume(n)
		return ctx.Terminate(explicit)
	}
}

// NewRegistry builds the default handler registry binding every
// pattern id the engine ships a concrete handler for. Ids with no
// entry here fall back to UnknownPatternError at dispatch time, which
// the compiler must never emit a node referencing (spec §7:
// UnknownPattern is a compile-time error, not a runtime one).
func NewRegistry() Registry {
	sameRegionAsSelf := func(n *ir.Node) []uint32 { return []uint32{n.ID} }

	return Registry{
		Sequence:                       {sequencePhase},
		ParallelSplit:                  {parallelSplitPhase},
		Synchronization:                {synchronizationPhase},
		ExclusiveChoice:                {exclusiveChoicePhase},
		SimpleMerge:                    {sequencePhase},
		MultiChoice:                    {multiChoicePhase},
		StructuredSynchronizingMerge:   {synchronizationPhase},
		MultiMerge:                     {sequencePhase},
		StructuredDiscriminator:        {discriminatorPhase},
		ArbitraryCycles:                {cyclePhase(10_000)},
		ImplicitTermination:            {terminationPhase(false)},
		MultipleInstancesNoSync:        {multipleInstancesPhase},
		MultipleInstancesDesignTime:    {multipleInstancesPhase},
		MultipleInstancesRuntime:       {multipleInstancesPhase},
		MultipleInstancesNoPriorKnowl:  {multipleInstancesPhase},
		DeferredChoice:                 {deferredChoicePhase("approve")},
		InterleavedParallelRouting:     {exclusiveChoicePhase},
		Milestone:                      {milestonePhase},
		CancelTask:                     {cancellationPhase(sameRegionAsSelf)},
		CancelCase:                     {cancellationPhase(sameRegionAsSelf)},
		CancelRegion:                   {cancellationPhase(sameRegionAsSelf)},
		CancelMultipleInstanceActivity: {cancellationPhase(sameRegionAsSelf)},
		CompleteMultipleInstanceActivity: {multipleInstancesPhase},
		BlockingDiscriminator:          {discriminatorPhase},
		CancellingDiscriminator:        {discriminatorPhase, cancellationPhase(sameRegionAsSelf)},
		StructuredPartialJoin:          {multipleInstancesPhase},
		BlockingPartialJoin:            {multipleInstancesPhase},
		CancellingPartialJoin:          {multipleInstancesPhase, cancellationPhase(sameRegionAsSelf)},
		GeneralizedANDJoin:             {synchronizationPhase},
		OneShotTrigger:                 {triggerPhase(TriggerOnce)},
		RecurringTrigger:               {triggerPhase(TriggerRecurring)},
		PersistentTrigger:              {triggerPhase(TriggerRecurring)},
		TransientTrigger:               {triggerPhase(TriggerOnce)},
		StaticPartialJoinForMI:         {multipleInstancesPhase},
		CancellingPartialJoinForMI:     {multipleInstancesPhase, cancellationPhase(sameRegionAsSelf)},
		DynamicPartialJoinForMI:        {multipleInstancesPhase},
		LocalSynchronizingMerge:        {synchronizationPhase},
		GeneralSynchronizingMerge:      {synchronizationPhase},
		ThreadMerge:                    {sequencePhase},
		ImplicitTerminationVariant:     {terminationPhase(false)},
		ExplicitTermination:            {terminationPhase(true)},
		MultipleTermination:            {terminationPhase(true)},
		CancellingTermination:          {terminationPhase(true), cancellationPhase(sameRegionAsSelf)},
	}
}

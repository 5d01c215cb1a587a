package patterns

import "github.com/swarmguard/workflow-engine/internal/ir"

// Phase is one step of a pattern's phase list; phases run in order
// and each has a statically certified tick cost (ir.PatternEntry's
// PhaseTicks), so Context methods never themselves charge ticks —
// that's the executor's job before and after calling into a handler.
type Phase func(ctx Context, n *ir.Node) error

// Context is everything a pattern handler needs from the case state
// machine. internal/executor implements this; internal/patterns only
// depends on the interface, keeping the two packages acyclic.
type Context interface {
	// Arrivals returns how many distinct predecessor tokens have
	// reached n so far this case.
	Arrivals(n *ir.Node) int

	// Fired reports whether n's join has already produced its
	// downstream token (the discriminator/partial-join fired-flag).
	Fired(n *ir.Node) bool

	// MarkFired sets n's fired-flag so later, late arrivals are
	// discarded rather than re-triggering downstream.
	MarkFired(n *ir.Node)

	// ResetFired clears n's fired-flag; only a full reset transition
	// may call this (Open Question #2: FlagResettable nodes only).
	ResetFired(n *ir.Node)

	// Consume removes one pending token from n.
	Consume(n *ir.Node)

	// OutEdges returns n's successor node ids, resolved from the
	// image's edge arrays.
	OutEdges(n *ir.Node) []uint32

	// Emit produces one token on each of ids, in the given order.
	Emit(ids []uint32)

	// EvalGuard runs n's compiled guard at guardIdx (0-based within
	// n's guard span) against the case's current observations and
	// returns its boolean result.
	EvalGuard(n *ir.Node, guardIdx int) (bool, error)

	// LoopCount returns n's current backedge iteration counter.
	LoopCount(n *ir.Node) int
	// IncrLoopCount increments and returns n's backedge counter.
	IncrLoopCount(n *ir.Node) int

	// InstanceCount returns the number of MI instances currently
	// spawned for n.
	InstanceCount(n *ir.Node) int
	// SpawnInstance creates one more MI instance of n, returning its
	// instance index.
	SpawnInstance(n *ir.Node) int
	// CompleteInstance marks MI instance idx of n complete.
	CompleteInstance(n *ir.Node, idx int)

	// AwaitEvent suspends the step until either an external event
	// named eventName arrives, or the node's associated timer fires
	// first — the deferred-choice race. It returns which of the two
	// won.
	AwaitEvent(n *ir.Node, eventName string) (RaceWinner, error)

	// NowWall returns the case's current wall-clock reading, used by
	// milestone gate predicates.
	NowWall() int64

	// CancelRegion masks every node id in region: sets their tokens to
	// bottom, cancels their pending timers, and arranges for exactly
	// one cancellation receipt to be appended.
	CancelRegion(region []uint32) error

	// Terminate marks the case terminated, explicit distinguishing an
	// explicit end-condition termination from an implicit one (all
	// tokens consumed). Receipted exactly once per case regardless of
	// how many termination paths fire.
	Terminate(explicit bool) error
}

// RaceWinner names which side of a deferred-choice race arrived
// first.
type RaceWinner uint8

const (
	RaceEvent RaceWinner = iota
	RaceTimer
)

// Handler is the full phase list bound to one pattern table entry.
type Handler []Phase

// Registry maps a pattern id to its compiled handler.
type Registry map[ID]Handler

// Dispatch runs the phase list registered for patternID against n,
// in order, stopping at the first error (a *GuardFailed or
// *PatternInvariantViolation the executor interprets per spec §4.5's
// failure semantics).
func (reg Registry) Dispatch(patternID ID, ctx Context, n *ir.Node) error {
	h, ok := reg[patternID]
	if !ok {
		return &UnknownPatternError{ID: patternID}
	}
	for _, phase := range h {
		if err := phase(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// UnknownPatternError is raised when a node references a pattern id
// the running engine's registry has no handler for.
type UnknownPatternError struct{ ID ID }

func (e *UnknownPatternError) Error() string {
	return "patterns: unknown pattern id in registry"
}

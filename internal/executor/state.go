// Package executor implements E: the pattern-dispatch executor. The
// task state machine and the hot-path tick-charging shape are ported
// from original_source/rust/knhk-kernel/src/executor.rs; the worker
// pool and case-state bookkeeping are grounded on
// services/orchestrator/dag_engine.go's DAGEngine/WorkflowExecution.
package executor

import "sync/atomic"

// TaskState mirrors the Rust reference's TaskState enum: every node
// instance within a case moves through this lattice exactly once per
// token, or once per MI/loop iteration.
type TaskState uint32

const (
	StateCreated TaskState = iota
	StateReady
	StateRunning
	StateWaiting
	StateSuspended
	StateCompleted
	StateFailed
	StateCancelled
)

func (s TaskState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateWaiting:
		return "Waiting"
	case StateSuspended:
		return "Suspended"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s has no further legal transitions.
func (s TaskState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanExecute reports whether a step may run against a task currently
// in state s.
func (s TaskState) CanExecute() bool {
	return s == StateReady || s == StateRunning
}

// NodeRuntime is one node's mutable per-case runtime record: atomic
// state plus the small counters patterns.Context exposes. A case
// holds one NodeRuntime per node id it has touched.
type NodeRuntime struct {
	state        atomic.Uint32
	arrivals     atomic.Int32
	fired        atomic.Bool
	loopCount    atomic.Int32
	instanceCnt  atomic.Int32
	observations [16]atomic.Uint64
}

func (n *NodeRuntime) GetState() TaskState  { return TaskState(n.state.Load()) }
func (n *NodeRuntime) SetState(s TaskState) { n.state.Store(uint32(s)) }

// Transition moves n from `from` to `to` if n is currently in `from`,
// returning false on a stale compare (another goroutine already moved
// it — a case is single-threaded-cooperative so this should never
// race in practice, but the atomic guards against it cheaply anyway).
func (n *NodeRuntime) Transition(from, to TaskState) bool {
	return n.state.CompareAndSwap(uint32(from), uint32(to))
}

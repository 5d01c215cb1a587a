package executor

import "fmt"

// BudgetExceededError aborts a step: the case rolls back its local
// state and a receipt with outcome=Failed is appended (§4.5, §7).
type BudgetExceededError struct {
	NodeID     uint32
	SpentTicks int
	Budget     int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("executor: node %d spent %d ticks, budget is %d", e.NodeID, e.SpentTicks, e.Budget)
}

// InvalidCertError means the engine refuses to start: a fatal,
// compile-time-adjacent error that never reaches a running case.
type InvalidCertError struct{ Reason string }

func (e *InvalidCertError) Error() string { return "executor: invalid certificate: " + e.Reason }

// UnknownCaseError is returned by deliver_event/cancel_case for a case
// id the engine has no record of.
type UnknownCaseError struct{ CaseID string }

func (e *UnknownCaseError) Error() string { return "executor: unknown case " + e.CaseID }

// NotWaitingError is returned by deliver_event when the case is not
// currently suspended waiting for an event.
type NotWaitingError struct{ CaseID string }

func (e *NotWaitingError) Error() string {
	return "executor: case " + e.CaseID + " is not waiting for an event"
}

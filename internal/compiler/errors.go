package compiler

import "fmt"

// ShapeViolation wraps a shapes.Violation as a compile-time failure of
// phase 2 (Gate Σ).
type ShapeViolation struct {
	Shape string
	Node  string
	Msg   string
}

func (e *ShapeViolation) Error() string {
	return fmt.Sprintf("shape violation %s on %s: %s", e.Shape, e.Node, e.Msg)
}

// UnknownPattern is phase 4 (Lower) rejecting a task whose declared
// pattern id is outside [1,43] or has no catalogue entry. The declared
// id is not checked against the task's split/join/modifier facts.
type UnknownPattern struct {
	Node  string
	Split string
	Join  string
	Mods  []string
}

func (e *UnknownPattern) Error() string {
	return fmt.Sprintf("unknown pattern for %s: split=%s join=%s mods=%v", e.Node, e.Split, e.Join, e.Mods)
}

// GuardOverBudget is phase 6 rejecting a guard whose static tick cost
// exceeds guard.MaxGuardTicks (4).
type GuardOverBudget struct {
	Guard string
	Ticks int
}

func (e *GuardOverBudget) Error() string {
	return fmt.Sprintf("guard %s over budget: %d ticks", e.Guard, e.Ticks)
}

// PatternOverBudget is phase 7 (Certify) rejecting a task whose total
// per-pattern phase ticks exceed τ.
type PatternOverBudget struct {
	Pattern string
	Ticks   int
}

func (e *PatternOverBudget) Error() string {
	return fmt.Sprintf("pattern %s over budget: %d ticks", e.Pattern, e.Ticks)
}

// UnstableIntern is raised when the interner's two-level hash fails to
// find a collision-free seed within its retry budget.
type UnstableIntern struct {
	Retries int
}

func (e *UnstableIntern) Error() string {
	return fmt.Sprintf("interner unstable after %d retries", e.Retries)
}

// UnresolvedRole describes a role/cap reference with no declared
// role. No compiler phase returns it: a dangling org:hasRole reference
// is rejected in phase 2 by Σ's S-ROLE-RESOLVES shape and surfaces as
// a ShapeViolation, and phase 5 assigns role bits without checking
// declarations.
type UnresolvedRole struct {
	IRI string
}

func (e *UnresolvedRole) Error() string {
	return fmt.Sprintf("unresolved role %s", e.IRI)
}

package engine

import "fmt"

// UnknownSpecError is returned by start_case for a spec_id the engine
// has never loaded (or has evicted from both cache and store).
type UnknownSpecError struct{ SpecID string }

func (e *UnknownSpecError) Error() string { return fmt.Sprintf("engine: unknown spec %s", e.SpecID) }

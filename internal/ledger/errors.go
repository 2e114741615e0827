package ledger

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no modification exists for an id.
var ErrNotFound = errors.New("modification not found")

// ConflictError reports an apply that would interleave with, or silently
// overwrite, another modification of the same target. Last-writer-wins is
// explicitly disallowed: the second apply fails, it never overwrites.
type ConflictError struct {
	TargetPath string
	Reason     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.TargetPath, e.Reason)
}

// InvalidTransitionError reports an attempted illegal lifecycle transition.
// The record is left unchanged.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("modification %s: illegal transition %s -> %s", e.ID, e.From, e.To)
}

// PolicyViolationError reports an attempt to apply a blocked modification.
// The Critical floor is enforced here as well as at the gate.
type PolicyViolationError struct {
	ID        string
	Rationale string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("modification %s: refusing to apply blocked change: %s", e.ID, e.Rationale)
}

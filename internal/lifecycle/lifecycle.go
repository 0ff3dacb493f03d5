// Package lifecycle computes derived task state and validates the
// invariants that must hold over a Task's lifecycle flags. Every function
// here is pure and storage-free: no repository calls, no I/O.
package lifecycle

import (
	"fmt"

	"github.com/steveyegge/overseer/internal/model"
)

// State derives the lifecycle state from a task's observable flags, using
// the fixed precedence archived > cancelled > completed > started > pending.
func State(t *model.Task) model.LifecycleState {
	switch {
	case t.Archived:
		return model.StateArchived
	case t.Cancelled:
		return model.StateCancelled
	case t.Completed:
		return model.StateCompleted
	case t.StartedAt != nil:
		return model.StateInProgress
	default:
		return model.StatePending
	}
}

// IsActiveForWork reports whether a task can still be worked: pending or
// in-progress.
func IsActiveForWork(t *model.Task) bool {
	switch State(t) {
	case model.StatePending, model.StateInProgress:
		return true
	default:
		return false
	}
}

// IsFinishedForHierarchy reports whether a task counts as "done" for the
// purposes of has_pending_children and the readiness promotion rule:
// completed or cancelled (archived tasks are always also one of the two).
func IsFinishedForHierarchy(t *model.Task) bool {
	return t.Completed || t.Cancelled
}

// SatisfiesBlocker reports whether a task, acting as a blocker, currently
// unblocks its dependents. Cancellation never satisfies a blocker.
func SatisfiesBlocker(t *model.Task) bool {
	return t.Completed && !t.Cancelled
}

// Reason enumerates an invariant violation found by ValidateInvariants.
type Reason string

const (
	ReasonCompletedAndCancelled    Reason = "completed_and_cancelled"
	ReasonArchivedWithoutFinished  Reason = "archived_without_finished"
	ReasonFlagMissingTimestamp     Reason = "flag_missing_timestamp"
)

// ViolationError reports one or more invariant violations found while
// validating a hydrated task. No hydrate path in this module calls
// ValidateInvariants, in debug builds or otherwise; it runs only where a
// caller invokes it directly.
type ViolationError struct {
	TaskID     string
	Violations []Reason
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("task %s violates invariants: %v", e.TaskID, e.Violations)
}

// ValidateInvariants checks invariants #4-#6 of the data model against a
// single hydrated task: completed and cancelled are mutually exclusive,
// archived implies completed or cancelled, and every set lifecycle flag
// has its matching timestamp set.
func ValidateInvariants(t *model.Task) error {
	var violations []Reason

	if t.Completed && t.Cancelled {
		violations = append(violations, ReasonCompletedAndCancelled)
	}
	if t.Archived && !(t.Completed || t.Cancelled) {
		violations = append(violations, ReasonArchivedWithoutFinished)
	}

	if t.Completed && t.CompletedAt == nil {
		violations = append(violations, ReasonFlagMissingTimestamp)
	}
	if t.Cancelled && t.CancelledAt == nil {
		violations = append(violations, ReasonFlagMissingTimestamp)
	}
	if t.Archived && t.ArchivedAt == nil {
		violations = append(violations, ReasonFlagMissingTimestamp)
	}

	if len(violations) > 0 {
		return &ViolationError{TaskID: t.ID, Violations: violations}
	}
	return nil
}

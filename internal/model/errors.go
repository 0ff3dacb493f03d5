package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no payload beyond their kind.
// Checked with errors.Is, the same discipline the teacher's vcs package
// uses for ErrNotInVCS, ErrRefExists, and friends.
var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrParentNotFound   = errors.New("parent not found")
	ErrBlockerNotFound  = errors.New("blocker not found")
	ErrLearningNotFound = errors.New("learning not found")

	ErrMaxDepthExceeded = errors.New("max depth exceeded")
	ErrParentCycle      = errors.New("parent cycle")
	ErrBlockerCycle     = errors.New("blocker cycle")

	ErrPendingChildren = errors.New("task has pending children")
	ErrInvalidPriority = errors.New("invalid priority")

	ErrCannotReopenActive    = errors.New("cannot reopen an active task")
	ErrCannotReopenCancelled = errors.New("cannot reopen a cancelled task")
	ErrCannotCancelCompleted = errors.New("cannot cancel a completed task")
	ErrAlreadyCancelled      = errors.New("task already cancelled")
	ErrCannotArchiveActive   = errors.New("cannot archive an active task")
	ErrAlreadyArchived       = errors.New("task already archived")
	ErrCannotModifyArchived  = errors.New("cannot modify an archived task")

	ErrCannotStartCompleted   = errors.New("cannot start a completed task")
	ErrCannotStartCancelled   = errors.New("cannot start a cancelled task")
	ErrCannotCompleteCompleted = errors.New("task already completed")
	ErrCannotCompleteArchived  = errors.New("cannot complete an archived task")
	ErrCannotCompleteCancelled = errors.New("cannot complete a cancelled task")

	// VCS-layer sentinels, mirrored from the teacher's vcs.Err* set but
	// scoped to the subset this orchestrator's VcsBackend trait names.
	ErrNotARepository   = errors.New("not a repository")
	ErrDirtyWorkingCopy = errors.New("dirty working copy")
	ErrNothingToCommit  = errors.New("nothing to commit")
	ErrBookmarkExists   = errors.New("bookmark already exists")
	ErrBookmarkNotFound = errors.New("bookmark not found")
	ErrTargetNotFound   = errors.New("checkout target not found")
)

// InvalidBlockerKind enumerates the distinct reasons add_blocker rejects an
// edge, carried by InvalidBlockerRelationError.
type InvalidBlockerKind string

const (
	BlockerKindSelf       InvalidBlockerKind = "self"
	BlockerKindAncestor   InvalidBlockerKind = "ancestor"
	BlockerKindDescendant InvalidBlockerKind = "descendant"
)

// InvalidBlockerRelationError reports why a blocker edge was rejected.
type InvalidBlockerRelationError struct {
	Kind      InvalidBlockerKind
	TaskID    string
	BlockerID string
}

func (e *InvalidBlockerRelationError) Error() string {
	return fmt.Sprintf("invalid blocker relation: %s cannot block %s (reason: %s)", e.BlockerID, e.TaskID, e.Kind)
}

// CannotAttachChildToInactiveParentError is raised when creating or
// reparenting a task under a parent that isn't active for work.
type CannotAttachChildToInactiveParentError struct {
	ParentID string
	State    LifecycleState
}

func (e *CannotAttachChildToInactiveParentError) Error() string {
	return fmt.Sprintf("cannot attach child to inactive parent %s (state: %s)", e.ParentID, e.State)
}

// BlockerCycleDetectedError is raised by resolve_start_target when a
// blocker chain revisits a node already on its path stack.
type BlockerCycleDetectedError struct {
	Chain []string
}

func (e *BlockerCycleDetectedError) Error() string {
	return fmt.Sprintf("blocker cycle detected: %v", e.Chain)
}

// NoStartableTaskError is raised by resolve_start_target when every branch
// of the blocker search dead-ends without finding an unblocked leaf.
type NoStartableTaskError struct {
	Requested string
}

func (e *NoStartableTaskError) Error() string {
	return fmt.Sprintf("no startable task found starting from %s", e.Requested)
}

// NotNextReadyReason enumerates why WorkflowService.start rejected a
// requested target in favor of a different next-ready task (or none).
type NotNextReadyReason string

const (
	ReasonHasIncompleteChildren NotNextReadyReason = "has_incomplete_children"
	ReasonBlocked               NotNextReadyReason = "blocked"
	ReasonNoReadyTasksInSubtree NotNextReadyReason = "no_ready_tasks_in_subtree"
)

// NotNextReadyError is raised when the requested start target is not the
// task the readiness engine would itself choose.
type NotNextReadyError struct {
	Requested  string
	NextReady  *string // nil when nothing is ready in the scope the readiness engine searched
	Reason     NotNextReadyReason
	Unsatisfied []string // populated when Reason == ReasonBlocked
}

func (e *NotNextReadyError) Error() string {
	next := "none"
	if e.NextReady != nil {
		next = *e.NextReady
	}
	return fmt.Sprintf("%s is not next-ready (reason: %s, next_ready: %s)", e.Requested, e.Reason, next)
}

// VcsError wraps an error surfaced by a VcsBackend implementation so callers
// can distinguish "the VCS said no" from orchestrator-internal failures
// while still inspecting the underlying cause with errors.Unwrap.
type VcsError struct {
	Op    string
	Inner error
}

func (e *VcsError) Error() string {
	return fmt.Sprintf("vcs: %s: %v", e.Op, e.Inner)
}

func (e *VcsError) Unwrap() error { return e.Inner }

// As-friendly constructors keep call sites terse; every caller below uses
// errors.Is/errors.As rather than string comparison, preserving the
// error-kind tag through the host's human/JSON rendering boundary.
func NewVcsError(op string, inner error) error {
	if inner == nil {
		return nil
	}
	return &VcsError{Op: op, Inner: inner}
}

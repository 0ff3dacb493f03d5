// Package store defines the persistence contract for tasks, blocker edges,
// and learnings. Concrete implementations (internal/store/sqlite) must
// guarantee every write listed here is atomic and that the ordering
// conventions below hold across independent queries.
package store

import (
	"context"
	"time"

	"github.com/steveyegge/overseer/internal/model"
)

// TaskFilter narrows TaskRepo.List. A nil pointer field means "don't filter
// on this dimension."
type TaskFilter struct {
	ParentID  *string
	Completed *bool
	Archived  *bool
	Depth     *model.Depth

	// Ready, when true, restricts the result to tasks that are
	// is_active_for_work and not effectively_blocked. This mirrors the
	// repository-level "ready" filter named in spec.md; the readiness DFS
	// in internal/task is the authority for next_ready/resolve_start_target,
	// this flag only services simpler "what's ready" listing queries.
	Ready bool
}

// TaskPatch carries the subset of fields to write in a partial update. A nil
// field means "leave unchanged." Only patched fields are written;
// UpdatedAt always advances regardless of what else changed.
type TaskPatch struct {
	ParentID    *string
	ParentIDSet bool // distinguishes "set to nil" from "don't touch"

	Description *string
	Context     *string
	Priority    *model.Priority
}

// TaskInput is the payload for TaskRepo.Create.
type TaskInput struct {
	ParentID    *string
	Description string
	Context     string
	Priority    model.Priority
}

// LearningFilter narrows LearningRepo.List.
type LearningFilter struct {
	TaskID       *string
	OriginTaskID *string
}

// TaskRepo is the persistence contract for tasks and blocker edges. Every
// method is atomic with respect to its own write; multi-statement callers
// (TaskService) are expected to have opened whatever transaction boundary
// the concrete implementation requires before issuing a sequence of calls
// that must be seen atomically by readers.
type TaskRepo interface {
	Create(ctx context.Context, input TaskInput) (*model.Task, error)
	Get(ctx context.Context, id string) (*model.Task, error)
	List(ctx context.Context, filter TaskFilter) ([]*model.Task, error)
	Update(ctx context.Context, id string, patch TaskPatch) (*model.Task, error)
	Delete(ctx context.Context, id string) error

	// Transition writers. Each is atomic and, where noted in spec.md,
	// idempotent: Start on an already-started task and Complete on an
	// already-completed task are not errors at this layer (the richer
	// rejection semantics live in TaskService/WorkflowService).
	Start(ctx context.Context, id string, at time.Time) (*model.Task, error)
	Complete(ctx context.Context, id string, result *string, commitSHA *string, at time.Time) (*model.Task, error)
	Reopen(ctx context.Context, id string, at time.Time) (*model.Task, error)
	Cancel(ctx context.Context, id string, at time.Time) (*model.Task, error)
	Archive(ctx context.Context, id string, at time.Time) (*model.Task, error)

	// Blocker writers.
	AddBlocker(ctx context.Context, taskID, blockerID string) error
	RemoveBlocker(ctx context.Context, taskID, blockerID string) error
	RemoveAllBlockersFor(ctx context.Context, taskID string) error
	Blockers(ctx context.Context, taskID string) ([]string, error)
	Dependents(ctx context.Context, blockerID string) ([]string, error)

	// Hierarchy queries.
	Children(ctx context.Context, parentID string) ([]*model.Task, error)
	ChildrenOrdered(ctx context.Context, parentID string) ([]*model.Task, error)
	AllDescendants(ctx context.Context, id string) ([]*model.Task, error)
	GetDepth(ctx context.Context, id string) (model.Depth, error)
	HasPendingChildren(ctx context.Context, id string) (bool, error)
	ListRoots(ctx context.Context) ([]*model.Task, error)
	TaskExists(ctx context.Context, id string) (bool, error)

	// VCS field writers, used only by WorkflowService.
	SetBookmark(ctx context.Context, id string, bookmark *string) error
	SetStartCommit(ctx context.Context, id string, commit *string) error
	ClearBookmark(ctx context.Context, id string) error

	// Search is a substring scan over description/context/result, the
	// Non-goal on full-text indexing ruling out anything fancier.
	Search(ctx context.Context, substring string) ([]*model.Task, error)
}

// LearningRepo is the persistence contract for learnings.
type LearningRepo interface {
	Add(ctx context.Context, l model.Learning) (*model.Learning, error)
	List(ctx context.Context, filter LearningFilter) ([]*model.Learning, error)
	DeleteAllForTask(ctx context.Context, taskID string) error
}

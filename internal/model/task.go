// Package model defines the persisted and derived shapes shared by every
// layer of the orchestrator: tasks, blocker edges, learnings, and the
// lifecycle state they're derived into.
package model

import "time"

// Depth bounds a task's position in the milestone -> task -> subtask
// hierarchy.
type Depth int

const (
	DepthMilestone Depth = 0
	DepthTask      Depth = 1
	DepthSubtask   Depth = 2

	// MaxDepth is the deepest a task may sit: invariant #1 of the data model.
	MaxDepth Depth = DepthSubtask
)

// Priority 0 is highest; 2 is lowest. No other values are valid.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityMedium  Priority = 1
	PriorityLowest  Priority = 2
)

// ValidPriority reports whether p is one of the three accepted values.
func ValidPriority(p Priority) bool {
	return p == PriorityHighest || p == PriorityMedium || p == PriorityLowest
}

// LifecycleState is derived, never persisted, from a Task's flags.
type LifecycleState string

const (
	StatePending    LifecycleState = "pending"
	StateInProgress LifecycleState = "in_progress"
	StateCompleted  LifecycleState = "completed"
	StateCancelled  LifecycleState = "cancelled"
	StateArchived   LifecycleState = "archived"
)

// Task is the persisted record plus (when hydrated) its derived fields.
//
// Structural fields are written directly by TaskRepo. Lifecycle flags are
// observable booleans with matching timestamps; LifecycleState is always
// computed from them by internal/lifecycle, never stored.
type Task struct {
	ID          string
	ParentID    *string
	Description string
	Context     string
	Priority    Priority

	CreatedAt time.Time
	UpdatedAt time.Time

	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	ArchivedAt  *time.Time

	Completed bool
	Cancelled bool
	Archived  bool

	Result      *string
	CommitSHA   *string
	Bookmark    *string
	StartCommit *string

	// Derived fields. Recomputed on every hydrate; TaskRepo implementations
	// must not persist them (invariant: depth and effectively_blocked are
	// never cached columns).
	Depth               Depth
	EffectivelyBlocked  bool
	ContextChain        ContextChain
	InheritedLearnings  []Learning
}

// ContextChain is the own/parent/milestone context triple a task inherits,
// assembled by walking the parent chain once per hydrate (capped at
// MaxDepth hops).
type ContextChain struct {
	Own       string
	Parent    string
	Milestone string
}

// BlockerEdge is a (task_id, blocker_id) pair: task_id is blocked until
// blocker_id satisfies_blocker.
type BlockerEdge struct {
	TaskID    string
	BlockerID string
}

// Learning is a per-task note that bubbles toward ancestors on completion.
// OriginTaskID is preserved through bubbling so the (task_id, origin_task_id,
// content) uniqueness constraint makes repeated bubbling a no-op.
type Learning struct {
	ID           string
	TaskID       string
	Content      string
	OriginTaskID string
	CreatedAt    time.Time
}

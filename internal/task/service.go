// Package task implements TaskService: CRUD plus the structural invariants
// (depth bound, cycle checks, transition guards) and the readiness engine
// that answers "what's next" over the task forest.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/steveyegge/overseer/internal/lifecycle"
	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/store"
)

// Service is TaskService (component E). It owns no transaction boundary of
// its own; the repository implementation is responsible for the atomicity
// guarantees spec.md §4.2 demands of each call. The mutex here is the
// single-live-call discipline of the resource model: one process, one
// store, one operation in flight at a time.
type Service struct {
	mu        sync.Mutex
	repo      store.TaskRepo
	learnings store.LearningRepo
}

// NewService wires a TaskService over the given repositories.
func NewService(repo store.TaskRepo, learnings store.LearningRepo) *Service {
	return &Service{repo: repo, learnings: learnings}
}

// CreateInput is TaskService.Create's payload: the bare store.TaskInput
// plus the blockers to attach once the task row has been created.
type CreateInput struct {
	ParentID    *string
	Description string
	Context     string
	Priority    model.Priority
	Blockers    []string
}

// Create validates structural invariants and persists a new task.
func (s *Service) Create(ctx context.Context, input CreateInput) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !model.ValidPriority(input.Priority) {
		return nil, model.ErrInvalidPriority
	}

	var parent *model.Task
	if input.ParentID != nil {
		p, err := s.repo.Get(ctx, *input.ParentID)
		if err != nil {
			if errors.Is(err, model.ErrTaskNotFound) {
				return nil, model.ErrParentNotFound
			}
			return nil, err
		}
		if !lifecycle.IsActiveForWork(p) {
			return nil, &model.CannotAttachChildToInactiveParentError{ParentID: p.ID, State: lifecycle.State(p)}
		}
		if p.Depth >= model.MaxDepth {
			return nil, model.ErrMaxDepthExceeded
		}
		parent = p
	}

	for _, blockerID := range input.Blockers {
		if err := s.validateBlockerRelation(ctx, blockerID, parent); err != nil {
			return nil, err
		}
	}

	created, err := s.repo.Create(ctx, store.TaskInput{
		ParentID:    input.ParentID,
		Description: input.Description,
		Context:     input.Context,
		Priority:    input.Priority,
	})
	if err != nil {
		return nil, err
	}

	for _, blockerID := range input.Blockers {
		if err := s.repo.AddBlocker(ctx, created.ID, blockerID); err != nil {
			return nil, err
		}
	}

	return s.repo.Get(ctx, created.ID)
}

// validateBlockerRelation checks a would-be blocker against a not-yet-persisted
// task whose parent is parent (nil for a root task): the blocker must exist
// and, when a parent is given, be neither the parent nor any ancestor of it.
func (s *Service) validateBlockerRelation(ctx context.Context, blockerID string, parent *model.Task) error {
	exists, err := s.repo.TaskExists(ctx, blockerID)
	if err != nil {
		return err
	}
	if !exists {
		return model.ErrBlockerNotFound
	}
	if parent == nil {
		return nil
	}
	if blockerID == parent.ID {
		return &model.InvalidBlockerRelationError{Kind: model.BlockerKindAncestor, BlockerID: blockerID}
	}
	ancestors, err := s.ancestorIDs(ctx, parent.ID)
	if err != nil {
		return err
	}
	for _, a := range ancestors {
		if a == blockerID {
			return &model.InvalidBlockerRelationError{Kind: model.BlockerKindAncestor, BlockerID: blockerID}
		}
	}
	return nil
}

// UpdatePatch is TaskService.Update's payload.
type UpdatePatch struct {
	ParentID    *string
	ParentIDSet bool
	Description *string
	Context     *string
	Priority    *model.Priority
}

// Update applies a partial patch, enforcing the structural invariants a
// reparent can disturb: target must not be archived, the new parent must be
// active and shallow enough, and existing blockers must stay outside the
// new ancestor chain.
func (s *Service) Update(ctx context.Context, id string, patch UpdatePatch) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if lifecycle.State(target) == model.StateArchived {
		return nil, model.ErrCannotModifyArchived
	}
	if patch.Priority != nil && !model.ValidPriority(*patch.Priority) {
		return nil, model.ErrInvalidPriority
	}

	var newParentID *string
	if patch.ParentIDSet {
		newParentID = patch.ParentID
		if newParentID != nil {
			newParent, err := s.repo.Get(ctx, *newParentID)
			if err != nil {
				if errors.Is(err, model.ErrTaskNotFound) {
					return nil, model.ErrParentNotFound
				}
				return nil, err
			}
			if !lifecycle.IsActiveForWork(newParent) {
				return nil, &model.CannotAttachChildToInactiveParentError{ParentID: newParent.ID, State: lifecycle.State(newParent)}
			}
			if newParent.Depth >= model.MaxDepth {
				return nil, model.ErrMaxDepthExceeded
			}

			ancestors, err := s.ancestorIDs(ctx, newParent.ID)
			if err != nil {
				return nil, err
			}
			for _, a := range ancestors {
				if a == id {
					return nil, model.ErrParentCycle
				}
			}
			if newParent.ID == id {
				return nil, model.ErrParentCycle
			}

			maxSubtree, err := s.maxSubtreeDepth(ctx, id)
			if err != nil {
				return nil, err
			}
			if int(newParent.Depth)+1+maxSubtree > int(model.MaxDepth) {
				return nil, model.ErrMaxDepthExceeded
			}

			blockerIDs, err := s.repo.Blockers(ctx, id)
			if err != nil {
				return nil, err
			}
			newAncestors := append(append([]string{}, ancestors...), newParent.ID)
			for _, b := range blockerIDs {
				for _, a := range newAncestors {
					if b == a {
						return nil, &model.InvalidBlockerRelationError{Kind: model.BlockerKindAncestor, TaskID: id, BlockerID: b}
					}
				}
			}
		}
	}

	return s.repo.Update(ctx, id, store.TaskPatch{
		ParentID:    newParentID,
		ParentIDSet: patch.ParentIDSet,
		Description: patch.Description,
		Context:     patch.Context,
		Priority:    patch.Priority,
	})
}

// maxSubtreeDepth returns how many hops deep id's deepest descendant sits
// below id itself (0 for a leaf).
func (s *Service) maxSubtreeDepth(ctx context.Context, id string) (int, error) {
	children, err := s.repo.Children(ctx, id)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, c := range children {
		d, err := s.maxSubtreeDepth(ctx, c.ID)
		if err != nil {
			return 0, err
		}
		if d+1 > max {
			max = d + 1
		}
	}
	return max, nil
}

func (s *Service) ancestorIDs(ctx context.Context, id string) ([]string, error) {
	var chain []string
	cur := id
	for {
		t, err := s.repo.Get(ctx, cur)
		if err != nil {
			return nil, err
		}
		if t.ParentID == nil {
			break
		}
		chain = append(chain, *t.ParentID)
		cur = *t.ParentID
	}
	return chain, nil
}

// Start sets started_at if unset. Idempotent. The richer semantics
// (bookmarking, readiness validation) live in WorkflowService.
func (s *Service) Start(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Start(ctx, id, time.Now().UTC())
}

// CompleteWithLearnings performs the DB-side half of completion: rejects if
// children are still pending, inserts the provided learnings (tagged with
// this task as their origin), marks the task completed, and bubbles every
// learning currently on the task to its immediate parent. Blocker edges are
// preserved, never removed.
func (s *Service) CompleteWithLearnings(ctx context.Context, id string, result *string, commitSHA *string, learningContents []string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	state := lifecycle.State(t)
	if state == model.StateArchived {
		return nil, model.ErrCannotCompleteArchived
	}
	if state == model.StateCancelled {
		return nil, model.ErrCannotCompleteCancelled
	}
	if state == model.StateCompleted {
		return t, nil // idempotent
	}

	pending, err := s.repo.HasPendingChildren(ctx, id)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, model.ErrPendingChildren
	}

	now := time.Now().UTC()
	for _, content := range learningContents {
		if _, err := s.learnings.Add(ctx, model.Learning{
			TaskID:       id,
			Content:      content,
			OriginTaskID: id,
			CreatedAt:    now,
		}); err != nil {
			return nil, fmt.Errorf("task: add learning: %w", err)
		}
	}

	completed, err := s.repo.Complete(ctx, id, result, commitSHA, now)
	if err != nil {
		return nil, err
	}

	if completed.ParentID != nil {
		if err := s.bubbleLearnings(ctx, id, *completed.ParentID); err != nil {
			return nil, err
		}
	}

	return completed, nil
}

// bubbleLearnings copies every learning currently attached to fromID onto
// toID, preserving OriginTaskID. The (task_id, origin_task_id, content)
// uniqueness constraint makes this safe under retry: re-bubbling an
// already-bubbled learning is a no-op.
func (s *Service) bubbleLearnings(ctx context.Context, fromID, toID string) error {
	owned, err := s.learnings.List(ctx, store.LearningFilter{TaskID: &fromID})
	if err != nil {
		return err
	}
	for _, l := range owned {
		if _, err := s.learnings.Add(ctx, model.Learning{
			TaskID:       toID,
			Content:      l.Content,
			OriginTaskID: l.OriginTaskID,
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("task: bubble learning: %w", err)
		}
	}
	return nil
}

// Reopen moves Completed -> Pending. Rejected from every other source state.
func (s *Service) Reopen(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch lifecycle.State(t) {
	case model.StateCompleted:
		return s.repo.Reopen(ctx, id, time.Now().UTC())
	case model.StateCancelled:
		return nil, model.ErrCannotReopenCancelled
	case model.StateArchived:
		return nil, model.ErrCannotModifyArchived
	default:
		return nil, model.ErrCannotReopenActive
	}
}

// Cancel moves Pending/InProgress -> Cancelled. Requires no pending
// children, the same check completion requires.
func (s *Service) Cancel(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch lifecycle.State(t) {
	case model.StatePending, model.StateInProgress:
		pending, err := s.repo.HasPendingChildren(ctx, id)
		if err != nil {
			return nil, err
		}
		if pending {
			return nil, model.ErrPendingChildren
		}
		return s.repo.Cancel(ctx, id, time.Now().UTC())
	case model.StateCompleted:
		return nil, model.ErrCannotCancelCompleted
	case model.StateCancelled:
		return nil, model.ErrAlreadyCancelled
	default: // Archived
		return nil, model.ErrCannotModifyArchived
	}
}

// Archive moves Completed/Cancelled -> Archived. On a milestone, every
// descendant must already be finished; the cascade then archives every
// non-archived descendant before the milestone itself (children-first, so
// invariants are provable at each step — spec.md's resolved open question).
func (s *Service) Archive(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch lifecycle.State(t) {
	case model.StateArchived:
		return nil, model.ErrAlreadyArchived
	case model.StateCompleted, model.StateCancelled:
		// proceed
	default:
		return nil, model.ErrCannotArchiveActive
	}

	if t.Depth == model.DepthMilestone {
		descendants, err := s.repo.AllDescendants(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, d := range descendants {
			if !lifecycle.IsFinishedForHierarchy(d) {
				return nil, model.ErrCannotArchiveActive
			}
		}
		// children-first: deepest descendants archived before shallower ones.
		byDepthDesc := append([]*model.Task{}, descendants...)
		sortByDepthDescending(byDepthDesc)
		now := time.Now().UTC()
		for _, d := range byDepthDesc {
			if d.Archived {
				continue
			}
			if _, err := s.repo.Archive(ctx, d.ID, now); err != nil {
				return nil, err
			}
		}
	}

	return s.repo.Archive(ctx, id, time.Now().UTC())
}

func sortByDepthDescending(tasks []*model.Task) {
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && tasks[j].Depth > tasks[j-1].Depth; j-- {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
		}
	}
}

// Delete removes a task unconditionally; the repository cascades.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Delete(ctx, id)
}

// Get returns a hydrated task.
func (s *Service) Get(ctx context.Context, id string) (*model.Task, error) {
	return s.repo.Get(ctx, id)
}

// AddBlocker validates and inserts a blocker edge. Idempotent on an
// existing edge.
func (s *Service) AddBlocker(ctx context.Context, taskID, blockerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.repo.TaskExists(ctx, blockerID)
	if err != nil {
		return err
	}
	if !exists {
		return model.ErrBlockerNotFound
	}
	if taskID == blockerID {
		return &model.InvalidBlockerRelationError{Kind: model.BlockerKindSelf, TaskID: taskID, BlockerID: blockerID}
	}

	ancestors, err := s.ancestorIDs(ctx, taskID)
	if err != nil {
		return err
	}
	for _, a := range ancestors {
		if a == blockerID {
			return &model.InvalidBlockerRelationError{Kind: model.BlockerKindAncestor, TaskID: taskID, BlockerID: blockerID}
		}
	}

	descendants, err := s.repo.AllDescendants(ctx, taskID)
	if err != nil {
		return err
	}
	for _, d := range descendants {
		if d.ID == blockerID {
			return &model.InvalidBlockerRelationError{Kind: model.BlockerKindDescendant, TaskID: taskID, BlockerID: blockerID}
		}
	}

	cyclic, err := s.wouldCreateBlockerCycle(ctx, taskID, blockerID)
	if err != nil {
		return err
	}
	if cyclic {
		return model.ErrBlockerCycle
	}

	return s.repo.AddBlocker(ctx, taskID, blockerID)
}

// wouldCreateBlockerCycle reports whether adding the edge taskID->blockerID
// (taskID is blocked by blockerID) would create a cycle in the blocker DAG:
// true iff blockerID can already (transitively, through its own blockers)
// reach taskID.
func (s *Service) wouldCreateBlockerCycle(ctx context.Context, taskID, blockerID string) (bool, error) {
	visited := map[string]bool{}
	var dfs func(node string) (bool, error)
	dfs = func(node string) (bool, error) {
		if node == taskID {
			return true, nil
		}
		if visited[node] {
			return false, nil
		}
		visited[node] = true
		blockers, err := s.repo.Blockers(ctx, node)
		if err != nil {
			return false, err
		}
		for _, b := range blockers {
			found, err := dfs(b)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
		return false, nil
	}
	return dfs(blockerID)
}

// RemoveBlocker removes a blocker edge; not an error if it didn't exist.
func (s *Service) RemoveBlocker(ctx context.Context, taskID, blockerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.RemoveBlocker(ctx, taskID, blockerID)
}

// Repo exposes the underlying TaskRepo for callers (WorkflowService,
// ExportService) that need raw repository access beyond TaskService's own
// surface.
func (s *Service) Repo() store.TaskRepo { return s.repo }

// Learnings exposes the underlying LearningRepo for the same reason.
func (s *Service) Learnings() store.LearningRepo { return s.learnings }

// Package workflow implements WorkflowService: the two-phase coordinator
// that couples a task's lifecycle transitions to its version-control
// bookmark. Every write here follows the same discipline the teacher's
// daemon sync loop follows for its own VCS-coupled commits: touch the VCS
// first, only persist to the database once the VCS side is durable, and
// treat any subsequent cleanup (deleting a bookmark, clearing a field) as
// best-effort.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/steveyegge/overseer/internal/lifecycle"
	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/task"
	"github.com/steveyegge/overseer/internal/vcsbackend"
)

const (
	completeCommitPrefix  = "Complete"
	milestoneCommitPrefix = "Milestone"
)

// Service is WorkflowService (component F): it composes TaskService with a
// VcsBackend and owns every operation that must touch both.
type Service struct {
	tasks  *task.Service
	vcs    vcsbackend.VcsBackend
	logger *log.Logger // may be nil; best-effort cleanup failures are logged through it
}

// NewService wires a WorkflowService over an already-constructed
// TaskService and VcsBackend. logger may be nil, in which case best-effort
// cleanup failures are silently swallowed rather than logged.
func NewService(tasks *task.Service, vcs vcsbackend.VcsBackend, logger *log.Logger) *Service {
	return &Service{tasks: tasks, vcs: vcs, logger: logger}
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func bookmarkName(taskID string) string {
	return "task/" + taskID
}

// commitPrefixFor picks the commit-message prefix spec.md names for a
// completion commit: "Milestone:" for a depth-0 task, "Complete:" for
// everything else.
func commitPrefixFor(depth model.Depth) string {
	if depth == model.DepthMilestone {
		return milestoneCommitPrefix
	}
	return completeCommitPrefix
}

func commitMessage(prefix, description string, result *string) string {
	msg := prefix + ": " + description
	if result != nil && *result != "" {
		msg += "\n\n" + *result
	}
	return msg
}

// Start begins work on taskID: validates it is the task the readiness
// engine would itself pick within its own subtree, creates (or reuses) its
// bookmark, checks it out, stamps its own and any still-pending ancestors'
// started_at, and records the VCS start commit. Calling Start on an
// already-in-progress task is a no-op fast path.
func (s *Service) Start(ctx context.Context, taskID string) (*model.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if lifecycle.State(t) == model.StateInProgress {
		return t, nil // idempotent fast path
	}
	switch lifecycle.State(t) {
	case model.StateCompleted:
		return nil, model.ErrCannotStartCompleted
	case model.StateCancelled:
		return nil, model.ErrCannotStartCancelled
	case model.StateArchived:
		return nil, model.ErrCannotModifyArchived
	}

	if err := s.validateNextReady(ctx, t); err != nil {
		return nil, err
	}

	name := bookmarkName(taskID)
	if err := s.vcs.CreateBookmark(ctx, name, ""); err != nil && !errors.Is(err, model.ErrBookmarkExists) {
		return nil, model.NewVcsError("create_bookmark", err)
	}
	if err := s.vcs.Checkout(ctx, name); err != nil {
		return nil, model.NewVcsError("checkout", err)
	}
	startCommit, err := s.vcs.CurrentCommitID(ctx)
	if err != nil {
		return nil, model.NewVcsError("current_commit_id", err)
	}

	repo := s.tasks.Repo()
	if err := repo.SetBookmark(ctx, taskID, &name); err != nil {
		return nil, err
	}
	if err := repo.SetStartCommit(ctx, taskID, &startCommit); err != nil {
		return nil, err
	}

	started, err := s.tasks.Start(ctx, taskID)
	if err != nil {
		return nil, err
	}

	// Upward started_at stamping: a subtask starting work implies its
	// still-pending ancestors are now in progress too.
	cur := started.ParentID
	for cur != nil {
		parent, err := s.tasks.Get(ctx, *cur)
		if err != nil {
			return nil, err
		}
		if lifecycle.State(parent) != model.StatePending {
			break
		}
		if _, err := s.tasks.Start(ctx, parent.ID); err != nil {
			return nil, err
		}
		cur = parent.ParentID
	}

	return s.tasks.Get(ctx, taskID)
}

// validateNextReady rejects targets that aren't the readiness engine's own
// pick within their own subtree, carrying enough detail for the caller to
// explain why (no ready tasks in the subtree, blocked, or has pending
// children) and the task the engine would pick instead: the next ready task
// in t's subtree, or in the whole forest when t itself is blocked.
func (s *Service) validateNextReady(ctx context.Context, t *model.Task) error {
	scope := &t.ID
	if t.EffectivelyBlocked {
		scope = nil
	}
	ready, err := s.tasks.NextReady(ctx, scope)
	if err != nil {
		return err
	}
	var nextID *string
	if ready != nil {
		nextID = &ready.ID
	}

	pending, err := s.tasks.Repo().HasPendingChildren(ctx, t.ID)
	if err != nil {
		return err
	}
	if pending {
		return &model.NotNextReadyError{Requested: t.ID, NextReady: nextID, Reason: model.ReasonHasIncompleteChildren}
	}

	if t.EffectivelyBlocked {
		unsatisfied, err := s.unsatisfiedBlockerChain(ctx, t)
		if err != nil {
			return err
		}
		return &model.NotNextReadyError{Requested: t.ID, NextReady: nextID, Reason: model.ReasonBlocked, Unsatisfied: unsatisfied}
	}

	if ready == nil || ready.ID != t.ID {
		return &model.NotNextReadyError{Requested: t.ID, NextReady: nextID, Reason: model.ReasonNoReadyTasksInSubtree}
	}
	return nil
}

func (s *Service) topAncestor(ctx context.Context, t *model.Task) (string, error) {
	cur := t
	for cur.ParentID != nil {
		p, err := s.tasks.Get(ctx, *cur.ParentID)
		if err != nil {
			return "", err
		}
		cur = p
	}
	return cur.ID, nil
}

func (s *Service) unsatisfiedBlockerChain(ctx context.Context, t *model.Task) ([]string, error) {
	var out []string
	cur := t
	for {
		blockers, err := s.tasks.Repo().Blockers(ctx, cur.ID)
		if err != nil {
			return nil, err
		}
		for _, b := range blockers {
			bt, err := s.tasks.Get(ctx, b)
			if err != nil {
				return nil, err
			}
			if !lifecycle.SatisfiesBlocker(bt) {
				out = append(out, b)
			}
		}
		if cur.ParentID == nil {
			break
		}
		p, err := s.tasks.Get(ctx, *cur.ParentID)
		if err != nil {
			return nil, err
		}
		cur = p
	}
	return out, nil
}

// StartFollowBlockers resolves the task actually startable from root
// (walking blockers as needed) and starts it.
func (s *Service) StartFollowBlockers(ctx context.Context, root string) (*model.Task, error) {
	target, err := s.tasks.ResolveStartTarget(ctx, root)
	if err != nil {
		return nil, err
	}
	return s.Start(ctx, target.ID)
}

// CompleteRequest is WorkflowService.Complete's payload.
type CompleteRequest struct {
	TaskID        string
	Result        *string
	Learnings     []string
	CommitMessage string
}

// Complete finishes taskID: commits any outstanding working-copy changes
// first (VCS-first), then persists the completion and learnings, then
// best-effort cleans up the task's bookmark(s). Depth-0 tasks are
// milestones: they get a "Milestone:" commit prefix instead of "Complete:"
// and their cleanup sweeps every bookmarked descendant, not just their own.
// A completed parent whose last pending child just finished is
// auto-completed too, recursively, guarded by its own effectively_blocked
// and has_pending_children state so an already-blocked or still-busy
// ancestor is left alone.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*model.Task, error) {
	t, err := s.tasks.Get(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	if lifecycle.State(t) == model.StateCompleted {
		return t, nil // idempotent fast path
	}

	message := req.CommitMessage
	if message == "" {
		message = commitMessage(commitPrefixFor(t.Depth), t.Description, req.Result)
	}

	completed, commitSHA, err := s.finishTask(ctx, t, req.Result, message, req.Learnings)
	if err != nil {
		return nil, err
	}

	if completed.ParentID != nil {
		if err := s.bubbleAutoComplete(ctx, *completed.ParentID, commitSHA); err != nil {
			return nil, err
		}
	}

	return s.tasks.Get(ctx, req.TaskID)
}

// finishTask runs the commit-then-persist-then-cleanup sequence shared by
// an explicit Complete call and a bubble-up auto-completion: commit
// whatever's dirty (or reuse the current commit), write the completion and
// learnings to the DB, and dispatch best-effort bookmark cleanup by depth.
func (s *Service) finishTask(ctx context.Context, t *model.Task, result *string, message string, learnings []string) (*model.Task, *string, error) {
	commitSHA, err := s.commitIfDirty(ctx, message)
	if err != nil {
		return nil, nil, err
	}

	completed, err := s.tasks.CompleteWithLearnings(ctx, t.ID, result, commitSHA, learnings)
	if err != nil {
		return nil, nil, err
	}

	if completed.Depth == model.DepthMilestone {
		s.cleanupMilestoneBookmarks(ctx, completed)
	} else {
		s.cleanupBookmark(ctx, completed)
	}

	return completed, commitSHA, nil
}

func (s *Service) commitIfDirty(ctx context.Context, message string) (*string, error) {
	clean, err := s.vcs.IsClean(ctx)
	if err != nil {
		return nil, model.NewVcsError("is_clean", err)
	}
	if clean {
		cur, err := s.vcs.CurrentCommitID(ctx)
		if err != nil {
			return nil, model.NewVcsError("current_commit_id", err)
		}
		if cur == "" {
			return nil, nil
		}
		return &cur, nil
	}

	result, err := s.vcs.Commit(ctx, message)
	if err != nil {
		if errors.Is(err, model.ErrNothingToCommit) {
			return nil, nil
		}
		return nil, model.NewVcsError("commit", err)
	}
	return &result.ID, nil
}

// cleanupBookmark is best-effort: every failure is logged and swallowed,
// never propagated, since the DB write that matters has already landed by
// the time this runs. It checks out the task's own start commit (falling
// back to the current commit) before deleting the bookmark, then clears the
// bookmark field in the store.
func (s *Service) cleanupBookmark(ctx context.Context, t *model.Task) {
	if t.Bookmark == nil {
		return
	}
	target, err := s.checkoutTarget(ctx, t.StartCommit)
	if err != nil {
		s.logf("best-effort bookmark cleanup for %s: %v", t.ID, err)
		return
	}
	if target == "" {
		s.logf("best-effort bookmark cleanup for %s: no checkout target available, skipping", t.ID)
		return
	}
	if err := s.vcs.Checkout(ctx, target); err != nil {
		s.logf("best-effort bookmark cleanup for %s: checkout %s: %v", t.ID, target, err)
		return
	}
	if err := s.deleteBookmark(ctx, t.ID, *t.Bookmark); err != nil {
		s.logf("best-effort bookmark cleanup for %s: %v", t.ID, err)
	}
}

// cleanupMilestoneBookmarks is the milestone-completion variant of
// cleanupBookmark: it checks out a single target and then sweeps the
// bookmark of the milestone itself plus every descendant that still holds
// one. The checkout target falls back from the milestone's own start
// commit, to any descendant's start commit, to the current commit; if none
// of those is available the whole sweep is skipped.
func (s *Service) cleanupMilestoneBookmarks(ctx context.Context, milestone *model.Task) {
	descendants, err := s.tasks.Repo().AllDescendants(ctx, milestone.ID)
	if err != nil {
		s.logf("milestone bookmark sweep for %s: list descendants: %v", milestone.ID, err)
		return
	}

	fallback := milestone.StartCommit
	if fallback == nil {
		for _, d := range descendants {
			if d.StartCommit != nil {
				fallback = d.StartCommit
				break
			}
		}
	}
	target, err := s.checkoutTarget(ctx, fallback)
	if err != nil {
		s.logf("milestone bookmark sweep for %s: %v", milestone.ID, err)
		return
	}
	if target == "" {
		s.logf("milestone bookmark sweep for %s: no checkout target available, skipping", milestone.ID)
		return
	}
	if err := s.vcs.Checkout(ctx, target); err != nil {
		s.logf("milestone bookmark sweep for %s: checkout %s: %v", milestone.ID, target, err)
		return
	}

	if milestone.Bookmark != nil {
		if err := s.deleteBookmark(ctx, milestone.ID, *milestone.Bookmark); err != nil {
			s.logf("milestone bookmark sweep for %s: %v", milestone.ID, err)
		}
	}
	for _, d := range descendants {
		if d.Bookmark == nil {
			continue
		}
		if err := s.deleteBookmark(ctx, d.ID, *d.Bookmark); err != nil {
			s.logf("milestone bookmark sweep for %s: descendant %s: %v", milestone.ID, d.ID, err)
		}
	}
}

// checkoutTarget resolves a best-effort checkout target: the preferred
// commit if one was given, else the VCS's current commit. An empty result
// with a nil error means "no target available, caller should skip."
func (s *Service) checkoutTarget(ctx context.Context, preferred *string) (string, error) {
	if preferred != nil && *preferred != "" {
		return *preferred, nil
	}
	cur, err := s.vcs.CurrentCommitID(ctx)
	if err != nil {
		return "", fmt.Errorf("current_commit_id: %w", err)
	}
	return cur, nil
}

// deleteBookmark deletes a single bookmark (tolerating ErrBookmarkNotFound)
// and clears the task's bookmark field in the store.
func (s *Service) deleteBookmark(ctx context.Context, taskID, bookmark string) error {
	if err := s.vcs.DeleteBookmark(ctx, bookmark); err != nil && !errors.Is(err, model.ErrBookmarkNotFound) {
		return fmt.Errorf("delete_bookmark %s: %w", bookmark, err)
	}
	if err := s.tasks.Repo().ClearBookmark(ctx, taskID); err != nil {
		return fmt.Errorf("clear_bookmark: %w", err)
	}
	return nil
}

// bubbleAutoComplete walks the parent chain, auto-completing each ancestor
// whose last pending child just finished until it hits one that's blocked,
// already busy, or the forest root. A non-milestone parent reuses the
// child's commitSHA rather than creating a new commit; a depth-0 (milestone)
// parent goes through the full finishTask sequence with its own
// "Milestone:"-prefixed commit, matching a direct Complete on a milestone.
func (s *Service) bubbleAutoComplete(ctx context.Context, parentID string, commitSHA *string) error {
	parent, err := s.tasks.Get(ctx, parentID)
	if err != nil {
		return err
	}
	if !lifecycle.IsActiveForWork(parent) {
		return nil
	}
	if parent.EffectivelyBlocked {
		return nil
	}
	pending, err := s.tasks.Repo().HasPendingChildren(ctx, parentID)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}

	var completedParent *model.Task
	if parent.Depth == model.DepthMilestone {
		message := commitMessage(milestoneCommitPrefix, parent.Description, nil)
		completedParent, commitSHA, err = s.finishTask(ctx, parent, nil, message, nil)
		if err != nil {
			return err
		}
	} else {
		completedParent, err = s.tasks.CompleteWithLearnings(ctx, parentID, nil, commitSHA, nil)
		if err != nil {
			return err
		}
		s.cleanupBookmark(ctx, completedParent)
	}

	if completedParent.ParentID != nil {
		return s.bubbleAutoComplete(ctx, *completedParent.ParentID, commitSHA)
	}
	return nil
}

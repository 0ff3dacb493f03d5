package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/task"
	"github.com/steveyegge/overseer/internal/task/taskmem"
	"github.com/steveyegge/overseer/internal/vcsbackend/vcsfake"
)

func newTestService() (*Service, *task.Service, *vcsfake.Fake) {
	st := taskmem.New()
	tasks := task.NewService(taskmem.NewTaskRepo(st), taskmem.NewLearningRepo(st))
	vcs := vcsfake.New()
	return NewService(tasks, vcs, nil), tasks, vcs
}

func TestStartRejectsNonLeaf(t *testing.T) {
	wf, tasks, _ := newTestService()
	ctx := context.Background()

	parent, err := tasks.Create(ctx, task.CreateInput{Description: "Parent", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if _, err := tasks.Create(ctx, task.CreateInput{ParentID: &parent.ID, Description: "Child", Priority: model.PriorityMedium}); err != nil {
		t.Fatalf("create child: %v", err)
	}

	_, err = wf.Start(ctx, parent.ID)
	var notReady *model.NotNextReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected NotNextReadyError, got %v", err)
	}
	if notReady.Reason != model.ReasonHasIncompleteChildren {
		t.Fatalf("expected ReasonHasIncompleteChildren, got %s", notReady.Reason)
	}
}

func TestStartCreatesBookmarkAndChecksOut(t *testing.T) {
	wf, tasks, vcs := newTestService()
	ctx := context.Background()

	leaf, err := tasks.Create(ctx, task.CreateInput{Description: "Leaf", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	started, err := wf.Start(ctx, leaf.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Bookmark == nil || *started.Bookmark != bookmarkName(leaf.ID) {
		t.Fatalf("expected bookmark set, got %+v", started.Bookmark)
	}
	if started.StartCommit == nil {
		t.Fatalf("expected start commit recorded")
	}

	bookmarks, err := vcs.ListBookmarks(ctx, "")
	if err != nil {
		t.Fatalf("list bookmarks: %v", err)
	}
	if len(bookmarks) != 1 {
		t.Fatalf("expected 1 bookmark on the VCS side, got %d", len(bookmarks))
	}
}

func TestStartIsIdempotent(t *testing.T) {
	wf, tasks, _ := newTestService()
	ctx := context.Background()

	leaf, err := tasks.Create(ctx, task.CreateInput{Description: "Leaf", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := wf.Start(ctx, leaf.ID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	again, err := wf.Start(ctx, leaf.ID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if again.ID != leaf.ID {
		t.Fatalf("expected idempotent re-start to return the same task")
	}
}

func TestCompleteCommitsDirtyWorkingCopyFirst(t *testing.T) {
	wf, tasks, vcs := newTestService()
	ctx := context.Background()

	leaf, err := tasks.Create(ctx, task.CreateInput{Description: "Leaf", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := wf.Start(ctx, leaf.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	vcs.MarkDirty("main.go", "modified")

	completed, err := wf.Complete(ctx, CompleteRequest{TaskID: leaf.ID, CommitMessage: "done"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.CommitSHA == nil {
		t.Fatalf("expected commit sha recorded")
	}
	if completed.Bookmark != nil {
		t.Fatalf("expected bookmark cleared after completion")
	}

	bookmarks, err := vcs.ListBookmarks(ctx, "")
	if err != nil {
		t.Fatalf("list bookmarks: %v", err)
	}
	if len(bookmarks) != 0 {
		t.Fatalf("expected bookmark deleted from the VCS side, got %d remaining", len(bookmarks))
	}
}

func TestCompleteBubblesAutoCompletionToParent(t *testing.T) {
	wf, tasks, _ := newTestService()
	ctx := context.Background()

	parent, err := tasks.Create(ctx, task.CreateInput{Description: "Parent", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := tasks.Create(ctx, task.CreateInput{ParentID: &parent.ID, Description: "Child", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	if _, err := wf.Start(ctx, child.ID); err != nil {
		t.Fatalf("start child: %v", err)
	}

	completedChild, err := wf.Complete(ctx, CompleteRequest{TaskID: child.ID, CommitMessage: "done"})
	if err != nil {
		t.Fatalf("complete child: %v", err)
	}
	_ = completedChild

	parentAfter, err := tasks.Get(ctx, parent.ID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if !parentAfter.Completed {
		t.Fatalf("expected parent auto-completed once its only child finished")
	}
}

func TestCompleteDoesNotBubbleWhenParentBlocked(t *testing.T) {
	wf, tasks, _ := newTestService()
	ctx := context.Background()

	blocker, err := tasks.Create(ctx, task.CreateInput{Description: "Blocker", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}
	parent, err := tasks.Create(ctx, task.CreateInput{Description: "Parent", Priority: model.PriorityMedium, Blockers: []string{blocker.ID}})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := tasks.Create(ctx, task.CreateInput{ParentID: &parent.ID, Description: "Child", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	if _, err := tasks.Start(ctx, child.ID); err != nil {
		t.Fatalf("start child directly: %v", err)
	}

	if _, err := wf.Complete(ctx, CompleteRequest{TaskID: child.ID, CommitMessage: "done"}); err != nil {
		t.Fatalf("complete child: %v", err)
	}

	parentAfter, err := tasks.Get(ctx, parent.ID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if parentAfter.Completed {
		t.Fatalf("expected blocked parent to NOT auto-complete")
	}
}

func TestCompleteCleanupFailureDoesNotFailTheOperation(t *testing.T) {
	wf, tasks, vcs := newTestService()
	ctx := context.Background()

	leaf, err := tasks.Create(ctx, task.CreateInput{Description: "Leaf", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := wf.Start(ctx, leaf.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	vcs.FailDeleteBookmark = errors.New("vcs unavailable")

	completed, err := wf.Complete(ctx, CompleteRequest{TaskID: leaf.ID, CommitMessage: "done"})
	if err != nil {
		t.Fatalf("complete should succeed despite a VCS cleanup failure, got: %v", err)
	}
	if !completed.Completed {
		t.Fatalf("expected the task to be completed despite the cleanup failure")
	}
	if completed.Bookmark == nil {
		t.Fatalf("expected the bookmark to remain set in the DB since cleanup never reached ClearBookmark")
	}
}

func TestCompleteDirectMilestoneUsesMilestonePrefix(t *testing.T) {
	wf, tasks, vcs := newTestService()
	ctx := context.Background()

	milestone, err := tasks.Create(ctx, task.CreateInput{Description: "Ship the feature", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	if milestone.Depth != model.DepthMilestone {
		t.Fatalf("expected a root task to be depth 0, got %d", milestone.Depth)
	}

	vcs.MarkDirty("main.go", "modified")

	if _, err := wf.Complete(ctx, CompleteRequest{TaskID: milestone.ID}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	entries, err := vcs.Log(ctx, 1)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(entries) == 0 || !strings.HasPrefix(entries[0].Message, "Milestone: ") {
		t.Fatalf("expected a Milestone: prefixed commit message, got %+v", entries)
	}
}

func TestCompleteBubbleToMilestoneSweepsDescendantBookmarks(t *testing.T) {
	wf, tasks, vcs := newTestService()
	ctx := context.Background()

	milestone, err := tasks.Create(ctx, task.CreateInput{Description: "Ship the feature", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	childA, err := tasks.Create(ctx, task.CreateInput{ParentID: &milestone.ID, Description: "A", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create childA: %v", err)
	}
	childB, err := tasks.Create(ctx, task.CreateInput{ParentID: &milestone.ID, Description: "B", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create childB: %v", err)
	}

	if _, err := wf.Start(ctx, childA.ID); err != nil {
		t.Fatalf("start childA: %v", err)
	}

	// Simulate a prior VCS cleanup failure that left childA's bookmark
	// dangling in the DB even though childA itself is completed.
	vcs.FailDeleteBookmark = errors.New("vcs unavailable")
	if _, err := wf.Complete(ctx, CompleteRequest{TaskID: childA.ID}); err != nil {
		t.Fatalf("complete childA: %v", err)
	}
	vcs.FailDeleteBookmark = nil

	childAAfter, err := tasks.Get(ctx, childA.ID)
	if err != nil {
		t.Fatalf("get childA: %v", err)
	}
	if childAAfter.Bookmark == nil {
		t.Fatalf("expected childA's bookmark to still be dangling before the milestone sweep")
	}

	if _, err := wf.Start(ctx, childB.ID); err != nil {
		t.Fatalf("start childB: %v", err)
	}
	if _, err := wf.Complete(ctx, CompleteRequest{TaskID: childB.ID}); err != nil {
		t.Fatalf("complete childB: %v", err)
	}

	milestoneAfter, err := tasks.Get(ctx, milestone.ID)
	if err != nil {
		t.Fatalf("get milestone: %v", err)
	}
	if !milestoneAfter.Completed {
		t.Fatalf("expected the milestone to auto-complete once its last child finished")
	}

	childAAfter, err = tasks.Get(ctx, childA.ID)
	if err != nil {
		t.Fatalf("get childA: %v", err)
	}
	if childAAfter.Bookmark != nil {
		t.Fatalf("expected the milestone completion sweep to clear childA's dangling bookmark")
	}
}

func TestStartFollowBlockersStartsThePrerequisite(t *testing.T) {
	wf, tasks, _ := newTestService()
	ctx := context.Background()

	blocker, err := tasks.Create(ctx, task.CreateInput{Description: "Prereq", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}
	goal, err := tasks.Create(ctx, task.CreateInput{Description: "Goal", Priority: model.PriorityMedium, Blockers: []string{blocker.ID}})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}

	started, err := wf.StartFollowBlockers(ctx, goal.ID)
	if err != nil {
		t.Fatalf("start follow blockers: %v", err)
	}
	if started.ID != blocker.ID {
		t.Fatalf("expected the blocker to be the task actually started, got %s", started.ID)
	}
}

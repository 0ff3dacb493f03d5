package export

import (
	"context"
	"testing"

	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/task"
	"github.com/steveyegge/overseer/internal/task/taskmem"
)

func TestSnapshotIncludesTasksBlockersAndLearnings(t *testing.T) {
	st := taskmem.New()
	tasks := task.NewService(taskmem.NewTaskRepo(st), taskmem.NewLearningRepo(st))
	ctx := context.Background()

	blocker, err := tasks.Create(ctx, task.CreateInput{Description: "Blocker", Priority: model.PriorityMedium})
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}
	goal, err := tasks.Create(ctx, task.CreateInput{Description: "Goal", Priority: model.PriorityMedium, Blockers: []string{blocker.ID}})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	if _, err := tasks.CompleteWithLearnings(ctx, blocker.ID, nil, nil, []string{"note"}); err != nil {
		t.Fatalf("complete blocker: %v", err)
	}

	svc := NewService(taskmem.NewTaskRepo(st), taskmem.NewLearningRepo(st))
	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if snap.Version != SnapshotVersion {
		t.Fatalf("expected version %d, got %d", SnapshotVersion, snap.Version)
	}
	if len(snap.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(snap.Tasks))
	}
	if len(snap.Blockers) != 1 || snap.Blockers[0].TaskID != goal.ID || snap.Blockers[0].BlockerID != blocker.ID {
		t.Fatalf("expected 1 blocker edge goal->blocker, got %+v", snap.Blockers)
	}
	if len(snap.Learnings) != 1 {
		t.Fatalf("expected 1 learning, got %d", len(snap.Learnings))
	}
}

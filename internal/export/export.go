// Package export implements ExportService: a point-in-time structural
// snapshot of the task forest, its blocker edges, and its learnings,
// rendered as a single versioned JSON document. The concurrent read fan-out
// mirrors the teacher's own dashboard snapshot assembly, built on
// golang.org/x/sync/errgroup rather than hand-rolled WaitGroup plumbing.
package export

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/store"
)

// SnapshotVersion is the document format version written into every
// snapshot, so a future incompatible change can be detected by readers.
const SnapshotVersion = 1

// Snapshot is the full structural export: every task, every blocker edge,
// and every learning, as of one consistent point in time.
type Snapshot struct {
	Version   int               `json:"version"`
	Tasks     []*model.Task     `json:"tasks"`
	Blockers  []model.BlockerEdge `json:"blockers"`
	Learnings []*model.Learning `json:"learnings"`
}

// Service is ExportService (component G).
type Service struct {
	tasks     store.TaskRepo
	learnings store.LearningRepo
}

// NewService wires an ExportService over the repositories it reads.
func NewService(tasks store.TaskRepo, learnings store.LearningRepo) *Service {
	return &Service{tasks: tasks, learnings: learnings}
}

// Snapshot assembles the full structural export. Tasks, blocker edges, and
// learnings are fetched concurrently; none of the three reads depends on
// another's result, so an errgroup fans them out and the first failure
// cancels the rest via ctx.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	g, ctx := errgroup.WithContext(ctx)

	var tasks []*model.Task
	var blockers []model.BlockerEdge
	var learnings []*model.Learning

	g.Go(func() error {
		t, err := s.tasks.List(ctx, store.TaskFilter{})
		if err != nil {
			return fmt.Errorf("export: list tasks: %w", err)
		}
		tasks = t
		return nil
	})

	g.Go(func() error {
		edges, err := s.collectBlockerEdges(ctx)
		if err != nil {
			return fmt.Errorf("export: collect blocker edges: %w", err)
		}
		blockers = edges
		return nil
	})

	g.Go(func() error {
		l, err := s.learnings.List(ctx, store.LearningFilter{})
		if err != nil {
			return fmt.Errorf("export: list learnings: %w", err)
		}
		learnings = l
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	sort.Slice(blockers, func(i, j int) bool {
		if blockers[i].TaskID != blockers[j].TaskID {
			return blockers[i].TaskID < blockers[j].TaskID
		}
		return blockers[i].BlockerID < blockers[j].BlockerID
	})
	sort.Slice(learnings, func(i, j int) bool { return learnings[i].ID < learnings[j].ID })

	return &Snapshot{Version: SnapshotVersion, Tasks: tasks, Blockers: blockers, Learnings: learnings}, nil
}

// collectBlockerEdges walks every root's subtree collecting (task_id,
// blocker_id) pairs. TaskRepo exposes blockers per-task, not as a bulk
// query, so this issues one Blockers call per task — acceptable at the
// scale spec.md targets (single-user, local-first).
func (s *Service) collectBlockerEdges(ctx context.Context) ([]model.BlockerEdge, error) {
	all, err := s.tasks.List(ctx, store.TaskFilter{})
	if err != nil {
		return nil, err
	}
	var edges []model.BlockerEdge
	for _, t := range all {
		blockerIDs, err := s.tasks.Blockers(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		for _, b := range blockerIDs {
			edges = append(edges, model.BlockerEdge{TaskID: t.ID, BlockerID: b})
		}
	}
	return edges, nil
}

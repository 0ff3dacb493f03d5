package task

import (
	"context"
	"strings"

	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/store"
)

// Hydrate fills in a task's ContextChain and InheritedLearnings, the two
// derived fields TaskRepo deliberately leaves blank since assembling them
// needs both TaskRepo and LearningRepo. Supplemented from original_source's
// context-chain rendering: a task's own context plus its parent's and its
// owning milestone's, and every learning recorded anywhere on its ancestor
// chain (learnings already live at the level they bubbled to, so "inherited"
// here just means "visible from here up").
func (s *Service) Hydrate(ctx context.Context, t *model.Task) error {
	chain := model.ContextChain{Own: t.Context}

	ancestors, err := s.ancestorChainTasks(ctx, t)
	if err != nil {
		return err
	}
	for _, a := range ancestors {
		switch a.Depth {
		case model.DepthMilestone:
			chain.Milestone = a.Context
		case model.DepthTask:
			chain.Parent = a.Context
		}
	}
	t.ContextChain = chain

	var inherited []model.Learning
	for _, a := range ancestors {
		ls, err := s.learnings.List(ctx, store.LearningFilter{TaskID: &a.ID})
		if err != nil {
			return err
		}
		for _, l := range ls {
			inherited = append(inherited, *l)
		}
	}
	t.InheritedLearnings = inherited
	return nil
}

func (s *Service) ancestorChainTasks(ctx context.Context, t *model.Task) ([]*model.Task, error) {
	var out []*model.Task
	cur := t.ParentID
	for cur != nil {
		p, err := s.repo.Get(ctx, *cur)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		cur = p.ParentID
	}
	return out, nil
}

// Search is a thin pass-through to the repository's substring scan,
// supplemented from the original implementation's plain-text search over
// description/context/result (no full-text index, matching spec.md's
// Non-goal on fancier search).
func (s *Service) Search(ctx context.Context, substring string) ([]*model.Task, error) {
	return s.repo.Search(ctx, strings.TrimSpace(substring))
}

// BlockerGraphEntry describes one task's outgoing blocker edges for
// diagnostic/revset-style queries, supplemented from original_source's
// blocker graph listing.
type BlockerGraphEntry struct {
	TaskID   string
	Blockers []string
}

// BlockerGraph returns the blocker edges reachable from rootID as an
// adjacency list, one entry per visited task in depth-first visit order
// starting at rootID, for diagnostic tooling (e.g. "show me the blocker
// graph rooted at X").
func (s *Service) BlockerGraph(ctx context.Context, rootID string) ([]BlockerGraphEntry, error) {
	visited := map[string]bool{}
	var out []BlockerGraphEntry

	var walk func(id string) error
	walk = func(id string) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		blockers, err := s.repo.Blockers(ctx, id)
		if err != nil {
			return err
		}
		out = append(out, BlockerGraphEntry{TaskID: id, Blockers: blockers})
		for _, b := range blockers {
			if err := walk(b); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rootID); err != nil {
		return nil, err
	}
	return out, nil
}

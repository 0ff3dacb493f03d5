package task

import (
	"context"
	"errors"

	"github.com/steveyegge/overseer/internal/lifecycle"
	"github.com/steveyegge/overseer/internal/model"
)

// NextReady answers "what's next": a depth-first search over the forest (or
// over a single root's subtree when root is non-nil) that returns the
// highest-priority unblocked leaf, applying the promotion rule that treats a
// node whose every child is finished as a leaf itself. Returns (nil, nil)
// when nothing in scope is ready.
func (s *Service) NextReady(ctx context.Context, root *string) (*model.Task, error) {
	if root != nil {
		t, err := s.repo.Get(ctx, *root)
		if err != nil {
			return nil, err
		}
		return s.dfsNextReady(ctx, t)
	}

	roots, err := s.repo.ListRoots(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range roots {
		found, err := s.dfsNextReady(ctx, r)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, nil
}

// dfsNextReady implements the per-node rule: a leaf (real or promoted)
// qualifies if it is effectively unblocked. node.EffectivelyBlocked already
// folds in every ancestor's blockers (it's recomputed fresh on hydrate), so
// no separate ancestor bookkeeping is needed here.
func (s *Service) dfsNextReady(ctx context.Context, node *model.Task) (*model.Task, error) {
	if !lifecycle.IsActiveForWork(node) {
		return nil, nil
	}

	children, err := s.repo.ChildrenOrdered(ctx, node.ID)
	if err != nil {
		return nil, err
	}

	unblocked := !node.EffectivelyBlocked

	if len(children) == 0 {
		if unblocked {
			return node, nil
		}
		return nil, nil
	}

	allFinished := true
	for _, c := range children {
		found, err := s.dfsNextReady(ctx, c)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
		if !lifecycle.IsFinishedForHierarchy(c) {
			allFinished = false
		}
	}

	if allFinished && unblocked {
		return node, nil
	}
	return nil, nil
}

// ResolveStartTarget implements start_follow_blockers' search: given a
// user-selected root, enumerate every incomplete leaf under it (same
// promotion rule as NextReady), and for each walk root->leaf looking for the
// first node whose OWN blockers (not those inherited from ancestors) are
// unsatisfied. A leaf with no such node is the target. Otherwise, recurse
// into each unsatisfied blocker as a new root, tracking visited blockers on
// a path stack to detect cycles.
func (s *Service) ResolveStartTarget(ctx context.Context, root string) (*model.Task, error) {
	return s.resolveStartTarget(ctx, root, nil)
}

func (s *Service) resolveStartTarget(ctx context.Context, root string, stack []string) (*model.Task, error) {
	if containsID(stack, root) {
		return nil, &model.BlockerCycleDetectedError{Chain: append(append([]string{}, stack...), root)}
	}
	nextStack := append(append([]string{}, stack...), root)

	rootTask, err := s.repo.Get(ctx, root)
	if err != nil {
		return nil, err
	}

	leaves, err := s.incompleteLeavesUnder(ctx, rootTask)
	if err != nil {
		return nil, err
	}

	for _, leaf := range leaves {
		path, err := s.pathFromTo(ctx, rootTask.ID, leaf.ID)
		if err != nil {
			return nil, err
		}

		blocked, unsatisfied, err := s.firstBlockedOnPath(ctx, path)
		if err != nil {
			return nil, err
		}
		if blocked == nil {
			return leaf, nil
		}

		for _, b := range unsatisfied {
			result, err := s.resolveStartTarget(ctx, b, nextStack)
			if err != nil {
				var cycleErr *model.BlockerCycleDetectedError
				if errors.As(err, &cycleErr) {
					return nil, err
				}
				var deadEnd *model.NoStartableTaskError
				if errors.As(err, &deadEnd) {
					continue // this branch dead-ended; try the next blocker or leaf
				}
				return nil, err
			}
			if result != nil {
				return result, nil
			}
		}
	}

	return nil, &model.NoStartableTaskError{Requested: root}
}

// incompleteLeavesUnder returns, in document (children_ordered) order,
// every real leaf and every promoted leaf (a node whose children are all
// finished) under node that is not itself finished.
func (s *Service) incompleteLeavesUnder(ctx context.Context, node *model.Task) ([]*model.Task, error) {
	children, err := s.repo.ChildrenOrdered(ctx, node.ID)
	if err != nil {
		return nil, err
	}

	if len(children) == 0 {
		if !lifecycle.IsFinishedForHierarchy(node) {
			return []*model.Task{node}, nil
		}
		return nil, nil
	}

	var out []*model.Task
	allFinished := true
	for _, c := range children {
		sub, err := s.incompleteLeavesUnder(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
		if !lifecycle.IsFinishedForHierarchy(c) {
			allFinished = false
		}
	}

	if allFinished && !lifecycle.IsFinishedForHierarchy(node) {
		out = append(out, node)
	}
	return out, nil
}

// pathFromTo returns the chain of tasks from rootID to leafID inclusive,
// root-first, by walking leafID's parent chain up to rootID.
func (s *Service) pathFromTo(ctx context.Context, rootID, leafID string) ([]*model.Task, error) {
	var ids []string
	cur := leafID
	for {
		ids = append(ids, cur)
		if cur == rootID {
			break
		}
		t, err := s.repo.Get(ctx, cur)
		if err != nil {
			return nil, err
		}
		if t.ParentID == nil {
			break
		}
		cur = *t.ParentID
	}

	path := make([]*model.Task, len(ids))
	for i, id := range ids {
		t, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		path[len(ids)-1-i] = t // reverse: ids is leaf..root, path is root..leaf
	}
	return path, nil
}

// firstBlockedOnPath returns the first node (root-to-leaf order) with
// unsatisfied own blockers, and the ids of those blockers.
func (s *Service) firstBlockedOnPath(ctx context.Context, path []*model.Task) (*model.Task, []string, error) {
	for _, node := range path {
		unsatisfied, err := s.unsatisfiedBlockers(ctx, node.ID)
		if err != nil {
			return nil, nil, err
		}
		if len(unsatisfied) > 0 {
			return node, unsatisfied, nil
		}
	}
	return nil, nil, nil
}

func (s *Service) unsatisfiedBlockers(ctx context.Context, taskID string) ([]string, error) {
	blockerIDs, err := s.repo.Blockers(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, bid := range blockerIDs {
		bt, err := s.repo.Get(ctx, bid)
		if err != nil {
			return nil, err
		}
		if !lifecycle.SatisfiesBlocker(bt) {
			out = append(out, bid)
		}
	}
	return out, nil
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

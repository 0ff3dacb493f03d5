// Package taskmem is an in-memory store.TaskRepo/store.LearningRepo pair
// used to exercise TaskService without an embedded database. It mirrors
// internal/store/sqlite's hydrate and ordering logic exactly (same
// ancestor-walk derivation of Depth/EffectivelyBlocked, same
// priority/created_at/id ordering) so tests here predict sqlite's real
// behavior.
package taskmem

import (
	"context"
	"sort"
	"time"

	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/store"
	"github.com/steveyegge/overseer/internal/ulid"
)

// Store is a single in-memory backing store shared by a TaskRepo and a
// LearningRepo, the way sqlite.DB's single connection backs both.
type Store struct {
	tasks     map[string]*model.Task
	blockers  map[string]map[string]bool // task_id -> set of blocker_id
	learnings []*model.Learning
	seq       int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks:    make(map[string]*model.Task),
		blockers: make(map[string]map[string]bool),
	}
}

// Learnings returns every learning currently stored, for test assertions.
func (st *Store) Learnings() []*model.Learning {
	out := make([]*model.Learning, len(st.learnings))
	copy(out, st.learnings)
	return out
}

func (st *Store) nextTime() time.Time {
	st.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(st.seq) * time.Second)
}

func clone(t *model.Task) *model.Task {
	c := *t
	return &c
}

// TaskRepo implements store.TaskRepo over a Store.
type TaskRepo struct{ st *Store }

// NewTaskRepo wraps st as a store.TaskRepo.
func NewTaskRepo(st *Store) *TaskRepo { return &TaskRepo{st: st} }

var _ store.TaskRepo = (*TaskRepo)(nil)

func (r *TaskRepo) Create(ctx context.Context, input store.TaskInput) (*model.Task, error) {
	if !model.ValidPriority(input.Priority) {
		return nil, model.ErrInvalidPriority
	}
	if input.ParentID != nil {
		if _, ok := r.st.tasks[*input.ParentID]; !ok {
			return nil, model.ErrParentNotFound
		}
	}
	now := r.st.nextTime()
	id := ulid.NewTaskID()
	t := &model.Task{
		ID: id, ParentID: input.ParentID, Description: input.Description,
		Context: input.Context, Priority: input.Priority,
		CreatedAt: now, UpdatedAt: now,
	}
	r.st.tasks[id] = t
	return r.Get(ctx, id)
}

func (r *TaskRepo) Get(ctx context.Context, id string) (*model.Task, error) {
	t, ok := r.st.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	out := clone(t)
	if err := r.hydrate(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TaskRepo) hydrate(t *model.Task) error {
	ancestors := r.ancestorChain(t.ID)
	t.Depth = model.Depth(len(ancestors))
	t.EffectivelyBlocked = r.effectivelyBlocked(t.ID, ancestors)
	return nil
}

func (r *TaskRepo) ancestorChain(id string) []string {
	var chain []string
	cur := id
	for {
		t, ok := r.st.tasks[cur]
		if !ok || t.ParentID == nil {
			break
		}
		chain = append(chain, *t.ParentID)
		cur = *t.ParentID
	}
	return chain
}

func (r *TaskRepo) effectivelyBlocked(id string, ancestors []string) bool {
	nodes := append([]string{id}, ancestors...)
	for _, node := range nodes {
		for blockerID := range r.st.blockers[node] {
			bt, ok := r.st.tasks[blockerID]
			if !ok {
				continue
			}
			if !(bt.Completed && !bt.Cancelled) {
				return true
			}
		}
	}
	return false
}

func orderTasks(tasks []*model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func (r *TaskRepo) List(ctx context.Context, filter store.TaskFilter) ([]*model.Task, error) {
	var out []*model.Task
	for id := range r.st.tasks {
		t, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if filter.ParentID != nil {
			if t.ParentID == nil || *t.ParentID != *filter.ParentID {
				continue
			}
		}
		if filter.Completed != nil && t.Completed != *filter.Completed {
			continue
		}
		if filter.Archived != nil && t.Archived != *filter.Archived {
			continue
		}
		if filter.Depth != nil && t.Depth != *filter.Depth {
			continue
		}
		if filter.Ready {
			active := !t.Completed && !t.Cancelled && !t.Archived
			if !active || t.EffectivelyBlocked {
				continue
			}
		}
		out = append(out, t)
	}
	orderTasks(out)
	return out, nil
}

func (r *TaskRepo) Update(ctx context.Context, id string, patch store.TaskPatch) (*model.Task, error) {
	t, ok := r.st.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	if patch.ParentIDSet {
		t.ParentID = patch.ParentID
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Context != nil {
		t.Context = *patch.Context
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	t.UpdatedAt = r.st.nextTime()
	return r.Get(ctx, id)
}

func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	for cid, t := range r.st.tasks {
		if t.ParentID != nil && *t.ParentID == id {
			if err := r.Delete(ctx, cid); err != nil {
				return err
			}
		}
	}
	delete(r.st.tasks, id)
	delete(r.st.blockers, id)
	for _, set := range r.st.blockers {
		delete(set, id)
	}
	return nil
}

func (r *TaskRepo) Start(ctx context.Context, id string, at time.Time) (*model.Task, error) {
	t, ok := r.st.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	if t.StartedAt == nil {
		ts := at
		t.StartedAt = &ts
	}
	t.UpdatedAt = r.st.nextTime()
	return r.Get(ctx, id)
}

func (r *TaskRepo) Complete(ctx context.Context, id string, result, commitSHA *string, at time.Time) (*model.Task, error) {
	t, ok := r.st.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	if !t.Completed {
		t.Completed = true
		ts := at
		t.CompletedAt = &ts
	}
	if result != nil {
		t.Result = result
	}
	if commitSHA != nil {
		t.CommitSHA = commitSHA
	}
	t.UpdatedAt = r.st.nextTime()
	return r.Get(ctx, id)
}

func (r *TaskRepo) Reopen(ctx context.Context, id string, at time.Time) (*model.Task, error) {
	t, ok := r.st.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	t.Completed = false
	t.CompletedAt = nil
	t.UpdatedAt = r.st.nextTime()
	return r.Get(ctx, id)
}

func (r *TaskRepo) Cancel(ctx context.Context, id string, at time.Time) (*model.Task, error) {
	t, ok := r.st.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	t.Cancelled = true
	ts := at
	t.CancelledAt = &ts
	t.UpdatedAt = r.st.nextTime()
	return r.Get(ctx, id)
}

func (r *TaskRepo) Archive(ctx context.Context, id string, at time.Time) (*model.Task, error) {
	t, ok := r.st.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	t.Archived = true
	ts := at
	t.ArchivedAt = &ts
	t.UpdatedAt = r.st.nextTime()
	return r.Get(ctx, id)
}

func (r *TaskRepo) AddBlocker(ctx context.Context, taskID, blockerID string) error {
	if r.st.blockers[taskID] == nil {
		r.st.blockers[taskID] = make(map[string]bool)
	}
	r.st.blockers[taskID][blockerID] = true
	return nil
}

func (r *TaskRepo) RemoveBlocker(ctx context.Context, taskID, blockerID string) error {
	if set, ok := r.st.blockers[taskID]; ok {
		delete(set, blockerID)
	}
	return nil
}

func (r *TaskRepo) RemoveAllBlockersFor(ctx context.Context, taskID string) error {
	delete(r.st.blockers, taskID)
	return nil
}

func (r *TaskRepo) Blockers(ctx context.Context, taskID string) ([]string, error) {
	var out []string
	for b := range r.st.blockers[taskID] {
		out = append(out, b)
	}
	sort.Strings(out)
	return out, nil
}

func (r *TaskRepo) Dependents(ctx context.Context, blockerID string) ([]string, error) {
	var out []string
	for taskID, set := range r.st.blockers {
		if set[blockerID] {
			out = append(out, taskID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *TaskRepo) Children(ctx context.Context, parentID string) ([]*model.Task, error) {
	var out []*model.Task
	for id, t := range r.st.tasks {
		if t.ParentID != nil && *t.ParentID == parentID {
			c, err := r.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	orderTasks(out)
	return out, nil
}

func (r *TaskRepo) ChildrenOrdered(ctx context.Context, parentID string) ([]*model.Task, error) {
	return r.Children(ctx, parentID)
}

func (r *TaskRepo) AllDescendants(ctx context.Context, id string) ([]*model.Task, error) {
	var out []*model.Task
	children, err := r.Children(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		out = append(out, c)
		sub, err := r.AllDescendants(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

func (r *TaskRepo) GetDepth(ctx context.Context, id string) (model.Depth, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return t.Depth, nil
}

func (r *TaskRepo) HasPendingChildren(ctx context.Context, id string) (bool, error) {
	children, err := r.Children(ctx, id)
	if err != nil {
		return false, err
	}
	for _, c := range children {
		if !c.Completed && !c.Cancelled {
			return true, nil
		}
	}
	return false, nil
}

func (r *TaskRepo) ListRoots(ctx context.Context) ([]*model.Task, error) {
	var out []*model.Task
	for id, t := range r.st.tasks {
		if t.ParentID == nil {
			c, err := r.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	orderTasks(out)
	return out, nil
}

func (r *TaskRepo) TaskExists(ctx context.Context, id string) (bool, error) {
	_, ok := r.st.tasks[id]
	return ok, nil
}

func (r *TaskRepo) SetBookmark(ctx context.Context, id string, bookmark *string) error {
	t, ok := r.st.tasks[id]
	if !ok {
		return model.ErrTaskNotFound
	}
	t.Bookmark = bookmark
	return nil
}

func (r *TaskRepo) SetStartCommit(ctx context.Context, id string, commit *string) error {
	t, ok := r.st.tasks[id]
	if !ok {
		return model.ErrTaskNotFound
	}
	t.StartCommit = commit
	return nil
}

func (r *TaskRepo) ClearBookmark(ctx context.Context, id string) error {
	return r.SetBookmark(ctx, id, nil)
}

func (r *TaskRepo) Search(ctx context.Context, substring string) ([]*model.Task, error) {
	var out []*model.Task
	for id, t := range r.st.tasks {
		if contains(t.Description, substring) || contains(t.Context, substring) ||
			(t.Result != nil && contains(*t.Result, substring)) {
			c, err := r.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	orderTasks(out)
	return out, nil
}

func contains(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

// LearningRepo implements store.LearningRepo over a Store.
type LearningRepo struct{ st *Store }

// NewLearningRepo wraps st as a store.LearningRepo.
func NewLearningRepo(st *Store) *LearningRepo { return &LearningRepo{st: st} }

var _ store.LearningRepo = (*LearningRepo)(nil)

func (r *LearningRepo) Add(ctx context.Context, l model.Learning) (*model.Learning, error) {
	origin := l.OriginTaskID
	if origin == "" {
		origin = l.TaskID
	}
	for _, existing := range r.st.learnings {
		if existing.TaskID == l.TaskID && existing.OriginTaskID == origin && existing.Content == l.Content {
			return existing, nil
		}
	}
	now := l.CreatedAt
	if now.IsZero() {
		now = r.st.nextTime()
	}
	out := &model.Learning{
		ID: ulid.NewLearningID(), TaskID: l.TaskID, Content: l.Content,
		OriginTaskID: origin, CreatedAt: now,
	}
	r.st.learnings = append(r.st.learnings, out)
	return out, nil
}

func (r *LearningRepo) List(ctx context.Context, filter store.LearningFilter) ([]*model.Learning, error) {
	var out []*model.Learning
	for _, l := range r.st.learnings {
		if filter.TaskID != nil && l.TaskID != *filter.TaskID {
			continue
		}
		if filter.OriginTaskID != nil && l.OriginTaskID != *filter.OriginTaskID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *LearningRepo) DeleteAllForTask(ctx context.Context, taskID string) error {
	var out []*model.Learning
	for _, l := range r.st.learnings {
		if l.TaskID != taskID {
			out = append(out, l)
		}
	}
	r.st.learnings = out
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/store"
	"github.com/steveyegge/overseer/internal/ulid"
)

// orderClause is the one total order every ordered query in this package
// uses: priority ascending, then created_at ascending, then id ascending.
// TaskService's readiness DFS and list_roots/children_ordered must agree on
// this order for two independent queries to produce the same sequence.
const orderClause = `ORDER BY priority ASC, created_at ASC, id ASC`

// TaskRepo implements store.TaskRepo over an embedded SQLite database.
type TaskRepo struct {
	db *sql.DB
}

// NewTaskRepo wraps an open DB as a store.TaskRepo.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db.conn}
}

var _ store.TaskRepo = (*TaskRepo)(nil)

func (r *TaskRepo) Create(ctx context.Context, input store.TaskInput) (*model.Task, error) {
	if !model.ValidPriority(input.Priority) {
		return nil, model.ErrInvalidPriority
	}
	if input.ParentID != nil {
		exists, err := r.TaskExists(ctx, *input.ParentID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, model.ErrParentNotFound
		}
	}

	now := time.Now().UTC()
	id := ulid.NewTaskID()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, parent_id, description, context, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, strPtrOrNil(input.ParentID), input.Description, input.Context, int(input.Priority),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("sqlite: create task: %w", err)
	}

	return r.Get(ctx, id)
}

func strPtrOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (r *TaskRepo) Get(ctx context.Context, id string) (*model.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get task: %w", err)
	}
	if err := r.hydrate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TaskRepo) List(ctx context.Context, filter store.TaskFilter) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any

	if filter.ParentID != nil {
		query += ` AND parent_id = ?`
		args = append(args, *filter.ParentID)
	}
	if filter.Completed != nil {
		query += ` AND completed = ?`
		args = append(args, boolToInt(*filter.Completed))
	}
	if filter.Archived != nil {
		query += ` AND archived = ?`
		args = append(args, boolToInt(*filter.Archived))
	}
	query += ` ` + orderClause

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer rows.Close()

	var result []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if err := r.hydrate(ctx, t); err != nil {
			return nil, err
		}
		// depth and ready are computed post-hydrate since they depend on
		// the parent/blocker graph, not a trusted column.
		if filter.Depth != nil && t.Depth != *filter.Depth {
			continue
		}
		if filter.Ready {
			active := t.Completed == false && t.Cancelled == false && t.Archived == false
			if !active || t.EffectivelyBlocked {
				continue
			}
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *TaskRepo) Update(ctx context.Context, id string, patch store.TaskPatch) (*model.Task, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	if patch.ParentIDSet {
		sets = append(sets, "parent_id = ?")
		args = append(args, strPtrOrNil(patch.ParentID))
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Context != nil {
		sets = append(sets, "context = ?")
		args = append(args, *patch.Context)
	}
	if patch.Priority != nil {
		if !model.ValidPriority(*patch.Priority) {
			return nil, model.ErrInvalidPriority
		}
		sets = append(sets, "priority = ?")
		args = append(args, int(*patch.Priority))
	}

	args = append(args, id)
	query := "UPDATE tasks SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE id = ?"

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, model.ErrTaskNotFound
	}
	return r.Get(ctx, id)
}

func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	// ON DELETE CASCADE on tasks.parent_id and both blocker FKs does the
	// rest: descendants, their learnings, and every blocker edge touching
	// any removed task all cascade from this single statement.
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepo) Start(ctx context.Context, id string, at time.Time) (*model.Task, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ?
	`, at.Format(time.RFC3339Nano), at.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: start task: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *TaskRepo) Complete(ctx context.Context, id string, result *string, commitSHA *string, at time.Time) (*model.Task, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET
			completed = 1,
			completed_at = COALESCE(completed_at, ?),
			result = COALESCE(?, result),
			commit_sha = COALESCE(?, commit_sha),
			updated_at = ?
		WHERE id = ?
	`, at.Format(time.RFC3339Nano), strPtrOrNil(result), strPtrOrNil(commitSHA), at.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: complete task: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *TaskRepo) Reopen(ctx context.Context, id string, at time.Time) (*model.Task, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET
			completed = 0,
			completed_at = NULL,
			updated_at = ?
		WHERE id = ?
	`, at.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reopen task: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *TaskRepo) Cancel(ctx context.Context, id string, at time.Time) (*model.Task, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET
			cancelled = 1,
			cancelled_at = COALESCE(cancelled_at, ?),
			updated_at = ?
		WHERE id = ?
	`, at.Format(time.RFC3339Nano), at.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: cancel task: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *TaskRepo) Archive(ctx context.Context, id string, at time.Time) (*model.Task, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET
			archived = 1,
			archived_at = COALESCE(archived_at, ?),
			updated_at = ?
		WHERE id = ?
	`, at.Format(time.RFC3339Nano), at.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: archive task: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *TaskRepo) AddBlocker(ctx context.Context, taskID, blockerID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blockers (task_id, blocker_id) VALUES (?, ?)
		ON CONFLICT(task_id, blocker_id) DO NOTHING
	`, taskID, blockerID)
	if err != nil {
		return fmt.Errorf("sqlite: add blocker: %w", err)
	}
	return nil
}

func (r *TaskRepo) RemoveBlocker(ctx context.Context, taskID, blockerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blockers WHERE task_id = ? AND blocker_id = ?`, taskID, blockerID)
	if err != nil {
		return fmt.Errorf("sqlite: remove blocker: %w", err)
	}
	return nil
}

func (r *TaskRepo) RemoveAllBlockersFor(ctx context.Context, taskID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blockers WHERE task_id = ? OR blocker_id = ?`, taskID, taskID)
	if err != nil {
		return fmt.Errorf("sqlite: remove all blockers: %w", err)
	}
	return nil
}

func (r *TaskRepo) Blockers(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT blocker_id FROM blockers WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *TaskRepo) Dependents(ctx context.Context, blockerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT task_id FROM blockers WHERE blocker_id = ?`, blockerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *TaskRepo) Children(ctx context.Context, parentID string) ([]*model.Task, error) {
	return r.childrenQuery(ctx, parentID, false)
}

func (r *TaskRepo) ChildrenOrdered(ctx context.Context, parentID string) ([]*model.Task, error) {
	return r.childrenQuery(ctx, parentID, true)
}

func (r *TaskRepo) childrenQuery(ctx context.Context, parentID string, ordered bool) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE parent_id = ?`
	if ordered {
		query += ` ` + orderClause
	}
	rows, err := r.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: children: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if err := r.hydrate(ctx, t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TaskRepo) AllDescendants(ctx context.Context, id string) ([]*model.Task, error) {
	var out []*model.Task
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := r.ChildrenOrdered(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			out = append(out, c)
			queue = append(queue, c.ID)
		}
	}
	return out, nil
}

func (r *TaskRepo) GetDepth(ctx context.Context, id string) (model.Depth, error) {
	chain, err := r.ancestorChain(ctx, id)
	if err != nil {
		return 0, err
	}
	return model.Depth(len(chain)), nil
}

func (r *TaskRepo) HasPendingChildren(ctx context.Context, id string) (bool, error) {
	children, err := r.Children(ctx, id)
	if err != nil {
		return false, err
	}
	for _, c := range children {
		if !(c.Completed || c.Cancelled) {
			return true, nil
		}
	}
	return false, nil
}

func (r *TaskRepo) ListRoots(ctx context.Context) ([]*model.Task, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE parent_id IS NULL `+orderClause)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list roots: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if err := r.hydrate(ctx, t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TaskRepo) TaskExists(ctx context.Context, id string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *TaskRepo) SetBookmark(ctx context.Context, id string, bookmark *string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET bookmark = ?, updated_at = ? WHERE id = ?`,
		strPtrOrNil(bookmark), time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

func (r *TaskRepo) SetStartCommit(ctx context.Context, id string, commit *string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET start_commit = ?, updated_at = ? WHERE id = ?`,
		strPtrOrNil(commit), time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

func (r *TaskRepo) ClearBookmark(ctx context.Context, id string) error {
	return r.SetBookmark(ctx, id, nil)
}

func (r *TaskRepo) Search(ctx context.Context, substring string) ([]*model.Task, error) {
	like := "%" + substring + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE description LIKE ? OR context LIKE ? OR result LIKE ?
		`+orderClause, like, like, like)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if err := r.hydrate(ctx, t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

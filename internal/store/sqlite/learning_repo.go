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

// LearningRepo implements store.LearningRepo over an embedded SQLite
// database, sharing the connection opened by sqlite.DB.
type LearningRepo struct {
	db *sql.DB
}

// NewLearningRepo wraps an open DB as a store.LearningRepo.
func NewLearningRepo(db *DB) *LearningRepo {
	return &LearningRepo{db: db.conn}
}

var _ store.LearningRepo = (*LearningRepo)(nil)

// Add inserts a learning. The unique index on (task_id, origin_task_id,
// content) makes a duplicate insert a no-op rather than an error: this
// insert's ON CONFLICT DO NOTHING clause is what gives the bubbling pipeline
// its idempotence.
func (r *LearningRepo) Add(ctx context.Context, l model.Learning) (*model.Learning, error) {
	origin := l.OriginTaskID
	if origin == "" {
		origin = l.TaskID
	}

	id := l.ID
	if id == "" {
		id = ulid.NewLearningID()
	}
	now := l.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO learnings (id, task_id, content, origin_task_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id, origin_task_id, content) DO NOTHING
	`, id, l.TaskID, l.Content, origin, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("sqlite: add learning: %w", err)
	}

	// Fetch back whichever row now satisfies the unique key, whether it's
	// the one we just inserted or the pre-existing duplicate.
	row := r.db.QueryRowContext(ctx, `
		SELECT id, task_id, content, origin_task_id, created_at
		FROM learnings WHERE task_id = ? AND origin_task_id = ? AND content = ?
	`, l.TaskID, origin, l.Content)

	var out model.Learning
	var createdAt string
	if err := row.Scan(&out.ID, &out.TaskID, &out.Content, &out.OriginTaskID, &createdAt); err != nil {
		return nil, fmt.Errorf("sqlite: read back learning: %w", err)
	}
	out.CreatedAt = mustParseTime(createdAt)
	return &out, nil
}

func (r *LearningRepo) List(ctx context.Context, filter store.LearningFilter) ([]*model.Learning, error) {
	query := `SELECT id, task_id, content, origin_task_id, created_at FROM learnings WHERE 1=1`
	var args []any
	if filter.TaskID != nil {
		query += ` AND task_id = ?`
		args = append(args, *filter.TaskID)
	}
	if filter.OriginTaskID != nil {
		query += ` AND origin_task_id = ?`
		args = append(args, *filter.OriginTaskID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list learnings: %w", err)
	}
	defer rows.Close()

	var out []*model.Learning
	for rows.Next() {
		var l model.Learning
		var createdAt string
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Content, &l.OriginTaskID, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt = mustParseTime(createdAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (r *LearningRepo) DeleteAllForTask(ctx context.Context, taskID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM learnings WHERE task_id = ?`, taskID)
	return err
}

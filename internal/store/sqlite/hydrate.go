package sqlite

import (
	"context"
	"database/sql"

	"github.com/steveyegge/overseer/internal/model"
)

// hydrate fills in the never-persisted derived fields on t: Depth and
// EffectivelyBlocked. Both are recomputed from the parent/blocker edges on
// every call, never trusted from a cached column, per the data model's
// "Derived (never persisted)" note.
func (r *TaskRepo) hydrate(ctx context.Context, t *model.Task) error {
	ancestors, err := r.ancestorChain(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Depth = model.Depth(len(ancestors))

	blocked, err := r.effectivelyBlocked(ctx, t.ID, ancestors)
	if err != nil {
		return err
	}
	t.EffectivelyBlocked = blocked

	return nil
}

// ancestorChain walks parent_id from id up to the root, returning ancestor
// ids nearest-parent-first. Depth ≤ 2 bounds this to at most two hops.
func (r *TaskRepo) ancestorChain(ctx context.Context, id string) ([]string, error) {
	var chain []string
	cur := id
	for {
		var parentID sql.NullString
		err := r.db.QueryRowContext(ctx, `SELECT parent_id FROM tasks WHERE id = ?`, cur).Scan(&parentID)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return nil, err
		}
		if !parentID.Valid {
			break
		}
		chain = append(chain, parentID.String)
		cur = parentID.String
	}
	return chain, nil
}

// effectivelyBlocked reports whether id or any of its ancestors has a
// blocker that does not satisfy_blocker.
func (r *TaskRepo) effectivelyBlocked(ctx context.Context, id string, ancestors []string) (bool, error) {
	nodes := append([]string{id}, ancestors...)
	for _, node := range nodes {
		unsatisfied, err := r.hasUnsatisfiedBlocker(ctx, node)
		if err != nil {
			return false, err
		}
		if unsatisfied {
			return true, nil
		}
	}
	return false, nil
}

func (r *TaskRepo) hasUnsatisfiedBlocker(ctx context.Context, taskID string) (bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.completed, t.cancelled
		FROM blockers b
		JOIN tasks t ON t.id = b.blocker_id
		WHERE b.task_id = ?
	`, taskID)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var completed, cancelled int
		if err := rows.Scan(&completed, &cancelled); err != nil {
			return false, err
		}
		satisfies := completed != 0 && cancelled == 0
		if !satisfies {
			return true, nil
		}
	}
	return false, rows.Err()
}

package sqlite

import (
	"database/sql"
	"time"

	"github.com/steveyegge/overseer/internal/model"
)

// row is satisfied by both *sql.Row and *sql.Rows.
type row interface {
	Scan(dest ...any) error
}

const taskColumns = `
	id, parent_id, description, context, priority,
	created_at, updated_at, started_at, completed_at, cancelled_at, archived_at,
	completed, cancelled, archived,
	result, commit_sha, bookmark, start_commit
`

func scanTask(r row) (*model.Task, error) {
	var (
		t                                                        model.Task
		parentID, result, commitSHA, bookmark, startCommit       sql.NullString
		createdAt, updatedAt                                     string
		startedAt, completedAt, cancelledAt, archivedAt          sql.NullString
		completed, cancelled, archived                           int
	)

	if err := r.Scan(
		&t.ID, &parentID, &t.Description, &t.Context, &t.Priority,
		&createdAt, &updatedAt, &startedAt, &completedAt, &cancelledAt, &archivedAt,
		&completed, &cancelled, &archived,
		&result, &commitSHA, &bookmark, &startCommit,
	); err != nil {
		return nil, err
	}

	if parentID.Valid {
		v := parentID.String
		t.ParentID = &v
	}
	if result.Valid {
		v := result.String
		t.Result = &v
	}
	if commitSHA.Valid {
		v := commitSHA.String
		t.CommitSHA = &v
	}
	if bookmark.Valid {
		v := bookmark.String
		t.Bookmark = &v
	}
	if startCommit.Valid {
		v := startCommit.String
		t.StartCommit = &v
	}

	t.CreatedAt = mustParseTime(createdAt)
	t.UpdatedAt = mustParseTime(updatedAt)
	t.StartedAt = parseNullableTime(startedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	t.CancelledAt = parseNullableTime(cancelledAt)
	t.ArchivedAt = parseNullableTime(archivedAt)

	t.Completed = completed != 0
	t.Cancelled = cancelled != 0
	t.Archived = archived != 0

	return &t, nil
}

func mustParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := mustParseTime(ns.String)
	return &t
}

func timeToNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func strToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

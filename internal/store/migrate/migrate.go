// Package migrate runs the documented schema migrations against an open
// database connection, tracked by a semver-style version string ("v1.0.0",
// "v2.0.0", ...) recorded in a schema_version table. Migrations are
// idempotent and run in order; a fresh database has no recorded version and
// every documented migration below is applied in sequence.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"golang.org/x/mod/semver"
)

// Migration is one documented, ordered schema change.
type Migration struct {
	// Version is compared with golang.org/x/mod/semver, so it must be a
	// valid semver string ("v1.0.0", "v2.0.0", ...). Versions encode pure
	// ordering, not API compatibility; major is bumped per migration.
	Version string
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx) error
}

// All returns the documented migrations in spec.md §6 order:
//  1. initial schema
//  2. add bookmark/start_commit columns
//  3. add learning-uniqueness index and backfill origin_task_id
//  4. remap legacy 1-5 priority to 0-2
func All() []Migration {
	return []Migration{
		{Version: "v1.0.0", Name: "initial_schema", Apply: migrateInitialSchema},
		{Version: "v2.0.0", Name: "add_bookmark_start_commit", Apply: migrateAddBookmarkColumns},
		{Version: "v3.0.0", Name: "learning_uniqueness_backfill", Apply: migrateLearningUniqueness},
		{Version: "v4.0.0", Name: "remap_legacy_priority", Apply: migrateRemapPriority},
	}
}

// Run applies every migration newer than the database's current recorded
// version, in ascending semver order, each inside its own transaction.
func Run(ctx context.Context, db *sql.DB) error {
	if err := ensureVersionTable(ctx, db); err != nil {
		return fmt.Errorf("migrate: ensure version table: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}

	migrations := All()
	sort.Slice(migrations, func(i, j int) bool {
		return semver.Compare(migrations[i].Version, migrations[j].Version) < 0
	})

	for _, m := range migrations {
		if current != "" && semver.Compare(m.Version, current) <= 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate: begin %s: %w", m.Name, err)
		}

		if err := m.Apply(ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: apply %s: %w", m.Name, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
			m.Version,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: record %s: %w", m.Name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate: commit %s: %w", m.Name, err)
		}
	}

	return nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func currentVersion(ctx context.Context, db *sql.DB) (string, error) {
	row := db.QueryRowContext(ctx, `SELECT version FROM schema_version ORDER BY rowid DESC LIMIT 1`)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

func migrateInitialSchema(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		description TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 1,

		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		cancelled_at TEXT,
		archived_at TEXT,

		completed INTEGER NOT NULL DEFAULT 0,
		cancelled INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,

		result TEXT,
		commit_sha TEXT,

		FOREIGN KEY (parent_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS blockers (
		task_id TEXT NOT NULL,
		blocker_id TEXT NOT NULL,
		PRIMARY KEY (task_id, blocker_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (blocker_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS learnings (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		content TEXT NOT NULL,
		origin_task_id TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_priority_created ON tasks(priority, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_blockers_blocker ON blockers(blocker_id);
	CREATE INDEX IF NOT EXISTS idx_learnings_task ON learnings(task_id);
	`)
	return err
}

func migrateAddBookmarkColumns(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		`ALTER TABLE tasks ADD COLUMN bookmark TEXT`,
		`ALTER TABLE tasks ADD COLUMN start_commit TEXT`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil && !isDuplicateColumn(err) {
			return err
		}
	}
	return nil
}

func migrateLearningUniqueness(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE learnings SET origin_task_id = task_id WHERE origin_task_id IS NULL`,
	); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_learnings_unique
		ON learnings(task_id, origin_task_id, content)
	`)
	return err
}

func migrateRemapPriority(ctx context.Context, tx *sql.Tx) error {
	// Legacy 1-5 scale collapses to 0-2: p<=1 -> 0, p<=3 -> 1, else -> 2.
	// The WHERE clause restricts this to rows still carrying a legacy value
	// (>2, outside the new scheme's range); rows already in 0-2 are left
	// untouched so the migration is safe to re-run.
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET priority = CASE
			WHEN priority <= 1 THEN 0
			WHEN priority <= 3 THEN 1
			ELSE 2
		END
		WHERE priority > 2
	`)
	return err
}

func isDuplicateColumn(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return len(msg) > 0 && (contains(msg, "duplicate column") || contains(msg, "already exists"))
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

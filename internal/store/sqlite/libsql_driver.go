//go:build libsql

package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/tursodatabase/go-libsql"
)

// openLibsql opens path through the libSQL connector instead of
// ncruces/go-sqlite3, selected by building with -tags libsql (and at
// runtime with OVERSEER_DB_DRIVER=libsql). Grounded in the teacher
// shipping go-libsql alongside ncruces/go-sqlite3 in its own go.mod: same
// schema and pragmas, alternate driver registration for a Turso-hosted
// store.
func openLibsql(path string) (*sql.DB, error) {
	connector, err := libsql.NewConnector(path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: libsql connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

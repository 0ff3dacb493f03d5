//go:build !libsql

package sqlite

import (
	"database/sql"
	"fmt"
)

// openLibsql is unavailable unless the binary is built with -tags libsql;
// OVERSEER_DB_DRIVER=libsql against a binary built without that tag fails
// fast rather than silently falling back to the embedded driver.
func openLibsql(path string) (*sql.DB, error) {
	return nil, fmt.Errorf("sqlite: libsql driver requested but binary was not built with -tags libsql")
}

// Package repotest opens an in-memory SQLite database carrying the same
// tables as the MySQL migration, for repository and end-to-end tests.
package repotest

import (
	_ "embed"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Open returns a fresh database closed at test cleanup. A single connection
// keeps every statement on the same in-memory database.
func Open(tb testing.TB) *sqlx.DB {
	tb.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = db.Close() })

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			tb.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}

	return db
}

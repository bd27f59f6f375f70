// Package testutil provides shared helpers for package tests. It is only
// imported from _test.go files.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/iliyamo/care-portal/internal/database"
)

var dbSeq atomic.Uint64

// OpenDB returns a fresh in-memory SQLite database with the production
// migrations applied. The pool is pinned to one connection so the shared
// in-memory database behaves like a single serialized store. The
// connection is closed when the test finishes.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:care_%s_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name, dbSeq.Add(1),
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("testutil.OpenDB: sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := database.Migrate(context.Background(), conn, database.DialectSQLite); err != nil {
		conn.Close()
		t.Fatalf("testutil.OpenDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

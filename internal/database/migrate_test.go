package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/care-portal/internal/database"
	"github.com/iliyamo/care-portal/internal/testutil"
)

func TestMigrate_CreatesSchema(t *testing.T) {
	db := testutil.OpenDB(t)

	for _, table := range []string{"users", "refresh_tokens", "document_templates", "signing_requests", "signing_audit_log", "signed_documents"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db := testutil.OpenDB(t)
	require.NoError(t, database.Migrate(context.Background(), db, database.DialectSQLite))
}

func TestMigrate_UnknownDialect(t *testing.T) {
	db := testutil.OpenDB(t)
	require.Error(t, database.Migrate(context.Background(), db, "oracle"))
}

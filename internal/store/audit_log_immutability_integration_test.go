package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// TestAuditLogImmutabilityBlocksUpdate verifies that UPDATE operations on
// audit_logs are rejected by the append-only trigger.
func TestAuditLogImmutabilityBlocksUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := openTestDatabase(t, ctx)
	defer db.Close()

	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_logs (event_type, actor_id, actor_name, entity_type, entity_id, payload)
		VALUES ('test.update_attempt', 'usr_test', 'Test User', 'document', 'doc_test', '{}'::jsonb)
	`)
	if err != nil {
		t.Fatalf("insert audit log: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		UPDATE audit_logs SET actor_name = 'Tampered' WHERE event_type = 'test.update_attempt'
	`)
	if err == nil {
		t.Fatal("expected UPDATE to be blocked, but it succeeded")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if !strings.Contains(pgErr.Message, "append-only") {
		t.Fatalf("unexpected error message: %s", pgErr.Message)
	}

	_, _ = db.ExecContext(ctx, `TRUNCATE audit_logs`)
}

// TestAuditLogImmutabilityBlocksDelete verifies that DELETE operations on
// audit_logs are rejected by the append-only trigger.
func TestAuditLogImmutabilityBlocksDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := openTestDatabase(t, ctx)
	defer db.Close()

	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_logs (event_type, actor_id, actor_name, entity_type, entity_id, payload)
		VALUES ('test.delete_attempt', 'usr_test', 'Test User', 'document', 'doc_test', '{}'::jsonb)
	`)
	if err != nil {
		t.Fatalf("insert audit log: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		DELETE FROM audit_logs WHERE event_type = 'test.delete_attempt'
	`)
	if err == nil {
		t.Fatal("expected DELETE to be blocked, but it succeeded")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if !strings.Contains(pgErr.Message, "append-only") {
		t.Fatalf("unexpected error message: %s", pgErr.Message)
	}

	_, _ = db.ExecContext(ctx, `TRUNCATE audit_logs`)
}

// TestAuditLogInsertStillWorks verifies that INSERT operations on audit_logs
// continue to work normally alongside the trigger.
func TestAuditLogInsertStillWorks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := openTestDatabase(t, ctx)
	defer db.Close()

	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_logs (event_type, actor_id, actor_name, account_id, entity_type, entity_id, payload)
		VALUES ('test.insert_check', 'usr_test', 'Test User', NULL, 'account', 'acc_test', '{"k": "v"}'::jsonb)
	`)
	if err != nil {
		t.Fatalf("insert audit log should succeed: %v", err)
	}

	var count int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs WHERE event_type = 'test.insert_check'`).Scan(&count)
	if err != nil {
		t.Fatalf("query audit logs: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 audit log entry, got %d", count)
	}

	_, _ = db.ExecContext(ctx, `TRUNCATE audit_logs`)
}

// openTestDatabase connects to LEXRELAY_TEST_DATABASE_URL and skips the test
// when the variable is unset. The schema must already be migrated.
func openTestDatabase(t *testing.T, ctx context.Context) *sql.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("LEXRELAY_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("LEXRELAY_TEST_DATABASE_URL is not set")
	}

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	return db
}

// Package store holds the shared SQLite plumbing for the keyed stores
// (profile, context, focus, whisper, audit) named in SPEC_FULL.md §6,
// following original_source's one-sqlite-file-per-concern layout
// consolidated behind a single migration entrypoint.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens (creating if necessary) the SQLite database at path,
// using the pure-Go modernc.org/sqlite driver so the binary needs no
// cgo toolchain to build.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite: one writer; serializes through the per-user lock anyway
	return db, nil
}

// AuditEntry is one row in the append-only audit table. HandleTurn
// writes one row per user and assistant message of the turn and one
// row holding the turn's step-timing trace; background-tail steps
// write no rows.
type AuditEntry struct {
	ID        int64
	UserID    string
	TraceID   string
	Operation string
	Status    string
	Detail    string
	CreatedAt string
}

func migrateAudit(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			trace_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_user ON audit(user_id);
		CREATE INDEX IF NOT EXISTS idx_audit_trace ON audit(trace_id);
	`)
	return err
}

// Migrator is implemented by every package whose schema lives in the
// shared SQLite file.
type Migrator func(ctx context.Context, db *sql.DB) error

// MigrateAll runs every package migration plus the local audit table,
// in dependency order. Each migration is its own idempotent
// CREATE TABLE IF NOT EXISTS, so re-running MigrateAll on process
// restart is always safe.
func MigrateAll(ctx context.Context, db *sql.DB, migrators ...Migrator) error {
	if err := migrateAudit(ctx, db); err != nil {
		return fmt.Errorf("migrate audit table: %w", err)
	}
	for _, m := range migrators {
		if err := m(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

// RecordAudit appends one audit row. Failures to audit are logged by
// the caller but never block the operation being audited.
func RecordAudit(ctx context.Context, db *sql.DB, e AuditEntry, now string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit (user_id, trace_id, operation, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.UserID, e.TraceID, e.Operation, e.Status, e.Detail, now)
	return err
}

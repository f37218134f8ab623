package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/guildmark/internal/engine"
	"github.com/roach88/guildmark/internal/sweep"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration), records may hold duplicate identities
// 1 - identity_key and version columns, duplicates swept, UNIQUE index on identity_key
const currentSchemaVersion = 1

// Store provides durable storage for templates, activity, records and
// unlock history. Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations and upsert conflicts.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

var (
	_ engine.Reader = (*Store)(nil)
	_ engine.Writer = (*Store)(nil)
	_ sweep.Source  = (*Store)(nil)
	_ sweep.Writer  = (*Store)(nil)
)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// This also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db, s.logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s.db = db
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db, logger); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 makes the identity key unique.
//
// Databases written before v1 may hold several rows per identity (the
// non-atomic insert-then-update race), so the migration first fills in
// identity keys, then sweeps duplicates and backfills missing history with
// the same plan the periodic sweeper uses, and only then creates the index.
// Everything runs in one transaction.
func migrateToV1(db *sql.DB, logger *slog.Logger) error {
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate to v1: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := ensureColumn(ctx, tx, "records", "identity_key", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if err := ensureColumn(ctx, tx, "records", "version", "INTEGER NOT NULL DEFAULT 1"); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}

	records, err := queryRecords(ctx, tx, `SELECT `+recordColumns+` FROM records ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	for _, r := range records {
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET identity_key = ? WHERE id = ?`, r.Key().Hash(), r.ID,
		); err != nil {
			return fmt.Errorf("migrate to v1: set identity key: %w", err)
		}
	}

	history, err := queryHistory(ctx, tx, `SELECT `+historyColumns+` FROM unlock_history ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}

	plan := sweep.Plan(records, history)
	for _, k := range plan.Duplicates() {
		logger.Info("migration repairing duplicate records",
			"error", engine.NewDuplicateInvariantError(k, len(plan.Groups[k])),
			"canonical", plan.Canonical[k].ID,
		)
	}
	if len(plan.Skipped) > 0 {
		return fmt.Errorf("migrate to v1: %d duplicate records cannot be collapsed safely", len(plan.Skipped))
	}
	if _, err := deleteRecords(ctx, tx, plan.ToDelete); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}

	ids := engine.UUIDv7Generator{}
	now := time.Now().UTC()
	for _, entry := range plan.Backfill {
		entry.ID = ids.Generate()
		if entry.UnlockedAt.IsZero() {
			entry.UnlockedAt = now
		}
		if err := insertHistory(ctx, tx, entry); err != nil {
			return fmt.Errorf("migrate to v1: backfill: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_records_identity_unique
		ON records(identity_key)
	`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v1: commit: %w", err)
	}

	if len(plan.ToDelete) > 0 || len(plan.Backfill) > 0 {
		logger.Info("migrated records to v1",
			"records", len(records),
			"deleted", len(plan.ToDelete),
			"backfilled", len(plan.Backfill),
		)
	}
	return nil
}

// ensureColumn adds a column when a legacy table lacks it.
func ensureColumn(ctx context.Context, q queryer, table, column, decl string) error {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, kind string
			notnull    int
			dflt       any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &kind, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan table info %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate table info %s: %w", table, err)
	}
	rows.Close()

	if _, err := q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

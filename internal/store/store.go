// Package store implements the embedded storage engine: schema bootstrap,
// idempotent batch upserts with new/updated/remediated classification,
// filtered queries, aggregate statistics, and the sync-event journal.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	sqlite3migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// journalColumns is the closed set of columns the sync-journal table must
// carry. Additive column repair adds any of these missing from an existing
// database file; none are ever dropped or renamed.
var journalColumns = []string{
	"vulnerabilities_count", "vulnerabilities_new", "vulnerabilities_updated", "vulnerabilities_remediated",
	"remediations_count", "remediations_new", "remediations_updated",
	"new_count", "updated_count", "remediated_count",
}

// DB wraps the embedded SQLite database handle.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// Open creates the storage directory if absent, opens (or creates) the
// database file at path, applies pragma tuning, runs the initial schema
// migration, and performs additive column repair on the journal table.
func Open(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=off", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := applyPragmas(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn, logger: logger}

	if err := db.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := db.repairJournalColumns(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

// applyPragmas sets the cache, temp-store, and memory-map tuning the journal
// mode/synchronous-level DSN params don't cover.
func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA cache_size = -65536",   // 64 MiB page cache (negative => KiB)
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456", // 256 MiB
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			return fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}
	return nil
}

func (db *DB) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	dbDriver, err := sqlite3migrate.WithInstance(db.conn, &sqlite3migrate.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	// Do not call m.Close(): the sqlite3 driver's Close() closes the
	// *sql.DB passed to WithInstance, which is db.conn, still needed for
	// every subsequent operation. Only the source driver is ours to close.
	defer func() { _ = sourceDriver.Close() }()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// repairJournalColumns scans sync_events via PRAGMA table_info and adds any
// of journalColumns that are missing, as nullable INTEGER columns. It never
// drops or renames a column, and is safe to run against a database that
// already has every column (a no-op).
func (db *DB) repairJournalColumns() error {
	rows, err := db.conn.Query(`PRAGMA table_info(sync_events)`)
	if err != nil {
		return fmt.Errorf("reading sync_events schema: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scanning sync_events schema: %w", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating sync_events schema: %w", err)
	}
	_ = rows.Close()

	for _, col := range journalColumns {
		if existing[col] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE sync_events ADD COLUMN %s INTEGER", col)
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("adding column %s to sync_events: %w", col, err)
		}
		db.logger.Info("additive column repair", "table", "sync_events", "column", col)
	}
	return nil
}

// Ping verifies the database file is still openable, for the diagnostics
// server's readiness check.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database handle.
func (db *DB) Close() error {
	return db.conn.Close()
}

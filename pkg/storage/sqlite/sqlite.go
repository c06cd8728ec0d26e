// Package sqlite provides the SQLite-backed memory record store.
//
// The store keeps records in a file compatible with plain SQLite tooling.
// Every mutation is captured by triggers installed by pkg/replication/schema,
// so the store is always replication-capable: opening it runs the migrator.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication/schema"
)

// Config configures a SQLiteDriver.
type Config struct {
	// Path is a file path or ":memory:" for an in-memory database.
	Path string

	// NodeID identifies this node. Local writes are attributed to it. When
	// empty, the identity already recorded in the database is used, which
	// lets a process open a peer's store without claiming it.
	NodeID string

	// Logger is the configured slog logger. Defaults to a discarding logger.
	Logger *slog.Logger
}

// SQLiteDriver implements memory.Driver on SQLite and exposes the
// replication-facing operations used by the reconciliation daemon.
type SQLiteDriver struct {
	db     *sql.DB
	nodeID string
	logger *slog.Logger
	opened *schema.Report
}

// NewSQLiteDriver opens (creating if needed) the database at c.Path, creates
// the base record tables and brings them up to the replication schema.
func NewSQLiteDriver(ctx context.Context, c Config) (*SQLiteDriver, error) {
	if c.Path == "" {
		return nil, errors.New("database path is required")
	}
	if c.NodeID != "" {
		if err := schema.ValidateNodeID(c.NodeID); err != nil {
			return nil, err
		}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	// Open the database using the github.com/mattn/go-sqlite3 driver (registered as "sqlite3")
	db, err := sql.Open("sqlite3", c.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases from fragmenting across the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	d := &SQLiteDriver{
		db:     db,
		nodeID: c.NodeID,
		logger: c.Logger.With("component", "store"),
	}

	if d.nodeID == "" {
		if d.nodeID, err = storedNodeID(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := d.createBase(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if d.opened, err = d.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// createBase creates the record tables as they existed before replication.
// The migrator adds the replication columns on top.
func (d *SQLiteDriver) createBase(ctx context.Context) error {
	base := `
	CREATE TABLE IF NOT EXISTS memories (
		id         TEXT PRIMARY KEY,
		domain     TEXT NOT NULL DEFAULT '',
		title      TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL DEFAULT '',
		workspace  TEXT NOT NULL DEFAULT '',
		repository TEXT,
		status     TEXT NOT NULL DEFAULT '',
		priority   TEXT NOT NULL DEFAULT '',
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_domain  ON memories(domain);

	CREATE TABLE IF NOT EXISTS memory_tags (
		record_id TEXT NOT NULL REFERENCES memories(id),
		tag       TEXT NOT NULL,
		PRIMARY KEY (record_id, tag)
	);

	CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag);
	`

	_, err := d.db.ExecContext(ctx, base)
	return err
}

// Migrate runs the replication schema migrator against this store.
func (d *SQLiteDriver) Migrate(ctx context.Context) (*schema.Report, error) {
	m, err := schema.NewMigrator(d.db, d.nodeID, d.logger)
	if err != nil {
		return nil, err
	}
	return m.Run(ctx)
}

// storedNodeID reads the node identity recorded by a previous migration.
func storedNodeID(ctx context.Context, db *sql.DB) (string, error) {
	var id string
	err := db.QueryRowContext(ctx,
		`SELECT node_id FROM `+schema.NodeTable+` WHERE singleton = 1`,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("%w: no node id configured and none recorded in the database", schema.ErrInvalidNodeID)
	}
	return id, nil
}

// Ping checks that the database is reachable and carries the replication
// schema.
func (d *SQLiteDriver) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := storedNodeID(ctx, d.db); err != nil {
		return err
	}
	return nil
}

// OpenReport returns what the migrator changed when the store was opened.
func (d *SQLiteDriver) OpenReport() *schema.Report {
	return d.opened
}

// NodeID returns the identity local writes are attributed to.
func (d *SQLiteDriver) NodeID() string {
	return d.nodeID
}

// DB returns the underlying database handle.
func (d *SQLiteDriver) DB() *sql.DB {
	return d.db
}

// Close closes the database connection.
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}

// withTx runs fn inside a transaction, committing on success.
func (d *SQLiteDriver) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

// Ensure SQLiteDriver implements memory.Driver
var _ memory.Driver = (*SQLiteDriver)(nil)

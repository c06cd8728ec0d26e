// Package schema upgrades a memsync SQLite database to the
// replication-capable schema.
//
// The migrator is safe to re-run: each step checks whether its objects
// already exist before acting and runs in its own transaction, so a failed
// step leaves earlier steps committed and can be retried once the
// underlying problem is fixed.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Table names shared with the record store.
const (
	RecordsTable = "memories"
	TagsTable    = "memory_tags"
	LogTable     = "mutation_log"
	ArchiveTable = "mutation_log_archive"
	NodeTable    = "replication_node"
	GuardTable   = "replication_guard"
)

// Step names a single migration step.
type Step string

const (
	StepColumns     Step = "columns"
	StepMutationLog Step = "mutation_log"
	StepNode        Step = "node"
	StepTriggers    Step = "triggers"
)

// Steps is the ordered list of migration steps.
var Steps = []Step{StepColumns, StepMutationLog, StepNode, StepTriggers}

// StepError reports which migration step failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ErrInvalidNodeID is returned for node identifiers outside the allowed
// character set.
var ErrInvalidNodeID = errors.New("invalid node id")

var nodeIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// ValidateNodeID checks that id is usable as a node identity. The id ends up
// quoted inside DDL (column defaults cannot be bound parameters), so the
// character set is deliberately narrow.
func ValidateNodeID(id string) error {
	if !nodeIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q (allowed: letters, digits, '.', '_', ':', '@', '-'; 1-128 chars)", ErrInvalidNodeID, id)
	}
	return nil
}

// Report describes what a migration run changed.
type Report struct {
	// ColumnsAdded lists replication columns added to the records table.
	ColumnsAdded []string

	// LogCreated is true when the mutation log table was created.
	LogCreated bool

	// Backfilled counts records that existed before the mutation log and
	// were given a pending log entry so they replicate.
	Backfilled int

	// NodeChanged is true when the stored node identity was set or changed.
	NodeChanged bool

	// TriggersInstalled lists triggers that were (re)created.
	TriggersInstalled []string
}

// Changed reports whether the run modified the schema.
func (r *Report) Changed() bool {
	return len(r.ColumnsAdded) > 0 || r.LogCreated || r.NodeChanged || len(r.TriggersInstalled) > 0
}

// Migrator brings an existing store up to the replication schema.
type Migrator struct {
	db     *sql.DB
	nodeID string
	logger *slog.Logger
}

// NewMigrator creates a migrator for db acting on behalf of nodeID.
func NewMigrator(db *sql.DB, nodeID string, logger *slog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if err := ValidateNodeID(nodeID); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Migrator{
		db:     db,
		nodeID: nodeID,
		logger: logger.With("component", "migrator"),
	}, nil
}

// Run executes every step in order and stops at the first failure, which is
// returned as a *StepError.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	steps := []struct {
		step Step
		fn   func(context.Context, *sql.Tx, *Report) error
	}{
		{StepColumns, m.addColumns},
		{StepMutationLog, m.createLog},
		{StepNode, m.recordNode},
		{StepTriggers, m.installTriggers},
	}

	for _, s := range steps {
		if err := m.runStep(ctx, s.step, report, s.fn); err != nil {
			m.logger.Error("migration step failed", "step", s.step, "error", err)
			return report, err
		}
		m.logger.Debug("migration step complete", "step", s.step)
	}

	if report.Changed() {
		m.logger.Info("replication schema migrated",
			"columns_added", report.ColumnsAdded,
			"log_created", report.LogCreated,
			"backfilled", report.Backfilled,
			"triggers", report.TriggersInstalled,
		)
	}

	return report, nil
}

func (m *Migrator) runStep(ctx context.Context, step Step, report *Report, fn func(context.Context, *sql.Tx, *Report) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return &StepError{Step: step, Err: fmt.Errorf("begin transaction: %w", err)}
	}

	if err := fn(ctx, tx, report); err != nil {
		_ = tx.Rollback()
		return &StepError{Step: step, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StepError{Step: step, Err: fmt.Errorf("commit: %w", err)}
	}

	return nil
}

// addColumns adds origin_id, version and deleted to the records table.
func (m *Migrator) addColumns(ctx context.Context, tx *sql.Tx, report *Report) error {
	exists, err := objectExists(ctx, tx, "table", RecordsTable)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("table %s does not exist", RecordsTable)
	}

	existing, err := tableColumns(ctx, tx, RecordsTable)
	if err != nil {
		return err
	}

	columns := []struct {
		name string
		def  string
	}{
		{"origin_id", "TEXT NOT NULL DEFAULT " + quoteLiteral(m.nodeID)},
		{"version", "INTEGER NOT NULL DEFAULT 0"},
		{"deleted", "INTEGER NOT NULL DEFAULT 0"},
	}

	for _, col := range columns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", RecordsTable, col.name, col.def)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("adding column %s: %w", col.name, err)
		}
		report.ColumnsAdded = append(report.ColumnsAdded, col.name)
	}

	return nil
}

// createLog creates the mutation log, its indexes and the archive table.
// When the log is new, records already in the table are backfilled.
func (m *Migrator) createLog(ctx context.Context, tx *sql.Tx, report *Report) error {
	exists, err := objectExists(ctx, tx, "table", LogTable)
	if err != nil {
		return err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS mutation_log (
		log_id    INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT    NOT NULL CHECK (operation IN ('insert', 'update', 'delete')),
		record_id TEXT    NOT NULL,
		version   INTEGER NOT NULL,
		origin_id TEXT    NOT NULL,
		timestamp TEXT    NOT NULL,
		synced    INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_mutation_log_synced ON mutation_log(synced, log_id);
	CREATE INDEX IF NOT EXISTS idx_mutation_log_origin ON mutation_log(origin_id);
	CREATE INDEX IF NOT EXISTS idx_mutation_log_record ON mutation_log(record_id);

	CREATE TABLE IF NOT EXISTS mutation_log_archive (
		log_id      INTEGER PRIMARY KEY,
		operation   TEXT    NOT NULL,
		record_id   TEXT    NOT NULL,
		version     INTEGER NOT NULL,
		origin_id   TEXT    NOT NULL,
		timestamp   TEXT    NOT NULL,
		archived_at TEXT    NOT NULL
	);
	`

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating mutation log: %w", err)
	}
	if exists {
		return nil
	}

	report.LogCreated = true
	n, err := backfillLog(ctx, tx)
	if err != nil {
		return err
	}
	report.Backfilled = n
	return nil
}

// backfillLog gives every record written before change capture existed a
// version of at least 1 and one pending log entry, so the next push sends
// it to the peer.
func backfillLog(ctx context.Context, tx *sql.Tx) (int, error) {
	if _, err := tx.ExecContext(ctx, `UPDATE memories SET version = 1 WHERE version = 0`); err != nil {
		return 0, fmt.Errorf("backfilling versions: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO mutation_log (operation, record_id, version, origin_id, timestamp, synced)
		SELECT CASE WHEN deleted = 1 THEN 'delete' ELSE 'insert' END,
		       id, version, origin_id, updated_at, 0
		FROM memories
		ORDER BY updated_at, id`)
	if err != nil {
		return 0, fmt.Errorf("backfilling mutation log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting backfilled entries: %w", err)
	}
	return int(n), nil
}

// recordNode stores this node's identity where triggers can read it and
// creates the guard table used to mark remote applies.
func (m *Migrator) recordNode(ctx context.Context, tx *sql.Tx, report *Report) error {
	schema := `
	CREATE TABLE IF NOT EXISTS replication_node (
		singleton INTEGER PRIMARY KEY CHECK (singleton = 1),
		node_id   TEXT    NOT NULL
	);

	CREATE TABLE IF NOT EXISTS replication_guard (
		record_id TEXT PRIMARY KEY
	);
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating node tables: %w", err)
	}

	var current string
	err := tx.QueryRowContext(ctx, `SELECT node_id FROM replication_node WHERE singleton = 1`).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("reading node id: %w", err)
	case current == m.nodeID:
		return nil
	default:
		m.logger.Warn("node identity changed", "previous", current, "node_id", m.nodeID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO replication_node (singleton, node_id) VALUES (1, ?)
		 ON CONFLICT(singleton) DO UPDATE SET node_id = excluded.node_id`,
		m.nodeID,
	)
	if err != nil {
		return fmt.Errorf("writing node id: %w", err)
	}

	report.NodeChanged = true
	return nil
}

// installTriggers (re)creates the change-capture triggers. A trigger whose
// stored definition already matches is left alone.
func (m *Migrator) installTriggers(ctx context.Context, tx *sql.Tx, report *Report) error {
	for _, trig := range triggers {
		var stored sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT sql FROM sqlite_master WHERE type = 'trigger' AND name = ?`, trig.name,
		).Scan(&stored)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("inspecting trigger %s: %w", trig.name, err)
		}

		if stored.Valid && normalizeSQL(stored.String) == normalizeSQL(trig.ddl) {
			continue
		}

		if _, err := tx.ExecContext(ctx, "DROP TRIGGER IF EXISTS "+trig.name); err != nil {
			return fmt.Errorf("dropping trigger %s: %w", trig.name, err)
		}
		if _, err := tx.ExecContext(ctx, trig.ddl); err != nil {
			return fmt.Errorf("creating trigger %s: %w", trig.name, err)
		}
		report.TriggersInstalled = append(report.TriggersInstalled, trig.name)
	}

	return nil
}

func objectExists(ctx context.Context, tx *sql.Tx, kind, name string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, kind, name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking %s %s: %w", kind, name, err)
	}
	return n > 0, nil
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		cols[name] = true
	}

	return cols, rows.Err()
}

// quoteLiteral quotes s as an SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func normalizeSQL(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

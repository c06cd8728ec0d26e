package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
)

// ReplicationStats summarizes the local mutation log.
type ReplicationStats struct {
	NodeID        string     `json:"node_id"`
	Pending       int        `json:"pending"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
	LastLogID     int64      `json:"last_log_id"`
	Archived      int        `json:"archived"`
}

// OldestPendingAge returns how long the oldest unsynced entry has waited, or
// zero when nothing is pending.
func (s *ReplicationStats) OldestPendingAge(now time.Time) time.Duration {
	if s.OldestPending == nil {
		return 0
	}
	return now.Sub(*s.OldestPending)
}

// Lookup returns the record with id including tombstones, or nil when the
// store has never seen it.
func (d *SQLiteDriver) Lookup(ctx context.Context, id string) (*memory.Record, error) {
	return getRecord(ctx, d.db, id)
}

// Pending returns unsynced log entries oldest first. An empty excludeOrigin
// returns entries from every origin.
func (d *SQLiteDriver) Pending(ctx context.Context, excludeOrigin string, limit int) ([]memory.LogEntry, error) {
	return queryLog(ctx, d.db, `
		SELECT log_id, operation, record_id, version, origin_id, timestamp, synced
		FROM mutation_log
		WHERE synced = 0 AND (? = '' OR origin_id != ?)
		ORDER BY log_id
		LIMIT ?`,
		excludeOrigin, excludeOrigin, replication.Clamp(limit),
	)
}

// PendingFor returns the unsynced log entries for a single record.
func (d *SQLiteDriver) PendingFor(ctx context.Context, recordID string) ([]memory.LogEntry, error) {
	return queryLog(ctx, d.db, `
		SELECT log_id, operation, record_id, version, origin_id, timestamp, synced
		FROM mutation_log
		WHERE synced = 0 AND record_id = ?
		ORDER BY log_id`,
		recordID,
	)
}

// MarkSynced flags the given log entries as synced. Unknown ids are ignored.
func (d *SQLiteDriver) MarkSynced(ctx context.Context, logIDs []int64) error {
	if len(logIDs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(logIDs)), ",")
	args := make([]any, len(logIDs))
	for i, id := range logIDs {
		args[i] = id
	}

	_, err := d.db.ExecContext(ctx,
		`UPDATE mutation_log SET synced = 1 WHERE synced = 0 AND log_id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return fmt.Errorf("failed to mark log entries synced: %w", err)
	}

	return nil
}

// ApplyRemote writes a record received from the peer. The incoming record
// is applied only if it wins last-write-wins against the local copy, so a
// repeated apply of the same mutation is a no-op that reports Applied false.
//
// The write is made under the replication guard: it keeps the incoming
// origin and its log entry is born synced. It keeps the incoming version
// unless the local copy is already at or past it, in which case it lands
// one above the local copy; the result carries the version stored. Any
// local pending entries for the record are superseded and marked synced in
// the same transaction.
func (d *SQLiteDriver) ApplyRemote(ctx context.Context, op memory.Operation, rec *memory.Record) (replication.ApplyResult, error) {
	var result replication.ApplyResult
	if rec == nil {
		return result, memory.ErrNilRecord
	}
	if rec.ID == "" {
		return result, errors.New("record id is required")
	}
	if rec.OriginID == "" {
		return result, errors.New("record origin is required")
	}
	if _, err := memory.ParseOperation(string(op)); err != nil {
		return result, err
	}

	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return result, err
	}

	deleted := rec.Deleted || op == memory.OpDelete
	tags := memory.NormalizeTags(rec.Tags)

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		local, err := getRecord(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		if local != nil && !replication.Wins(rec, local) {
			result.Version = local.Version
			return nil
		}

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO replication_guard (record_id) VALUES (?)`, rec.ID); err != nil {
			return fmt.Errorf("failed to set replication guard: %w", err)
		}

		version := rec.Version
		createdAt := rec.CreatedAt
		if local != nil {
			version = max(version, local.Version+1)
			if createdAt.IsZero() {
				createdAt = local.CreatedAt
			}
		}
		if version < 1 {
			version = 1
		}
		if createdAt.IsZero() {
			createdAt = rec.UpdatedAt
		}

		if local == nil {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO memories (`+recordColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.ID, rec.Domain, rec.Title, rec.Content, rec.Workspace, nullString(rec.Repository),
				rec.Status, rec.Priority, metadata,
				memory.FormatTime(createdAt), memory.FormatTime(rec.UpdatedAt),
				rec.OriginID, version, deleted,
			)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE memories
				SET domain = ?, title = ?, content = ?, workspace = ?, repository = ?,
				    status = ?, priority = ?, metadata = ?, created_at = ?, updated_at = ?,
				    origin_id = ?, version = ?, deleted = ?
				WHERE id = ?`,
				rec.Domain, rec.Title, rec.Content, rec.Workspace, nullString(rec.Repository),
				rec.Status, rec.Priority, metadata,
				memory.FormatTime(createdAt), memory.FormatTime(rec.UpdatedAt),
				rec.OriginID, version, deleted, rec.ID,
			)
		}
		if err != nil {
			return fmt.Errorf("failed to write remote record: %w", err)
		}

		if err := replaceTags(ctx, tx, rec.ID, tags); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE mutation_log SET synced = 1 WHERE record_id = ? AND synced = 0`, rec.ID,
		); err != nil {
			return fmt.Errorf("failed to supersede local entries: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM replication_guard WHERE record_id = ?`, rec.ID); err != nil {
			return fmt.Errorf("failed to clear replication guard: %w", err)
		}

		result = replication.ApplyResult{Applied: true, Version: version}
		return nil
	})
	if err != nil {
		return replication.ApplyResult{}, err
	}

	if result.Applied {
		d.logger.Debug("remote record applied",
			"id", rec.ID,
			"version", result.Version,
			"incoming_version", rec.Version,
			"origin", rec.OriginID,
			"deleted", deleted,
		)
	}
	return result, nil
}

// ReplicationStats reports the size and age of the pending backlog.
func (d *SQLiteDriver) ReplicationStats(ctx context.Context) (*ReplicationStats, error) {
	stats := &ReplicationStats{NodeID: d.nodeID}

	var oldest sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(timestamp)
		FROM mutation_log WHERE synced = 0`,
	).Scan(&stats.Pending, &oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending entries: %w", err)
	}
	if oldest.Valid {
		t, err := memory.ParseTime(oldest.String)
		if err != nil {
			return nil, err
		}
		stats.OldestPending = &t
	}

	err = d.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT MAX(log_id) FROM mutation_log), 0),
			(SELECT COUNT(*) FROM mutation_log_archive)`,
	).Scan(&stats.LastLogID, &stats.Archived)
	if err != nil {
		return nil, fmt.Errorf("failed to read log totals: %w", err)
	}

	return stats, nil
}

// Compact moves synced log entries written before the cutoff into the
// archive table and returns how many were moved. Pending entries are never
// compacted.
func (d *SQLiteDriver) Compact(ctx context.Context, before time.Time) (int64, error) {
	cutoff := memory.FormatTime(before)
	archivedAt := memory.FormatTime(memory.Now())

	var moved int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO mutation_log_archive
				(log_id, operation, record_id, version, origin_id, timestamp, archived_at)
			SELECT log_id, operation, record_id, version, origin_id, timestamp, ?
			FROM mutation_log
			WHERE synced = 1 AND timestamp < ?`,
			archivedAt, cutoff,
		)
		if err != nil {
			return fmt.Errorf("failed to archive log entries: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM mutation_log WHERE synced = 1 AND timestamp < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to delete archived entries: %w", err)
		}
		moved, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if moved > 0 {
		d.logger.Info("mutation log compacted", "archived", moved, "before", cutoff)
	}
	return moved, nil
}

func queryLog(ctx context.Context, q queryer, query string, args ...any) ([]memory.LogEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutation log: %w", err)
	}
	defer rows.Close()

	var entries []memory.LogEntry
	for rows.Next() {
		var (
			e  memory.LogEntry
			op string
			ts string
		)
		if err := rows.Scan(&e.LogID, &op, &e.RecordID, &e.Version, &e.OriginID, &ts, &e.Synced); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if e.Operation, err = memory.ParseOperation(op); err != nil {
			return nil, err
		}
		if e.Timestamp, err = memory.ParseTime(ts); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/papercomputeco/memsync/pkg/memory"
)

const recordColumns = `id, domain, title, content, workspace, repository, status, priority,
	metadata, created_at, updated_at, origin_id, version, deleted`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Put inserts or updates a record and returns its id. A record without an id
// gets a fresh UUID. Writing a tombstoned id resurrects it.
func (d *SQLiteDriver) Put(ctx context.Context, rec *memory.Record) (string, error) {
	if rec == nil {
		return "", memory.ErrNilRecord
	}

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}

	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return "", err
	}

	now := memory.FormatTime(memory.Now())
	tags := memory.NormalizeTags(rec.Tags)

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM memories WHERE id = ?)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check record: %w", err)
		}

		if exists {
			_, err = tx.ExecContext(ctx, `
				UPDATE memories
				SET domain = ?, title = ?, content = ?, workspace = ?, repository = ?,
				    status = ?, priority = ?, metadata = ?, updated_at = ?, deleted = 0
				WHERE id = ?`,
				rec.Domain, rec.Title, rec.Content, rec.Workspace, nullString(rec.Repository),
				rec.Status, rec.Priority, metadata, now, id,
			)
			if err != nil {
				return fmt.Errorf("failed to update record: %w", err)
			}
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO memories (`+recordColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0)`,
				id, rec.Domain, rec.Title, rec.Content, rec.Workspace, nullString(rec.Repository),
				rec.Status, rec.Priority, metadata, now, now, d.nodeID,
			)
			if err != nil {
				return fmt.Errorf("failed to insert record: %w", err)
			}
		}

		return replaceTags(ctx, tx, id, tags)
	})
	if err != nil {
		return "", err
	}

	d.logger.Debug("record stored", "id", id)
	return id, nil
}

// Get retrieves a live record by id.
func (d *SQLiteDriver) Get(ctx context.Context, id string) (*memory.Record, error) {
	rec, err := getRecord(ctx, d.db, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted {
		return nil, memory.NotFoundError{ID: id}
	}
	return rec, nil
}

// Delete tombstones a record. It reports false when the id is unknown or
// already deleted.
func (d *SQLiteDriver) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var live bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM memories WHERE id = ? AND deleted = 0)`, id,
		).Scan(&live)
		if err != nil {
			return fmt.Errorf("failed to check record: %w", err)
		}
		if !live {
			return nil
		}

		// The delete trigger converts this into a tombstone.
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if deleted {
		d.logger.Debug("record deleted", "id", id)
	}
	return deleted, nil
}

// List returns live records matching f, newest first, along with the total
// number of matches ignoring limit and offset.
func (d *SQLiteDriver) List(ctx context.Context, f memory.Filter, limit, offset int) ([]*memory.Record, int, error) {
	where := []string{"m.deleted = 0"}
	var args []any

	if f.Domain != "" {
		where = append(where, "m.domain = ?")
		args = append(args, f.Domain)
	}
	if f.Workspace != "" {
		where = append(where, "m.workspace = ?")
		args = append(args, f.Workspace)
	}
	if f.Repository != "" {
		where = append(where, "m.repository = ?")
		args = append(args, f.Repository)
	}
	if f.Status != "" {
		where = append(where, "m.status = ?")
		args = append(args, f.Status)
	}
	if f.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM memory_tags t WHERE t.record_id = m.id AND t.tag = ?)")
		args = append(args, strings.ToLower(strings.TrimSpace(f.Tag)))
	}

	clause := strings.Join(where, " AND ")

	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories m WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + prefixed("m", recordColumns) + ` FROM memories m WHERE ` + clause +
		` ORDER BY m.updated_at DESC, m.id LIMIT ? OFFSET ?`
	recs, err := queryRecords(ctx, d.db, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}

	return recs, total, nil
}

// Search returns live records whose title, content or tags contain query,
// case-insensitively, newest first.
func (d *SQLiteDriver) Search(ctx context.Context, query string, limit int) ([]*memory.Record, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is required")
	}
	if limit <= 0 {
		limit = 10
	}

	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	stmt := `SELECT ` + prefixed("m", recordColumns) + ` FROM memories m
		WHERE m.deleted = 0 AND (
			lower(m.title) LIKE ? ESCAPE '\'
			OR lower(m.content) LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM memory_tags t WHERE t.record_id = m.id AND t.tag LIKE ? ESCAPE '\')
		)
		ORDER BY m.updated_at DESC, m.id
		LIMIT ?`

	return queryRecords(ctx, d.db, stmt, pattern, pattern, pattern, limit)
}

// Stats returns aggregate counts over the store.
func (d *SQLiteDriver) Stats(ctx context.Context) (*memory.Stats, error) {
	stats := &memory.Stats{
		ByDomain: make(map[string]int),
		ByStatus: make(map[string]int),
	}

	err := d.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted = 1 THEN 1 ELSE 0 END), 0)
		FROM memories`,
	).Scan(&stats.TotalRecords, &stats.Tombstones)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT t.tag)
		FROM memory_tags t JOIN memories m ON m.id = t.record_id
		WHERE m.deleted = 0`,
	).Scan(&stats.DistinctTags)
	if err != nil {
		return nil, fmt.Errorf("failed to count tags: %w", err)
	}

	if err := groupCounts(ctx, d.db, "domain", stats.ByDomain); err != nil {
		return nil, err
	}
	if err := groupCounts(ctx, d.db, "status", stats.ByStatus); err != nil {
		return nil, err
	}

	return stats, nil
}

func groupCounts(ctx context.Context, q queryer, column string, into map[string]int) error {
	rows, err := q.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM memories WHERE deleted = 0 GROUP BY `+column,
	)
	if err != nil {
		return fmt.Errorf("failed to group by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		into[key] = n
	}

	return rows.Err()
}

// getRecord returns the row for id including tombstones, or nil when absent.
func getRecord(ctx context.Context, q queryer, id string) (*memory.Record, error) {
	recs, err := queryRecords(ctx, q, `SELECT `+recordColumns+` FROM memories WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// queryRecords runs a record query and attaches tags to each result. Rows
// are fully read before the tag lookups run, since the store holds a single
// connection.
func queryRecords(ctx context.Context, q queryer, query string, args ...any) ([]*memory.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	var recs []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	rows.Close()

	for _, rec := range recs {
		tags, err := loadTags(ctx, q, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.Tags = tags
	}

	return recs, nil
}

func scanRecord(rows *sql.Rows) (*memory.Record, error) {
	var (
		rec        memory.Record
		repository sql.NullString
		metadata   string
		createdAt  string
		updatedAt  string
	)

	err := rows.Scan(
		&rec.ID, &rec.Domain, &rec.Title, &rec.Content, &rec.Workspace, &repository,
		&rec.Status, &rec.Priority, &metadata, &createdAt, &updatedAt,
		&rec.OriginID, &rec.Version, &rec.Deleted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	if repository.Valid {
		repo := repository.String
		rec.Repository = &repo
	}

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", rec.ID, err)
		}
	}

	if rec.CreatedAt, err = memory.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = memory.ParseTime(updatedAt); err != nil {
		return nil, err
	}

	return &rec, nil
}

func loadTags(ctx context.Context, q queryer, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT tag FROM memory_tags WHERE record_id = ? ORDER BY tag`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}

	return tags, rows.Err()
}

func replaceTags(ctx context.Context, tx *sql.Tx, id string, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_tags (record_id, tag) VALUES (?, ?)`, id, tag,
		); err != nil {
			return fmt.Errorf("failed to insert tag %q: %w", tag, err)
		}
	}
	return nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

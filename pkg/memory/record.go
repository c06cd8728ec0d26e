package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeLayout is the on-disk timestamp format. Millisecond precision matches
// what SQLite's strftime('%f') yields inside triggers, so timestamps written
// by Go and by the database compare consistently.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Record is a single memory entry. OriginID, Version and Deleted are
// replication metadata maintained by the store and its triggers; normal
// callers never need to set them.
type Record struct {
	ID         string         `json:"id" yaml:"id"`
	Domain     string         `json:"domain" yaml:"domain"`
	Title      string         `json:"title" yaml:"title"`
	Content    string         `json:"content" yaml:"content"`
	Workspace  string         `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Repository *string        `json:"repository,omitempty" yaml:"repository,omitempty"`
	Tags       []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Status     string         `json:"status,omitempty" yaml:"status,omitempty"`
	Priority   string         `json:"priority,omitempty" yaml:"priority,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"updated_at"`

	OriginID string `json:"origin_id" yaml:"origin_id"`
	Version  int64  `json:"version" yaml:"version"`
	Deleted  bool   `json:"deleted" yaml:"deleted"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	c := *r
	if r.Repository != nil {
		repo := *r.Repository
		c.Repository = &repo
	}
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}

	return &c
}

// NormalizeTags trims, lowercases and deduplicates tags, returning them
// sorted. Empty tags are dropped.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)

	return out
}

// Filter narrows List results. Zero-value fields are ignored.
type Filter struct {
	Domain     string `json:"domain,omitempty"`
	Workspace  string `json:"workspace,omitempty"`
	Repository string `json:"repository,omitempty"`
	Status     string `json:"status,omitempty"`
	Tag        string `json:"tag,omitempty"`
}

// Stats holds aggregate counts over the record store.
type Stats struct {
	TotalRecords int            `json:"total_records"`
	Tombstones   int            `json:"tombstones"`
	DistinctTags int            `json:"distinct_tags"`
	ByDomain     map[string]int `json:"by_domain"`
	ByStatus     map[string]int `json:"by_status"`
}

// Operation is the kind of write captured in the mutation log.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation validates s as an Operation.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpInsert, OpUpdate, OpDelete:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// LogEntry is one row of the append-only mutation log.
type LogEntry struct {
	LogID     int64     `json:"log_id"`
	Operation Operation `json:"operation"`
	RecordID  string    `json:"record_id"`
	Version   int64     `json:"version"`
	OriginID  string    `json:"origin_id"`
	Timestamp time.Time `json:"timestamp"`
	Synced    bool      `json:"synced"`
}

// FormatTime renders t in TimeLayout (UTC, millisecond precision).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime or by SQLite. A few
// looser layouts are accepted for rows written by older tooling.
func ParseTime(s string) (time.Time, error) {
	layouts := []string{
		TimeLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// Now returns the current time truncated to the stored precision.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

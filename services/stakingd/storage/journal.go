package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"stakepool/core/types"
)

const (
	// DefaultListLimit caps List when the caller does not ask for a size.
	DefaultListLimit = 100
	// MaxListLimit bounds a single List page.
	MaxListLimit = 1000
)

var (
	// ErrPathRequired is returned when the journal path is missing.
	ErrPathRequired = errors.New("stakingd journal path must be configured")
	// ErrNotConfigured is returned by methods on a nil journal.
	ErrNotConfigured = errors.New("journal not configured")
)

// Record is one journaled pool event.
type Record struct {
	Seq        int64             `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Journal persists pool events in SQLite so they can be replayed, streamed
// from an offset and exported.
type Journal struct {
	db *sql.DB
}

// Open initialises the journal using a sqlite-compatible DSN.
func Open(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append stores evt and returns the persisted record.
func (j *Journal) Append(ctx context.Context, evt *types.Event, at time.Time) (Record, error) {
	if j == nil || j.db == nil {
		return Record{}, ErrNotConfigured
	}
	if evt == nil || strings.TrimSpace(evt.Type) == "" {
		return Record{}, fmt.Errorf("event type required")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return Record{}, fmt.Errorf("encode attributes: %w", err)
	}
	record := Record{
		ID:         uuid.NewString(),
		Type:       evt.Type,
		Attributes: attrs,
		RecordedAt: at.UTC(),
	}
	res, err := j.db.ExecContext(ctx, `
        INSERT INTO pool_events(id, type, attributes, recorded_at)
        VALUES(?, ?, ?, ?)
    `, record.ID, record.Type, string(encoded), record.RecordedAt.UnixNano())
	if err != nil {
		return Record{}, fmt.Errorf("insert event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("event sequence: %w", err)
	}
	record.Seq = seq
	return record, nil
}

// List returns up to limit records with a sequence greater than after, in
// ascending order.
func (j *Journal) List(ctx context.Context, after int64, limit int) ([]Record, error) {
	if j == nil || j.db == nil {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT seq, id, type, attributes, recorded_at
        FROM pool_events
        WHERE seq > ?
        ORDER BY seq ASC
        LIMIT ?
    `, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var (
			record   Record
			attrs    string
			recorded int64
		)
		if err := rows.Scan(&record.Seq, &record.ID, &record.Type, &attrs, &recorded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		record.Attributes = map[string]string{}
		if err := json.Unmarshal([]byte(attrs), &record.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes for %s: %w", record.ID, err)
		}
		record.RecordedAt = time.Unix(0, recorded).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// All walks the whole journal in sequence order, page by page.
func (j *Journal) All(ctx context.Context, fn func(Record) error) error {
	return j.Scan(ctx, 0, fn)
}

// Scan visits records with a sequence greater than after, page by page, until
// fn returns an error or the journal is exhausted.
func (j *Journal) Scan(ctx context.Context, after int64, fn func(Record) error) error {
	for {
		page, err := j.List(ctx, after, MaxListLimit)
		if err != nil {
			return err
		}
		for _, record := range page {
			if err := fn(record); err != nil {
				return err
			}
			after = record.Seq
		}
		if len(page) < MaxListLimit {
			return nil
		}
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS pool_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pool_events_type ON pool_events(type);
`

package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is the primary measurements table. Writes are serialized.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the database file and ensures the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	s := NewSQLiteStore(db)
	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("persistence: sqlite store ready at %s", path)
	return s, nil
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// EnsureSchema is idempotent.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, point string, dustLevel float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO measurements (point, dust_level) VALUES (?, ?)`, point, dustLevel); err != nil {
		return writeFailed("sqlite insert", err)
	}
	return nil
}

// List returns the newest records first. An empty point lists every point.
func (s *SQLiteStore) List(ctx context.Context, point string, limit int) ([]model.MeasurementRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT rowid, point, dust_level, timestamp FROM measurements`
	args := []any{}
	if point != "" {
		q += ` WHERE point = ?`
		args = append(args, point)
	}
	q += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	out := make([]model.MeasurementRecord, 0, limit)
	for rows.Next() {
		var (
			r  model.MeasurementRecord
			ts sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Point, &r.DustLevel, &ts); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		r.Timestamp = parseTimestamp(ts.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Latest returns the newest record per point.
func (s *SQLiteStore) Latest(ctx context.Context) ([]model.MeasurementRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT m.rowid, m.point, m.dust_level, m.timestamp
FROM measurements m
JOIN (SELECT point, MAX(rowid) AS id FROM measurements GROUP BY point) last ON m.rowid = last.id
ORDER BY m.point`)
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}
	defer rows.Close()

	var out []model.MeasurementRecord
	for rows.Next() {
		var (
			r  model.MeasurementRecord
			ts sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Point, &r.DustLevel, &ts); err != nil {
			return nil, fmt.Errorf("scan latest: %w", err)
		}
		r.Timestamp = parseTimestamp(ts.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05Z",
}

// parseTimestamp reads CURRENT_TIMESTAMP text, which sqlite stores in UTC.
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

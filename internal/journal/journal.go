// Package journal provides a persistent, append-only record of provider
// lifecycle events (bootstraps, failures, shutdowns). The journal exists
// for operators: when a provider is missing from the merged tool set,
// the journal answers "since when, and why".
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/parlane/seneschal/internal/bootstrap"
)

// Entry is one recorded lifecycle event.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
}

// Store is an append-only SQLite journal. All public methods are safe
// for concurrent use (SQLite serializes writes).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a journal at the given database path. The schema is
// created automatically on first use.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS provider_events (
		id        TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		provider  TEXT NOT NULL,
		event     TEXT NOT NULL,
		detail    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON provider_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_provider ON provider_events(provider);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record implements [bootstrap.Recorder]. Journal failures are logged
// and swallowed — losing an audit row must never fail a bootstrap or
// shutdown.
func (s *Store) Record(ctx context.Context, ev bootstrap.Event) {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_events (id, timestamp, provider, event, detail)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(),
		ts.Format(time.RFC3339Nano),
		ev.Provider,
		ev.Type,
		ev.Detail,
	)
	if err != nil {
		s.logger.Warn("failed to record provider event",
			"provider", ev.Provider,
			"event", ev.Type,
			"error", err,
		)
	}
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, provider, event, COALESCE(detail, '')
		 FROM provider_events
		 ORDER BY timestamp DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query provider events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Provider, &e.Event, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan provider event: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			e.Timestamp = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ByProvider returns the newest entries for one provider, most recent first.
func (s *Store) ByProvider(ctx context.Context, provider string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, provider, event, COALESCE(detail, '')
		 FROM provider_events
		 WHERE provider = ?
		 ORDER BY timestamp DESC
		 LIMIT ?`, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("query provider events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Provider, &e.Event, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan provider event: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			e.Timestamp = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

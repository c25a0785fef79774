// Package store persists dedup entries, subscribers, filters and sessions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mkravets/orderwatch/internal/filter"
	"github.com/mkravets/orderwatch/internal/model"
)

// SQLiteStore is the default durable backend: a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS dedup_entries (
	external_id  TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	first_seen   DATETIME NOT NULL,
	content_hash TEXT NOT NULL,
	notified     TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS subscribers (
	id       INTEGER PRIMARY KEY,
	name     TEXT NOT NULL DEFAULT '',
	chat_id  INTEGER NOT NULL,
	template TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS filters (
	subscriber_id INTEGER NOT NULL,
	name          TEXT NOT NULL,
	rule          TEXT NOT NULL,
	PRIMARY KEY (subscriber_id, name)
);
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	blob       BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Verify the connection is alive.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// LoadDedup reads all dedup entries.
func (s *SQLiteStore) LoadDedup(ctx context.Context) ([]model.DedupEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT external_id, title, url, first_seen, content_hash, notified FROM dedup_entries")
	if err != nil {
		return nil, fmt.Errorf("loading dedup entries: %w", err)
	}
	defer rows.Close()

	var out []model.DedupEntry
	for rows.Next() {
		var e model.DedupEntry
		var notified string
		if err := rows.Scan(&e.ExternalID, &e.Title, &e.URL, &e.FirstSeenAt, &e.ContentHash, &notified); err != nil {
			return nil, fmt.Errorf("scanning dedup entry: %w", err)
		}
		if err := json.Unmarshal([]byte(notified), &e.Notified); err != nil {
			return nil, fmt.Errorf("decoding notified map for %s: %w", e.ExternalID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveDedup upserts one dedup entry. The whole entry is written in one
// statement so a crash never leaves a half-updated row.
func (s *SQLiteStore) SaveDedup(ctx context.Context, e model.DedupEntry) error {
	notified, err := json.Marshal(e.Notified)
	if err != nil {
		return fmt.Errorf("encoding notified map for %s: %w", e.ExternalID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dedup_entries (external_id, title, url, first_seen, content_hash, notified)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			content_hash = excluded.content_hash,
			notified = excluded.notified`,
		e.ExternalID, e.Title, e.URL, e.FirstSeenAt, e.ContentHash, string(notified))
	if err != nil {
		return fmt.Errorf("saving dedup entry %s: %w", e.ExternalID, err)
	}
	return nil
}

// CleanupDedup deletes dedup entries first seen before the retention window.
func (s *SQLiteStore) CleanupDedup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, "DELETE FROM dedup_entries WHERE first_seen < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up dedup entries older than %v: %w", olderThan, err)
	}
	return res.RowsAffected()
}

// LoadSubscribers reads all subscribers with their filters attached.
func (s *SQLiteStore) LoadSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, chat_id, template FROM subscribers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("loading subscribers: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscriber
	for rows.Next() {
		var sub model.Subscriber
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.ChatID, &sub.Template); err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range subs {
		filters, err := s.loadFilters(ctx, subs[i].ID)
		if err != nil {
			return nil, err
		}
		subs[i].Filters = filters
	}
	return subs, nil
}

func (s *SQLiteStore) loadFilters(ctx context.Context, subscriberID int64) ([]model.FilterRule, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT rule FROM filters WHERE subscriber_id = ? ORDER BY name", subscriberID)
	if err != nil {
		return nil, fmt.Errorf("loading filters for subscriber %d: %w", subscriberID, err)
	}
	defer rows.Close()

	var out []model.FilterRule
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning filter: %w", err)
		}
		var rule model.FilterRule
		if err := json.Unmarshal([]byte(raw), &rule); err != nil {
			return nil, fmt.Errorf("decoding filter for subscriber %d: %w", subscriberID, err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// SaveSubscriber upserts a subscriber row. Filters are managed separately.
func (s *SQLiteStore) SaveSubscriber(ctx context.Context, sub model.Subscriber) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (id, name, chat_id, template)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			chat_id = excluded.chat_id,
			template = excluded.template`,
		sub.ID, sub.Name, sub.ChatID, sub.Template)
	if err != nil {
		return fmt.Errorf("saving subscriber %d: %w", sub.ID, err)
	}
	return nil
}

// SaveFilter upserts one named filter rule for a subscriber. Malformed rules
// are rejected here so the match path never sees one.
func (s *SQLiteStore) SaveFilter(ctx context.Context, subscriberID int64, f model.FilterRule) error {
	if err := filter.Validate(f); err != nil {
		return err
	}

	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding filter %q: %w", f.Name, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO filters (subscriber_id, name, rule)
		VALUES (?, ?, ?)
		ON CONFLICT(subscriber_id, name) DO UPDATE SET rule = excluded.rule`,
		subscriberID, f.Name, string(raw))
	if err != nil {
		return fmt.Errorf("saving filter %q for subscriber %d: %w", f.Name, subscriberID, err)
	}
	return nil
}

// DeleteFilter removes one named filter rule. Missing rules are a no-op.
func (s *SQLiteStore) DeleteFilter(ctx context.Context, subscriberID int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM filters WHERE subscriber_id = ? AND name = ?", subscriberID, name)
	if err != nil {
		return fmt.Errorf("deleting filter %q for subscriber %d: %w", name, subscriberID, err)
	}
	return nil
}

// SaveTemplate replaces the subscriber's auto-respond template.
func (s *SQLiteStore) SaveTemplate(ctx context.Context, subscriberID int64, text string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE subscribers SET template = ? WHERE id = ?", text, subscriberID)
	if err != nil {
		return fmt.Errorf("saving template for subscriber %d: %w", subscriberID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("saving template: subscriber %d not found", subscriberID)
	}
	return nil
}

// LoadSession returns the sealed session blob for id, or nil if absent.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT blob FROM sessions WHERE id = ?", id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return blob, nil
}

// SaveSession upserts the sealed session blob for id.
func (s *SQLiteStore) SaveSession(ctx context.Context, id string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, blob, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		id, blob, time.Now())
	if err != nil {
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists snapshots in a single-file SQLite database.
//
// Suited for development and single-process deployments that need
// durable suspension: a conversation paused waiting for a human can
// survive a process restart. Uses WAL mode for concurrent reads and a
// busy timeout for writer contention.
//
// Use ":memory:" as the path for an ephemeral database in tests.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversation_snapshots (
	conv_id  TEXT    NOT NULL,
	seq      INTEGER NOT NULL,
	data     BLOB    NOT NULL,
	saved_at TIMESTAMP NOT NULL,
	PRIMARY KEY (conv_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_conv ON conversation_snapshots(conv_id);
`

// NewSQLiteStore opens (creating if needed) the database at path and
// runs the schema migration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save upserts one snapshot.
func (s *SQLiteStore) Save(ctx context.Context, convID string, seq int, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_snapshots (conv_id, seq, data, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conv_id, seq) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
		convID, seq, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadLatest returns the highest-sequence snapshot for the conversation.
func (s *SQLiteStore) LoadLatest(ctx context.Context, convID string) ([]byte, int, error) {
	var data []byte
	var seq int
	err := s.db.QueryRowContext(ctx, `
		SELECT data, seq FROM conversation_snapshots
		WHERE conv_id = ? ORDER BY seq DESC LIMIT 1`, convID).Scan(&data, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return data, seq, nil
}

// Load returns one specific snapshot.
func (s *SQLiteStore) Load(ctx context.Context, convID string, seq int) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM conversation_snapshots WHERE conv_id = ? AND seq = ?`,
		convID, seq).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return data, nil
}

// Delete removes all snapshots of the conversation.
func (s *SQLiteStore) Delete(ctx context.Context, convID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_snapshots WHERE conv_id = ?`, convID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

// List returns the sorted ids of stored conversations.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT conv_id FROM conversation_snapshots ORDER BY conv_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

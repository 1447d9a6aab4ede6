package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists snapshots in MySQL for multi-process resumption:
// a conversation suspended by one process can be rehydrated by another
// pointed at the same database.
type MySQLStore struct {
	db *sql.DB
}

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS conversation_snapshots (
	conv_id  VARCHAR(255) NOT NULL,
	seq      INT          NOT NULL,
	data     MEDIUMBLOB   NOT NULL,
	saved_at TIMESTAMP    NOT NULL,
	PRIMARY KEY (conv_id, seq)
)`

// NewMySQLStore connects using a go-sql-driver DSN such as
// "user:pass@tcp(localhost:3306)/stepflow?parseTime=true" and runs the
// schema migration.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	if _, err := db.ExecContext(ctx, mysqlSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// Save upserts one snapshot.
func (s *MySQLStore) Save(ctx context.Context, convID string, seq int, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_snapshots (conv_id, seq, data, saved_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE data = VALUES(data), saved_at = VALUES(saved_at)`,
		convID, seq, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadLatest returns the highest-sequence snapshot for the conversation.
func (s *MySQLStore) LoadLatest(ctx context.Context, convID string) ([]byte, int, error) {
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
func (s *MySQLStore) Load(ctx context.Context, convID string, seq int) ([]byte, error) {
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
func (s *MySQLStore) Delete(ctx context.Context, convID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_snapshots WHERE conv_id = ?`, convID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

// List returns the sorted ids of stored conversations.
func (s *MySQLStore) List(ctx context.Context) ([]string, error) {
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
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

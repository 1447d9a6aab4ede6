// Package store provides persistence backends for paused conversation
// snapshots.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested conversation or snapshot
// sequence does not exist.
var ErrNotFound = errors.New("not found")

// Snapshot is one persisted conversation state blob. The data payload is
// the engine's versioned JSON snapshot format; the store treats it as
// opaque bytes.
type Snapshot struct {
	ConvID  string
	Seq     int
	Data    []byte
	SavedAt time.Time
}

// Store persists conversation snapshots so a paused execution can be
// resumed later, possibly in a different process.
//
// Snapshots are append-only per conversation: each save carries a
// monotonically increasing sequence number, and resumption loads the
// highest one. Implementations include in-memory (testing), SQLite
// (single-process durability), and MySQL (shared resumption across
// processes).
type Store interface {
	// Save persists one snapshot. Saving an existing (convID, seq)
	// pair overwrites it; the driver only does this when retrying a
	// failed save.
	Save(ctx context.Context, convID string, seq int, data []byte) error

	// LoadLatest returns the snapshot with the highest sequence number
	// for the conversation, or ErrNotFound.
	LoadLatest(ctx context.Context, convID string) (data []byte, seq int, err error)

	// Load returns a specific snapshot, or ErrNotFound.
	Load(ctx context.Context, convID string, seq int) ([]byte, error)

	// Delete removes all snapshots of a conversation. Deleting an
	// unknown conversation is not an error.
	Delete(ctx context.Context, convID string) error

	// List returns the ids of all conversations with at least one
	// snapshot, sorted.
	List(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

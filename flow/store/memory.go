package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store for testing and short-lived
// conversations where durability isn't required. Safe for concurrent
// use. Data is lost when the process exits.
type MemStore struct {
	mu    sync.RWMutex
	snaps map[string]map[int]Snapshot // convID -> seq -> snapshot
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{snaps: make(map[string]map[int]Snapshot)}
}

// Save stores a copy of the snapshot data.
func (m *MemStore) Save(ctx context.Context, convID string, seq int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps[convID] == nil {
		m.snaps[convID] = make(map[int]Snapshot)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.snaps[convID][seq] = Snapshot{ConvID: convID, Seq: seq, Data: buf, SavedAt: time.Now()}
	return nil
}

// LoadLatest returns the highest-sequence snapshot for the conversation.
func (m *MemStore) LoadLatest(ctx context.Context, convID string) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	seqs := m.snaps[convID]
	if len(seqs) == 0 {
		return nil, 0, ErrNotFound
	}
	best := -1
	for seq := range seqs {
		if seq > best {
			best = seq
		}
	}
	snap := seqs[best]
	buf := make([]byte, len(snap.Data))
	copy(buf, snap.Data)
	return buf, best, nil
}

// Load returns one specific snapshot.
func (m *MemStore) Load(ctx context.Context, convID string, seq int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[convID][seq]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(snap.Data))
	copy(buf, snap.Data)
	return buf, nil
}

// Delete removes all snapshots of the conversation.
func (m *MemStore) Delete(ctx context.Context, convID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, convID)
	return nil
}

// List returns the sorted ids of stored conversations.
func (m *MemStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.snaps))
	for id := range m.snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }

package store

import (
	"bytes"
	"context"

	"github.com/dgraph-io/ristretto/v2"
)

// Memory is a bounded in-process cache backed by ristretto. It holds the
// last persisted value of recently used keys and may evict under pressure.
type Memory struct {
	rc *ristretto.Cache[string, []byte]
}

// NewMemory creates a Memory layer holding up to maxEntries records (each
// record has a cost of 1).
func NewMemory(maxEntries int64) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Memory{rc: rc}, nil
}

// Get retrieves a raw record by key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.rc.Get(key)
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// Set stores a raw record without expiry; staleness is judged from the
// record's own timestamp.
func (m *Memory) Set(_ context.Context, key string, val []byte) error {
	m.rc.Set(key, bytes.Clone(val), 1)
	m.rc.Wait()
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.rc.Del(key)
	return nil
}

// Close releases ristretto's background goroutines.
func (m *Memory) Close() {
	m.rc.Close()
}

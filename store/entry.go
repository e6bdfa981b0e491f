package store

import (
	"context"
	"encoding/json"
	"time"

	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"
)

// Record is an untyped cache entry as it is stored: the JSON payload, the
// write time and the identity it was written for.
type Record struct {
	Data      json.RawMessage
	Timestamp time.Time
	OwnerKey  string
}

// wireRecord is the persisted shape; the timestamp is epoch milliseconds.
type wireRecord struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	OwnerKey  string          `json:"ownerKey"`
}

func encodeRecord(r Record) ([]byte, error) {
	return json.Marshal(wireRecord{
		Data:      r.Data,
		Timestamp: r.Timestamp.UnixMilli(),
		OwnerKey:  r.OwnerKey,
	})
}

func decodeRecord(raw []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return Record{}, zerr.Wrap(err, "malformed cache record")
	}
	if w.Data == nil {
		return Record{}, zerr.New("cache record has no data")
	}
	return Record{
		Data:      w.Data,
		Timestamp: time.UnixMilli(w.Timestamp),
		OwnerKey:  w.OwnerKey,
	}, nil
}

// Entry is a decoded cache entry.
type Entry[T any] struct {
	Data      T
	Timestamp time.Time
	OwnerKey  string
}

// Typed binds a key and TTL to a payload type, giving each entity (profile,
// job analyses, completion status) its own cache slot.
type Typed[T any] struct {
	store *Store
	key   string
	ttl   time.Duration

	sf singleflight.Group
}

// NewTyped returns a typed view of key on s.
func NewTyped[T any](s *Store, key string, ttl time.Duration) *Typed[T] {
	return &Typed[T]{store: s, key: key, ttl: ttl}
}

// Key returns the storage key.
func (t *Typed[T]) Key() string { return t.key }

// TTL returns the validity window.
func (t *Typed[T]) TTL() time.Duration { return t.ttl }

// Read returns the entry written for owner if it is still fresh. A payload
// that does not decode into T is a miss.
func (t *Typed[T]) Read(ctx context.Context, owner string) (Entry[T], bool) {
	rec, ok := t.store.Read(ctx, t.key, owner, t.ttl)
	if !ok {
		return Entry[T]{}, false
	}
	var data T
	if err := json.Unmarshal(rec.Data, &data); err != nil {
		t.store.logger.Debug("cache payload does not match type", "key", t.key, "error", err)
		return Entry[T]{}, false
	}
	return Entry[T]{Data: data, Timestamp: rec.Timestamp, OwnerKey: rec.OwnerKey}, true
}

// Write stores data for owner.
func (t *Typed[T]) Write(ctx context.Context, data T, owner string) {
	t.store.Write(ctx, t.key, data, owner)
}

// Invalidate removes the entry.
func (t *Typed[T]) Invalidate(ctx context.Context) {
	t.store.Invalidate(ctx, t.key)
}

// Subscribe forwards changes of the key to fn.
func (t *Typed[T]) Subscribe(fn func(Change)) (cancel func()) {
	return t.store.Subscribe(t.key, fn)
}

// GetOrLoad returns the cached value for owner. On a miss it calls loader
// (deduplicating concurrent callers for the same owner), writes the result
// and returns it. Loader errors are returned without touching the cache.
func (t *Typed[T]) GetOrLoad(ctx context.Context, owner string, loader func(context.Context) (T, error)) (T, error) {
	if e, ok := t.Read(ctx, owner); ok {
		return e.Data, nil
	}

	v, err, _ := t.sf.Do(owner, func() (any, error) {
		data, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		t.Write(ctx, data, owner)
		return data, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

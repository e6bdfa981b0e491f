// Package store provides the owner-scoped, TTL-validated local cache used by
// every data consumer to obtain an immediately available (possibly stale)
// value and to persist freshly fetched ones.
//
// A persistent [Backend] (file, Redis) is the source of truth and may be
// shared by several processes. Records that could not be persisted, or all
// records when the Store runs memory-only, live in a non-evicting in-process
// map. A bounded ristretto [Memory] layer remembers the last persisted value
// of each key and answers reads while the backend is failing. Reads never
// return errors: corrupt, stale, foreign-owner and missing entries are all
// reported as misses.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Keksclan/edgecache/metrics"
)

// Well-known TTLs.
const (
	CompletionStatusTTL = 10 * time.Minute
	JobAnalysesTTL      = 30 * time.Minute
	AssetTTL            = 24 * time.Hour
)

// DefaultMemoryEntries caps the memory layer when no size is configured.
const DefaultMemoryEntries = 10_000

// Backend is the persistent key/value contract, modelled on an origin's
// key/value storage. Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// Prober is implemented by backends that can report whether they are
// usable. A failed probe at construction degrades the Store to memory-only.
type Prober interface {
	Probe(ctx context.Context) error
}

// Change describes a write or invalidation of a key.
type Change struct {
	Key         string
	OwnerKey    string
	Invalidated bool
}

// Store is safe for concurrent use. Overlapping writes to the same key are
// not ordered: the last write wins.
type Store struct {
	mem        *Memory
	backend    Backend
	persistent bool

	// local holds records that only exist in this process: every write in
	// memory-only mode, and writes whose persist failed.
	localMu sync.RWMutex
	local   map[string][]byte

	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	subs   map[string]map[uint64]func(Change)
	nextID uint64
}

// Option configures a Store.
type Option func(*options)

type options struct {
	backend       Backend
	memoryEntries int64
	now           func() time.Time
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// WithBackend sets the persistent layer. Without it the Store is memory-only.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithMemoryEntries caps how many last-known persisted values are kept for
// backend outages. Unpersisted records are not subject to the cap.
func WithMemoryEntries(n int64) Option {
	return func(o *options) { o.memoryEntries = n }
}

// WithClock overrides time.Now for timestamps and TTL checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for swallowed storage failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records lookups and writes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a Store. If the backend implements [Prober] and the probe
// fails, the Store logs a warning and runs memory-only.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := options{
		memoryEntries: DefaultMemoryEntries,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	mem, err := NewMemory(o.memoryEntries)
	if err != nil {
		return nil, err
	}

	s := &Store{
		mem:        mem,
		backend:    o.backend,
		persistent: o.backend != nil,
		local:      make(map[string][]byte),
		now:        o.now,
		logger:     o.logger,
		metrics:    o.metrics,
		subs:       make(map[string]map[uint64]func(Change)),
	}

	if p, ok := o.backend.(Prober); ok {
		if err := p.Probe(ctx); err != nil {
			s.logger.Warn("persistent storage unavailable, using memory only", "error", err)
			s.persistent = false
		}
	}
	if !s.persistent {
		s.backend = DisabledBackend{}
	}
	return s, nil
}

// Persistent reports whether writes reach a persistent backend.
func (s *Store) Persistent() bool {
	return s.persistent
}

// Now returns the Store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}

// Read returns the record stored under key if it was written for owner and
// is younger than ttl. A ttl of zero or less disables the age check.
func (s *Store) Read(ctx context.Context, key, owner string, ttl time.Duration) (Record, bool) {
	raw, ok := s.lookup(ctx, key)
	if !ok {
		s.metrics.CacheLookup(key, "miss")
		return Record{}, false
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		// Left in place; the next successful write replaces it.
		s.logger.Debug("ignoring corrupt cache entry", "key", key, "error", err)
		s.metrics.CacheLookup(key, "corrupt")
		return Record{}, false
	}
	if rec.OwnerKey != owner {
		s.metrics.CacheLookup(key, "owner_mismatch")
		return Record{}, false
	}
	if ttl > 0 && s.now().Sub(rec.Timestamp) >= ttl {
		s.metrics.CacheLookup(key, "stale")
		return Record{}, false
	}
	s.metrics.CacheLookup(key, "hit")
	return rec, true
}

// lookup returns the newest raw record for key. The backend is the source
// of truth, so writes and deletes by other processes sharing it are seen.
// An unpersisted local record wins over an older persisted one. When the
// backend read fails the last value seen in this process is used.
func (s *Store) lookup(ctx context.Context, key string) ([]byte, bool) {
	local, hasLocal := s.unpersisted(key)
	if !s.persistent {
		return local, hasLocal
	}

	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Debug("persistent read failed", "key", key, "error", err)
		if hasLocal {
			return local, true
		}
		raw, ok, _ = s.mem.Get(ctx, key)
		return raw, ok
	}
	if ok {
		_ = s.mem.Set(ctx, key, raw)
	} else {
		_ = s.mem.Delete(ctx, key)
	}
	if hasLocal && (!ok || newer(local, raw)) {
		return local, true
	}
	return raw, ok
}

// newer reports whether record a was written after record b. An
// undecodable b counts as older.
func newer(a, b []byte) bool {
	ra, err := decodeRecord(a)
	if err != nil {
		return false
	}
	rb, err := decodeRecord(b)
	if err != nil {
		return true
	}
	return ra.Timestamp.After(rb.Timestamp)
}

func (s *Store) unpersisted(key string) ([]byte, bool) {
	s.localMu.RLock()
	defer s.localMu.RUnlock()
	raw, ok := s.local[key]
	return raw, ok
}

// Write stores data for owner under key, stamped with the current time.
// Persistence failures are logged and swallowed; the record is then kept
// in process memory, without eviction, for the life of the Store.
func (s *Store) Write(ctx context.Context, key string, data any, owner string) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("cache value is not serializable", "key", key, "error", err)
		return
	}
	raw, err := encodeRecord(Record{Data: payload, Timestamp: s.now(), OwnerKey: owner})
	if err != nil {
		s.logger.Error("cache record encoding failed", "key", key, "error", err)
		return
	}

	persisted := false
	if s.persistent {
		if err := s.backend.Set(ctx, key, raw); err != nil {
			s.logger.Debug("persistent write failed", "key", key, "error", err)
		} else {
			persisted = true
		}
	}

	s.localMu.Lock()
	if persisted {
		delete(s.local, key)
	} else {
		s.local[key] = raw
	}
	s.localMu.Unlock()

	switch {
	case persisted:
		_ = s.mem.Set(ctx, key, raw)
		s.metrics.CacheWrite(key, "ok")
	case s.persistent:
		s.metrics.CacheWrite(key, "persist_failed")
	default:
		s.metrics.CacheWrite(key, "memory_only")
	}

	s.notify(Change{Key: key, OwnerKey: owner})
}

// Invalidate removes key from every layer.
func (s *Store) Invalidate(ctx context.Context, key string) {
	s.localMu.Lock()
	delete(s.local, key)
	s.localMu.Unlock()
	_ = s.mem.Delete(ctx, key)
	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Debug("persistent delete failed", "key", key, "error", err)
	}
	s.notify(Change{Key: key, Invalidated: true})
}

// Subscribe registers fn to be called synchronously after every write or
// invalidation of key. The returned function cancels the subscription.
func (s *Store) Subscribe(key string, fn func(Change)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	if s.subs[key] == nil {
		s.subs[key] = make(map[uint64]func(Change))
	}
	s.subs[key][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
		if len(s.subs[key]) == 0 {
			delete(s.subs, key)
		}
	}
}

func (s *Store) notify(c Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.subs[c.Key]))
	for _, fn := range s.subs[c.Key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Close releases the memory layer.
func (s *Store) Close() {
	s.mem.Close()
}

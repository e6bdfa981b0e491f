package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Keksclan/edgecache/internal/logging"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type profile struct {
	Bio    string `json:"bio"`
	Resume string `json:"resume"`
}

func mustNewStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	s, err := New(t.Context(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestWriteThenRead_RoundTrip(t *testing.T) {
	clock := newFakeClock()
	s := mustNewStore(t, WithClock(clock.Now))
	ctx := t.Context()
	slot := NewTyped[profile](s, "profile", JobAnalysesTTL)

	slot.Write(ctx, profile{Bio: "hi", Resume: "cv.pdf"}, "user-1")
	clock.Advance(JobAnalysesTTL - time.Second)

	got, ok := slot.Read(ctx, "user-1")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Data.Bio != "hi" || got.Data.Resume != "cv.pdf" {
		t.Fatalf("unexpected data %+v", got.Data)
	}
	if got.OwnerKey != "user-1" {
		t.Fatalf("owner: got %q, want %q", got.OwnerKey, "user-1")
	}
}

func TestRead_OwnerMismatchMisses(t *testing.T) {
	s := mustNewStore(t)
	ctx := t.Context()

	s.Write(ctx, "analyses", []string{"a"}, "user-1")

	if _, ok := s.Read(ctx, "analyses", "user-2", 0); ok {
		t.Fatal("expected miss for a different owner")
	}
	if _, ok := s.Read(ctx, "analyses", "user-1", 0); !ok {
		t.Fatal("expected hit for the writing owner")
	}
}

func TestRead_StaleEntryMissesButStaysOnDisk(t *testing.T) {
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "storage.json")
	s := mustNewStore(t, WithClock(clock.Now), WithBackend(NewFileBackend(path, 0)))
	ctx := t.Context()

	s.Write(ctx, "completion", map[string]bool{"bio": true}, "user-1")
	clock.Advance(CompletionStatusTTL)

	if _, ok := s.Read(ctx, "completion", "user-1", CompletionStatusTTL); ok {
		t.Fatal("expected miss once now - timestamp >= TTL")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "completion") {
		t.Fatalf("expected entry to remain physically present, got %s", data)
	}
}

func TestRead_CorruptEntryIsMissAndLeftInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	backend := NewFileBackend(path, 0)
	ctx := t.Context()
	if err := backend.Set(ctx, "profile", []byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := mustNewStore(t, WithBackend(backend))
	if _, ok := s.Read(ctx, "profile", "user-1", 0); ok {
		t.Fatal("expected miss for corrupt entry")
	}

	raw, ok, err := backend.Get(ctx, "profile")
	if err != nil || !ok {
		t.Fatalf("corrupt entry should remain until the next write (ok=%v err=%v)", ok, err)
	}
	if string(raw) != "{not json" {
		t.Fatalf("unexpected raw entry %q", raw)
	}

	s.Write(ctx, "profile", "fresh", "user-1")
	rec, ok := s.Read(ctx, "profile", "user-1", 0)
	if !ok || string(rec.Data) != `"fresh"` {
		t.Fatalf("expected the write to replace the corrupt entry, got %q ok=%v", rec.Data, ok)
	}
}

func TestWrite_QuotaExceededKeepsInMemoryValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	s := mustNewStore(t, WithBackend(NewFileBackend(path, 16)))
	ctx := t.Context()

	s.Write(ctx, "profile", profile{Bio: strings.Repeat("x", 64)}, "user-1")

	got, ok := NewTyped[profile](s, "profile", 0).Read(ctx, "user-1")
	if !ok {
		t.Fatal("expected in-memory hit after failed persist")
	}
	if len(got.Data.Bio) != 64 {
		t.Fatalf("unexpected bio length %d", len(got.Data.Bio))
	}

	if data, err := os.ReadFile(path); err == nil && strings.Contains(string(data), "profile") {
		t.Fatalf("entry should not have been persisted, got %s", data)
	}
}

func TestFileBackend_QuotaError(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "s.json"), 8)
	err := b.Set(t.Context(), "k", []byte("a long enough value"))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestNew_UnavailableStorageDegradesToMemory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// A regular file in the directory position makes the backend unusable.
	s := mustNewStore(t, WithBackend(NewFileBackend(filepath.Join(blocker, "storage.json"), 0)))
	ctx := t.Context()

	if s.Persistent() {
		t.Fatal("expected memory-only store")
	}

	s.Write(ctx, "profile", "v", "user-1")
	if _, ok := s.Read(ctx, "profile", "user-1", 0); !ok {
		t.Fatal("memory layer should still serve this process")
	}
}

func TestFileBackend_SharedAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	ctx := t.Context()

	first := mustNewStore(t, WithBackend(NewFileBackend(path, 0)))
	first.Write(ctx, "analyses", []string{"acme"}, "user-1")

	second := mustNewStore(t, WithBackend(NewFileBackend(path, 0)))
	got, ok := NewTyped[[]string](second, "analyses", JobAnalysesTTL).Read(ctx, "user-1")
	if !ok {
		t.Fatal("expected the second store to read the persisted entry")
	}
	if len(got.Data) != 1 || got.Data[0] != "acme" {
		t.Fatalf("unexpected data %v", got.Data)
	}
}

func TestInvalidate_RemovesAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	s := mustNewStore(t, WithBackend(NewFileBackend(path, 0)))
	ctx := t.Context()

	var changes []Change
	cancel := s.Subscribe("profile", func(c Change) { changes = append(changes, c) })

	s.Write(ctx, "profile", "v", "user-1")
	s.Invalidate(ctx, "profile")

	if _, ok := s.Read(ctx, "profile", "user-1", 0); ok {
		t.Fatal("expected miss after Invalidate")
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(changes))
	}
	if changes[0].Invalidated || changes[0].OwnerKey != "user-1" {
		t.Fatalf("unexpected write notification %+v", changes[0])
	}
	if !changes[1].Invalidated {
		t.Fatalf("expected invalidation notification, got %+v", changes[1])
	}

	cancel()
	s.Write(ctx, "profile", "v2", "user-1")
	if len(changes) != 2 {
		t.Fatalf("cancelled subscriber was notified")
	}
}

func TestTyped_GetOrLoad_LoaderCalledOnce(t *testing.T) {
	s := mustNewStore(t)
	slot := NewTyped[string](s, "analyses", JobAnalysesTTL)
	ctx := t.Context()

	var calls atomic.Int32
	loader := func(_ context.Context) (string, error) {
		calls.Add(1)
		return "loaded", nil
	}

	for range 2 {
		v, err := slot.GetOrLoad(ctx, "user-1", loader)
		if err != nil {
			t.Fatalf("GetOrLoad: %v", err)
		}
		if v != "loaded" {
			t.Fatalf("got %q, want %q", v, "loaded")
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("loader called %d times, want 1", n)
	}
}

func TestTyped_GetOrLoad_ErrorNotCached(t *testing.T) {
	s := mustNewStore(t)
	slot := NewTyped[string](s, "analyses", 0)
	ctx := t.Context()

	boom := errors.New("backend down")
	if _, err := slot.GetOrLoad(ctx, "user-1", func(context.Context) (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	if _, ok := slot.Read(ctx, "user-1"); ok {
		t.Fatal("failed load must not populate the cache")
	}
}

func TestTyped_ReadTypeMismatchIsMiss(t *testing.T) {
	s := mustNewStore(t)
	ctx := t.Context()

	s.Write(ctx, "profile", "just a string", "user-1")
	if _, ok := NewTyped[profile](s, "profile", 0).Read(ctx, "user-1"); ok {
		t.Fatal("expected miss when the payload does not decode into the type")
	}
}

func TestSharedBackend_SeesOtherStoresWritesAndInvalidations(t *testing.T) {
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "storage.json")
	ctx := t.Context()
	a := mustNewStore(t, WithClock(clock.Now), WithBackend(NewFileBackend(path, 0)))
	b := mustNewStore(t, WithClock(clock.Now), WithBackend(NewFileBackend(path, 0)))

	a.Write(ctx, "analyses", "v1", "user-1")
	if rec, ok := b.Read(ctx, "analyses", "user-1", JobAnalysesTTL); !ok || string(rec.Data) != `"v1"` {
		t.Fatalf("b: got %q ok=%v, want v1", rec.Data, ok)
	}

	clock.Advance(JobAnalysesTTL)
	a.Write(ctx, "analyses", "v2", "user-1")
	if rec, ok := b.Read(ctx, "analyses", "user-1", JobAnalysesTTL); !ok || string(rec.Data) != `"v2"` {
		t.Fatalf("b after a's fresh write: got %q ok=%v, want v2", rec.Data, ok)
	}

	a.Invalidate(ctx, "analyses")
	if rec, ok := b.Read(ctx, "analyses", "user-1", 0); ok {
		t.Fatalf("b after a's invalidation: got %q, want miss", rec.Data)
	}
}

func TestUnpersistedWriteWinsOverOlderPersistedRecord(t *testing.T) {
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "storage.json")
	ctx := t.Context()
	s := mustNewStore(t, WithClock(clock.Now), WithBackend(NewFileBackend(path, 200)))

	s.Write(ctx, "profile", "short", "user-1")
	clock.Advance(time.Second)
	s.Write(ctx, "profile", strings.Repeat("x", 400), "user-1") // over quota

	rec, ok := s.Read(ctx, "profile", "user-1", 0)
	if !ok || len(rec.Data) != 402 {
		t.Fatalf("expected the unpersisted value, got %q ok=%v", rec.Data, ok)
	}
}

func TestMemoryOnly_KeepsEveryWrite(t *testing.T) {
	s := mustNewStore(t, WithMemoryEntries(100))
	ctx := t.Context()

	const n = 500
	for i := range n {
		s.Write(ctx, "key-"+strconv.Itoa(i), i, "user-1")
	}

	missing := 0
	for i := range n {
		if _, ok := s.Read(ctx, "key-"+strconv.Itoa(i), "user-1", 0); !ok {
			missing++
		}
	}
	if missing != 0 {
		t.Fatalf("%d of %d records unreadable in memory-only mode", missing, n)
	}
}

func TestMemory_HoldsConfiguredEntryCount(t *testing.T) {
	m, err := NewMemory(1000)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(m.Close)
	ctx := t.Context()

	for i := range 200 {
		_ = m.Set(ctx, "k"+strconv.Itoa(i), []byte(strings.Repeat("v", 256)))
	}
	kept := 0
	for i := range 200 {
		if _, ok, _ := m.Get(ctx, "k"+strconv.Itoa(i)); ok {
			kept++
		}
	}
	if kept < 190 {
		t.Fatalf("only %d of 200 records kept with room for 1000", kept)
	}
}

// failingBackend accepts the probe and then fails every read.
type failingBackend struct{ DisabledBackend }

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection reset")
}

func TestBackendReadFailure_ServesLastKnownValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	file := NewFileBackend(path, 0)
	ctx := t.Context()
	s := mustNewStore(t, WithBackend(file))
	s.Write(ctx, "profile", "v", "user-1")

	s.backend = failingBackend{}

	if rec, ok := s.Read(ctx, "profile", "user-1", 0); !ok || string(rec.Data) != `"v"` {
		t.Fatalf("expected last known value, got %q ok=%v", rec.Data, ok)
	}
}

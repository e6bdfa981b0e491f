package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.trai.ch/zerr"
)

// ErrQuotaExceeded is returned by FileBackend.Set when the write would grow
// the file past its configured quota.
var ErrQuotaExceeded = zerr.New("storage quota exceeded")

// FileBackend persists records in a single JSON object on disk, keyed like
// an origin's key/value storage. The file is re-read on every operation so
// that several processes sharing it observe each other's writes.
type FileBackend struct {
	path  string
	quota int64

	mu sync.Mutex
}

// NewFileBackend returns a backend stored at path. A quota of zero or less
// disables the size limit.
func NewFileBackend(path string, quota int64) *FileBackend {
	return &FileBackend{path: filepath.Clean(path), quota: quota}
}

// Get returns the raw record stored under key.
func (f *FileBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.load()
	if err != nil {
		return nil, false, err
	}
	v, ok := items[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

// Set stores val under key, failing with ErrQuotaExceeded when the file
// would exceed its quota.
func (f *FileBackend) Set(_ context.Context, key string, val []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.load()
	if err != nil {
		// An unreadable file is replaced rather than blocking every write.
		items = make(map[string]string)
	}
	items[key] = string(val)

	data, err := json.Marshal(items)
	if err != nil {
		return zerr.Wrap(err, "failed to marshal storage file")
	}
	if f.quota > 0 && int64(len(data)) > f.quota {
		return errors.Join(ErrQuotaExceeded, zerr.With(zerr.With(zerr.New("storage write rejected"), "key", key), "quota", f.quota))
	}
	return f.save(data)
}

// Delete removes key. Deleting a missing key is not an error.
func (f *FileBackend) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := items[key]; !ok {
		return nil
	}
	delete(items, key)

	data, err := json.Marshal(items)
	if err != nil {
		return zerr.Wrap(err, "failed to marshal storage file")
	}
	return f.save(data)
}

// Probe verifies that the storage directory exists (creating it if needed)
// and that the file can be opened for writing.
func (f *FileBackend) Probe(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return zerr.Wrap(err, "failed to create storage directory")
	}
	//nolint:gosec // Path is cleaned and provided by trusted caller
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerr.Wrap(err, "storage file is not writable")
	}
	return fh.Close()
}

func (f *FileBackend) load() (map[string]string, error) {
	items := make(map[string]string)

	//nolint:gosec // Path is cleaned and provided by trusted caller
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return items, nil
		}
		return nil, zerr.Wrap(err, "failed to read storage file")
	}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, zerr.Wrap(err, "failed to unmarshal storage file")
	}
	return items, nil
}

func (f *FileBackend) save(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return zerr.Wrap(err, "failed to create storage directory")
	}

	tmp, err := os.CreateTemp(dir, ".edgecache-*")
	if err != nil {
		return zerr.Wrap(err, "failed to create temp storage file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return zerr.Wrap(err, "failed to write storage file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return zerr.Wrap(err, "failed to close storage file")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return zerr.Wrap(err, "failed to replace storage file")
	}
	return nil
}

// DisabledBackend models storage the platform refuses to provide: reads
// always miss and writes are dropped.
type DisabledBackend struct{}

// Get always misses.
func (DisabledBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set drops the write.
func (DisabledBackend) Set(context.Context, string, []byte) error { return nil }

// Delete is a no-op.
func (DisabledBackend) Delete(context.Context, string) error { return nil }

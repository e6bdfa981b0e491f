package swcache

import (
	"net/http"
	"slices"
	"sync"
	"time"
)

// Response is a stored HTTP response.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time

	// Redirected is set when the fetch followed at least one redirect.
	// Such responses are served but never stored.
	Redirected bool
}

func (r *Response) clone() *Response {
	return &Response{
		Status:     r.Status,
		Header:     r.Header.Clone(),
		Body:       slices.Clone(r.Body),
		StoredAt:   r.StoredAt,
		Redirected: r.Redirected,
	}
}

// Cache is a named set of responses keyed by request URL.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Response
}

func newCache() *Cache {
	return &Cache{entries: make(map[string]*Response)}
}

// Get returns the response stored under url.
func (c *Cache) Get(url string) (*Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[url]
	return r, ok
}

// Put stores a copy of resp under url, replacing any previous entry.
func (c *Cache) Put(url string, resp *Response) {
	cp := resp.clone()
	c.mu.Lock()
	c.entries[url] = cp
	c.mu.Unlock()
}

// Delete removes url.
func (c *Cache) Delete(url string) {
	c.mu.Lock()
	delete(c.entries, url)
	c.mu.Unlock()
}

// Keys returns the stored URLs in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of stored responses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Storage holds named caches. It outlives any single Router so that a newly
// activated router can find and delete caches from previous versions.
type Storage struct {
	mu     sync.Mutex
	caches map[string]*Cache
}

// NewStorage returns an empty Storage.
func NewStorage() *Storage {
	return &Storage{caches: make(map[string]*Cache)}
}

// Open returns the cache called name, creating it if needed.
func (s *Storage) Open(name string) *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = newCache()
		s.caches[name] = c
	}
	return c
}

// Has reports whether a cache called name exists.
func (s *Storage) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	return ok
}

// Delete removes the cache called name and reports whether it existed.
func (s *Storage) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	delete(s.caches, name)
	return ok
}

// Keys returns the cache names in sorted order.
func (s *Storage) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.caches))
	for n := range s.caches {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Match looks url up in every cache, in name order.
func (s *Storage) Match(url string) (*Response, bool) {
	for _, name := range s.Keys() {
		s.mu.Lock()
		c := s.caches[name]
		s.mu.Unlock()
		if c == nil {
			continue
		}
		if r, ok := c.Get(url); ok {
			return r, true
		}
	}
	return nil, false
}

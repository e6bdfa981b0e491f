package interceptors

import (
	"context"
	"sync"

	"github.com/Keksclan/edgecache/tokenbridge"
	"go.trai.ch/zerr"
)

// ErrNoRefreshCallback is returned by Session.Refresh before a token bridge
// has registered itself.
var ErrNoRefreshCallback = zerr.New("no auth failure callback registered")

// Session is the backend client's auth slot. The token bridge pushes tokens
// into it; the bearer interceptor reads the current one per call, and on
// rejection the retry interceptor asks it to refresh through the callback
// the bridge registered.
type Session struct {
	mu      sync.RWMutex
	token   string
	refresh func(ctx context.Context) (string, error)
}

var (
	_ tokenbridge.Session             = (*Session)(nil)
	_ tokenbridge.AuthFailureNotifier = (*Session)(nil)
)

// SetSession installs token. An empty token clears the session.
func (s *Session) SetSession(_ context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// OnAuthFailure registers the refresh callback.
func (s *Session) OnAuthFailure(fn func(ctx context.Context) (string, error)) {
	s.mu.Lock()
	s.refresh = fn
	s.mu.Unlock()
}

// Token returns the current token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Refresh invokes the registered callback. It satisfies retry.Refresher.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	s.mu.RLock()
	fn := s.refresh
	s.mu.RUnlock()
	if fn == nil {
		return "", ErrNoRefreshCallback
	}
	return fn(ctx)
}

// Package tokenbridge keeps a backend session's bearer credential in sync
// with the identity provider. The Bridge is the only holder of the current
// token; the session receives it transiently and asks the bridge for a new
// one through the registered refresh function when a request is rejected.
package tokenbridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Keksclan/edgecache/breaker"
	"github.com/Keksclan/edgecache/metrics"
	"github.com/Keksclan/edgecache/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoToken is returned by Refresh when the provider has no session.
	ErrNoToken = zerr.New("identity provider returned no token")
	// ErrSyncRejected is returned by Refresh when the session did not
	// acknowledge the new token.
	ErrSyncRejected = zerr.New("backend session rejected token")
)

// DefaultDebounce coalesces RequestSync bursts such as an OAuth redirect.
const DefaultDebounce = 100 * time.Millisecond

// TokenSource is the identity provider's session API.
type TokenSource interface {
	// GetToken returns a token minted for template, or "" when signed out.
	GetToken(ctx context.Context, template string) (string, error)
}

// TokenSourceFunc adapts a function to [TokenSource].
type TokenSourceFunc func(ctx context.Context, template string) (string, error)

// GetToken calls f.
func (f TokenSourceFunc) GetToken(ctx context.Context, template string) (string, error) {
	return f(ctx, template)
}

// Session is the backend client's auth slot.
type Session interface {
	// SetSession installs token for subsequent requests; a nil error is
	// the acknowledgement. An empty token clears the session.
	SetSession(ctx context.Context, token string) error
}

// AuthFailureNotifier is implemented by sessions that can call back when
// they detect an expired credential on their own.
type AuthFailureNotifier interface {
	OnAuthFailure(fn func(ctx context.Context) (string, error))
}

// RefreshFunc mints a new token.
type RefreshFunc func(ctx context.Context) (string, error)

// State is the synchronization state of the bridge.
type State int

const (
	Unsynced State = iota
	Syncing
	Synced
)

func (s State) String() string {
	switch s {
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	default:
		return "unsynced"
	}
}

// Bridge is safe for concurrent use.
type Bridge struct {
	source   TokenSource
	session  Session
	template string
	debounce time.Duration
	timeout  time.Duration
	brk      *breaker.Breaker

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracing *tracing.Config

	mu        sync.Mutex
	state     State
	token     string
	refreshFn RefreshFunc

	// debounced sync
	gen     uint64
	pending string
	timer   *time.Timer
	done    chan struct{}

	sf singleflight.Group
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTemplate sets the token template requested from the provider.
func WithTemplate(t string) Option { return func(b *Bridge) { b.template = t } }

// WithDebounce sets the RequestSync coalescing window.
func WithDebounce(d time.Duration) Option { return func(b *Bridge) { b.debounce = d } }

// WithSyncTimeout bounds debounced syncs, which run without a caller context.
func WithSyncTimeout(d time.Duration) Option { return func(b *Bridge) { b.timeout = d } }

// WithBreaker guards provider calls with brk.
func WithBreaker(brk *breaker.Breaker) Option { return func(b *Bridge) { b.brk = brk } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(b *Bridge) { b.logger = l } }

// WithMetrics records syncs and refreshes.
func WithMetrics(m *metrics.Metrics) Option { return func(b *Bridge) { b.metrics = m } }

// WithTracing enables spans for syncs and refreshes.
func WithTracing(c *tracing.Config) Option { return func(b *Bridge) { b.tracing = c } }

// New creates a Bridge between source and session. If session implements
// [AuthFailureNotifier], the bridge registers its Refresh with it.
func New(source TokenSource, session Session, opts ...Option) *Bridge {
	b := &Bridge{
		source:   source,
		session:  session,
		debounce: DefaultDebounce,
		timeout:  10 * time.Second,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.brk == nil {
		b.brk = breaker.New(breaker.DefaultConfig())
	}
	if n, ok := session.(AuthFailureNotifier); ok {
		n.OnAuthFailure(b.Refresh)
	}
	return b
}

// State returns the current synchronization state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Token returns the last token acknowledged by the session, or "".
func (b *Bridge) Token() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

// SetRefreshFunction overrides how tokens are minted on refresh. By default
// the bridge asks its TokenSource for the configured template.
func (b *Bridge) SetRefreshFunction(fn RefreshFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshFn = fn
}

// Sync pushes token into the session and reports whether it was
// acknowledged. On failure the bridge is left Unsynced; callers are not
// blocked and individual requests surface their own auth errors.
func (b *Bridge) Sync(ctx context.Context, token string) bool {
	ctx, span := b.tracing.Start(ctx, "tokenbridge.sync")

	b.setState(Syncing)
	if token == "" {
		b.setUnsynced()
		b.metrics.TokenSync("empty")
		tracing.End(span, ErrNoToken)
		return false
	}

	if err := b.session.SetSession(ctx, token); err != nil {
		b.logger.Warn("token sync failed", "error", err)
		b.setUnsynced()
		b.metrics.TokenSync("error")
		tracing.End(span, err)
		return false
	}

	b.mu.Lock()
	b.state = Synced
	b.token = token
	b.mu.Unlock()

	b.metrics.TokenSync("ok")
	tracing.End(span, nil)
	return true
}

// SignIn fetches a token from the provider and syncs it.
func (b *Bridge) SignIn(ctx context.Context) error {
	_, err := b.Refresh(ctx)
	return err
}

// SignOut discards the token and clears the session.
func (b *Bridge) SignOut(ctx context.Context) {
	b.cancelPending()
	if err := b.session.SetSession(ctx, ""); err != nil {
		b.logger.Debug("clearing session failed", "error", err)
	}
	b.setUnsynced()
}

// Refresh mints a fresh token and syncs it. Concurrent callers share one
// provider call. While the provider keeps failing the breaker opens and
// Refresh fails fast with breaker.ErrOpen.
func (b *Bridge) Refresh(ctx context.Context) (string, error) {
	v, err, _ := b.sf.Do("refresh", func() (any, error) {
		return b.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *Bridge) refresh(ctx context.Context) (string, error) {
	ctx, span := b.tracing.Start(ctx, "tokenbridge.refresh", attribute.String("template", b.template))

	b.mu.Lock()
	mint := b.refreshFn
	if b.state == Synced {
		b.state = Syncing
	}
	b.mu.Unlock()
	if mint == nil {
		mint = func(ctx context.Context) (string, error) {
			return b.source.GetToken(ctx, b.template)
		}
	}

	var tok string
	err := b.brk.Do(func() error {
		var err error
		tok, err = mint(ctx)
		return err
	})
	if err != nil {
		b.logger.Warn("token refresh failed", "error", err)
		b.setUnsynced()
		b.metrics.TokenRefresh("error")
		tracing.End(span, err)
		return "", err
	}
	if tok == "" {
		b.setUnsynced()
		b.metrics.TokenRefresh("no_token")
		tracing.End(span, ErrNoToken)
		return "", ErrNoToken
	}
	if !b.Sync(ctx, tok) {
		b.metrics.TokenRefresh("rejected")
		tracing.End(span, ErrSyncRejected)
		return "", ErrSyncRejected
	}

	b.metrics.TokenRefresh("ok")
	tracing.End(span, nil)
	return tok, nil
}

// RequestSync schedules a Sync of token after the debounce window. A later
// call within the window replaces the pending token, so only the last one
// is pushed.
func (b *Bridge) RequestSync(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gen++
	gen := b.gen
	b.pending = token
	if b.done == nil {
		b.done = make(chan struct{})
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.debounce, func() { b.fire(gen) })
}

// Flush blocks until the pending debounced sync, if any, has completed.
func (b *Bridge) Flush() {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (b *Bridge) fire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		// Superseded by a later RequestSync.
		b.mu.Unlock()
		return
	}
	token := b.pending
	done := b.done
	b.pending = ""
	b.done = nil
	b.timer = nil
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	b.Sync(ctx, token)
	close(done)
}

func (b *Bridge) cancelPending() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = ""
	if b.done != nil {
		close(b.done)
		b.done = nil
	}
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bridge) setUnsynced() {
	b.mu.Lock()
	b.state = Unsynced
	b.token = ""
	b.mu.Unlock()
}

// Package swcache is an HTTP caching router that sits between clients and
// an origin. Each GET request is classified by path into cache-first,
// stale-while-revalidate or network-first handling; everything else passes
// straight through.
//
// Lifecycle mirrors a browser service worker: Install precaches the
// critical assets and activates immediately, Activate deletes caches left
// by previous versions and starts claiming requests. A router that is not
// active passes every request through.
package swcache

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Keksclan/edgecache/metrics"
	"github.com/Keksclan/edgecache/ratelimit"
	"github.com/Keksclan/edgecache/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.trai.ch/zerr"
)

// HeaderStrategy is set on every response the router classifies, e.g.
// "cache-first; hit".
const HeaderStrategy = "X-Edgecache"

const maxBodyBytes = 32 << 20

// Router is an [http.Handler]. It is safe for concurrent use.
type Router struct {
	origin   *url.URL
	client   *http.Client
	storage  *Storage
	resolver *Resolver
	critical []string
	limiter  *ratelimit.Limiter

	revalidateTimeout time.Duration
	now               func() time.Time

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracing *tracing.Config

	active atomic.Bool
	wg     sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithClient sets the HTTP client used for network fetches.
func WithClient(c *http.Client) Option { return func(r *Router) { r.client = c } }

// WithStorage shares cache storage across routers.
func WithStorage(s *Storage) Option { return func(r *Router) { r.storage = s } }

// WithRoutes replaces [DefaultRoutes].
func WithRoutes(routes ...*RouteBuilder) Option {
	return func(r *Router) { r.resolver = NewResolver(routes...) }
}

// WithCriticalAssets replaces [DefaultCriticalAssets].
func WithCriticalAssets(paths ...string) Option {
	return func(r *Router) { r.critical = paths }
}

// WithRevalidateLimiter bounds background revalidations. Revalidations over
// the limit are skipped.
func WithRevalidateLimiter(l *ratelimit.Limiter) Option {
	return func(r *Router) { r.limiter = l }
}

// WithRevalidateTimeout bounds a single background revalidation.
func WithRevalidateTimeout(d time.Duration) Option {
	return func(r *Router) { r.revalidateTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.logger = l } }

// WithMetrics records requests by strategy and result.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Router) { r.metrics = m } }

// WithTracing enables a server span per classified request.
func WithTracing(c *tracing.Config) Option { return func(r *Router) { r.tracing = c } }

// New creates a Router for origin.
func New(origin string, opts ...Option) (*Router, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "invalid origin"), "origin", origin)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, zerr.With(zerr.New("origin must be an absolute URL"), "origin", origin)
	}

	rt := &Router{
		origin:            u,
		client:            &http.Client{Timeout: 30 * time.Second},
		storage:           NewStorage(),
		resolver:          NewResolver(DefaultRoutes()...),
		critical:          DefaultCriticalAssets,
		revalidateTimeout: 30 * time.Second,
		now:               time.Now,
		logger:            slog.Default(),
	}
	for _, o := range opts {
		o(rt)
	}
	return rt, nil
}

// Storage returns the router's cache storage.
func (rt *Router) Storage() *Storage { return rt.storage }

// Active reports whether the router is claiming requests.
func (rt *Router) Active() bool { return rt.active.Load() }

// Install precaches the critical assets into the static cache and then
// activates without waiting for earlier routers to drain. Either every
// asset is stored or none is.
func (rt *Router) Install(ctx context.Context) error {
	ctx, span := rt.tracing.Start(ctx, "swcache.install")

	fetched := make(map[string]*Response, len(rt.critical))
	for _, p := range rt.critical {
		target := rt.origin.ResolveReference(&url.URL{Path: p})
		resp, err := rt.fetch(ctx, http.MethodGet, target, nil, nil)
		if err != nil {
			err = zerr.With(zerr.Wrap(err, "precache failed"), "path", p)
			tracing.End(span, err)
			return err
		}
		if !cacheable(resp) {
			err = zerr.With(zerr.With(zerr.New("precache got uncacheable response"), "path", p), "status", resp.Status)
			tracing.End(span, err)
			return err
		}
		fetched[target.String()] = resp
	}

	static := rt.storage.Open(StaticCache)
	for key, resp := range fetched {
		static.Put(key, resp)
	}
	rt.logger.Info("precached critical assets", "count", len(fetched))
	tracing.End(span, nil)

	// Activating straight away can leave clients holding a page shell from
	// the previous version alongside assets from this one.
	return rt.Activate(ctx)
}

// Activate deletes every cache that is not one of the current versioned
// caches and starts claiming requests.
func (rt *Router) Activate(context.Context) error {
	current := append(rt.resolver.caches(), StaticCache)
	for _, name := range rt.storage.Keys() {
		if slices.Contains(current, name) {
			continue
		}
		rt.storage.Delete(name)
		rt.logger.Info("deleted stale cache", "cache", name)
	}
	rt.active.Store(true)
	return nil
}

// Wait blocks until all background revalidations have finished.
func (rt *Router) Wait() {
	rt.wg.Wait()
}

// ServeHTTP implements [http.Handler].
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := rt.target(r)
	if !rt.active.Load() || r.Method != http.MethodGet {
		rt.passThrough(w, r, target)
		return
	}

	route, ok := rt.resolver.Resolve(target.Path, rt.sameOrigin(target))
	if !ok || route.strategy == PassThrough {
		rt.passThrough(w, r, target)
		return
	}

	ctx, span := rt.tracing.StartServer(r, "swcache."+route.strategy.String(),
		attribute.String("route", route.name),
		attribute.String("cache", route.cache),
	)
	defer span.End()

	key := target.String()
	switch route.strategy {
	case CacheFirst:
		rt.cacheFirst(ctx, w, r, route, target, key)
	case StaleWhileRevalidate:
		rt.staleWhileRevalidate(ctx, w, r, route, target, key)
	case NetworkFirst:
		rt.networkFirst(ctx, w, r, route, target, key)
	}
}

func (rt *Router) cacheFirst(ctx context.Context, w http.ResponseWriter, r *http.Request, route *RouteBuilder, target *url.URL, key string) {
	if cached, ok := rt.lookup(route, key); ok {
		rt.respond(w, cached, route.strategy, "hit")
		return
	}

	resp, err := rt.fetch(ctx, http.MethodGet, target, r.Header, nil)
	if err != nil {
		rt.logger.Debug("cache-first fetch failed", "url", key, "error", err)
		rt.respond(w, synthetic(http.StatusRequestTimeout, "Network error"), route.strategy, "offline")
		return
	}
	rt.store(route, key, resp)
	rt.respond(w, resp, route.strategy, "miss")
}

func (rt *Router) staleWhileRevalidate(ctx context.Context, w http.ResponseWriter, r *http.Request, route *RouteBuilder, target *url.URL, key string) {
	if cached, ok := rt.lookup(route, key); ok {
		rt.revalidate(ctx, r.Header.Clone(), route, target, key)
		rt.respond(w, cached, route.strategy, "stale")
		return
	}

	resp, err := rt.fetch(ctx, http.MethodGet, target, r.Header, nil)
	if err != nil {
		rt.logger.Debug("revalidating fetch failed with no cache", "url", key, "error", err)
		rt.respond(w, synthetic(http.StatusServiceUnavailable, "Offline"), route.strategy, "offline")
		return
	}
	rt.store(route, key, resp)
	rt.respond(w, resp, route.strategy, "miss")
}

func (rt *Router) revalidate(ctx context.Context, header http.Header, route *RouteBuilder, target *url.URL, key string) {
	if !rt.limiter.Allow() {
		rt.metrics.RouterRequest(route.strategy.String(), "revalidate_skipped")
		return
	}

	bg := context.WithoutCancel(ctx)
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		ctx, cancel := context.WithTimeout(bg, rt.revalidateTimeout)
		defer cancel()

		resp, err := rt.fetch(ctx, http.MethodGet, target, header, nil)
		if err != nil {
			rt.logger.Debug("background revalidation failed", "url", key, "error", err)
			rt.metrics.RouterRequest(route.strategy.String(), "revalidate_failed")
			return
		}
		rt.store(route, key, resp)
		rt.metrics.RouterRequest(route.strategy.String(), "revalidated")
	}()
}

func (rt *Router) networkFirst(ctx context.Context, w http.ResponseWriter, r *http.Request, route *RouteBuilder, target *url.URL, key string) {
	resp, err := rt.fetch(ctx, http.MethodGet, target, r.Header, nil)
	if err == nil {
		rt.store(route, key, resp)
		rt.respond(w, resp, route.strategy, "network")
		return
	}

	rt.logger.Debug("network-first fetch failed", "url", key, "error", err)
	if cached, ok := rt.lookup(route, key); ok {
		rt.respond(w, cached, route.strategy, "fallback")
		return
	}
	rt.respond(w, synthetic(http.StatusServiceUnavailable, "Offline"), route.strategy, "offline")
}

func (rt *Router) passThrough(w http.ResponseWriter, r *http.Request, target *url.URL) {
	resp, err := rt.fetch(r.Context(), r.Method, target, r.Header, r.Body)
	if err != nil {
		rt.logger.Debug("pass-through fetch failed", "url", target.String(), "error", err)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// lookup checks the route's own cache first and then every other cache,
// so precached assets are found whichever route they fall under.
func (rt *Router) lookup(route *RouteBuilder, key string) (*Response, bool) {
	if route.cache != "" {
		if resp, ok := rt.storage.Open(route.cache).Get(key); ok {
			return resp, true
		}
	}
	return rt.storage.Match(key)
}

// store caches resp only when it is a plain 200 that was not redirected.
func (rt *Router) store(route *RouteBuilder, key string, resp *Response) {
	if !cacheable(resp) || route.cache == "" {
		return
	}
	rt.storage.Open(route.cache).Put(key, resp)
}

func cacheable(resp *Response) bool {
	return resp.Status == http.StatusOK && !resp.Redirected
}

func (rt *Router) respond(w http.ResponseWriter, resp *Response, s Strategy, result string) {
	rt.metrics.RouterRequest(s.String(), result)
	copyHeader(w.Header(), resp.Header)
	w.Header().Set(HeaderStrategy, s.String()+"; "+result)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (rt *Router) fetch(ctx context.Context, method string, target *url.URL, header http.Header, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, header)
	rt.tracing.Inject(ctx, req.Header)

	res, err := rt.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxBodyBytes {
		return nil, zerr.With(zerr.New("response body too large"), "url", target.String())
	}
	return &Response{
		Status:     res.StatusCode,
		Header:     res.Header.Clone(),
		Body:       buf,
		StoredAt:   rt.now(),
		Redirected: res.Request != nil && res.Request.URL.String() != target.String(),
	}, nil
}

// target resolves the upstream URL of r. Proxy-style requests carry an
// absolute URL; everything else is relative to the origin.
func (rt *Router) target(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	return rt.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
}

func (rt *Router) sameOrigin(u *url.URL) bool {
	return u.Scheme == rt.origin.Scheme && u.Host == rt.origin.Host
}

func synthetic(status int, text string) *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &Response{Status: status, Header: h, Body: []byte(text)}
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if slices.Contains(hopHeaders, http.CanonicalHeaderKey(k)) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

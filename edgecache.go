// Package edgecache is the client data cache and auth-token sync layer.
//
// A [Runtime] wires together the owner-scoped local cache ([store]), the
// token bridge that keeps the backend session in step with the identity
// provider ([tokenbridge]), authenticated request retries ([retry]), the
// profile completion aggregator ([completion]), the caching asset router
// ([swcache]) and the webhook dispatcher ([webhook]).
//
//	rt, err := edgecache.New(ctx,
//		edgecache.WithConfig(cfg),
//		edgecache.WithTokenSource(idp),
//		edgecache.WithProfileLoader(loadProfile),
//	)
//	if err != nil { ... }
//	defer rt.Close(ctx)
//	http.ListenAndServe(cfg.Server.Addr, rt.Handler())
package edgecache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/Keksclan/edgecache/breaker"
	"github.com/Keksclan/edgecache/completion"
	"github.com/Keksclan/edgecache/config"
	"github.com/Keksclan/edgecache/contextx"
	"github.com/Keksclan/edgecache/interceptors"
	"github.com/Keksclan/edgecache/internal/core"
	"github.com/Keksclan/edgecache/internal/logging"
	"github.com/Keksclan/edgecache/metrics"
	"github.com/Keksclan/edgecache/ratelimit"
	"github.com/Keksclan/edgecache/retry"
	"github.com/Keksclan/edgecache/store"
	"github.com/Keksclan/edgecache/swcache"
	"github.com/Keksclan/edgecache/tokenbridge"
	"github.com/Keksclan/edgecache/tracing"
	"github.com/Keksclan/edgecache/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.trai.ch/zerr"
	"google.golang.org/grpc"
)

// Paths served by [Runtime.Handler] next to the proxied origin.
const (
	PathWebhook = "/_edge/webhook"
	PathMetrics = "/_edge/metrics"
	PathHealth  = "/_edge/healthz"
)

// ErrNoProfileLoader is returned by a refetch when no loader was configured.
var ErrNoProfileLoader = zerr.New("no profile loader configured")

// Runtime owns every component of the cache layer. Build one with [New].
type Runtime struct {
	cfg *config.Config

	Store      *store.Store
	Bridge     *tokenbridge.Bridge
	Session    *interceptors.Session
	Completion *completion.Aggregator
	Router     *swcache.Router // nil when no origin is configured
	Webhooks   *webhook.Dispatcher

	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Tracing  *tracing.Config

	retry       retry.Config
	loader      ProfileLoader
	middlewares []orderedMiddleware
	closers     []func(context.Context) error
}

// New builds a Runtime from the options. The persistent backend is probed
// once; when it is unreachable the store runs memory-only.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:         cfg,
		Logger:      o.logger,
		Registry:    o.registry,
		loader:      o.profileLoader,
		middlewares: o.middlewares,
	}
	if rt.Logger == nil {
		rt.Logger = logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	}
	if rt.Registry == nil {
		rt.Registry = prometheus.NewRegistry()
	}
	rt.Metrics = metrics.New(rt.Registry)

	tp := o.tracerProvider
	if tp == nil && cfg.Tracing.Stdout {
		sdk, err := tracing.NewStdoutProvider(os.Stderr)
		if err != nil {
			return nil, zerr.Wrap(err, "creating stdout tracer")
		}
		rt.closers = append(rt.closers, sdk.Shutdown)
		tp = sdk
	}
	if tp != nil {
		rt.Tracing = &tracing.Config{TracerProvider: tp}
	}

	rt.retry = retryConfig(cfg.Retry)
	rt.retry.Logger = rt.Logger
	rt.retry.Metrics = rt.Metrics
	rt.retry.Tracing = rt.Tracing

	if err := rt.buildStore(ctx, o.backend); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	rt.buildBridge(o.tokenSource)
	rt.Completion = completion.New(rt.Store, completion.FetcherFunc(rt.refetchProfile),
		completion.WithLogger(rt.Logger))

	client := o.httpClient
	if client == nil {
		client = &http.Client{}
	}
	if err := rt.buildRouter(client); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	if err := rt.buildWebhooks(client); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) buildStore(ctx context.Context, backend store.Backend) error {
	sc := rt.cfg.Store
	if backend == nil {
		switch sc.Backend {
		case config.BackendFile:
			backend = store.NewFileBackend(sc.Path, sc.QuotaBytes)
		case config.BackendRedis:
			rb := store.NewRedisBackend(sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB, sc.Redis.Prefix)
			rt.closers = append(rt.closers, func(context.Context) error { return rb.Close() })
			backend = rb
		}
	}
	opts := []store.Option{
		store.WithMemoryEntries(sc.MemoryEntries),
		store.WithLogger(rt.Logger),
		store.WithMetrics(rt.Metrics),
	}
	if backend != nil {
		opts = append(opts, store.WithBackend(backend))
	}
	s, err := store.New(ctx, opts...)
	if err != nil {
		return zerr.Wrap(err, "creating store")
	}
	rt.Store = s
	return nil
}

func (rt *Runtime) buildBridge(src tokenbridge.TokenSource) {
	tc := rt.cfg.Token
	if src == nil {
		src = tokenbridge.TokenSourceFunc(func(context.Context, string) (string, error) {
			return "", nil
		})
	}
	rt.Session = &interceptors.Session{}
	rt.Bridge = tokenbridge.New(src, rt.Session,
		tokenbridge.WithTemplate(tc.Template),
		tokenbridge.WithDebounce(tc.Debounce),
		tokenbridge.WithSyncTimeout(tc.SyncTimeout),
		tokenbridge.WithBreaker(breaker.New(breaker.Config{
			FailureThreshold:   tc.Breaker.FailureThreshold,
			OpenTimeout:        tc.Breaker.OpenTimeout,
			HalfOpenMaxSuccess: tc.Breaker.HalfOpenMaxSuccess,
		})),
		tokenbridge.WithLogger(rt.Logger),
		tokenbridge.WithMetrics(rt.Metrics),
		tokenbridge.WithTracing(rt.Tracing),
	)
}

func (rt *Runtime) buildRouter(client *http.Client) error {
	rc := rt.cfg.Router
	if rc.Origin == "" {
		return nil
	}
	opts := []swcache.Option{
		swcache.WithClient(client),
		swcache.WithRevalidateLimiter(ratelimit.NewLimiter(rc.RevalidateRPS, rc.RevalidateBurst)),
		swcache.WithRevalidateTimeout(rc.RevalidateTimeout),
		swcache.WithLogger(rt.Logger),
		swcache.WithMetrics(rt.Metrics),
		swcache.WithTracing(rt.Tracing),
	}
	if len(rc.CriticalAssets) > 0 {
		opts = append(opts, swcache.WithCriticalAssets(rc.CriticalAssets...))
	}
	r, err := swcache.New(rc.Origin, opts...)
	if err != nil {
		return zerr.Wrap(err, "creating router")
	}
	rt.Router = r
	return nil
}

func (rt *Runtime) buildWebhooks(client *http.Client) error {
	wc := rt.cfg.Webhook
	opts := []webhook.Option{
		webhook.WithClient(client),
		webhook.WithTimeout(wc.Timeout),
		webhook.WithLogger(rt.Logger),
		webhook.WithMetrics(rt.Metrics),
		webhook.WithTracing(rt.Tracing),
	}
	if wc.RatePerType > 0 {
		opts = append(opts, webhook.WithRateLimit(wc.RatePerType, wc.Burst))
	}
	d, err := webhook.New(wc.Routes, opts...)
	if err != nil {
		return zerr.Wrap(err, "creating webhook dispatcher")
	}
	rt.Webhooks = d
	return nil
}

func retryConfig(c config.RetryConfig) retry.Config {
	backoff := retry.BackoffLinear
	if c.Backoff == "exponential" {
		backoff = retry.BackoffExponential
	}
	return retry.Config{
		MaxRetries:           c.MaxRetries,
		BaseDelay:            c.BaseDelay,
		MaxDelay:             c.MaxDelay,
		Jitter:               c.Jitter,
		Backoff:              backoff,
		RetryTransient:       c.RetryTransient,
		DisableTextHeuristic: c.DisableTextHeuristic,
	}
}

// Config returns the configuration the runtime was built with.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// RetryConfig returns the retry policy used by [Do].
func (rt *Runtime) RetryConfig() retry.Config { return rt.retry }

// Start prepares the router. With install enabled the critical assets are
// precached first; a failed install leaves the router passing requests
// through and is only logged.
func (rt *Runtime) Start(ctx context.Context) {
	if rt.Router == nil {
		return
	}
	if !rt.cfg.Router.Install {
		_ = rt.Router.Activate(ctx)
		return
	}
	if err := rt.Router.Install(ctx); err != nil {
		rt.Logger.Warn("asset precache failed, serving uncached", "error", err)
	}
}

// SetOwner switches the identity that cache reads and writes are scoped to.
func (rt *Runtime) SetOwner(owner string) {
	rt.Completion.SetOwner(owner)
}

// SignOut clears the session and the owner scope.
func (rt *Runtime) SignOut(ctx context.Context) {
	rt.Bridge.SignOut(ctx)
	rt.Completion.SetOwner("")
}

// DialOptions returns gRPC dial options that attach the synced session
// token to every call and refresh it on rejection.
func (rt *Runtime) DialOptions(limiter *ratelimit.Limiter) []grpc.DialOption {
	return interceptors.DialOptions(rt.Session, rt.retry, limiter)
}

func (rt *Runtime) refetchProfile(ctx context.Context, owner string) error {
	if rt.loader == nil {
		return ErrNoProfileLoader
	}
	p, err := Do(ctx, rt, "fetch-profile", func(ctx context.Context) (completion.Profile, error) {
		return rt.loader(ctx, owner)
	})
	if err != nil {
		return err
	}
	rt.Completion.Profiles().Write(ctx, p, owner)
	return nil
}

// Do runs op with the runtime's retry policy, refreshing the token through
// the bridge between auth failures. op's context carries the current owner
// (see [contextx.OwnerFromContext]).
func Do[T any](ctx context.Context, rt *Runtime, label string, op func(context.Context) (T, error)) (T, error) {
	if owner := rt.Completion.Owner(); owner != "" {
		ctx = contextx.WithOwner(ctx, owner)
	}
	return retry.Do(ctx, rt.retry, rt.Bridge, label, op)
}

// Handler returns the HTTP surface: webhook ingestion, metrics, health and,
// when an origin is configured, the caching router for everything else.
func (rt *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathWebhook, rt.Webhooks)
	mux.Handle(PathMetrics, promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc(PathHealth, rt.serveHealth)
	if rt.Router != nil {
		mux.Handle("/", rt.Router)
	}

	var b core.MiddlewareBuilder
	b.Add(OrderRecover, Recover(rt.Logger))
	b.Add(OrderRequestID, RequestID())
	b.Add(OrderAccessLog, AccessLog(rt.Logger))
	for _, m := range rt.middlewares {
		b.Add(m.order, m.mw)
	}
	return b.Build(mux)
}

type health struct {
	Status       string `json:"status"`
	Persistent   bool   `json:"persistent"`
	Token        string `json:"token"`
	RouterActive bool   `json:"router_active"`
}

func (rt *Runtime) serveHealth(w http.ResponseWriter, _ *http.Request) {
	h := health{
		Status:     "ok",
		Persistent: rt.Store.Persistent(),
		Token:      rt.Bridge.State().String(),
	}
	if rt.Router != nil {
		h.RouterActive = rt.Router.Active()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h)
}

// Close stops background work and releases the backends. It is safe to
// call on a partially built runtime.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.Bridge != nil {
		rt.Bridge.Flush()
	}
	if rt.Router != nil {
		rt.Router.Wait()
	}
	if rt.Completion != nil {
		rt.Completion.Close()
	}
	if rt.Store != nil {
		rt.Store.Close()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

var defaultRuntime atomic.Pointer[Runtime]

// Default returns the process-wide runtime installed by [SetDefault], or nil.
func Default() *Runtime { return defaultRuntime.Load() }

// SetDefault installs rt as the process-wide runtime.
func SetDefault(rt *Runtime) { defaultRuntime.Store(rt) }

package edgecache

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Keksclan/edgecache/completion"
	"github.com/Keksclan/edgecache/config"
	"github.com/Keksclan/edgecache/store"
	"github.com/Keksclan/edgecache/tokenbridge"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// ProfileLoader fetches the profile for owner from the backend.
type ProfileLoader func(ctx context.Context, owner string) (completion.Profile, error)

// options holds the internal configuration assembled via functional options.
type options struct {
	cfg            *config.Config
	logger         *slog.Logger
	registry       *prometheus.Registry
	tracerProvider trace.TracerProvider
	tokenSource    tokenbridge.TokenSource
	profileLoader  ProfileLoader
	backend        store.Backend
	httpClient     *http.Client
	middlewares    []orderedMiddleware
}

type orderedMiddleware struct {
	order int
	mw    Middleware
}

// Option configures a Runtime.
type Option func(*options)

// WithConfig sets the configuration. Without it [config.Default] is used.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger overrides the logger built from the log configuration.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithTracerProvider enables tracing with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithTokenSource connects the identity provider. Without it the runtime
// behaves as signed out.
func WithTokenSource(src tokenbridge.TokenSource) Option {
	return func(o *options) { o.tokenSource = src }
}

// WithProfileLoader sets how profiles are fetched when completion status
// is refetched.
func WithProfileLoader(fn ProfileLoader) Option {
	return func(o *options) { o.profileLoader = fn }
}

// WithBackend overrides the persistent backend chosen by configuration.
func WithBackend(b store.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithHTTPClient sets the client used by the router and the webhook
// dispatcher.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithMiddleware adds mw to [Runtime.Handler] at the given order.
func WithMiddleware(order int, mw Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, orderedMiddleware{order: order, mw: mw})
	}
}

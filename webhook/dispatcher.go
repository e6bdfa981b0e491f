// Package webhook forwards JSON automation events to downstream endpoints
// selected by the payload's "webhook_type" field.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Keksclan/edgecache/contextx"
	"github.com/Keksclan/edgecache/metrics"
	"github.com/Keksclan/edgecache/ratelimit"
	"github.com/Keksclan/edgecache/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.trai.ch/zerr"
)

// DefaultTimeout bounds a single downstream call.
const DefaultTimeout = 15 * time.Second

const (
	maxPayloadBytes = 1 << 20
	typeField       = "webhook_type"
)

// Dispatcher is an [http.Handler]. It is safe for concurrent use.
type Dispatcher struct {
	routes  map[string]*url.URL
	client  *http.Client
	timeout time.Duration
	limits  *ratelimit.Keyed

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracing *tracing.Config
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClient sets the HTTP client used for downstream calls.
func WithClient(c *http.Client) Option { return func(d *Dispatcher) { d.client = c } }

// WithTimeout replaces [DefaultTimeout].
func WithTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.timeout = t } }

// WithRateLimit limits each webhook type to rps events per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(d *Dispatcher) { d.limits = ratelimit.NewKeyed(rps, burst) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithMetrics records forwards by type and status.
func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithTracing enables a server span per event.
func WithTracing(c *tracing.Config) Option { return func(d *Dispatcher) { d.tracing = c } }

// New creates a Dispatcher. routes maps webhook types to downstream URLs.
func New(routes map[string]string, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		routes:  make(map[string]*url.URL, len(routes)),
		client:  &http.Client{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for typ, raw := range routes {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, zerr.With(zerr.With(zerr.New("invalid webhook target"), "type", typ), "url", raw)
		}
		d.routes[typ] = u
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Types returns the number of configured webhook types.
func (d *Dispatcher) Types() int { return len(d.routes) }

// ServeHTTP implements [http.Handler].
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if id := r.Header.Get(contextx.RequestIDHeader); id != "" {
		ctx = contextx.WithRequestID(ctx, id)
	}
	ctx, reqID := contextx.EnsureRequestID(ctx)
	w.Header().Set(contextx.RequestIDHeader, reqID)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil || len(body) > maxPayloadBytes {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	var typ string
	if err := json.Unmarshal(envelope[typeField], &typ); err != nil || typ == "" {
		writeError(w, http.StatusBadRequest, "missing webhook_type")
		return
	}
	target, ok := d.routes[typ]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown webhook type")
		return
	}
	if d.limits != nil && !d.limits.Allow(typ) {
		d.metrics.WebhookForward(typ, "429", 0)
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	ctx, span := d.tracing.Start(ctx, "webhook.forward",
		attribute.String("webhook.type", typ),
		attribute.String("request.id", reqID),
	)
	log := d.logger.With("webhook_type", typ, "request_id", reqID)

	start := time.Now()
	status, respBody, err := d.forward(ctx, target, body, reqID)
	elapsed := time.Since(start)
	if err != nil {
		log.Warn("webhook forward failed", "error", err, "duration", elapsed)
		d.metrics.WebhookForward(typ, "502", elapsed)
		tracing.End(span, err)
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}

	d.metrics.WebhookForward(typ, strconv.Itoa(status), elapsed)
	tracing.End(span, nil)
	if status >= http.StatusBadRequest {
		// Downstream detail stays in the logs.
		log.Info("webhook rejected downstream", "status", status, "body", string(respBody), "duration", elapsed)
		writeError(w, status, "request rejected")
		return
	}
	log.Debug("webhook forwarded", "status", status, "duration", elapsed)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}

// forward posts body to target. Downstream 5xx responses are reported as
// errors so their bodies never reach the caller.
func (d *Dispatcher) forward(ctx context.Context, target *url.URL, body []byte, reqID string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return 0, nil, zerr.Wrap(err, "building downstream request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(contextx.RequestIDHeader, reqID)
	d.tracing.Inject(ctx, req.Header)

	res, err := d.client.Do(req)
	if err != nil {
		return 0, nil, zerr.Wrap(err, "calling downstream")
	}
	defer res.Body.Close()

	out, err := io.ReadAll(io.LimitReader(res.Body, maxPayloadBytes))
	if err != nil {
		return 0, nil, zerr.Wrap(err, "reading downstream response")
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return 0, nil, zerr.With(zerr.New("downstream error"), "status", res.StatusCode)
	}
	return res.StatusCode, out, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

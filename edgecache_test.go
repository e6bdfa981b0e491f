package edgecache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Keksclan/edgecache/completion"
	"github.com/Keksclan/edgecache/config"
	"github.com/Keksclan/edgecache/contextx"
	"github.com/Keksclan/edgecache/internal/logging"
	"github.com/Keksclan/edgecache/retry"
	"github.com/Keksclan/edgecache/swcache"
	"github.com/Keksclan/edgecache/tokenbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Token.Debounce = time.Millisecond
	return cfg
}

func newRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithConfig(cfg), WithLogger(logging.Discard())}, opts...)
	rt, err := New(t.Context(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func strptr(s string) *string { return &s }

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = "floppy"

	_, err := New(t.Context(), WithConfig(cfg), WithLogger(logging.Discard()))

	var ve *config.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "store.backend", ve.Field)
}

func TestNew_FileBackendIsPersistent(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = config.BackendFile
	cfg.Store.Path = t.TempDir() + "/cache.json"

	rt := newRuntime(t, cfg)

	assert.True(t, rt.Store.Persistent())
	assert.Nil(t, rt.Router)
}

func TestHealth(t *testing.T) {
	rt := newRuntime(t, testConfig())

	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathHealth, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(contextx.RequestIDHeader))
	var h health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "unsynced", h.Token)
	assert.False(t, h.Persistent)
}

func TestDo_RefreshesThroughBridge(t *testing.T) {
	var mints atomic.Int32
	src := tokenbridge.TokenSourceFunc(func(_ context.Context, template string) (string, error) {
		mints.Add(1)
		return "tok-" + template, nil
	})
	cfg := testConfig()
	cfg.Token.Template = "backend"
	rt := newRuntime(t, cfg, WithTokenSource(src))

	calls := 0
	got, err := Do(t.Context(), rt, "load-jobs", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, retry.AuthError(errors.New("jwt expired"))
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, int32(1), mints.Load())
	assert.Equal(t, "tok-backend", rt.Session.Token())
	assert.Equal(t, tokenbridge.Synced, rt.Bridge.State())
}

func TestDo_SignedOutGivesUp(t *testing.T) {
	rt := newRuntime(t, testConfig())

	_, err := Do(t.Context(), rt, "load-jobs", func(context.Context) (int, error) {
		return 0, retry.AuthError(errors.New("401"))
	})

	require.ErrorIs(t, err, tokenbridge.ErrNoToken)
	assert.Equal(t, retry.MessageTryAgain, retry.UserMessage(err))
}

func TestCompletion_RefetchLoadsProfile(t *testing.T) {
	loader := func(ctx context.Context, owner string) (completion.Profile, error) {
		if got := contextx.OwnerFromContext(ctx); got != owner {
			return completion.Profile{}, errors.New("owner missing from context: " + got)
		}
		return completion.Profile{ID: owner, Bio: strptr(""), ResumeURL: strptr("cv.pdf")}, nil
	}
	rt := newRuntime(t, testConfig(), WithProfileLoader(loader))
	rt.SetOwner("user-1")

	require.NoError(t, rt.Completion.RefetchStatus(t.Context()))

	st := rt.Completion.Current(t.Context())
	assert.False(t, st.IsComplete)
	assert.True(t, st.Has("resume"))
	assert.False(t, st.Has("bio"))
}

func TestCompletion_RefetchWithoutLoader(t *testing.T) {
	rt := newRuntime(t, testConfig())

	err := rt.Completion.RefetchStatus(t.Context())

	assert.ErrorIs(t, err, ErrNoProfileLoader)
}

func TestSignOut_ClearsOwner(t *testing.T) {
	rt := newRuntime(t, testConfig())
	rt.SetOwner("user-1")

	rt.SignOut(t.Context())

	assert.Empty(t, rt.Completion.Owner())
	assert.Empty(t, rt.Session.Token())
}

func TestHandler_RoutesWebhooks(t *testing.T) {
	var got atomic.Value
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get(contextx.RequestIDHeader))
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(down.Close)
	cfg := testConfig()
	cfg.Webhook.Routes = map[string]string{"resume": down.URL}
	rt := newRuntime(t, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, PathWebhook, strings.NewReader(`{"webhook_type":"resume"}`))
	req.Header.Set(contextx.RequestIDHeader, "req-7")
	rt.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-7", got.Load())
	assert.Equal(t, "req-7", rec.Header().Get(contextx.RequestIDHeader))
}

func TestHandler_ServesMetrics(t *testing.T) {
	rt := newRuntime(t, testConfig())
	rt.Store.Write(t.Context(), "jobs", []string{"a"}, "user-1")

	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathMetrics, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "edgecache_store_writes_total")
}

func TestHandler_RouterCachesAssets(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "asset "+r.URL.Path)
	}))
	t.Cleanup(origin.Close)
	cfg := testConfig()
	cfg.Router.Origin = origin.URL
	rt := newRuntime(t, cfg)
	rt.Start(t.Context())
	require.True(t, rt.Router.Active())
	installed := hits.Load()

	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logo.png", nil))

	assert.Equal(t, "asset /logo.png", rec.Body.String())
	assert.Equal(t, "cache-first; hit", rec.Header().Get(swcache.HeaderStrategy))
	assert.Equal(t, installed, hits.Load())
}

func TestStart_FailedInstallPassesThrough(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(origin.Close)
	cfg := testConfig()
	cfg.Router.Origin = origin.URL
	rt := newRuntime(t, cfg)

	rt.Start(t.Context())

	assert.False(t, rt.Router.Active())
}

func TestHandler_CustomMiddleware(t *testing.T) {
	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Tag", contextx.RequestIDFromContext(r.Context()))
			next.ServeHTTP(w, r)
		})
	}
	rt := newRuntime(t, testConfig(), WithMiddleware(OrderRequestID+1, tag))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, PathHealth, nil)
	req.Header.Set(contextx.RequestIDHeader, "abc")
	rt.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Header().Get("X-Tag"))
}

func TestDefault(t *testing.T) {
	rt := newRuntime(t, testConfig())
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	SetDefault(rt)

	assert.Same(t, rt, Default())
}

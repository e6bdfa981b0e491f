package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edgecache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsAreValid(t *testing.T) {
	cfg, err := NewLoader().WithLookup(env(nil)).Load()

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithPath(filepath.Join(t.TempDir(), "nope.yaml")).
		WithLookup(env(nil)).
		Load()

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
store:
  backend: redis
  redis:
    addr: cache:6379
retry:
  max_retries: 5
  base_delay: 250ms
  backoff: exponential
router:
  origin: https://app.example.com
webhook:
  routes:
    resume: https://hooks.example.com/resume
`)

	cfg, err := NewLoader().WithPath(path).WithLookup(env(nil)).Load()

	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "cache:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "edgecache:", cfg.Store.Redis.Prefix, "unset nested field keeps its default")
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, "exponential", cfg.Retry.Backoff)
	assert.Equal(t, "https://hooks.example.com/resume", cfg.Webhook.Routes["resume"])
	assert.Equal(t, 15*time.Second, cfg.Webhook.Timeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "log:\n  level: warn\n")

	cfg, err := NewLoader().WithPath(path).WithLookup(env(map[string]string{
		"EDGECACHE_LOG_LEVEL":         "debug",
		"EDGECACHE_RETRY_MAX_RETRIES": "1",
		"EDGECACHE_TOKEN_DEBOUNCE":    "50ms",
		"EDGECACHE_RETRY_TRANSIENT":   "true",
		"EDGECACHE_WEBHOOK_ROUTES":    "a=http://a.example, b=http://b.example",
	})).Load()

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 1, cfg.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Token.Debounce)
	assert.True(t, cfg.Retry.RetryTransient)
	assert.Equal(t, map[string]string{"a": "http://a.example", "b": "http://b.example"}, cfg.Webhook.Routes)
}

func TestLoad_BadEnvValue(t *testing.T) {
	_, err := NewLoader().WithLookup(env(map[string]string{
		"EDGECACHE_RETRY_BASE_DELAY": "soon",
	})).Load()

	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeFile(t, "store: [unclosed")

	_, err := NewLoader().WithPath(path).WithLookup(env(nil)).Load()

	assert.Error(t, err)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Store.Backend = "floppy"
	cfg.Router.Origin = "/relative"

	err := Validate(cfg)

	require.Error(t, err)
	var fields []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var ve *ValidationError
		require.True(t, errors.As(e, &ve))
		fields = append(fields, ve.Field)
	}
	assert.ElementsMatch(t, []string{"log.level", "store.backend", "router.origin"}, fields)
}

func TestValidate_FileBackendNeedsPath(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = ""

	var ve *ValidationError
	require.ErrorAs(t, Validate(cfg), &ve)
	assert.Equal(t, "store.path", ve.Field)
}

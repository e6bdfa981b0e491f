package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EDGECACHE_"

// Loader builds a Config from a file and the environment.
type Loader struct {
	path   string
	lookup func(string) (string, bool)
}

// NewLoader creates a Loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// WithPath sets the YAML file. A missing file is not an error.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithLookup replaces os.LookupEnv.
func (l *Loader) WithLookup(fn func(string) (string, bool)) *Loader {
	l.lookup = fn
	return l
}

// Load returns the merged and validated configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, zerr.With(zerr.Wrap(err, "reading config file"), "path", l.path)
		default:
			// Decoding onto the defaults keeps every field the file omits.
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, zerr.With(zerr.Wrap(err, "parsing config file"), "path", l.path)
			}
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies EDGECACHE_<SECTION>_<KEY> overrides.
func (l *Loader) applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := l.lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := l.lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError(key, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := l.lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError(key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := l.lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError(key, err)
		}
		*dst = b
		return nil
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("SERVER_ADDR", &cfg.Server.Addr)
	str("STORE_BACKEND", &cfg.Store.Backend)
	str("STORE_PATH", &cfg.Store.Path)
	str("REDIS_ADDR", &cfg.Store.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Store.Redis.Password)
	str("RETRY_BACKOFF", &cfg.Retry.Backoff)
	str("TOKEN_TEMPLATE", &cfg.Token.Template)
	str("ROUTER_ORIGIN", &cfg.Router.Origin)

	if v, ok := l.lookup(EnvPrefix + "WEBHOOK_ROUTES"); ok && v != "" {
		routes, err := parseRoutes(v)
		if err != nil {
			return envError("WEBHOOK_ROUTES", err)
		}
		cfg.Webhook.Routes = routes
	}

	return errors.Join(
		dur("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout),
		num("REDIS_DB", &cfg.Store.Redis.DB),
		num("RETRY_MAX_RETRIES", &cfg.Retry.MaxRetries),
		dur("RETRY_BASE_DELAY", &cfg.Retry.BaseDelay),
		flag("RETRY_TRANSIENT", &cfg.Retry.RetryTransient),
		dur("TOKEN_DEBOUNCE", &cfg.Token.Debounce),
		dur("WEBHOOK_TIMEOUT", &cfg.Webhook.Timeout),
		flag("TRACING_STDOUT", &cfg.Tracing.Stdout),
	)
}

// parseRoutes reads "type=url,type=url".
func parseRoutes(s string) (map[string]string, error) {
	routes := make(map[string]string)
	for pair := range strings.SplitSeq(s, ",") {
		typ, target, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || typ == "" || target == "" {
			return nil, zerr.With(zerr.New("expected type=url"), "entry", pair)
		}
		routes[typ] = target
	}
	return routes, nil
}

func envError(key string, err error) error {
	return zerr.With(zerr.Wrap(err, "invalid environment override"), "variable", EnvPrefix+key)
}

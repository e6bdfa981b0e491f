package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
)

// ValidationError reports a single invalid field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error for %s: %s (got: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error
	bad := func(field string, value any, msg string) {
		errs = append(errs, &ValidationError{Field: field, Value: value, Message: msg})
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.Log.Level) {
		bad("log.level", cfg.Log.Level, "must be one of: debug, info, warn, error")
	}
	if !slices.Contains([]string{"text", "json"}, cfg.Log.Format) {
		bad("log.format", cfg.Log.Format, "must be text or json")
	}
	if cfg.Server.Addr == "" {
		bad("server.addr", nil, "is required")
	}

	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendFile:
		if cfg.Store.Path == "" {
			bad("store.path", nil, "is required for the file backend")
		}
	case BackendRedis:
		if cfg.Store.Redis.Addr == "" {
			bad("store.redis.addr", nil, "is required for the redis backend")
		}
	default:
		bad("store.backend", cfg.Store.Backend, "must be one of: memory, file, redis")
	}
	if cfg.Store.QuotaBytes < 0 {
		bad("store.quota_bytes", cfg.Store.QuotaBytes, "must be non-negative")
	}

	if cfg.Retry.MaxRetries < 0 {
		bad("retry.max_retries", cfg.Retry.MaxRetries, "must be non-negative")
	}
	if cfg.Retry.BaseDelay < 0 {
		bad("retry.base_delay", cfg.Retry.BaseDelay, "must be non-negative")
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter > 1 {
		bad("retry.jitter", cfg.Retry.Jitter, "must be between 0 and 1")
	}
	if !slices.Contains([]string{"linear", "exponential"}, cfg.Retry.Backoff) {
		bad("retry.backoff", cfg.Retry.Backoff, "must be linear or exponential")
	}

	if cfg.Token.Debounce < 0 {
		bad("token.debounce", cfg.Token.Debounce, "must be non-negative")
	}

	if cfg.Router.Origin != "" {
		if u, err := url.Parse(cfg.Router.Origin); err != nil || u.Scheme == "" || u.Host == "" {
			bad("router.origin", cfg.Router.Origin, "must be an absolute URL")
		}
	}

	for typ, target := range cfg.Webhook.Routes {
		if u, err := url.Parse(target); err != nil || u.Scheme == "" || u.Host == "" {
			bad("webhook.routes."+typ, target, "must be an absolute URL")
		}
	}
	if cfg.Webhook.Timeout <= 0 {
		bad("webhook.timeout", cfg.Webhook.Timeout, "must be positive")
	}

	return errors.Join(errs...)
}

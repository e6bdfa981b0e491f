package swcache

import (
	"regexp"
	"strings"
)

// Strategy is a caching discipline.
type Strategy int

const (
	// PassThrough forwards the request without touching any cache.
	PassThrough Strategy = iota
	// CacheFirst serves from cache and only fetches on a miss.
	CacheFirst
	// StaleWhileRevalidate serves from cache and refreshes it in the
	// background.
	StaleWhileRevalidate
	// NetworkFirst fetches and falls back to cache when the network fails.
	NetworkFirst
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	case NetworkFirst:
		return "network-first"
	default:
		return "pass-through"
	}
}

type matchKind int

const (
	kindExact matchKind = iota
	kindPrefix
	kindRegex
)

type rule struct {
	kind    matchKind
	pattern string
	re      *regexp.Regexp
}

func (r *rule) match(path string) bool {
	switch r.kind {
	case kindExact:
		return path == r.pattern
	case kindPrefix:
		return strings.HasPrefix(path, r.pattern)
	case kindRegex:
		return r.re.MatchString(path)
	}
	return false
}

// RouteBuilder describes a class of request paths, the strategy applied to
// them and the cache they are stored in.
type RouteBuilder struct {
	name       string
	rules      []rule
	strategy   Strategy
	cache      string
	sameOrigin bool
}

// Route starts building a route with the given name.
func Route(name string) *RouteBuilder {
	return &RouteBuilder{name: name}
}

// Name returns the route name.
func (b *RouteBuilder) Name() string { return b.name }

// Exact adds an exact path match.
func (b *RouteBuilder) Exact(path string) *RouteBuilder {
	b.rules = append(b.rules, rule{kind: kindExact, pattern: path})
	return b
}

// Prefix adds a path prefix match.
func (b *RouteBuilder) Prefix(prefix string) *RouteBuilder {
	b.rules = append(b.rules, rule{kind: kindPrefix, pattern: prefix})
	return b
}

// Regex adds a path regex match. An invalid pattern panics.
func (b *RouteBuilder) Regex(pattern string) *RouteBuilder {
	b.rules = append(b.rules, rule{kind: kindRegex, pattern: pattern, re: regexp.MustCompile(pattern)})
	return b
}

// Strategy sets the caching discipline.
func (b *RouteBuilder) Strategy(s Strategy) *RouteBuilder {
	b.strategy = s
	return b
}

// Cache sets the named cache responses are stored in.
func (b *RouteBuilder) Cache(name string) *RouteBuilder {
	b.cache = name
	return b
}

// SameOrigin restricts the route to requests for the router's own origin.
func (b *RouteBuilder) SameOrigin() *RouteBuilder {
	b.sameOrigin = true
	return b
}

func (b *RouteBuilder) matches(path string, sameOrigin bool) bool {
	if b.sameOrigin && !sameOrigin {
		return false
	}
	for i := range b.rules {
		if b.rules[i].match(path) {
			return true
		}
	}
	return false
}

// Resolver classifies request paths into routes.
type Resolver struct {
	routes []*RouteBuilder
}

// NewResolver creates a Resolver. Routes are evaluated in the order given
// and the first match wins.
func NewResolver(routes ...*RouteBuilder) *Resolver {
	return &Resolver{routes: routes}
}

// Resolve returns the first route matching path. ok is false when the
// request is unclassified.
func (res *Resolver) Resolve(path string, sameOrigin bool) (route *RouteBuilder, ok bool) {
	for _, r := range res.routes {
		if r.matches(path, sameOrigin) {
			return r, true
		}
	}
	return nil, false
}

// caches returns the distinct cache names referenced by the routes.
func (res *Resolver) caches() []string {
	var names []string
	seen := make(map[string]bool)
	for _, r := range res.routes {
		if r.cache != "" && !seen[r.cache] {
			seen[r.cache] = true
			names = append(names, r.cache)
		}
	}
	return names
}

// Versioned cache names.
const (
	StaticCache  = "static-v1"
	ImageCache   = "images-v1"
	DynamicCache = "dynamic-v1"
)

// DefaultRoutes classifies images, then fonts, then bundled CSS/JS, then
// any other same-origin path.
func DefaultRoutes() []*RouteBuilder {
	return []*RouteBuilder{
		Route("images").
			Regex(`(?i)\.(png|jpe?g|gif|svg|webp|avif|ico)$`).
			Strategy(CacheFirst).
			Cache(ImageCache),
		Route("fonts").
			Regex(`(?i)\.(woff2?|ttf|otf|eot)$`).
			Strategy(CacheFirst).
			Cache(StaticCache),
		Route("assets").
			Regex(`(?i)\.(css|m?js)$`).
			Strategy(StaleWhileRevalidate).
			Cache(StaticCache),
		Route("pages").
			Prefix("/").
			Strategy(NetworkFirst).
			Cache(DynamicCache).
			SameOrigin(),
	}
}

// DefaultCriticalAssets are precached on install.
var DefaultCriticalAssets = []string{"/", "/index.html", "/manifest.json", "/logo.png"}

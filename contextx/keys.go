// Package contextx carries request-scoped values shared by the HTTP
// handlers, the gRPC client interceptors and the cache layer.
package contextx

// contextKey is an unexported type used as context key to avoid collisions
// with keys defined in other packages.
type contextKey int

const (
	ownerKey contextKey = iota
	requestIDKey
)

package contextx

import "context"

// WithOwner returns a derived context carrying the owner key, the identity
// cache entries are written for.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFromContext extracts the owner key stored in ctx.
// It returns an empty string when none is present.
func OwnerFromContext(ctx context.Context) string {
	o, _ := ctx.Value(ownerKey).(string)
	return o
}

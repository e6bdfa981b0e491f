package interceptors

import (
	"context"

	"github.com/Keksclan/edgecache/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// TokenFunc returns the bearer token for the next call, or "".
type TokenFunc func() string

// BearerUnary returns a unary client interceptor that attaches the current
// token as "authorization: Bearer <token>". The token is read per call, so
// a retried call picks up a refreshed token.
func BearerUnary(token TokenFunc) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if tok := token(); tok != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// AuthRetryUnary returns a unary client interceptor that runs each call
// through [retry.Do]: Unauthenticated and PermissionDenied responses
// trigger a refresh through r and a bounded number of retries. It must sit
// before [BearerUnary] in the chain.
func AuthRetryUnary(cfg retry.Config, r retry.Refresher) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		_, err := retry.Do(ctx, cfg, r, method, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, invoker(ctx, method, req, reply, cc, opts...)
		})
		return err
	}
}

package interceptors

import (
	"context"

	"github.com/Keksclan/edgecache/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RateLimitUnary returns a unary client interceptor that waits for l before
// each call. A call whose context ends while waiting fails with
// ResourceExhausted.
func RateLimitUnary(l *ratelimit.Limiter) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if err := l.Wait(ctx); err != nil {
			return status.Error(codes.ResourceExhausted, "client rate limit exceeded")
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

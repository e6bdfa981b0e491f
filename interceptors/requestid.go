package interceptors

import (
	"context"

	"github.com/Keksclan/edgecache/contextx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDUnary returns a unary client interceptor that ensures a request
// ID is present in the context and sends it as outgoing metadata.
func RequestIDUnary() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		ctx, id := contextx.EnsureRequestID(ctx)
		ctx = metadata.AppendToOutgoingContext(ctx, contextx.RequestIDHeader, id)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

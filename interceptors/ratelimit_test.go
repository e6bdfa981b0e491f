package interceptors

import (
	"context"
	"testing"
	"time"

	"github.com/Keksclan/edgecache/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func okInvoker(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
	return nil
}

func codeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	st, _ := status.FromError(err)
	return st.Code()
}

func TestRateLimitUnary_WithinBurst(t *testing.T) {
	ic := RateLimitUnary(ratelimit.NewLimiter(0.001, 2))

	for i := range 2 {
		if err := ic(t.Context(), "/svc/M", nil, nil, nil, okInvoker); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
}

func TestRateLimitUnary_ExhaustedBeforeDeadline(t *testing.T) {
	ic := RateLimitUnary(ratelimit.NewLimiter(0.001, 1))
	_ = ic(t.Context(), "/svc/M", nil, nil, nil, okInvoker)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	err := ic(ctx, "/svc/M", nil, nil, nil, okInvoker)
	if codeOf(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", codeOf(err))
	}
}

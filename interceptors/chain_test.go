package interceptors

import (
	"context"
	"testing"

	"google.golang.org/grpc"
)

func makeTag(tag string, log *[]string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		*log = append(*log, tag+":before")
		err := invoker(ctx, method, req, reply, cc, opts...)
		*log = append(*log, tag+":after")
		return err
	}
}

func TestChainUnary_Order(t *testing.T) {
	var log []string
	chained := ChainUnary([]grpc.UnaryClientInterceptor{
		makeTag("A", &log),
		makeTag("B", &log),
		makeTag("C", &log),
	})

	invoker := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		log = append(log, "invoke")
		return nil
	}

	if err := chained(t.Context(), "/svc/M", nil, nil, nil, invoker); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"A:before", "B:before", "C:before", "invoke", "C:after", "B:after", "A:after"}
	if len(log) != len(expected) {
		t.Fatalf("log mismatch: got %v, want %v", log, expected)
	}
	for i := range expected {
		if log[i] != expected[i] {
			t.Fatalf("log[%d] = %q, want %q\nfull: %v", i, log[i], expected[i], log)
		}
	}
}

func TestChainUnary_Empty(t *testing.T) {
	if ChainUnary(nil) != nil {
		t.Fatal("expected nil for empty chain")
	}
}

func TestChainUnary_Single(t *testing.T) {
	var log []string
	ic := makeTag("only", &log)
	chained := ChainUnary([]grpc.UnaryClientInterceptor{ic})

	invoker := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error { return nil }
	_ = chained(t.Context(), "/svc/M", nil, nil, nil, invoker)

	if len(log) != 2 {
		t.Fatalf("expected single interceptor to run once, got %v", log)
	}
}

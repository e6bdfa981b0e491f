package interceptors

import (
	"github.com/Keksclan/edgecache/ratelimit"
	"github.com/Keksclan/edgecache/retry"
	"google.golang.org/grpc"
)

// DialOptions returns the dial options that wire a client connection to
// session: recovery, request IDs, optional client-side rate limiting,
// refresh-and-retry, then the bearer credential.
func DialOptions(session *Session, cfg retry.Config, limiter *ratelimit.Limiter) []grpc.DialOption {
	chain := []grpc.UnaryClientInterceptor{
		RecoveryUnary(),
		RequestIDUnary(),
	}
	if limiter != nil {
		chain = append(chain, RateLimitUnary(limiter))
	}
	chain = append(chain,
		AuthRetryUnary(cfg, session),
		BearerUnary(session.Token),
	)
	return []grpc.DialOption{grpc.WithUnaryInterceptor(ChainUnary(chain))}
}

package anthropic

import (
	"context"

	"github.com/gigmap/extract-cli/internal/resilience"
)

// guardedClient sheds model calls while the API is failing so batch runs
// do not burn their retry budget against a dead upstream.
type guardedClient struct {
	inner   Client
	breaker *resilience.CircuitBreaker
}

// WithBreaker wraps a client so every CreateMessage call flows through the
// circuit breaker. All collaborators sharing the client share the breaker.
func WithBreaker(c Client, cb *resilience.CircuitBreaker) Client {
	return &guardedClient{inner: c, breaker: cb}
}

func (g *guardedClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*MessageResponse, error) {
		return g.inner.CreateMessage(ctx, req)
	})
}

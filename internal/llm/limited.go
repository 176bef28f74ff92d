package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited throttles a Generator with a token bucket so bursts of questions do
// not exceed the provider's request quota.
type Limited struct {
	inner   Generator
	limiter *rate.Limiter
}

var _ Generator = (*Limited)(nil)

// NewLimited wraps inner. requestsPerSecond <= 0 disables throttling.
func NewLimited(inner Generator, requestsPerSecond float64, burst int) *Limited {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

// Generate waits for a token, then calls the inner generator.
func (l *Limited) Generate(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return l.inner.Generate(ctx, req)
}

func (l *Limited) Name() string { return l.inner.Name() }
func (l *Limited) Close() error { return l.inner.Close() }

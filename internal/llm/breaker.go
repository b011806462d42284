package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cortexmem/cortex/internal/domain"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls after repeated
// provider failures.
var ErrCircuitOpen = errors.New("llm circuit breaker is open")

const (
	breakerMaxFailures = 3
	breakerOpenTimeout = 30 * time.Second
	breakerHalfOpenMax = 2
)

// BreakerClient wraps an LLMClient with a circuit breaker so a degraded
// provider fails fast instead of holding every reasoning stream at its
// timeout.
type BreakerClient struct {
	inner   domain.LLMClient
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerClient(inner domain.LLMClient) *BreakerClient {
	return &BreakerClient{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm",
			MaxRequests: breakerHalfOpenMax,
			Timeout:     breakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerMaxFailures
			},
		}),
	}
}

func (c *BreakerClient) Generate(ctx context.Context, prompt, system string) (string, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.inner.Generate(ctx, prompt, system)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrCircuitOpen
		}
		return "", err
	}
	return out.(string), nil
}

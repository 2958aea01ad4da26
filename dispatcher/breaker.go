package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"libranexus/ids"
)

// BreakerConfig tunes the circuit breaker guarding the Authorizer call — the
// one point in the dispatch pipeline that crosses into external, caller-
// owned code and can therefore be slow, flaky, or down independently of the
// engine itself.
type BreakerConfig struct {
	Name                 string
	MaxRequestsHalfOpen  uint32
	OpenTimeout          time.Duration
	ConsecutiveToOpen    uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Name == "" {
		c.Name = "dispatcher.authorizer"
	}
	if c.MaxRequestsHalfOpen == 0 {
		c.MaxRequestsHalfOpen = 1
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.ConsecutiveToOpen == 0 {
		c.ConsecutiveToOpen = 5
	}
	return c
}

type breakerAuthorizer struct {
	inner   Authorizer
	breaker *gobreaker.CircuitBreaker
}

func newBreakerAuthorizer(inner Authorizer, cfg BreakerConfig) *breakerAuthorizer {
	cfg = cfg.withDefaults()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequestsHalfOpen,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveToOpen
		},
	})
	return &breakerAuthorizer{inner: inner, breaker: breaker}
}

func (b *breakerAuthorizer) Authorize(ctx context.Context, tenantID ids.TenantId, userID ids.UserId, aggregateType string) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.inner.Authorize(ctx, tenantID, userID, aggregateType)
	})
	if err == gobreaker.ErrOpenState {
		return fmt.Errorf("authorizer circuit open: %w", ids.Unauthorized("authorizer unavailable"))
	}
	return err
}

package monitoring

import (
	"context"
	"fmt"
	"time"

	"roomrelay/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis ping check.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddStoreCheck adds a check for the persistence backend.
func (h *HealthChecker) AddStoreCheck(name string, ping func(ctx context.Context) error, timeout time.Duration) {
	h.AddCheck(name, ping, timeout)
}

// AddBreakerCheck fails while the breaker reported by state is open.
func (h *HealthChecker) AddBreakerCheck(name string, state func() circuitbreaker.State) {
	h.AddCheck(name, func(ctx context.Context) error {
		if s := state(); s == circuitbreaker.StateOpen {
			return fmt.Errorf("circuit breaker %s", s)
		}
		return nil
	}, time.Second)
}

package resilience

import (
	"context"
	"time"
)

// allGatherFunc matches reduce.Collective.AllGather without importing
// the reduce package, avoiding an import cycle (reduce has no
// dependency on resilience; this package stays a leaf).
type allGatherFunc func(ctx context.Context, payload []byte) ([][]byte, error)

// GuardedCollective wraps a collective all-gather call with a circuit
// breaker: repeated failed all-gathers (for example a partitioned rank)
// trip the breaker, and while it is open Flush fails fast without
// calling the collective. The breaker sets no deadline of its own: a
// call that blocks stays blocked until its context or the inner
// collective gives up.
type GuardedCollective struct {
	inner   allGatherFunc
	breaker *CircuitBreaker
}

// NewGuardedCollective builds a GuardedCollective wrapping inner with
// cb, which the caller constructs via NewCircuitBreaker and
// DefaultCollectiveBreakerConfig (or its own tuning).
func NewGuardedCollective(inner allGatherFunc, cb *CircuitBreaker) *GuardedCollective {
	return &GuardedCollective{inner: inner, breaker: cb}
}

func (g *GuardedCollective) AllGather(ctx context.Context, payload []byte) ([][]byte, error) {
	result, err := g.breaker.ExecuteWithContext(ctx, func(ctx context.Context) (interface{}, error) {
		return g.inner(ctx, payload)
	})
	if err != nil {
		return nil, err
	}
	return result.([][]byte), nil
}

// DefaultCollectiveBreakerConfig returns a CircuitBreakerConfig tuned
// for the collective-exchange call site: trips after 3 consecutive
// failures, stays open for 10 seconds before probing again.
func DefaultCollectiveBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        "collective-allgather",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

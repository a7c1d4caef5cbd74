// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package nut

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nutward/nutward/internal/logging"
	"github.com/nutward/nutward/internal/metrics"
)

// ErrThrottled is returned when an on-demand query exceeds the rate limit.
var ErrThrottled = errors.New("nut: query rate limit exceeded")

// BreakerClient wraps a Querier with a circuit breaker and a rate
// limiter. It serves API-initiated on-demand queries only: dashboard
// traffic must not hammer a broken or slow upsd. The background loops do
// NOT go through it; their retry cadence is governed by their own
// backoff state machines.
type BreakerClient struct {
	inner   Querier
	cb      *gobreaker.CircuitBreaker[*Snapshot]
	limiter *rate.Limiter
	name    string
}

// NewBreakerClient wraps the given Querier. Breaker settings: up to 3
// trial requests in half-open state, counts reset every minute while
// closed, 30 seconds open before retrying, trips after 5 consecutive
// failures. The limiter allows 2 queries/second with a burst of 4.
func NewBreakerClient(inner Querier) *BreakerClient {
	name := "nut-device"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*Snapshot](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerClient{
		inner:   inner,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		name:    name,
	}
}

// Ping performs a breaker-guarded reachability query.
func (b *BreakerClient) Ping(ctx context.Context) error {
	if !b.limiter.Allow() {
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return ErrThrottled
	}
	_, err := b.cb.Execute(func() (*Snapshot, error) {
		return nil, b.inner.Ping(ctx)
	})
	b.record(err)
	return err
}

// Fetch performs a breaker-guarded snapshot fetch.
func (b *BreakerClient) Fetch(ctx context.Context) (*Snapshot, error) {
	if !b.limiter.Allow() {
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return nil, ErrThrottled
	}
	snap, err := b.cb.Execute(func() (*Snapshot, error) {
		return b.inner.Fetch(ctx)
	})
	b.record(err)
	return snap, err
}

func (b *BreakerClient) record(err error) {
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutward/nutward/internal/logging"
	"github.com/nutward/nutward/internal/metrics"
)

// Connection statuses exposed over the API.
const (
	StatusConnected  = "CONNECTED"
	StatusRecovering = "RECOVERING"
)

// State is the immutable connection state snapshot. Readers get a copy;
// the monitor replaces the whole value on every tick.
type State struct {
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthMonitor periodically verifies the device answers the NUT
// protocol. While healthy it ticks at a fixed interval; on failure it
// switches to exponential backoff until a ping succeeds again. It runs
// under the supervision tree.
type HealthMonitor struct {
	querier     pinger
	interval    time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration

	state atomic.Pointer[State]
	log   zerolog.Logger

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewHealthMonitor creates a monitor that starts optimistic: the state
// is CONNECTED until the first tick proves otherwise, so a fresh process
// doesn't block the poller while the device is fine.
func NewHealthMonitor(querier pinger, interval, backoffBase, backoffMax time.Duration) *HealthMonitor {
	h := &HealthMonitor{
		querier:     querier,
		interval:    interval,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		log:         logging.With().Str("component", "health").Logger(),
		sleep:       pause,
	}
	h.state.Store(&State{Status: StatusConnected, Since: time.Now()})
	metrics.ConnectionState.Set(1)
	return h
}

func (h *HealthMonitor) String() string { return "health-monitor" }

// IsConnected reports whether the last tick reached the device.
func (h *HealthMonitor) IsConnected() bool {
	return h.state.Load().Status == StatusConnected
}

// Status returns a copy of the current connection state.
func (h *HealthMonitor) Status() State {
	return *h.state.Load()
}

// Serve runs the health loop until the context is cancelled.
func (h *HealthMonitor) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok := h.tick(ctx)

		delay := h.interval
		if !ok {
			delay = Backoff(h.backoffBase, h.backoffMax, h.state.Load().Attempts)
		}
		h.sleep(ctx, delay)
	}
}

// tick performs one ping and updates the published state. Returns true
// on success.
func (h *HealthMonitor) tick(ctx context.Context) bool {
	prev := h.state.Load()
	err := h.querier.Ping(ctx)
	if err == nil {
		metrics.HealthTicks.WithLabelValues("success").Inc()
		metrics.ConnectionState.Set(1)
		metrics.ConnectionAttempts.Set(0)
		if prev.Status != StatusConnected {
			h.log.Info().
				Int("failed_attempts", prev.Attempts).
				Msg("Device connection recovered")
			h.state.Store(&State{Status: StatusConnected, Since: time.Now()})
		}
		return true
	}

	next := &State{
		Status:    StatusRecovering,
		Attempts:  prev.Attempts + 1,
		LastError: err.Error(),
		Since:     prev.Since,
	}
	if prev.Status == StatusConnected {
		next.Since = time.Now()
		h.log.Warn().Err(err).Msg("Device connection lost, entering recovery")
	}
	h.state.Store(next)

	metrics.HealthTicks.WithLabelValues("failure").Inc()
	metrics.ConnectionState.Set(0)
	metrics.ConnectionAttempts.Set(float64(next.Attempts))

	h.log.Debug().
		Err(err).
		Int("attempts", next.Attempts).
		Msg("Health tick failed")
	return false
}

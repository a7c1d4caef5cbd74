// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutward/nutward/internal/config"
	"github.com/nutward/nutward/internal/logging"
	"github.com/nutward/nutward/internal/metrics"
	"github.com/nutward/nutward/internal/nut"
)

// pollBackoffCap bounds the poller's own failure backoff.
const pollBackoffCap = 300 * time.Second

// Sink receives the snapshots the poller fetches.
type Sink interface {
	Save(ctx context.Context, snap *nut.Snapshot) error
}

type fetcher interface {
	Fetch(ctx context.Context) (*nut.Snapshot, error)
}

type connectivity interface {
	IsConnected() bool
}

// Poller periodically fetches a full variable snapshot from the device
// and hands it to the sink. It never races the health monitor's
// recovery: while the connection is down it skips cycles entirely
// instead of piling its own timeouts on a dead socket.
type Poller struct {
	querier  fetcher
	sink     Sink
	health   connectivity
	interval func() int // seconds, re-read every cycle

	failures int
	log      zerolog.Logger

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewPoller creates a poller. interval is consulted before every cycle
// so an interval change takes effect without a restart; values are
// clamped to the supported range.
func NewPoller(querier fetcher, sink Sink, health connectivity, interval func() int) *Poller {
	return &Poller{
		querier:  querier,
		sink:     sink,
		health:   health,
		interval: interval,
		log:      logging.With().Str("component", "poller").Logger(),
		sleep:    pause,
	}
}

func (p *Poller) String() string { return "snapshot-poller" }

// Serve runs the polling loop until the context is cancelled.
func (p *Poller) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.sleep(ctx, p.cycle(ctx))
	}
}

// cycle runs one poll iteration and returns how long to sleep before
// the next one.
func (p *Poller) cycle(ctx context.Context) time.Duration {
	interval := time.Duration(config.ClampInterval(p.interval())) * time.Second

	if !p.health.IsConnected() {
		metrics.PollCycles.WithLabelValues("skipped").Inc()
		p.log.Debug().Msg("Connection down, skipping poll cycle")
		return interval
	}

	snap, err := p.querier.Fetch(ctx)
	if err != nil {
		p.failures++
		metrics.PollCycles.WithLabelValues("fetch_error").Inc()
		evt := p.log.Warn().Err(err).Int("failures", p.failures)
		if nut.IsConnectionError(err) {
			evt.Msg("Snapshot fetch failed, device unreachable")
		} else {
			evt.Msg("Snapshot fetch failed")
		}
		return p.failureDelay()
	}

	if err := p.sink.Save(ctx, snap); err != nil {
		p.failures++
		metrics.PollCycles.WithLabelValues("save_error").Inc()
		p.log.Error().Err(err).Str("snapshot_id", snap.ID).Msg("Snapshot save failed")
		return p.failureDelay()
	}

	p.failures = 0
	metrics.PollCycles.WithLabelValues("success").Inc()
	metrics.SnapshotsSaved.Inc()
	p.log.Debug().
		Str("snapshot_id", snap.ID).
		Int("vars", len(snap.Vars)).
		Msg("Snapshot saved")
	return interval
}

// failureDelay doubles per consecutive failure, capped at five minutes.
func (p *Poller) failureDelay() time.Duration {
	return Backoff(time.Second, pollBackoffCap, p.failures)
}

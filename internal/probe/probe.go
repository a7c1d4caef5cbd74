// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

// Package probe answers "is daemon role X currently running?" with a
// chain of independent detection strategies tried in order: process
// table scan, TCP socket probe (server only), PID file, and as a last
// resort for the driver an indirect device query through upsd. First
// success wins; no voting. A strategy failure is swallowed and treated
// as "not detected", so a single broken heuristic never takes the whole
// probe down.
//
// Probes are pure reads over OS state. They never mutate connection
// state, descriptors, or configuration.
package probe

import (
	"context"

	"github.com/nutward/nutward/internal/logging"
	"github.com/nutward/nutward/internal/metrics"
	"github.com/nutward/nutward/internal/topology"
)

// Result is one role's probe outcome. DetectedBy names the strategy
// that confirmed the role, or "none" when every strategy came up empty.
// A false Running does not distinguish "confirmed stopped" from "all
// strategies failed"; observers get that nuance only via DetectedBy.
type Result struct {
	Running    bool   `json:"running"`
	DetectedBy string `json:"detected_by"`
}

// Status maps each of the three roles to its probe result. Produced
// fresh on every call and never cached.
type Status map[topology.Role]Result

// Strategy is one interchangeable detection heuristic.
type Strategy interface {
	// Name identifies the strategy in results and logs.
	Name() string

	// Supports reports whether the strategy applies to the role at all.
	Supports(role topology.Role) bool

	// Check reports whether the role's process was detected. An error
	// means the heuristic itself failed; the prober downgrades it to a
	// negative result.
	Check(ctx context.Context, role topology.Role) (bool, error)
}

// Config carries the environment the default strategy chain needs.
type Config struct {
	// UpsdAddr is the upsd control address for the socket probe.
	UpsdAddr string

	// PIDDirs are candidate PID file directories in priority order.
	PIDDirs []string

	// Querier performs the device query for the indirect driver probe.
	// May be nil, in which case the indirect strategy is omitted.
	Querier pinger
}

// pinger is the single device-query method the indirect probe needs.
type pinger interface {
	Ping(ctx context.Context) error
}

// Prober runs the strategy chain.
type Prober struct {
	strategies []Strategy
}

// New builds a Prober with the standard chain in fallback order.
func New(cfg Config) *Prober {
	p := &Prober{}
	p.strategies = []Strategy{
		newProcessScan(),
		newSocketProbe(cfg.UpsdAddr),
		newPIDFileProbe(cfg.PIDDirs),
	}
	if cfg.Querier != nil {
		// The indirect probe needs "server confirmed running", which it
		// gets from this same prober. No recursion: it only supports the
		// driver role, so probing the server never re-enters it.
		p.strategies = append(p.strategies, newIndirectProbe(cfg.Querier, func(ctx context.Context) bool {
			return p.Probe(ctx, topology.RoleServer).Running
		}))
	}
	return p
}

// NewWithStrategies builds a Prober with an explicit chain, for tests
// and callers with exotic environments.
func NewWithStrategies(strategies ...Strategy) *Prober {
	return &Prober{strategies: strategies}
}

// Probe checks one role against the chain. Strategy errors never
// propagate; they are logged and the chain moves on.
func (p *Prober) Probe(ctx context.Context, role topology.Role) Result {
	for _, s := range p.strategies {
		if !s.Supports(role) {
			continue
		}
		running, err := s.Check(ctx, role)
		if err != nil {
			logging.Debug().
				Str("role", string(role)).
				Str("strategy", s.Name()).
				Err(err).
				Msg("Probe strategy failed, trying next")
			continue
		}
		if running {
			metrics.RecordProbe(string(role), true)
			return Result{Running: true, DetectedBy: s.Name()}
		}
	}
	metrics.RecordProbe(string(role), false)
	return Result{Running: false, DetectedBy: "none"}
}

// All probes exactly the three roles, regardless of which ones the
// active mode requires. Callers decide what non-required status means.
func (p *Prober) All(ctx context.Context) Status {
	status := make(Status, len(topology.Roles))
	for _, role := range topology.Roles {
		status[role] = p.Probe(ctx, role)
	}
	return status
}

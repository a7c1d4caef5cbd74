// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutward/nutward/internal/logging"
	"github.com/nutward/nutward/internal/metrics"
	"github.com/nutward/nutward/internal/probe"
	"github.com/nutward/nutward/internal/topology"
)

// RoleResult records one role's start or stop outcome.
type RoleResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StartResult maps attempted roles to their start outcome.
type StartResult map[topology.Role]RoleResult

// StopResult maps attempted roles to their stop outcome.
type StopResult map[topology.Role]RoleResult

// RestartResult bundles a full stop-then-start cycle. Success is
// stricter than StartAll's own criterion: every role the mode requires
// must probe as running afterwards.
type RestartResult struct {
	Stop    StopResult  `json:"stop"`
	Start   StartResult `json:"start"`
	Success bool        `json:"success"`
}

// Prober is the verification surface the supervisor needs.
type Prober interface {
	Probe(ctx context.Context, role topology.Role) probe.Result
	All(ctx context.Context) probe.Status
}

// devicePinger is the direct device query used by the netclient
// critical-failure override.
type devicePinger interface {
	Ping(ctx context.Context) error
}

// Supervisor starts, stops, and restarts the daemon chain. A single
// mutex serializes whole sequences: external command invocations from
// two sequences must never interleave. The second caller gets ErrBusy.
type Supervisor struct {
	mode        topology.Mode
	descriptors []Descriptor
	runner      Runner
	prober      Prober
	querier     devicePinger
	dirs        *RuntimeDirs
	log         zerolog.Logger

	// sleep is injectable so sequencing tests don't wait real seconds.
	sleep func(ctx context.Context, d time.Duration)

	seq chan struct{} // 1-slot semaphore; TryLock semantics via select
}

// Options collects the supervisor's collaborators.
type Options struct {
	Mode        topology.Mode
	Descriptors []Descriptor
	Runner      Runner
	Prober      Prober
	Querier     devicePinger
	Dirs        *RuntimeDirs
}

// New creates a Supervisor. The deployment mode is fixed for the
// process lifetime; reclassification means a new Supervisor.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		mode:        opts.Mode,
		descriptors: opts.Descriptors,
		runner:      opts.Runner,
		prober:      opts.Prober,
		querier:     opts.Querier,
		dirs:        opts.Dirs,
		log:         logging.With().Str("component", "services").Logger(),
		sleep:       pause,
		seq:         make(chan struct{}, 1),
	}
	return s
}

// Mode returns the deployment mode the supervisor operates under.
func (s *Supervisor) Mode() topology.Mode { return s.mode }

// acquire takes the sequence slot without blocking.
func (s *Supervisor) acquire() bool {
	select {
	case s.seq <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Supervisor) release() { <-s.seq }

// StartAll starts every role the mode requires, in dependency order.
// waitTime paces the sequence: daemons need settle time between starts.
//
// Returns a *StartupError when the mode's critical role combination is
// down afterwards. Non-critical failures are reported in the result
// only. Safe to call repeatedly: the chain is stopped best-effort first,
// so a double start never errors on port or device conflicts.
func (s *Supervisor) StartAll(ctx context.Context, waitTime time.Duration) (StartResult, error) {
	if !s.acquire() {
		return nil, ErrBusy
	}
	defer s.release()
	return s.startLocked(ctx, waitTime)
}

func (s *Supervisor) startLocked(ctx context.Context, waitTime time.Duration) (StartResult, error) {
	required := topology.RequiredRoles(s.mode)
	results := make(StartResult, len(required))
	if len(required) == 0 {
		s.log.Info().Str("mode", string(s.mode)).Msg("No services required, nothing to start")
		return results, nil
	}

	if err := s.dirs.Ensure(); err != nil {
		return nil, err
	}

	// Stop any already-running chain first to avoid port and device
	// conflicts from stale instances.
	s.stopChain(ctx, waitTime, true)

	for _, role := range required {
		d, ok := s.descriptor(role)
		if !ok {
			continue
		}
		err := s.startRole(ctx, d)
		if err != nil {
			results[role] = RoleResult{Success: false, Error: err.Error()}
			metrics.ServiceActions.WithLabelValues(string(role), "start", "failure").Inc()
			s.log.Error().Str("role", string(role)).Err(err).Msg("Role failed to start")
		} else {
			results[role] = RoleResult{Success: true}
			metrics.ServiceActions.WithLabelValues(string(role), "start", "success").Inc()
			s.log.Info().Str("role", string(role)).Msg("Role started")
		}
		s.sleep(ctx, waitTime)
	}

	// Daemons report ready before they finish wiring up to each other;
	// give the chain twice the usual settle time before verifying.
	s.sleep(ctx, 2*waitTime)
	status := s.prober.All(ctx)

	if err := s.checkCritical(ctx, status); err != nil {
		return results, err
	}
	return results, nil
}

// startRole runs the primary command, then the fallback on failure.
// The fallback is a distinct, explicit retry; nothing is retried
// implicitly within one invocation.
func (s *Supervisor) startRole(ctx context.Context, d Descriptor) error {
	err := s.runner.Run(ctx, d.Primary, d.StartTimeout)
	if err == nil {
		return nil
	}
	s.log.Warn().
		Str("role", string(d.Role)).
		Err(err).
		Msg("Primary start command failed, trying fallback")
	if fbErr := s.runner.RunShell(ctx, d.Fallback, d.StartTimeout); fbErr != nil {
		return errors.Join(err, fbErr)
	}
	return nil
}

// checkCritical applies the mode-specific critical-failure policy.
//
// netclient: critical iff the monitor is down AND a direct device query
// against the configured remote upsd also fails. A reachable device with
// a dead monitor counts as success; the health loop keeps probing and
// the status surface shows the monitor as down.
//
// standalone/netserver: critical iff server or monitor is down. A
// driver-only failure is tolerated since the indirect probe may still
// confirm driver health later.
func (s *Supervisor) checkCritical(ctx context.Context, status probe.Status) error {
	switch s.mode {
	case topology.ModeNetClient:
		if status[topology.RoleMonitor].Running {
			return nil
		}
		if s.querier != nil && s.querier.Ping(ctx) == nil {
			s.log.Warn().Msg("upsmon is down but the remote device answers; continuing degraded")
			return nil
		}
		return &StartupError{Mode: s.mode, Failed: []topology.Role{topology.RoleMonitor}}

	case topology.ModeStandalone, topology.ModeNetServer:
		var failed []topology.Role
		if !status[topology.RoleServer].Running {
			failed = append(failed, topology.RoleServer)
		}
		if !status[topology.RoleMonitor].Running {
			failed = append(failed, topology.RoleMonitor)
		}
		if len(failed) > 0 {
			return &StartupError{Mode: s.mode, Failed: failed}
		}
		return nil

	default:
		return nil
	}
}

// StopAll stops all three roles in reverse dependency order. Failures
// are collected, never raised: shutdown must always run to completion.
// A timeout on any stop triggers one final forced best-effort pass over
// the whole chain.
func (s *Supervisor) StopAll(ctx context.Context, waitTime time.Duration) (StopResult, error) {
	if !s.acquire() {
		return nil, ErrBusy
	}
	defer s.release()
	return s.stopLocked(ctx, waitTime), nil
}

func (s *Supervisor) stopLocked(ctx context.Context, waitTime time.Duration) StopResult {
	results := make(StopResult, len(topology.Roles))
	timedOut := false

	for i := len(topology.Roles) - 1; i >= 0; i-- {
		role := topology.Roles[i]
		d, ok := s.descriptor(role)
		if !ok {
			continue
		}
		err := s.runner.Run(ctx, d.Stop, d.StopTimeout)
		if err != nil {
			results[role] = RoleResult{Success: false, Error: err.Error()}
			metrics.ServiceActions.WithLabelValues(string(role), "stop", "failure").Inc()
			s.log.Warn().Str("role", string(role)).Err(err).Msg("Role failed to stop cleanly")
			if errors.Is(err, ErrTimeout) {
				timedOut = true
			}
		} else {
			results[role] = RoleResult{Success: true}
			metrics.ServiceActions.WithLabelValues(string(role), "stop", "success").Inc()
		}
		s.sleep(ctx, waitTime)
	}

	if timedOut {
		s.log.Warn().Msg("Stop timeout cascade, forcing one last stop pass")
		s.stopChain(ctx, 0, false)
	}
	return results
}

// stopChain is the best-effort whole-chain stop used before starts and
// as the forced pass after a timeout cascade. Outcomes are logged only.
func (s *Supervisor) stopChain(ctx context.Context, waitTime time.Duration, quiet bool) {
	for i := len(topology.Roles) - 1; i >= 0; i-- {
		d, ok := s.descriptor(topology.Roles[i])
		if !ok {
			continue
		}
		if err := s.runner.Run(ctx, d.Stop, d.StopTimeout); err != nil && !quiet {
			s.log.Warn().Str("role", string(d.Role)).Err(err).Msg("Forced stop failed")
		}
		s.sleep(ctx, waitTime)
	}
}

// RestartAll performs a full stop followed by a start. The stop phase
// always completes before any start command is issued. Success requires
// every role the mode needs to probe as running afterwards, which is
// stricter than StartAll's own policy.
func (s *Supervisor) RestartAll(ctx context.Context, waitTime time.Duration) (RestartResult, error) {
	if !s.acquire() {
		return RestartResult{}, ErrBusy
	}
	defer s.release()

	result := RestartResult{}
	result.Stop = s.stopLocked(ctx, waitTime)

	start, err := s.startLocked(ctx, waitTime)
	result.Start = start

	status := s.prober.All(ctx)
	result.Success = true
	for _, role := range topology.RequiredRoles(s.mode) {
		if !status[role].Running {
			result.Success = false
			break
		}
	}
	return result, err
}

// descriptor finds the Descriptor for a role.
func (s *Supervisor) descriptor(role topology.Role) (Descriptor, bool) {
	for _, d := range s.descriptors {
		if d.Role == role {
			return d, true
		}
	}
	return Descriptor{}, false
}

// pause sleeps for d or until the context is done.
func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

// Package services orchestrates the lifecycle of the three NUT daemons:
// start, stop, and restart in dependency order, with primary/fallback
// command execution, probe verification, and per-mode critical-failure
// policy. The daemons themselves are external; this package only runs
// and watches them.
package services

import (
	"time"

	"github.com/nutward/nutward/internal/config"
	"github.com/nutward/nutward/internal/topology"
)

// Descriptor is the immutable command set for one daemon role. Commands
// are data, not format strings: the primary form is a direct argv, the
// fallback a shell-wrapped looser form kept for systems where the strict
// invocation fails (historically: privilege-dropping differences across
// distro packaging).
type Descriptor struct {
	Role topology.Role

	// Primary is the direct argv invocation, no shell involved.
	Primary []string

	// Fallback is a shell command line attempted when Primary fails.
	Fallback string

	// Stop is the direct argv stop invocation.
	Stop []string

	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// RequiredIn reports whether the role must run under the given mode.
func (d Descriptor) RequiredIn(mode topology.Mode) bool {
	return topology.Requires(mode, d.Role)
}

// Defaults returns the standard NUT command set with timeouts from
// configuration. The driver gets the long timeout: upsdrvctl negotiates
// with hardware and regularly needs most of it.
func Defaults(cfg config.ServicesConfig) []Descriptor {
	return []Descriptor{
		{
			Role:         topology.RoleDriver,
			Primary:      []string{"upsdrvctl", "start"},
			Fallback:     "upsdrvctl -u root start",
			Stop:         []string{"upsdrvctl", "stop"},
			StartTimeout: cfg.DriverStartTimeout,
			StopTimeout:  cfg.StopTimeout,
		},
		{
			Role:         topology.RoleServer,
			Primary:      []string{"upsd"},
			Fallback:     "upsd -u root",
			Stop:         []string{"upsd", "-c", "stop"},
			StartTimeout: cfg.DaemonStartTimeout,
			StopTimeout:  cfg.StopTimeout,
		},
		{
			Role:         topology.RoleMonitor,
			Primary:      []string{"upsmon"},
			Fallback:     "upsmon -u root",
			Stop:         []string{"upsmon", "-c", "stop"},
			StartTimeout: cfg.DaemonStartTimeout,
			StopTimeout:  cfg.StopTimeout,
		},
	}
}

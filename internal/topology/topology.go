// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

// Package topology classifies the NUT deployment from the nut.conf
// topology descriptor and maps each deployment mode to the set of daemon
// roles it requires.
//
// The descriptor is the stock nut.conf format: flat KEY=value lines,
// '#' comments, optional quoting. Only the MODE key matters here; the
// rest of the file belongs to the daemons and is not validated.
package topology

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/nutward/nutward/internal/logging"
)

// Mode is the deployment topology classification from nut.conf.
type Mode string

const (
	// ModeNone means no UPS monitoring is configured; no daemon roles run.
	ModeNone Mode = "none"

	// ModeStandalone means the UPS is attached locally and served only locally.
	ModeStandalone Mode = "standalone"

	// ModeNetServer means the UPS is attached locally and served to network clients.
	ModeNetServer Mode = "netserver"

	// ModeNetClient means the UPS is reached through a remote upsd instance.
	ModeNetClient Mode = "netclient"
)

// Role is one of the three cooperating NUT daemons.
type Role string

const (
	// RoleDriver is the hardware driver controller (upsdrvctl and friends).
	RoleDriver Role = "driver"

	// RoleServer is the network server daemon (upsd).
	RoleServer Role = "server"

	// RoleMonitor is the monitoring daemon (upsmon).
	RoleMonitor Role = "monitor"
)

// Roles lists all roles in dependency order: the driver must be up before
// upsd can serve it, and upsmon connects to upsd. Stop order is the reverse.
var Roles = []Role{RoleDriver, RoleServer, RoleMonitor}

// ConfigError reports a missing, unreadable, or unparseable topology
// descriptor. It is one of the two error types that cross the core
// boundary; callers fall back to a setup flow instead of crashing.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("topology descriptor %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ParseMode maps a raw MODE value to a Mode. The match is case-insensitive.
// Unknown values return false; callers degrade to ModeNone with a warning.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNone:
		return ModeNone, true
	case ModeStandalone:
		return ModeStandalone, true
	case ModeNetServer:
		return ModeNetServer, true
	case ModeNetClient:
		return ModeNetClient, true
	default:
		return ModeNone, false
	}
}

// RequiredRoles returns the daemon roles a deployment mode needs, in
// dependency (start) order. It is a pure lookup:
//
//	none       -> {}
//	netclient  -> {monitor}
//	standalone -> {driver, server, monitor}
//	netserver  -> {driver, server, monitor}
func RequiredRoles(mode Mode) []Role {
	switch mode {
	case ModeStandalone, ModeNetServer:
		return []Role{RoleDriver, RoleServer, RoleMonitor}
	case ModeNetClient:
		return []Role{RoleMonitor}
	default:
		return nil
	}
}

// Requires reports whether the mode needs the given role.
func Requires(mode Mode, role Role) bool {
	for _, r := range RequiredRoles(mode) {
		if r == role {
			return true
		}
	}
	return false
}

// Resolver reads the topology descriptor and classifies the deployment.
// The classification is computed once per process start; callers hold the
// result rather than re-resolving per operation.
type Resolver struct {
	path string
}

// NewResolver creates a Resolver for the given nut.conf path.
func NewResolver(path string) *Resolver {
	return &Resolver{path: path}
}

// Resolve reads and parses the topology descriptor.
//
// A missing or unreadable file is a *ConfigError. A file without a MODE
// key is also a *ConfigError. A MODE value outside the known set degrades
// to ModeNone with a warning, because an unknown topology must be treated
// as "no services required", not as a fatal condition.
func (r *Resolver) Resolve() (Mode, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return ModeNone, &ConfigError{Path: r.path, Err: err}
	}
	defer f.Close()

	raw, found := "", false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseLine(scanner.Text())
		if ok && strings.EqualFold(key, "MODE") {
			raw, found = value, true
		}
	}
	if err := scanner.Err(); err != nil {
		return ModeNone, &ConfigError{Path: r.path, Err: err}
	}
	if !found {
		return ModeNone, &ConfigError{Path: r.path, Err: fmt.Errorf("no MODE key")}
	}

	mode, ok := ParseMode(raw)
	if !ok {
		logging.Warn().
			Str("path", r.path).
			Str("value", raw).
			Msg("Unknown MODE in topology descriptor, treating as none")
		return ModeNone, nil
	}
	return mode, nil
}

// parseLine splits one KEY=value descriptor line. Comments and blank
// lines return ok=false. Values may be single- or double-quoted.
func parseLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

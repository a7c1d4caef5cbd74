// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/nutward/nutward/internal/topology"
)

// roleProcessNames maps each role to the binary names it may run under.
// The driver role covers the common NUT driver implementations; a site
// runs exactly one of them, and which one depends on the hardware.
var roleProcessNames = map[topology.Role][]string{
	topology.RoleDriver: {
		"usbhid-ups",
		"nutdrv_qx",
		"blazer_usb",
		"blazer_ser",
		"apcsmart",
		"snmp-ups",
		"netxml-ups",
		"dummy-ups",
	},
	topology.RoleServer:  {"upsd"},
	topology.RoleMonitor: {"upsmon"},
}

// processScan walks the process table looking for a known binary name.
type processScan struct{}

func newProcessScan() *processScan { return &processScan{} }

func (*processScan) Name() string { return "process-scan" }

func (*processScan) Supports(topology.Role) bool { return true }

func (*processScan) Check(ctx context.Context, role topology.Role) (bool, error) {
	names := roleProcessNames[role]
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Processes exit between listing and inspection; skip them.
			continue
		}
		for _, want := range names {
			if name == want {
				return true, nil
			}
		}
	}
	return false, nil
}

// socketProbe attempts a TCP connect to upsd's control port. A
// successful connect proves the server is running even when the process
// table is not visible (containers, restricted /proc).
type socketProbe struct {
	addr    string
	timeout time.Duration
}

func newSocketProbe(addr string) *socketProbe {
	return &socketProbe{addr: addr, timeout: 2 * time.Second}
}

func (*socketProbe) Name() string { return "socket" }

func (*socketProbe) Supports(role topology.Role) bool {
	return role == topology.RoleServer
}

func (s *socketProbe) Check(ctx context.Context, _ topology.Role) (bool, error) {
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		// Connection refused means "not running", not a broken strategy.
		return false, nil
	}
	conn.Close()
	return true, nil
}

// pidFileProbe reads the first existing candidate PID file and checks
// the PID for liveness by existence, not by signal delivery, so it works
// without permission to signal root-owned daemons.
type pidFileProbe struct {
	dirs []string
}

func newPIDFileProbe(dirs []string) *pidFileProbe {
	return &pidFileProbe{dirs: dirs}
}

func (*pidFileProbe) Name() string { return "pid-file" }

func (*pidFileProbe) Supports(topology.Role) bool { return true }

func (p *pidFileProbe) Check(ctx context.Context, role topology.Role) (bool, error) {
	path, ok := p.findPIDFile(role)
	if !ok {
		return false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return false, fmt.Errorf("parse %s: bad pid %q", path, strings.TrimSpace(string(raw)))
	}
	alive, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return false, fmt.Errorf("check pid %d: %w", pid, err)
	}
	return alive, nil
}

// findPIDFile returns the first existing candidate for the role.
// upsd and upsmon write fixed names; drivers write <driver>-<ups>.pid,
// so any other .pid file in a NUT run directory belongs to a driver.
func (p *pidFileProbe) findPIDFile(role topology.Role) (string, bool) {
	for _, dir := range p.dirs {
		switch role {
		case topology.RoleServer, topology.RoleMonitor:
			name := "upsd.pid"
			if role == topology.RoleMonitor {
				name = "upsmon.pid"
			}
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, true
			}
		case topology.RoleDriver:
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				name := e.Name()
				if !strings.HasSuffix(name, ".pid") || name == "upsd.pid" || name == "upsmon.pid" {
					continue
				}
				return filepath.Join(dir, name), true
			}
		}
	}
	return "", false
}

// indirectProbe infers the driver is alive when upsd is confirmed
// running and a device query through it succeeds: upsd only answers
// GET VAR with fresh data when its driver connection is up. Last resort
// for drivers that are not visible by any direct means.
type indirectProbe struct {
	querier       pinger
	serverRunning func(ctx context.Context) bool
}

func newIndirectProbe(q pinger, serverRunning func(ctx context.Context) bool) *indirectProbe {
	return &indirectProbe{querier: q, serverRunning: serverRunning}
}

func (*indirectProbe) Name() string { return "indirect-query" }

func (*indirectProbe) Supports(role topology.Role) bool {
	return role == topology.RoleDriver
}

func (p *indirectProbe) Check(ctx context.Context, _ topology.Role) (bool, error) {
	if !p.serverRunning(ctx) {
		return false, nil
	}
	return p.querier.Ping(ctx) == nil, nil
}

// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nutward/nutward/internal/config"
	"github.com/nutward/nutward/internal/probe"
	"github.com/nutward/nutward/internal/topology"
)

// recordingRunner captures every command in order and answers from a
// scripted failure set keyed by the joined command line.
type recordingRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{fail: make(map[string]error)}
}

func (r *recordingRunner) record(cmd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd)
	return r.fail[cmd]
}

func (r *recordingRunner) Run(_ context.Context, argv []string, _ time.Duration) error {
	return r.record(strings.Join(argv, " "))
}

func (r *recordingRunner) RunShell(_ context.Context, command string, _ time.Duration) error {
	return r.record(command)
}

func (r *recordingRunner) callList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recordingRunner) count(cmd string) int {
	n := 0
	for _, c := range r.callList() {
		if c == cmd {
			n++
		}
	}
	return n
}

// fakeProber answers from a fixed status map.
type fakeProber struct {
	status probe.Status
}

func (f *fakeProber) Probe(_ context.Context, role topology.Role) probe.Result {
	return f.status[role]
}

func (f *fakeProber) All(_ context.Context) probe.Status {
	return f.status
}

func allRunning() probe.Status {
	s := make(probe.Status, len(topology.Roles))
	for _, r := range topology.Roles {
		s[r] = probe.Result{Running: true, DetectedBy: "process"}
	}
	return s
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func testDescriptors() []Descriptor {
	return Defaults(config.ServicesConfig{
		DriverStartTimeout: time.Second,
		DaemonStartTimeout: time.Second,
		StopTimeout:        time.Second,
	})
}

func newTestSupervisor(mode topology.Mode, runner Runner, prober Prober, pinger devicePinger) *Supervisor {
	s := New(Options{
		Mode:        mode,
		Descriptors: testDescriptors(),
		Runner:      runner,
		Prober:      prober,
		Querier:     pinger,
		Dirs:        NewRuntimeDirs(),
	})
	s.sleep = func(context.Context, time.Duration) {}
	return s
}

func indexOf(calls []string, cmd string) int {
	for i, c := range calls {
		if c == cmd {
			return i
		}
	}
	return -1
}

func TestStartAllStandaloneHealthy(t *testing.T) {
	runner := newRecordingRunner()
	sup := newTestSupervisor(topology.ModeStandalone, runner, &fakeProber{status: allRunning()}, nil)

	result, err := sup.StartAll(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	for _, role := range topology.Roles {
		if !result[role].Success {
			t.Errorf("role %s: expected success, got %+v", role, result[role])
		}
	}

	calls := runner.callList()

	// Pre-start cleanup runs the whole stop chain in reverse order before
	// any start command.
	firstStart := indexOf(calls, "upsdrvctl start")
	for _, stop := range []string{"upsmon -c stop", "upsd -c stop", "upsdrvctl stop"} {
		i := indexOf(calls, stop)
		if i == -1 || i > firstStart {
			t.Errorf("stop command %q should precede first start, calls: %v", stop, calls)
		}
	}

	// Starts happen in dependency order: driver, server, monitor.
	di := indexOf(calls, "upsdrvctl start")
	si := indexOf(calls, "upsd")
	mi := indexOf(calls, "upsmon")
	if di == -1 || si == -1 || mi == -1 || !(di < si && si < mi) {
		t.Errorf("start order wrong: driver=%d server=%d monitor=%d, calls: %v", di, si, mi, calls)
	}
}

func TestStartAllFallbackOnPrimaryFailure(t *testing.T) {
	runner := newRecordingRunner()
	runner.fail["upsdrvctl start"] = errors.New("exit status 1")
	sup := newTestSupervisor(topology.ModeStandalone, runner, &fakeProber{status: allRunning()}, nil)

	result, err := sup.StartAll(context.Background(), 0)
	if err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if !result[topology.RoleDriver].Success {
		t.Errorf("driver should succeed via fallback, got %+v", result[topology.RoleDriver])
	}
	if runner.count("upsdrvctl -u root start") != 1 {
		t.Errorf("fallback command not attempted, calls: %v", runner.callList())
	}
}

func TestStartAllModeNone(t *testing.T) {
	runner := newRecordingRunner()
	sup := newTestSupervisor(topology.ModeNone, runner, &fakeProber{status: probe.Status{}}, nil)

	result, err := sup.StartAll(context.Background(), 0)
	if err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected empty result in none mode, got %v", result)
	}
	if len(runner.callList()) != 0 {
		t.Errorf("no commands should run in none mode, got %v", runner.callList())
	}
}

// Netclient where upsmon refuses to start but the remote upsd answers a
// direct query: startup counts as success with the monitor marked failed.
func TestStartAllNetclientMonitorDownDeviceReachable(t *testing.T) {
	runner := newRecordingRunner()
	runner.fail["upsmon"] = errors.New("exit status 1")
	runner.fail["upsmon -u root"] = errors.New("exit status 1")

	status := probe.Status{
		topology.RoleDriver:  {Running: false, DetectedBy: "none"},
		topology.RoleServer:  {Running: false, DetectedBy: "none"},
		topology.RoleMonitor: {Running: false, DetectedBy: "none"},
	}
	sup := newTestSupervisor(topology.ModeNetClient, runner, &fakeProber{status: status}, &fakePinger{err: nil})

	result, err := sup.StartAll(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected degraded success, got error: %v", err)
	}
	if result[topology.RoleMonitor].Success {
		t.Error("monitor should be reported failed in the result")
	}
}

func TestStartAllNetclientMonitorDownDeviceUnreachable(t *testing.T) {
	runner := newRecordingRunner()
	runner.fail["upsmon"] = errors.New("exit status 1")
	runner.fail["upsmon -u root"] = errors.New("exit status 1")

	status := probe.Status{
		topology.RoleMonitor: {Running: false, DetectedBy: "none"},
	}
	sup := newTestSupervisor(topology.ModeNetClient, runner,
		&fakeProber{status: status}, &fakePinger{err: errors.New("connection refused")})

	_, err := sup.StartAll(context.Background(), 0)
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("expected StartupError, got %v", err)
	}
	if len(se.Failed) != 1 || se.Failed[0] != topology.RoleMonitor {
		t.Errorf("expected monitor in failed roles, got %v", se.Failed)
	}
}

// Standalone where upsd fails both forms: critical failure naming every
// role the probe found down, even though the commands for driver and
// monitor succeeded.
func TestStartAllStandaloneServerDownCritical(t *testing.T) {
	runner := newRecordingRunner()
	runner.fail["upsd"] = errors.New("exit status 1")
	runner.fail["upsd -u root"] = errors.New("exit status 1")

	status := probe.Status{
		topology.RoleDriver:  {Running: true, DetectedBy: "process"},
		topology.RoleServer:  {Running: false, DetectedBy: "none"},
		topology.RoleMonitor: {Running: false, DetectedBy: "none"},
	}
	sup := newTestSupervisor(topology.ModeStandalone, runner, &fakeProber{status: status}, nil)

	result, err := sup.StartAll(context.Background(), 0)
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("expected StartupError, got %v", err)
	}
	if len(se.Failed) != 2 {
		t.Errorf("expected server and monitor in failed roles, got %v", se.Failed)
	}
	if result[topology.RoleServer].Success {
		t.Error("server start should be recorded as failed")
	}
}

// Driver alone down in netserver mode is tolerated: the indirect probe
// can still confirm it later.
func TestStartAllNetserverDriverDownNotCritical(t *testing.T) {
	runner := newRecordingRunner()
	status := probe.Status{
		topology.RoleDriver:  {Running: false, DetectedBy: "none"},
		topology.RoleServer:  {Running: true, DetectedBy: "socket"},
		topology.RoleMonitor: {Running: true, DetectedBy: "process"},
	}
	sup := newTestSupervisor(topology.ModeNetServer, runner, &fakeProber{status: status}, nil)

	if _, err := sup.StartAll(context.Background(), 0); err != nil {
		t.Fatalf("driver-only failure must not be critical: %v", err)
	}
}

func TestStartAllIdempotent(t *testing.T) {
	runner := newRecordingRunner()
	sup := newTestSupervisor(topology.ModeStandalone, runner, &fakeProber{status: allRunning()}, nil)

	for i := 0; i < 2; i++ {
		if _, err := sup.StartAll(context.Background(), 0); err != nil {
			t.Fatalf("StartAll #%d: %v", i+1, err)
		}
	}
	if got := runner.count("upsdrvctl start"); got != 2 {
		t.Errorf("expected 2 driver starts, got %d", got)
	}
}

func TestStopAllReverseOrderAndCollectsFailures(t *testing.T) {
	runner := newRecordingRunner()
	runner.fail["upsd -c stop"] = errors.New("exit status 1")
	sup := newTestSupervisor(topology.ModeStandalone, runner, &fakeProber{status: probe.Status{}}, nil)

	result, err := sup.StopAll(context.Background(), 0)
	if err != nil {
		t.Fatalf("StopAll must never raise on command failures: %v", err)
	}
	if result[topology.RoleServer].Success {
		t.Error("server stop failure should be in the result")
	}
	if !result[topology.RoleMonitor].Success || !result[topology.RoleDriver].Success {
		t.Errorf("monitor and driver stops should succeed, got %v", result)
	}

	calls := runner.callList()
	mi := indexOf(calls, "upsmon -c stop")
	si := indexOf(calls, "upsd -c stop")
	di := indexOf(calls, "upsdrvctl stop")
	if !(mi < si && si < di) {
		t.Errorf("stops must run monitor, server, driver: %v", calls)
	}
}

// A stop timeout triggers one extra forced pass over the whole chain.
func TestStopAllTimeoutForcesFinalPass(t *testing.T) {
	runner := newRecordingRunner()
	runner.fail["upsmon -c stop"] = ErrTimeout
	sup := newTestSupervisor(topology.ModeStandalone, runner, &fakeProber{status: probe.Status{}}, nil)

	result, err := sup.StopAll(context.Background(), 0)
	if err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if result[topology.RoleMonitor].Success {
		t.Error("timed-out monitor stop should be a failure")
	}
	// Regular pass plus forced pass.
	if got := runner.count("upsdrvctl stop"); got != 2 {
		t.Errorf("expected forced second driver stop, got %d calls: %v", got, runner.callList())
	}
}

func TestRestartAllStopsBeforeStarting(t *testing.T) {
	runner := newRecordingRunner()
	sup := newTestSupervisor(topology.ModeStandalone, runner, &fakeProber{status: allRunning()}, nil)

	result, err := sup.RestartAll(context.Background(), 0)
	if err != nil {
		t.Fatalf("RestartAll: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success with all roles running, got %+v", result)
	}

	calls := runner.callList()
	firstStart := indexOf(calls, "upsdrvctl start")
	lastStop := indexOf(calls, "upsdrvctl stop")
	if firstStart == -1 || lastStop == -1 || lastStop > firstStart {
		t.Errorf("stop phase must finish before any start: %v", calls)
	}
}

// Restart success is stricter than start success: commands may all exit
// zero, but a role the mode requires that is not actually running fails
// the restart.
func TestRestartAllStrictVerification(t *testing.T) {
	runner := newRecordingRunner()
	status := allRunning()
	status[topology.RoleDriver] = probe.Result{Running: false, DetectedBy: "none"}
	sup := newTestSupervisor(topology.ModeStandalone, runner, &fakeProber{status: status}, nil)

	result, err := sup.RestartAll(context.Background(), 0)
	if err != nil {
		t.Fatalf("driver-only failure is not critical for start: %v", err)
	}
	if result.Success {
		t.Error("restart must not claim success while a required role is down")
	}
}

func TestSequencesRejectConcurrentCallers(t *testing.T) {
	runner := newRecordingRunner()
	sup := newTestSupervisor(topology.ModeStandalone, runner, &fakeProber{status: allRunning()}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	sup.sleep = func(context.Context, time.Duration) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	done := make(chan error, 1)
	go func() {
		_, err := sup.StartAll(context.Background(), time.Millisecond)
		done <- err
	}()

	<-started
	if _, err := sup.StopAll(context.Background(), 0); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy while a sequence runs, got %v", err)
	}
	if _, err := sup.RestartAll(context.Background(), 0); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy from restart while a sequence runs, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first sequence: %v", err)
	}
}

func TestStartupErrorMessage(t *testing.T) {
	err := &StartupError{
		Mode:   topology.ModeStandalone,
		Failed: []topology.Role{topology.RoleServer, topology.RoleMonitor},
	}
	msg := err.Error()
	for _, want := range []string{"standalone", "server", "monitor"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q: %s", want, msg)
		}
	}
}

// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package services

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout marks a command that exceeded its bound. Callers treat it
// like any other command failure; the only special handling is the
// forced-stop pass after a stop timeout cascade.
var ErrTimeout = errors.New("services: command timed out")

// Runner executes external daemon commands with bounded timeouts.
// Abstracted so the supervisor's sequencing can be tested without
// touching real processes.
type Runner interface {
	// Run executes a direct argv command. A non-zero exit or elapsed
	// timeout is an error carrying captured output.
	Run(ctx context.Context, argv []string, timeout time.Duration) error

	// RunShell executes a shell-wrapped command line, used only for the
	// fallback and forced-stop forms.
	RunShell(ctx context.Context, command string, timeout time.Duration) error
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, argv []string, timeout time.Duration) error {
	if len(argv) == 0 {
		return errors.New("services: empty argv")
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	return wrapCommandError(runCtx, strings.Join(argv, " "), out, err)
}

// RunShell implements Runner.
func (ExecRunner) RunShell(ctx context.Context, command string, timeout time.Duration) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	out, err := cmd.CombinedOutput()
	return wrapCommandError(runCtx, command, out, err)
}

// wrapCommandError normalizes a finished command's outcome. Timeout wins
// over the generic "signal: killed" the context cancellation produces.
func wrapCommandError(ctx context.Context, command string, out []byte, err error) error {
	if err == nil {
		return nil
	}
	detail := strings.TrimSpace(string(out))
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, command)
	}
	if detail != "" {
		return fmt.Errorf("%s: %w: %s", command, err, detail)
	}
	return fmt.Errorf("%s: %w", command, err)
}

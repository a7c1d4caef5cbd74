// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nutward/nutward/internal/topology"
)

// ErrBusy is returned when a start/stop/restart sequence is already in
// progress. Sequences never interleave; a second caller is rejected
// instead of queued so an admin endpoint cannot pile up goroutines
// behind a slow daemon start.
var ErrBusy = errors.New("services: lifecycle sequence already in progress")

// StartupError reports that the critical role combination for the
// active mode failed to come up. It is one of the two error types that
// cross the core boundary; the caller falls back to a degraded view
// naming the failed roles instead of crashing.
type StartupError struct {
	Mode   topology.Mode
	Failed []topology.Role
}

func (e *StartupError) Error() string {
	names := make([]string, len(e.Failed))
	for i, r := range e.Failed {
		names[i] = string(r)
	}
	return fmt.Sprintf("critical roles failed to start in %s mode: %s",
		e.Mode, strings.Join(names, ", "))
}

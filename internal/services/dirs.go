// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package services

import (
	"fmt"
	"os"
)

// RuntimeDirs ensures the daemons' run/log/state directories exist with
// write permission before any start attempt. Idempotent; called before
// every start, not just the first.
type RuntimeDirs struct {
	paths []string
}

// NewRuntimeDirs creates a RuntimeDirs over the given paths. Empty
// entries are ignored.
func NewRuntimeDirs(paths ...string) *RuntimeDirs {
	filtered := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			filtered = append(filtered, p)
		}
	}
	return &RuntimeDirs{paths: filtered}
}

// Ensure creates missing directories and normalizes permissions to 0755.
func (r *RuntimeDirs) Ensure() error {
	for _, path := range r.paths {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create runtime dir %s: %w", path, err)
		}
		// MkdirAll leaves existing directories' modes alone; daemons
		// refuse to start when packaging left the run dir too tight.
		if err := os.Chmod(path, 0o755); err != nil {
			return fmt.Errorf("chmod runtime dir %s: %w", path, err)
		}
	}
	return nil
}

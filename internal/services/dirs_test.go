// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package services

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRuntimeDirsEnsure(t *testing.T) {
	base := t.TempDir()
	nested := filepath.Join(base, "run", "nut")
	tight := filepath.Join(base, "state")
	if err := os.Mkdir(tight, 0o700); err != nil {
		t.Fatal(err)
	}

	dirs := NewRuntimeDirs(nested, "", tight)
	if err := dirs.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	for _, path := range []string{nested, tight} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if perm := info.Mode().Perm(); perm != 0o755 {
			t.Errorf("%s: expected 0755, got %o", path, perm)
		}
	}

	// Second call on existing directories is a no-op.
	if err := dirs.Ensure(); err != nil {
		t.Fatalf("Ensure (repeat): %v", err)
	}
}

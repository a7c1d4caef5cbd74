// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package topology

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nut.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRequiredRoles(t *testing.T) {
	cases := []struct {
		mode Mode
		want []Role
	}{
		{ModeNone, nil},
		{ModeNetClient, []Role{RoleMonitor}},
		{ModeStandalone, []Role{RoleDriver, RoleServer, RoleMonitor}},
		{ModeNetServer, []Role{RoleDriver, RoleServer, RoleMonitor}},
	}
	for _, tc := range cases {
		if got := RequiredRoles(tc.mode); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("RequiredRoles(%s) = %v, want %v", tc.mode, got, tc.want)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Run("standalone", func(t *testing.T) {
		r := NewResolver(writeConf(t, "# NUT config\nMODE=standalone\n"))
		mode, err := r.Resolve()
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if mode != ModeStandalone {
			t.Errorf("mode = %s, want standalone", mode)
		}
	})

	t.Run("case insensitive and quoted", func(t *testing.T) {
		r := NewResolver(writeConf(t, "MODE=\"NetServer\"\n"))
		mode, err := r.Resolve()
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if mode != ModeNetServer {
			t.Errorf("mode = %s, want netserver", mode)
		}
	})

	t.Run("last MODE wins", func(t *testing.T) {
		r := NewResolver(writeConf(t, "MODE=standalone\nMODE=netclient\n"))
		mode, err := r.Resolve()
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if mode != ModeNetClient {
			t.Errorf("mode = %s, want netclient", mode)
		}
	})

	t.Run("unknown value degrades to none without error", func(t *testing.T) {
		r := NewResolver(writeConf(t, "MODE=clustered\n"))
		mode, err := r.Resolve()
		if err != nil {
			t.Fatalf("unknown MODE must not be fatal, got %v", err)
		}
		if mode != ModeNone {
			t.Errorf("mode = %s, want none", mode)
		}
	})

	t.Run("missing file is ConfigError", func(t *testing.T) {
		r := NewResolver(filepath.Join(t.TempDir(), "absent.conf"))
		_, err := r.Resolve()
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("err = %v, want *ConfigError", err)
		}
	})

	t.Run("missing MODE key is ConfigError", func(t *testing.T) {
		r := NewResolver(writeConf(t, "# nothing here\nUPSD_OPTIONS=\n"))
		_, err := r.Resolve()
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("err = %v, want *ConfigError", err)
		}
	})
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		in        string
		key, want string
		ok        bool
	}{
		{"MODE=standalone", "MODE", "standalone", true},
		{"  MODE = netserver  ", "MODE", "netserver", true},
		{"MODE='netclient'", "MODE", "netclient", true},
		{"# MODE=none", "", "", false},
		{"", "", "", false},
		{"garbage line", "", "", false},
		{"=value", "", "", false},
	}
	for _, tc := range cases {
		key, value, ok := parseLine(tc.in)
		if ok != tc.ok || key != tc.key || value != tc.want {
			t.Errorf("parseLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, key, value, ok, tc.key, tc.want, tc.ok)
		}
	}
}

// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

// Package config loads and validates Nutward configuration using Koanf v2
// with layered sources: built-in defaults, an optional YAML file, and
// environment variables (highest priority).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root application configuration.
type Config struct {
	NUT      NUTConfig      `koanf:"nut"`
	Topology TopologyConfig `koanf:"topology"`
	Services ServicesConfig `koanf:"services"`
	Poll     PollConfig     `koanf:"poll"`
	Store    StoreConfig    `koanf:"store"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// NUTConfig holds the upsd connection settings used for device queries.
// In netclient mode Host points at the remote upsd instance; otherwise it
// is the local daemon.
type NUTConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	UPSName      string        `koanf:"ups_name"`
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// Addr returns the host:port dial target for upsd.
func (c NUTConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TopologyConfig locates the nut.conf topology descriptor.
type TopologyConfig struct {
	ConfPath string `koanf:"conf_path"`
}

// ServicesConfig controls daemon lifecycle sequencing.
type ServicesConfig struct {
	// WaitTime is the pause between lifecycle steps, letting each daemon
	// finish internal initialization before the next one starts.
	WaitTime time.Duration `koanf:"wait_time"`

	// DriverStartTimeout bounds upsdrvctl; drivers negotiate with
	// hardware and need longer than the plain daemons.
	DriverStartTimeout time.Duration `koanf:"driver_start_timeout"`
	DaemonStartTimeout time.Duration `koanf:"daemon_start_timeout"`
	StopTimeout        time.Duration `koanf:"stop_timeout"`

	// RunDir and LogDir must exist writable before any start attempt.
	RunDir string `koanf:"run_dir"`
	LogDir string `koanf:"log_dir"`

	// PIDDirs are the candidate directories searched by the PID-file
	// probe, in priority order.
	PIDDirs []string `koanf:"pid_dirs"`
}

// PollConfig controls the two background loops.
type PollConfig struct {
	// Interval is the snapshot poll interval in seconds, clamped to [1, 60].
	Interval int `koanf:"interval"`

	// HealthInterval is the health monitor's tick period while connected.
	HealthInterval time.Duration `koanf:"health_interval"`

	// BackoffBase and BackoffMax bound the health monitor's exponential
	// backoff: min(BackoffMax, BackoffBase * 2^attempts).
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffMax  time.Duration `koanf:"backoff_max"`
}

// StoreConfig configures the BadgerDB snapshot store.
type StoreConfig struct {
	Path       string        `koanf:"path"`
	TTL        time.Duration `koanf:"ttl"`
	GCInterval time.Duration `koanf:"gc_interval"`
	SyncWrites bool          `koanf:"sync_writes"`
}

// ServerConfig configures the status/admin HTTP server.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	Timeout           time.Duration `koanf:"timeout"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig configures the zerolog pipeline.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		NUT: NUTConfig{
			Host:         "127.0.0.1",
			Port:         3493,
			UPSName:      "ups",
			QueryTimeout: 5 * time.Second,
		},
		Topology: TopologyConfig{
			ConfPath: "/etc/nut/nut.conf",
		},
		Services: ServicesConfig{
			WaitTime:           3 * time.Second,
			DriverStartTimeout: 20 * time.Second,
			DaemonStartTimeout: 10 * time.Second,
			StopTimeout:        10 * time.Second,
			RunDir:             "/var/run/nut",
			LogDir:             "/var/log/nut",
			PIDDirs:            []string{"/var/run/nut", "/run/nut", "/var/run"},
		},
		Poll: PollConfig{
			Interval:       30,
			HealthInterval: 5 * time.Second,
			BackoffBase:    5 * time.Second,
			BackoffMax:     5 * time.Minute,
		},
		Store: StoreConfig{
			Path:       "/data/nutward/snapshots",
			TTL:        30 * 24 * time.Hour,
			GCInterval: 10 * time.Minute,
			SyncWrites: false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			// 3494: one above upsd's 3493, so both travel together in
			// firewall rules.
			Port:            3494,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// MinPollInterval and MaxPollInterval bound the snapshot poll interval.
const (
	MinPollInterval = 1
	MaxPollInterval = 60
)

// ClampInterval clamps a poll interval (seconds) to [MinPollInterval,
// MaxPollInterval]. Applied on every read, never only at load time, so a
// bad value in the file cannot drive the poll loop into a busy spin or a
// multi-hour stall.
func ClampInterval(v int) int {
	if v < MinPollInterval {
		return MinPollInterval
	}
	if v > MaxPollInterval {
		return MaxPollInterval
	}
	return v
}

// IntervalFunc returns a source for the current poll interval in seconds.
// The POLL_INTERVAL environment variable is re-read on every call so the
// cadence can be adjusted without a restart; the result is always clamped.
func (c *Config) IntervalFunc() func() int {
	return func() int {
		if raw := os.Getenv("POLL_INTERVAL"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				return ClampInterval(n)
			}
		}
		return ClampInterval(c.Poll.Interval)
	}
}

// Validate checks invariants and normalizes values that have a defined
// degradation (the poll interval clamps rather than erroring).
func (c *Config) Validate() error {
	if c.NUT.Host == "" {
		return fmt.Errorf("nut.host must not be empty")
	}
	if c.NUT.Port < 1 || c.NUT.Port > 65535 {
		return fmt.Errorf("nut.port %d out of range", c.NUT.Port)
	}
	if c.NUT.UPSName == "" {
		return fmt.Errorf("nut.ups_name must not be empty")
	}
	if c.NUT.QueryTimeout <= 0 {
		return fmt.Errorf("nut.query_timeout must be positive")
	}
	if c.Topology.ConfPath == "" {
		return fmt.Errorf("topology.conf_path must not be empty")
	}
	if c.Services.WaitTime < 0 {
		return fmt.Errorf("services.wait_time must not be negative")
	}
	if c.Services.DriverStartTimeout <= 0 || c.Services.DaemonStartTimeout <= 0 || c.Services.StopTimeout <= 0 {
		return fmt.Errorf("services timeouts must be positive")
	}
	if c.Poll.HealthInterval <= 0 {
		return fmt.Errorf("poll.health_interval must be positive")
	}
	if c.Poll.BackoffBase <= 0 {
		return fmt.Errorf("poll.backoff_base must be positive")
	}
	if c.Poll.BackoffMax < c.Poll.BackoffBase {
		return fmt.Errorf("poll.backoff_max must be >= poll.backoff_base")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	c.Poll.Interval = ClampInterval(c.Poll.Interval)
	return nil
}

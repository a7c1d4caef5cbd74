// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

// Package main is the entry point for the Nutward server.
//
// Nutward supervises the Network UPS Tools daemon chain (upsdrvctl,
// upsd, upsmon), monitors the connection to the UPS itself, archives
// periodic device snapshots, and exposes everything over a small HTTP
// API.
//
// # Startup Order
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML file,
//     environment variables)
//  2. Topology: read MODE from nut.conf and derive which daemons this
//     host must run (none, standalone, netserver, netclient)
//  3. Daemon chain: start the required daemons in dependency order and
//     verify them with the probe chain
//  4. Snapshot store: open the BadgerDB archive
//  5. Supervision tree: health monitor, snapshot poller, store GC, and
//     the HTTP server under suture
//
// A failed daemon start does not abort the process: Nutward keeps
// serving in degraded mode so operators can inspect status and retry
// the sequence over the API.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, then a YAML config file
// (CONFIG_PATH), then built-in defaults. Common settings:
//
//	export NUT_HOST=127.0.0.1       # upsd address
//	export NUT_UPS_NAME=ups         # UPS name as configured in ups.conf
//	export TOPOLOGY_CONF_PATH=/etc/nut/nut.conf
//	export POLL_INTERVAL=30         # snapshot interval, seconds (1-60)
//	export SERVER_PORT=3494         # HTTP API port
//	./nutward
//
// # Port 3494
//
// The default port is one above upsd's IANA-assigned 3493, so the pair
// travels together in firewall rules.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervision tree
// winds down, in-flight HTTP requests get a bounded drain, the daemon
// chain is stopped best-effort, and the snapshot store is closed.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/nutward/nutward/internal/api"
	"github.com/nutward/nutward/internal/config"
	"github.com/nutward/nutward/internal/logging"
	"github.com/nutward/nutward/internal/monitor"
	"github.com/nutward/nutward/internal/nut"
	"github.com/nutward/nutward/internal/probe"
	"github.com/nutward/nutward/internal/services"
	"github.com/nutward/nutward/internal/store"
	"github.com/nutward/nutward/internal/supervisor"
	"github.com/nutward/nutward/internal/topology"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config is not available yet; the default logger will do.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("upsd_addr", cfg.NUT.Addr()).
		Str("ups_name", cfg.NUT.UPSName).
		Str("conf_path", cfg.Topology.ConfPath).
		Msg("Starting Nutward")

	// Resolve the deployment topology. A broken nut.conf leaves the
	// process in degraded mode rather than killing it: the API stays up
	// so the operator can see what went wrong.
	var degradedBy error
	mode := topology.ModeNone
	resolver := topology.NewResolver(cfg.Topology.ConfPath)
	mode, err = resolver.Resolve()
	if err != nil {
		degradedBy = err
		logging.Error().Err(err).Msg("Topology resolution failed, continuing degraded with no managed services")
	}
	logging.Info().
		Str("mode", string(mode)).
		Strs("required_roles", roleNames(topology.RequiredRoles(mode))).
		Msg("Deployment topology resolved")

	// Device client. The background loops use it bare; the API gets a
	// breaker-guarded wrapper so on-demand queries cannot pile onto a
	// struggling device.
	client := nut.NewClient(cfg.NUT.Addr(), cfg.NUT.UPSName, cfg.NUT.QueryTimeout)
	guarded := nut.NewBreakerClient(client)

	prober := probe.New(probe.Config{
		UpsdAddr: cfg.NUT.Addr(),
		PIDDirs:  cfg.Services.PIDDirs,
		Querier:  client,
	})

	sup := services.New(services.Options{
		Mode:        mode,
		Descriptors: services.Defaults(cfg.Services),
		Runner:      services.ExecRunner{},
		Prober:      prober,
		Querier:     client,
		Dirs:        services.NewRuntimeDirs(cfg.Services.RunDir, cfg.Services.LogDir),
	})

	// Bring the daemon chain up. Critical failures degrade, not abort.
	startCtx := context.Background()
	if _, err := sup.StartAll(startCtx, cfg.Services.WaitTime); err != nil {
		var startupErr *services.StartupError
		if errors.As(err, &startupErr) {
			degradedBy = err
			logging.Error().Err(err).Msg("Daemon chain failed to start, continuing degraded")
		} else {
			logging.Fatal().Err(err).Msg("Daemon start sequence failed")
		}
	} else {
		logging.Info().Msg("Daemon chain started")
	}

	snapStore, err := store.Open(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open snapshot store")
	}
	defer func() {
		if err := snapStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing snapshot store")
		}
	}()

	health := monitor.NewHealthMonitor(client,
		cfg.Poll.HealthInterval, cfg.Poll.BackoffBase, cfg.Poll.BackoffMax)
	poller := monitor.NewPoller(client, snapStore, health, cfg.IntervalFunc())

	handler := api.NewHandler(api.HandlerOptions{
		Prober:     prober,
		Health:     health,
		Lifecycle:  sup,
		Archive:    snapStore,
		Device:     guarded,
		WaitTime:   cfg.Services.WaitTime,
		DegradedBy: degradedBy,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Server),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddMonitoringService(health)
	tree.AddMonitoringService(poller)
	tree.AddMonitoringService(snapStore)
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, treeCfg.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", httpServer.Addr).Msg("Supervision tree starting")
	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervision tree exited with error")
	}

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	// Best-effort daemon shutdown. Collected failures are already logged
	// by the supervisor; nothing to do with them here.
	stopCtx, cancel := context.WithTimeout(context.Background(), 3*cfg.Services.StopTimeout)
	defer cancel()
	if _, err := sup.StopAll(stopCtx, cfg.Services.WaitTime); err != nil && !errors.Is(err, services.ErrBusy) {
		logging.Error().Err(err).Msg("Daemon stop sequence failed")
	}

	logging.Info().Msg("Nutward stopped")
}

func roleNames(roles []topology.Role) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return names
}

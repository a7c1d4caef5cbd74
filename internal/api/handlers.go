// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nutward/nutward/internal/monitor"
	"github.com/nutward/nutward/internal/nut"
	"github.com/nutward/nutward/internal/probe"
	"github.com/nutward/nutward/internal/services"
	"github.com/nutward/nutward/internal/store"
	"github.com/nutward/nutward/internal/topology"
)

// Prober exposes daemon liveness checks to the status endpoints.
type Prober interface {
	All(ctx context.Context) probe.Status
}

// Health exposes the connection health monitor's published state.
type Health interface {
	Status() monitor.State
}

// Lifecycle is the supervisor surface the action endpoints drive.
type Lifecycle interface {
	StartAll(ctx context.Context, wait time.Duration) (services.StartResult, error)
	StopAll(ctx context.Context, wait time.Duration) (services.StopResult, error)
	RestartAll(ctx context.Context, wait time.Duration) (services.RestartResult, error)
	Mode() topology.Mode
}

// Archive is the snapshot history surface.
type Archive interface {
	Latest(ctx context.Context) (*nut.Snapshot, error)
	Recent(ctx context.Context, limit int) ([]*nut.Snapshot, error)
}

// Handler holds the collaborators behind the HTTP surface.
type Handler struct {
	prober     Prober
	health     Health
	lifecycle  Lifecycle
	archive    Archive
	device     nut.Querier // breaker-guarded, API-facing only
	waitTime   time.Duration
	degradedBy error // non-nil when boot left the process degraded
}

// HandlerOptions collects the Handler's collaborators.
type HandlerOptions struct {
	Prober     Prober
	Health     Health
	Lifecycle  Lifecycle
	Archive    Archive
	Device     nut.Querier
	WaitTime   time.Duration
	DegradedBy error
}

// NewHandler creates a Handler.
func NewHandler(opts HandlerOptions) *Handler {
	return &Handler{
		prober:     opts.Prober,
		health:     opts.Health,
		lifecycle:  opts.Lifecycle,
		archive:    opts.Archive,
		device:     opts.Device,
		waitTime:   opts.WaitTime,
		degradedBy: opts.DegradedBy,
	}
}

// HealthLive always answers 200: the process itself is up.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady answers 200 when the device connection is healthy and the
// process booted cleanly, 503 otherwise. Load balancers and systemd
// watchdogs key off this.
func (h *Handler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	state := h.health.Status()
	body := map[string]interface{}{
		"connection": state.Status,
		"degraded":   h.degradedBy != nil,
	}
	if h.degradedBy != nil {
		body["degraded_reason"] = h.degradedBy.Error()
	}
	if state.Status != monitor.StatusConnected || h.degradedBy != nil {
		writeError(w, http.StatusServiceUnavailable, "not ready", body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// ServiceStatus reports per-role liveness with detection provenance.
func (h *Handler) ServiceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":     h.lifecycle.Mode(),
		"services": h.prober.All(r.Context()),
	})
}

// ConnectionStatus reports the health monitor's current view.
func (h *Handler) ConnectionStatus(w http.ResponseWriter, _ *http.Request) {
	state := h.health.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        state.Status,
		"recovery_mode": state.Status == monitor.StatusRecovering,
		"attempts":      state.Attempts,
		"last_error":    state.LastError,
		"since":         state.Since,
	})
}

// DeviceState performs an on-demand device query through the circuit
// breaker. Unlike the background loops, this path is caller-driven and
// must not be allowed to hammer a struggling device.
func (h *Handler) DeviceState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.device.Fetch(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, nut.ErrThrottled):
		writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
	case nut.IsConnectionError(err):
		writeError(w, http.StatusBadGateway, err.Error(), nil)
	default:
		writeError(w, http.StatusBadGateway, err.Error(), nil)
	}
}

// SnapshotLatest returns the most recent persisted snapshot.
func (h *Handler) SnapshotLatest(w http.ResponseWriter, r *http.Request) {
	snap, err := h.archive.Latest(r.Context())
	if errors.Is(err, store.ErrNoSnapshots) {
		writeError(w, http.StatusNotFound, "no snapshots recorded yet", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

const maxSnapshotPage = 500

// SnapshotHistory returns recent snapshots, newest first. limit defaults
// to 50 and is capped.
func (h *Handler) SnapshotHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	if limit > maxSnapshotPage {
		limit = maxSnapshotPage
	}

	snaps, err := h.archive.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(snaps),
		"snapshots": snaps,
	})
}

// ServicesStart runs the start sequence. A sequence already in progress
// answers 409; a critical startup failure answers 502 with the per-role
// results attached.
func (h *Handler) ServicesStart(w http.ResponseWriter, r *http.Request) {
	result, err := h.lifecycle.StartAll(r.Context(), h.waitTime)
	h.respondLifecycle(w, result, err)
}

// ServicesStop runs the stop sequence.
func (h *Handler) ServicesStop(w http.ResponseWriter, r *http.Request) {
	result, err := h.lifecycle.StopAll(r.Context(), h.waitTime)
	h.respondLifecycle(w, result, err)
}

// ServicesRestart runs a full stop-then-start cycle.
func (h *Handler) ServicesRestart(w http.ResponseWriter, r *http.Request) {
	result, err := h.lifecycle.RestartAll(r.Context(), h.waitTime)
	if err != nil {
		h.respondLifecycle(w, nil, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (h *Handler) respondLifecycle(w http.ResponseWriter, result interface{}, err error) {
	var startupErr *services.StartupError
	switch {
	case errors.Is(err, services.ErrBusy):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.As(err, &startupErr):
		writeError(w, http.StatusBadGateway, err.Error(), result)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

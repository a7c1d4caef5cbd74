// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

// Package api exposes Nutward's HTTP surface: service and connection
// status, on-demand device queries, snapshot history, and daemon
// lifecycle actions.
package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/nutward/nutward/internal/logging"
)

// envelope is the uniform response wrapper for every JSON endpoint.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// writeJSON writes data inside a success envelope.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes an error envelope. data optionally carries partial
// results, such as per-role outcomes from a failed start sequence.
func writeError(w http.ResponseWriter, status int, msg string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: false, Error: msg, Data: data}); err != nil {
		logging.Error().Err(err).Msg("Failed to encode error response")
	}
}

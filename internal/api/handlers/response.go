// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the REST endpoints of the agentboard server.
// Streaming state flows over the WebSocket; these endpoints cover synchronous
// reads and settings.
package handlers

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the {"error": "..."} body.
const (
	ErrInvalidPath   = "invalid_path"
	ErrNotFound      = "not_found"
	ErrForbidden     = "forbidden"
	ErrInternalError = "internal_error"
	ErrInvalidBody   = "invalid_body"
	ErrInvalidHours  = "invalid_hours"
)

// WriteJSON writes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes the flat error shape the browser client expects.
func WriteError(w http.ResponseWriter, status int, code string) {
	WriteJSON(w, status, map[string]string{"error": code})
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tiagoefreitas/agentboard/internal/logscan"
	"github.com/tiagoefreitas/agentboard/internal/registry"
	"github.com/tiagoefreitas/agentboard/internal/store"
)

// previewLines bounds how many conversational turns a preview returns.
const previewLines = 20

// Snapshotter provides the live sessions view.
type Snapshotter interface {
	Snapshot() []registry.Session
}

// SessionLookup resolves persisted agent sessions.
type SessionLookup interface {
	SessionByID(sessionID string) (*store.AgentSession, error)
}

// SessionsHandler serves the session list and log previews.
type SessionsHandler struct {
	registry Snapshotter
	store    SessionLookup
}

// NewSessionsHandler creates a sessions handler.
func NewSessionsHandler(reg Snapshotter, st SessionLookup) *SessionsHandler {
	return &SessionsHandler{registry: reg, store: st}
}

// List handles GET /api/sessions.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.Snapshot()
	if sessions == nil {
		sessions = []registry.Session{}
	}
	WriteJSON(w, http.StatusOK, sessions)
}

// Preview handles GET /api/session-preview/{sessionId}.
func (h *SessionsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	sess, err := h.store.SessionByID(sessionID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError)
		return
	}
	if sess == nil {
		WriteError(w, http.StatusNotFound, ErrNotFound)
		return
	}

	lines, err := logscan.Preview(sess.LogFilePath, sess.AgentType, previewLines)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	if lines == nil {
		lines = []logscan.PreviewLine{}
	}

	WriteJSON(w, http.StatusOK, struct {
		SessionID string                `json:"sessionId"`
		Lines     []logscan.PreviewLine `json:"lines"`
	}{SessionID: sessionID, Lines: lines})
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
)

// App-setting keys in the store.
const (
	settingMouseMode      = "tmux_mouse_mode"
	settingInactiveMaxAge = "inactive_max_age_hours"
)

// Bounds for the inactive-list age filter.
const (
	minInactiveHours     = 1
	maxInactiveHours     = 720 // 30 days
	defaultInactiveHours = 48
)

// SettingsStore persists app settings as key/value strings.
type SettingsStore interface {
	AppSetting(key string) (string, error)
	SetAppSetting(key, value string) error
}

// OptionSetter applies a tmux session option.
type OptionSetter interface {
	SetOption(ctx context.Context, session, name, value string) error
}

// SettingsHandler serves the two persisted app settings.
type SettingsHandler struct {
	store   SettingsStore
	tmux    OptionSetter
	session string // managed base session, mouse option target

	// OnMaxAgeChange, when set, is told about a new inactive-list age so the
	// registry can re-partition without a restart.
	OnMaxAgeChange func(hours int)
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(st SettingsStore, tm OptionSetter, session string) *SettingsHandler {
	return &SettingsHandler{store: st, tmux: tm, session: session}
}

// GetMouseMode handles GET /api/settings/tmux-mouse-mode.
func (h *SettingsHandler) GetMouseMode(w http.ResponseWriter, r *http.Request) {
	value, err := h.store.AppSetting(settingMouseMode)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"enabled": value == "true"})
}

// PutMouseMode handles PUT /api/settings/tmux-mouse-mode. The setting is
// persisted and applied to the managed session immediately.
func (h *SettingsHandler) PutMouseMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrInvalidBody)
		return
	}

	if err := h.store.SetAppSetting(settingMouseMode, strconv.FormatBool(body.Enabled)); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError)
		return
	}

	mouse := "off"
	if body.Enabled {
		mouse = "on"
	}
	if h.tmux != nil {
		if err := h.tmux.SetOption(r.Context(), h.session, "mouse", mouse); err != nil {
			log.Printf("settings: set mouse %s: %v", mouse, err)
		}
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

// GetInactiveMaxAge handles GET /api/settings/inactive-max-age-hours.
func (h *SettingsHandler) GetInactiveMaxAge(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]int{"hours": h.currentMaxAge()})
}

// PutInactiveMaxAge handles PUT /api/settings/inactive-max-age-hours.
func (h *SettingsHandler) PutInactiveMaxAge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hours int `json:"hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrInvalidBody)
		return
	}
	if body.Hours < minInactiveHours || body.Hours > maxInactiveHours {
		WriteError(w, http.StatusBadRequest, ErrInvalidHours)
		return
	}

	if err := h.store.SetAppSetting(settingInactiveMaxAge, strconv.Itoa(body.Hours)); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError)
		return
	}
	if h.OnMaxAgeChange != nil {
		h.OnMaxAgeChange(body.Hours)
	}

	WriteJSON(w, http.StatusOK, map[string]int{"hours": body.Hours})
}

func (h *SettingsHandler) currentMaxAge() int {
	value, err := h.store.AppSetting(settingInactiveMaxAge)
	if err != nil || value == "" {
		return defaultInactiveHours
	}
	hours, err := strconv.Atoi(value)
	if err != nil || hours < minInactiveHours || hours > maxInactiveHours {
		return defaultInactiveHours
	}
	return hours
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import "context"

// SettingsClient reads and writes server settings.
type SettingsClient struct {
	c *Client
}

type mouseModeBody struct {
	Enabled bool `json:"enabled"`
}

type maxAgeBody struct {
	Hours int `json:"hours"`
}

// MouseMode reports whether tmux mouse mode is enabled on the managed session.
func (sc *SettingsClient) MouseMode(ctx context.Context) (bool, error) {
	var resp mouseModeBody
	if err := sc.c.get(ctx, "/api/settings/tmux-mouse-mode", &resp); err != nil {
		return false, err
	}
	return resp.Enabled, nil
}

// SetMouseMode enables or disables tmux mouse mode. The change applies to
// the managed session immediately and persists across restarts.
func (sc *SettingsClient) SetMouseMode(ctx context.Context, enabled bool) error {
	return sc.c.putJSON(ctx, "/api/settings/tmux-mouse-mode", mouseModeBody{Enabled: enabled}, nil)
}

// InactiveMaxAge returns how many hours an inactive agent session stays
// listed before the dashboard hides it.
func (sc *SettingsClient) InactiveMaxAge(ctx context.Context) (int, error) {
	var resp maxAgeBody
	if err := sc.c.get(ctx, "/api/settings/inactive-max-age-hours", &resp); err != nil {
		return 0, err
	}
	return resp.Hours, nil
}

// SetInactiveMaxAge sets the inactive-session age filter in hours.
//
// Returns an *APIError with code "invalid_hours" when the value is out of
// the server's accepted range.
func (sc *SettingsClient) SetInactiveMaxAge(ctx context.Context, hours int) error {
	return sc.c.putJSON(ctx, "/api/settings/inactive-max-age-hours", maxAgeBody{Hours: hours}, nil)
}

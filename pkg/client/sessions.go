// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/url"
)

// SessionClient provides access to session operations.
type SessionClient struct {
	c *Client
}

// List returns every live tmux session the server is tracking, local and
// remote, with paired agent metadata where available.
func (sc *SessionClient) List(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := sc.c.get(ctx, "/api/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Preview returns the recent conversation tail for an agent session.
//
// Returns an *APIError with code "not_found" when the session id is unknown
// or its log file is gone.
func (sc *SessionClient) Preview(ctx context.Context, sessionID string) (*SessionPreview, error) {
	var preview SessionPreview
	if err := sc.c.get(ctx, "/api/session-preview/"+url.PathEscape(sessionID), &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import "context"

// SystemClient provides access to health and server-info operations.
type SystemClient struct {
	c *Client
}

// Health reports whether the server is up.
func (sc *SystemClient) Health(ctx context.Context) (bool, error) {
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := sc.c.get(ctx, "/api/health", &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

// ServerInfo returns the server's port, protocol, and tailnet address.
func (sc *SystemClient) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := sc.c.get(ctx, "/api/server-info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

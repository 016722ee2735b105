// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/url"
)

// DirectoryClient browses the server's filesystem.
type DirectoryClient struct {
	c *Client
}

// List returns the subdirectories of path on the server. An empty path lists
// the server's home directory, and "~" prefixes expand server-side.
//
// Returns an *APIError with code "not_found", "forbidden", or "invalid_path"
// on bad paths.
func (dc *DirectoryClient) List(ctx context.Context, path string) (*DirectoryListing, error) {
	endpoint := "/api/directories"
	if path != "" {
		endpoint += "?path=" + url.QueryEscape(path)
	}

	var listing DirectoryListing
	if err := dc.c.get(ctx, endpoint, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

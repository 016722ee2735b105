// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client library for the Agentboard API.
//
// Agentboard is a web controller for tmux-hosted agent CLI sessions. This
// client gives typed access to the REST endpoints: the live session list,
// log previews, directory browsing, and server settings.
//
// # Getting Started
//
// Create a client pointing to your Agentboard server:
//
//	c := client.New("http://localhost:8080")
//
// The client provides access to different API resources through sub-clients:
//
//	// List live tmux sessions
//	sessions, err := c.Sessions.List(ctx)
//
//	// Preview an agent session's recent conversation
//	preview, err := c.Sessions.Preview(ctx, "abc-123")
//
//	// Browse directories for the new-session picker
//	listing, err := c.Directories.List(ctx, "~/projects")
//
// # Error Handling
//
// API errors are returned as *APIError values carrying the server's error
// code and the HTTP status:
//
//	preview, err := c.Sessions.Preview(ctx, "unknown")
//	if err != nil {
//	    if apiErr, ok := err.(*client.APIError); ok {
//	        fmt.Printf("API error: %s (status %d)\n", apiErr.Code, apiErr.Status)
//	    }
//	}
//
// # Context Support
//
// All API methods accept a context.Context for cancellation and timeouts:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	sessions, err := c.Sessions.List(ctx)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is an Agentboard API client.
//
// A Client provides access to the Agentboard API through resource-specific
// sub-clients. Use [New] to create a Client instance.
//
// The Client is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// System provides access to health and server-info endpoints.
	System *SystemClient

	// Sessions provides access to the live session list and log previews.
	Sessions *SessionClient

	// Directories browses the server's filesystem for the session picker.
	Directories *DirectoryClient

	// Settings reads and writes server settings such as tmux mouse mode.
	Settings *SettingsClient
}

// Option configures a [Client]. Options are passed to [New] to customize
// client behavior.
type Option func(*Client)

// New creates a new Agentboard API client with the given base URL and options.
//
// The baseURL should be the root URL of the Agentboard server
// (e.g., "http://localhost:8080"). Any trailing slash is removed.
//
// The default HTTP timeout is 30 seconds. Use [WithTimeout] or
// [WithHTTPClient] to customize.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.System = &SystemClient{c: c}
	c.Sessions = &SessionClient{c: c}
	c.Directories = &DirectoryClient{c: c}
	c.Settings = &SettingsClient{c: c}

	return c
}

// WithHTTPClient sets a custom HTTP client for making requests.
//
// This is useful for advanced configurations like custom TLS settings,
// proxy configuration, or request tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP client timeout for all requests.
//
// The default timeout is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// BaseURL returns the base URL of the API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError represents an error response from the Agentboard API.
//
// Common error codes include:
//   - "not_found": The requested resource does not exist
//   - "invalid_path": The path parameter was malformed or too long
//   - "forbidden": The server may not read the requested path
//   - "invalid_hours": The setting value was out of range
//   - "internal_error": An unexpected server error occurred
type APIError struct {
	// Code is the machine-readable error code from the response body.
	Code string `json:"error"`

	// Status is the HTTP status code of the response.
	Status int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (status %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// get performs a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// putJSON performs a PUT request with a JSON body.
func (c *Client) putJSON(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPut, path, bytes.NewReader(data), out)
}

// do performs an HTTP request and parses the response.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		// The body is {"error": code} for handled failures; anything else
		// still surfaces as an APIError with just the status.
		json.Unmarshal(respBody, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

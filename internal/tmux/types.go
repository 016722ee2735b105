// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tmux

import (
	"context"
	"time"
)

// fieldSep separates fields in -F format strings. The unit separator
// cannot appear in session names, window names, or paths that tmux emits.
const fieldSep = "\x1f"

// WindowSource says whether a window lives in the managed session or was
// discovered through a configured prefix.
type WindowSource string

const (
	SourceManaged  WindowSource = "managed"
	SourceExternal WindowSource = "external"
)

// Window is one tmux window as reported by list-windows.
type Window struct {
	Target         string       `json:"target"` // session:index
	SessionName    string       `json:"sessionName"`
	Index          int          `json:"index"`
	Name           string       `json:"name"`
	CreatedAt      time.Time    `json:"createdAt"`
	LastActivityAt time.Time    `json:"lastActivityAt"`
	Source         WindowSource `json:"source"`
	Host           string       `json:"host,omitempty"` // empty for local
}

// Client is one attached tmux client as reported by list-clients.
type Client struct {
	TTY string
	PID int
}

// Runner executes a single tmux invocation and returns its stdout.
// LocalRunner shells out to the tmux binary; SSHRunner routes the same
// argument vector through ssh. Every call is bounded by ctx.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
	// RunStdin is Run with data piped to tmux's stdin (load-buffer).
	RunStdin(ctx context.Context, stdin string, args ...string) (string, error)
	// Host returns the remote host name, or "" for the local runner.
	Host() string
}

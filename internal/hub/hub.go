// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hub multiplexes browser WebSockets onto the registry and terminal
// proxies. One Connection per socket; the Hub tracks them for shutdown.
package hub

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiagoefreitas/agentboard/internal/events"
	"github.com/tiagoefreitas/agentboard/internal/proxy"
	"github.com/tiagoefreitas/agentboard/internal/registry"
	"github.com/tiagoefreitas/agentboard/internal/store"
	"github.com/tiagoefreitas/agentboard/internal/tmux"
)

// RegistryView is the slice of the registry a connection uses.
type RegistryView interface {
	Snapshot() []registry.Session
	AgentSessions() (active, inactive []store.AgentSession, err error)
	CreateWindow(ctx context.Context, workdir, name, command string) (string, error)
	KillWindow(ctx context.Context, target string) error
	RenameSession(ctx context.Context, sessionID, name string) error
	SetPinned(sessionID string, pinned bool) error
	Refresh()
	Window(target string) (tmux.Window, bool)
}

// Resumer relaunches and kills agent sessions.
type Resumer interface {
	Resume(ctx context.Context, sessionID string) (*store.AgentSession, error)
	Kill(ctx context.Context, sessionID string) error
}

// SessionLookup resolves persisted sessions by id.
type SessionLookup interface {
	SessionByID(sessionID string) (*store.AgentSession, error)
}

// CopyModeController drives tmux copy-mode queries for the attached pane.
type CopyModeController interface {
	PaneInMode(ctx context.Context, target string) (bool, error)
	CancelCopyMode(ctx context.Context, target string) error
}

// Deps are the collaborators every connection shares.
type Deps struct {
	Registry RegistryView
	Resume   Resumer
	Store    SessionLookup
	Bus      events.EventBus
	Tmux     CopyModeController

	// NewTerminal builds a fresh proxy for a connection's first attach. The
	// app picks the variant: pty or pipe-pane locally, ssh when the attach
	// target lives on a remote host.
	NewTerminal func(host string) proxy.Terminal
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients are same-origin or trusted tailnet peers
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub accepts WebSocket upgrades and tracks live connections.
type Hub struct {
	deps Deps

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// New creates a hub.
func New(deps Deps) *Hub {
	return &Hub{deps: deps, conns: make(map[*Connection]struct{})}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade failed: %v", err)
		return
	}

	conn := newConnection(ws, h.deps)
	h.track(conn)
	defer h.untrack(conn)

	conn.run(r.Context())
}

// ConnectionCount reports live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every live connection so the server can stop cleanly.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if len(conns) > 0 {
		log.Printf("hub: closing %d active connections", len(conns))
	}
	for _, c := range conns {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.teardown(ctx)
	}
}

func (h *Hub) track(c *Connection) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) untrack(c *Connection) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

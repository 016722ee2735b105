// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tiagoefreitas/agentboard/internal/events"
	"github.com/tiagoefreitas/agentboard/internal/proxy"
	"github.com/tiagoefreitas/agentboard/internal/resume"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Connection brokers one WebSocket: it owns one terminal proxy, routes
// registry diffs to the client, and dispatches client commands.
type Connection struct {
	id   string
	ws   *websocket.Conn
	deps Deps

	// gorilla/websocket requires a single writer
	writeMu sync.Mutex

	termMu   sync.Mutex
	term     proxy.Terminal
	attached string // sessionId the client believes it is viewing

	detached atomic.Bool // true suppresses terminal-output forwarding
	subID    events.SubscriptionID
	done     chan struct{}
	closed   atomic.Bool
}

func newConnection(ws *websocket.Conn, deps Deps) *Connection {
	return &Connection{
		id:   uuid.NewString(),
		ws:   ws,
		deps: deps,
		done: make(chan struct{}),
	}
}

// run services the connection until the socket closes or ctx is done.
func (c *Connection) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.teardown(ctx)

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go c.pingLoop()

	c.pushSnapshot(ctx)
	c.subscribe(ctx)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("hub[%s]: read: %v", c.shortID(), err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frames are dropped, never fatal
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Connection) shortID() string {
	if len(c.id) > 8 {
		return c.id[:8]
	}
	return c.id
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) teardown(ctx context.Context) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)

	if c.subID != "" {
		c.deps.Bus.Unsubscribe(c.subID)
	}

	c.termMu.Lock()
	term := c.term
	c.term = nil
	c.termMu.Unlock()
	if term != nil {
		disposeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := term.Dispose(disposeCtx); err != nil {
			log.Printf("hub[%s]: dispose proxy: %v", c.shortID(), err)
		}
	}

	c.ws.Close()
}

// send marshals and writes one frame under the write lock.
func (c *Connection) send(msg serverMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		log.Printf("hub[%s]: write %s: %v", c.shortID(), msg.Type, err)
	}
}

// pushSnapshot sends the full sessions view plus the agent-sessions
// partition, the first thing every client receives.
func (c *Connection) pushSnapshot(ctx context.Context) {
	c.send(serverMessage{Type: MsgSessions, Sessions: c.deps.Registry.Snapshot()})

	active, inactive, err := c.deps.Registry.AgentSessions()
	if err != nil {
		log.Printf("hub[%s]: agent sessions: %v", c.shortID(), err)
		return
	}
	c.send(agentSessionsPayload(active, inactive))
}

// subscribe routes registry events to this socket. Async with a buffer so a
// slow client cannot stall the registry; one handler goroutine preserves
// per-session ordering.
func (c *Connection) subscribe(ctx context.Context) {
	subID, err := c.deps.Bus.SubscribeAsync("*", func(ctx context.Context, e events.Event) error {
		c.routeEvent(ctx, e)
		return nil
	}, 256)
	if err != nil {
		log.Printf("hub[%s]: subscribe: %v", c.shortID(), err)
		return
	}
	c.subID = subID
}

func (c *Connection) routeEvent(ctx context.Context, e events.Event) {
	switch e.Type {
	case events.EventSessionUpdated:
		c.send(serverMessage{Type: MsgSessionUpdate, SessionID: e.SessionID, Session: e.Payload["session"]})
	case events.EventSessionCreated:
		c.send(serverMessage{Type: MsgSessionCreated, SessionID: e.SessionID, Session: e.Payload})
		c.pushAgentSessions()
	case events.EventSessionRemoved:
		c.send(serverMessage{Type: MsgSessionRemoved, SessionID: e.SessionID})
		c.pushAgentSessions()
	case events.EventSessionOrphaned:
		c.send(serverMessage{Type: MsgSessionOrphaned, SessionID: e.SessionID})
		c.pushAgentSessions()
	case events.EventSessionActivated:
		target, _ := e.Payload["target"].(string)
		c.send(serverMessage{Type: MsgSessionActivated, SessionID: e.SessionID, TmuxTarget: target})
		c.pushAgentSessions()
	case events.EventResurrectionFailed:
		message, _ := e.Payload["error"].(string)
		c.send(serverMessage{Type: MsgResurrectionFailed, SessionID: e.SessionID,
			Error: &wireError{Code: resume.CodeResumeFailed, Message: message}})
	case events.EventWindowAdded, events.EventWindowRemoved:
		// Set shape changed: re-send the full snapshot
		c.send(serverMessage{Type: MsgSessions, Sessions: c.deps.Registry.Snapshot()})
	}
}

func (c *Connection) pushAgentSessions() {
	active, inactive, err := c.deps.Registry.AgentSessions()
	if err != nil {
		return
	}
	c.send(agentSessionsPayload(active, inactive))
}

func (c *Connection) dispatch(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case MsgTerminalAttach:
		c.handleAttach(ctx, msg)
	case MsgTerminalDetach:
		c.detached.Store(true)
	case MsgTerminalInput:
		c.handleInput(msg)
	case MsgTerminalResize:
		c.handleResize(ctx, msg)
	case MsgSessionCreate:
		c.handleCreate(ctx, msg)
	case MsgSessionKill:
		c.handleKill(ctx, msg)
	case MsgSessionRename:
		c.handleRename(ctx, msg)
	case MsgSessionRefresh:
		c.deps.Registry.Refresh()
	case MsgSessionResume:
		go c.handleResume(ctx, msg)
	case MsgSessionPin:
		c.handlePin(msg)
	case MsgCheckCopyMode:
		c.handleCopyMode(ctx, msg, false)
	case MsgCancelCopyMode:
		c.handleCopyMode(ctx, msg, true)
	default:
		log.Printf("hub[%s]: unknown message type %q", c.shortID(), msg.Type)
	}
}

// resolveTarget maps a client session reference to a tmux target. An
// explicit tmuxTarget wins; else the persisted agent session's window; else
// the sessionId is tried as a target directly.
func (c *Connection) resolveTarget(msg clientMessage) (string, bool) {
	if msg.TmuxTarget != "" {
		return msg.TmuxTarget, true
	}
	if msg.SessionID == "" {
		return "", false
	}
	if sess, err := c.deps.Store.SessionByID(msg.SessionID); err == nil && sess != nil && sess.CurrentWindow != nil {
		return *sess.CurrentWindow, true
	}
	if _, ok := c.deps.Registry.Window(msg.SessionID); ok {
		return msg.SessionID, true
	}
	return "", false
}

func (c *Connection) handleAttach(ctx context.Context, msg clientMessage) {
	target, ok := c.resolveTarget(msg)
	if !ok {
		c.send(serverMessage{Type: MsgTerminalError, SessionID: msg.SessionID,
			Error: &wireError{Code: "ERR_INVALID_WINDOW", Message: "no window for session", Retryable: false}})
		return
	}

	c.detached.Store(false)

	host := ""
	if w, found := c.deps.Registry.Window(target); found {
		host = w.Host
	}

	c.termMu.Lock()
	if c.term == nil {
		c.term = c.deps.NewTerminal(host)
		go c.pumpOutput(c.term)
	}
	term := c.term
	c.attached = msg.SessionID
	c.termMu.Unlock()

	if msg.Cols > 0 && msg.Rows > 0 {
		term.Resize(ctx, msg.Cols, msg.Rows)
	}

	if err := term.Start(ctx); err != nil {
		c.sendTerminalError(msg.SessionID, err)
		return
	}
	if _, err := term.SwitchTo(ctx, target); err != nil {
		c.sendTerminalError(msg.SessionID, err)
		return
	}
	c.send(serverMessage{Type: MsgTerminalReady, SessionID: msg.SessionID, TmuxTarget: target})
}

// pumpOutput forwards proxy output frames for the lifetime of the proxy.
// Frames are tagged with whatever session the client is attached to; during
// a switch the proxy suppresses output, so stale bytes never carry the new
// session's id.
func (c *Connection) pumpOutput(term proxy.Terminal) {
	for data := range term.Output() {
		if c.detached.Load() {
			continue
		}
		c.termMu.Lock()
		sessionID := c.attached
		c.termMu.Unlock()

		c.send(serverMessage{
			Type:      MsgTerminalOutput,
			SessionID: sessionID,
			Data:      strings.ToValidUTF8(string(data), ""),
		})
	}
}

func (c *Connection) sendTerminalError(sessionID string, err error) {
	var perr *proxy.Error
	if errors.As(err, &perr) {
		c.send(serverMessage{Type: MsgTerminalError, SessionID: sessionID,
			Error: &wireError{Code: perr.Code, Message: perr.Message, Retryable: perr.Retryable}})
		return
	}
	c.send(serverMessage{Type: MsgTerminalError, SessionID: sessionID,
		Error: &wireError{Code: "ERR_NOT_READY", Message: err.Error(), Retryable: true}})
}

func (c *Connection) handleInput(msg clientMessage) {
	c.termMu.Lock()
	term := c.term
	c.termMu.Unlock()
	if term == nil {
		return
	}
	if err := term.Write([]byte(msg.Data)); err != nil {
		log.Printf("hub[%s]: input: %v", c.shortID(), err)
	}
}

func (c *Connection) handleResize(ctx context.Context, msg clientMessage) {
	if msg.Cols <= 0 || msg.Rows <= 0 {
		return
	}
	c.termMu.Lock()
	term := c.term
	c.termMu.Unlock()
	if term == nil {
		return
	}
	if err := term.Resize(ctx, msg.Cols, msg.Rows); err != nil {
		log.Printf("hub[%s]: resize: %v", c.shortID(), err)
	}
}

func (c *Connection) handleCreate(ctx context.Context, msg clientMessage) {
	if msg.ProjectPath == "" || msg.Command == "" {
		c.send(serverMessage{Type: MsgError, Message: "projectPath and command are required"})
		return
	}
	if _, err := c.deps.Registry.CreateWindow(ctx, msg.ProjectPath, msg.Name, msg.Command); err != nil {
		c.send(serverMessage{Type: MsgError, Message: "create session: " + err.Error()})
	}
	// Success flows back as session-created and diffs from the registry
}

func (c *Connection) handleKill(ctx context.Context, msg clientMessage) {
	var err error
	switch {
	case msg.SessionID != "":
		err = c.deps.Resume.Kill(ctx, msg.SessionID)
	case msg.TmuxTarget != "":
		err = c.deps.Registry.KillWindow(ctx, msg.TmuxTarget)
	default:
		err = errors.New("sessionId or tmuxTarget required")
	}
	if err != nil {
		c.send(serverMessage{Type: MsgKillFailed, SessionID: msg.SessionID, Message: killMessage(err)})
	}
}

func killMessage(err error) string {
	var rerr *resume.Error
	if errors.As(err, &rerr) && rerr.Code == resume.CodeNotFound {
		return "window not found"
	}
	return err.Error()
}

func (c *Connection) handleRename(ctx context.Context, msg clientMessage) {
	if msg.SessionID == "" || msg.Name == "" {
		c.send(serverMessage{Type: MsgError, Message: "sessionId and name are required"})
		return
	}
	if err := c.deps.Registry.RenameSession(ctx, msg.SessionID, msg.Name); err != nil {
		c.send(serverMessage{Type: MsgError, SessionID: msg.SessionID, Message: "rename: " + err.Error()})
	}
}

// handleResume runs on its own goroutine: correlation can take up to the
// resume wait timeout and must not block the read loop.
func (c *Connection) handleResume(ctx context.Context, msg clientMessage) {
	sess, err := c.deps.Resume.Resume(ctx, msg.SessionID)
	if err != nil {
		code, message := resume.CodeResumeFailed, err.Error()
		var rerr *resume.Error
		if errors.As(err, &rerr) {
			code, message = rerr.Code, rerr.Message
		}
		c.send(serverMessage{Type: MsgSessionResumeReply, SessionID: msg.SessionID,
			OK: boolPtr(false), Error: &wireError{Code: code, Message: message}})
		return
	}
	c.send(serverMessage{Type: MsgSessionResumeReply, SessionID: msg.SessionID,
		OK: boolPtr(true), Session: sess})
	c.pushAgentSessions()
}

func (c *Connection) handlePin(msg clientMessage) {
	if msg.SessionID == "" || msg.IsPinned == nil {
		c.send(serverMessage{Type: MsgError, Message: "sessionId and isPinned are required"})
		return
	}
	ok := true
	if err := c.deps.Registry.SetPinned(msg.SessionID, *msg.IsPinned); err != nil {
		ok = false
		log.Printf("hub[%s]: pin %s: %v", c.shortID(), msg.SessionID, err)
	}
	c.send(serverMessage{Type: MsgSessionPinReply, SessionID: msg.SessionID, OK: boolPtr(ok)})
	c.pushAgentSessions()
}

func (c *Connection) handleCopyMode(ctx context.Context, msg clientMessage, cancel bool) {
	target, ok := c.resolveTarget(msg)
	if !ok {
		return
	}
	if cancel {
		if err := c.deps.Tmux.CancelCopyMode(ctx, target); err != nil {
			log.Printf("hub[%s]: cancel copy-mode: %v", c.shortID(), err)
		}
	}
	inMode, err := c.deps.Tmux.PaneInMode(ctx, target)
	if err != nil {
		return
	}
	c.send(serverMessage{Type: MsgCopyModeStatus, TmuxTarget: target, InCopyMode: boolPtr(inMode)})
}

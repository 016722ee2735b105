// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagoefreitas/agentboard/internal/events"
	"github.com/tiagoefreitas/agentboard/internal/proxy"
	"github.com/tiagoefreitas/agentboard/internal/registry"
	"github.com/tiagoefreitas/agentboard/internal/resume"
	"github.com/tiagoefreitas/agentboard/internal/store"
	"github.com/tiagoefreitas/agentboard/internal/tmux"
)

type fakeRegistry struct {
	mu       sync.Mutex
	sessions []registry.Session
	active   []store.AgentSession
	inactive []store.AgentSession
	killed   []string
	renamed  map[string]string
	pinned   map[string]bool
}

func (f *fakeRegistry) Snapshot() []registry.Session { return f.sessions }

func (f *fakeRegistry) AgentSessions() ([]store.AgentSession, []store.AgentSession, error) {
	return f.active, f.inactive, nil
}

func (f *fakeRegistry) CreateWindow(ctx context.Context, workdir, name, command string) (string, error) {
	return "agentboard:1", nil
}

func (f *fakeRegistry) KillWindow(ctx context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, target)
	return nil
}

func (f *fakeRegistry) RenameSession(ctx context.Context, sessionID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renamed == nil {
		f.renamed = make(map[string]string)
	}
	f.renamed[sessionID] = name
	return nil
}

func (f *fakeRegistry) SetPinned(sessionID string, pinned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pinned == nil {
		f.pinned = make(map[string]bool)
	}
	f.pinned[sessionID] = pinned
	return nil
}

func (f *fakeRegistry) Refresh() {}

func (f *fakeRegistry) Window(target string) (tmux.Window, bool) {
	for _, s := range f.sessions {
		if s.TmuxTarget == target {
			return tmux.Window{Target: target}, true
		}
	}
	return tmux.Window{}, false
}

type fakeResumer struct{}

func (fakeResumer) Resume(ctx context.Context, sessionID string) (*store.AgentSession, error) {
	return nil, &resume.Error{Code: resume.CodeNotFound, Message: "no such session: " + sessionID}
}

func (fakeResumer) Kill(ctx context.Context, sessionID string) error {
	return &resume.Error{Code: resume.CodeNotFound, Message: "session has no window"}
}

type fakeLookup struct{}

func (fakeLookup) SessionByID(string) (*store.AgentSession, error) { return nil, nil }

type fakeCopyMode struct{}

func (fakeCopyMode) PaneInMode(ctx context.Context, target string) (bool, error) { return true, nil }
func (fakeCopyMode) CancelCopyMode(ctx context.Context, target string) error     { return nil }

type fakeTerminal struct {
	mu       sync.Mutex
	writes   []string
	switches []string
	output   chan []byte
	state    proxy.State
}

func newFakeTerminal() *fakeTerminal {
	return &fakeTerminal{output: make(chan []byte, 16), state: proxy.StateInitial}
}

func (f *fakeTerminal) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = proxy.StateReady
	return nil
}

func (f *fakeTerminal) SwitchTo(ctx context.Context, target string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switches = append(f.switches, target)
	return true, nil
}

func (f *fakeTerminal) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeTerminal) Resize(ctx context.Context, cols, rows int) error { return nil }

func (f *fakeTerminal) Output() <-chan []byte { return f.output }

func (f *fakeTerminal) State() proxy.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTerminal) Dispose(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != proxy.StateDead {
		f.state = proxy.StateDead
		close(f.output)
	}
	return nil
}

type testClient struct {
	t   *testing.T
	ws  *websocket.Conn
	bus events.EventBus
}

func dialHub(t *testing.T, reg *fakeRegistry, term *fakeTerminal) *testClient {
	t.Helper()

	bus := events.NewMemoryEventBus(events.MemoryBusConfig{})
	t.Cleanup(func() { bus.Close() })

	h := New(Deps{
		Registry:    reg,
		Resume:      fakeResumer{},
		Store:       fakeLookup{},
		Bus:         bus,
		Tmux:        fakeCopyMode{},
		NewTerminal: func(string) proxy.Terminal { return term },
	})

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	return &testClient{t: t, ws: ws, bus: bus}
}

func (c *testClient) sendMsg(msg clientMessage) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(msg))
}

// awaitType reads frames until one of the wanted type arrives.
func (c *testClient) awaitType(wanted string) serverMessage {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg serverMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.t.Fatalf("reading for %q: %v", wanted, err)
		}
		if msg.Type == wanted {
			return msg
		}
	}
	c.t.Fatalf("no %q message arrived", wanted)
	return serverMessage{}
}

func TestConnectionPushesSnapshotOnOpen(t *testing.T) {
	reg := &fakeRegistry{sessions: []registry.Session{{TmuxTarget: "agentboard:1", WindowName: "claude"}}}
	client := dialHub(t, reg, newFakeTerminal())

	snapshot := client.awaitType(MsgSessions)
	require.NotNil(t, snapshot.Sessions)

	client.awaitType(MsgAgentSessions)
}

func TestTerminalAttachReadyAndOutput(t *testing.T) {
	reg := &fakeRegistry{sessions: []registry.Session{{TmuxTarget: "agentboard:1"}}}
	term := newFakeTerminal()
	client := dialHub(t, reg, term)
	client.awaitType(MsgAgentSessions)

	client.sendMsg(clientMessage{Type: MsgTerminalAttach, SessionID: "agentboard:1", Cols: 120, Rows: 40})

	ready := client.awaitType(MsgTerminalReady)
	assert.Equal(t, "agentboard:1", ready.SessionID)
	assert.Equal(t, "agentboard:1", ready.TmuxTarget)

	term.output <- []byte("hello from tmux")
	out := client.awaitType(MsgTerminalOutput)
	assert.Equal(t, "hello from tmux", out.Data)
	assert.Equal(t, "agentboard:1", out.SessionID)
}

func TestTerminalAttachUnknownSession(t *testing.T) {
	client := dialHub(t, &fakeRegistry{}, newFakeTerminal())
	client.awaitType(MsgAgentSessions)

	client.sendMsg(clientMessage{Type: MsgTerminalAttach, SessionID: "nope"})

	errMsg := client.awaitType(MsgTerminalError)
	require.NotNil(t, errMsg.Error)
	assert.Equal(t, "ERR_INVALID_WINDOW", errMsg.Error.Code)
	assert.False(t, errMsg.Error.Retryable)
}

func TestTerminalInputForwarded(t *testing.T) {
	reg := &fakeRegistry{sessions: []registry.Session{{TmuxTarget: "agentboard:1"}}}
	term := newFakeTerminal()
	client := dialHub(t, reg, term)
	client.awaitType(MsgAgentSessions)

	client.sendMsg(clientMessage{Type: MsgTerminalAttach, SessionID: "agentboard:1"})
	client.awaitType(MsgTerminalReady)

	client.sendMsg(clientMessage{Type: MsgTerminalInput, Data: "ls -la\r"})

	require.Eventually(t, func() bool {
		term.mu.Lock()
		defer term.mu.Unlock()
		return len(term.writes) == 1 && term.writes[0] == "ls -la\r"
	}, time.Second, 10*time.Millisecond)
}

func TestKillFailureSurfaces(t *testing.T) {
	client := dialHub(t, &fakeRegistry{}, newFakeTerminal())
	client.awaitType(MsgAgentSessions)

	client.sendMsg(clientMessage{Type: MsgSessionKill, SessionID: "gone"})

	failed := client.awaitType(MsgKillFailed)
	assert.Equal(t, "gone", failed.SessionID)
	assert.Equal(t, "window not found", failed.Message)
}

func TestSessionPinResult(t *testing.T) {
	reg := &fakeRegistry{}
	client := dialHub(t, reg, newFakeTerminal())
	client.awaitType(MsgAgentSessions)

	client.sendMsg(clientMessage{Type: MsgSessionPin, SessionID: "sess-1", IsPinned: boolPtr(true)})

	reply := client.awaitType(MsgSessionPinReply)
	require.NotNil(t, reply.OK)
	assert.True(t, *reply.OK)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	assert.True(t, reg.pinned["sess-1"])
}

func TestSessionResumeFailureReply(t *testing.T) {
	client := dialHub(t, &fakeRegistry{}, newFakeTerminal())
	client.awaitType(MsgAgentSessions)

	client.sendMsg(clientMessage{Type: MsgSessionResume, SessionID: "missing"})

	reply := client.awaitType(MsgSessionResumeReply)
	require.NotNil(t, reply.OK)
	assert.False(t, *reply.OK)
	require.NotNil(t, reply.Error)
	assert.Equal(t, resume.CodeNotFound, reply.Error.Code)
}

func TestSessionRenameForwarded(t *testing.T) {
	reg := &fakeRegistry{}
	client := dialHub(t, reg, newFakeTerminal())
	client.awaitType(MsgAgentSessions)

	client.sendMsg(clientMessage{Type: MsgSessionRename, SessionID: "sess-1", Name: "api-work"})

	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return reg.renamed["sess-1"] == "api-work"
	}, time.Second, 10*time.Millisecond)
}

func TestSessionActivatedRouted(t *testing.T) {
	client := dialHub(t, &fakeRegistry{}, newFakeTerminal())
	client.awaitType(MsgAgentSessions)

	require.NoError(t, client.bus.Publish(context.Background(), events.Event{
		Type:      events.EventSessionActivated,
		SessionID: "sess-1",
		Payload:   map[string]interface{}{"target": "agentboard:2"},
	}))

	msg := client.awaitType(MsgSessionActivated)
	assert.Equal(t, "sess-1", msg.SessionID)
	assert.Equal(t, "agentboard:2", msg.TmuxTarget)
	client.awaitType(MsgAgentSessions)
}

func TestResurrectionFailureRouted(t *testing.T) {
	client := dialHub(t, &fakeRegistry{}, newFakeTerminal())
	client.awaitType(MsgAgentSessions)

	require.NoError(t, client.bus.Publish(context.Background(), events.Event{
		Type:      events.EventResurrectionFailed,
		SessionID: "sess-1",
		Payload:   map[string]interface{}{"error": "resume command exited"},
	}))

	msg := client.awaitType(MsgResurrectionFailed)
	assert.Equal(t, "sess-1", msg.SessionID)
	require.NotNil(t, msg.Error)
	assert.Equal(t, resume.CodeResumeFailed, msg.Error.Code)
	assert.Equal(t, "resume command exited", msg.Error.Message)
}

func TestCopyModeStatus(t *testing.T) {
	reg := &fakeRegistry{sessions: []registry.Session{{TmuxTarget: "agentboard:1"}}}
	client := dialHub(t, reg, newFakeTerminal())
	client.awaitType(MsgAgentSessions)

	client.sendMsg(clientMessage{Type: MsgCheckCopyMode, TmuxTarget: "agentboard:1"})

	statusMsg := client.awaitType(MsgCopyModeStatus)
	require.NotNil(t, statusMsg.InCopyMode)
	assert.True(t, *statusMsg.InCopyMode)
}

func TestUnknownMessageTypeIsDropped(t *testing.T) {
	reg := &fakeRegistry{}
	client := dialHub(t, reg, newFakeTerminal())
	client.awaitType(MsgAgentSessions)

	client.sendMsg(clientMessage{Type: "telepathy"})

	// Still responsive afterwards
	client.sendMsg(clientMessage{Type: MsgSessionPin, SessionID: "s", IsPinned: boolPtr(false)})
	client.awaitType(MsgSessionPinReply)
}

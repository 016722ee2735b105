// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagoefreitas/agentboard/internal/events"
	"github.com/tiagoefreitas/agentboard/internal/logscan"
	"github.com/tiagoefreitas/agentboard/internal/match"
	"github.com/tiagoefreitas/agentboard/internal/status"
	"github.com/tiagoefreitas/agentboard/internal/store"
	"github.com/tiagoefreitas/agentboard/internal/tmux"
)

type fakeClient struct {
	host    string
	windows []tmux.Window
	killed  []string
	created []string
	renames []string // "target=name"
}

func (f *fakeClient) Host() string { return f.host }

func (f *fakeClient) ListAllWindows(ctx context.Context) ([]tmux.Window, error) {
	return f.windows, nil
}

func (f *fakeClient) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	return "❯ \n", nil
}

func (f *fakeClient) NewWindow(ctx context.Context, session, workdir, name, command string) (string, error) {
	target := session + ":9"
	f.created = append(f.created, target)
	return target, nil
}

func (f *fakeClient) KillWindow(ctx context.Context, target string) error {
	f.killed = append(f.killed, target)
	return nil
}

func (f *fakeClient) RenameWindow(ctx context.Context, target, name string) error {
	f.renames = append(f.renames, target+"="+name)
	return nil
}

type fakeScanner struct {
	records []logscan.Record
}

func (f *fakeScanner) Scan(ctx context.Context) ([]logscan.Record, error) {
	return f.records, nil
}

// fakeMatcher answers every request with canned pairings.
type fakeMatcher struct {
	pairings map[string]string
}

func (f *fakeMatcher) Submit(req match.Request) {
	if req.Response != nil {
		req.Response <- match.Result{Pairings: f.pairings}
	}
}

type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) record(ctx context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) ofType(eventType string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func testWindow(target, name string) tmux.Window {
	session, _, _ := splitTarget(target)
	return tmux.Window{
		Target:         target,
		SessionName:    session,
		Name:           name,
		CreatedAt:      time.Now().Add(-time.Minute),
		LastActivityAt: time.Now(),
	}
}

func splitTarget(target string) (session, index string, ok bool) {
	for i := len(target) - 1; i >= 0; i-- {
		if target[i] == ':' {
			return target[:i], target[i+1:], true
		}
	}
	return target, "", false
}

func newTestRegistry(t *testing.T, cfg Config, client *fakeClient, scanner *fakeScanner, matcher Submitter) (*Registry, *store.Store, *eventSink) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewMemoryEventBus(events.MemoryBusConfig{})
	t.Cleanup(func() { bus.Close() })

	sink := &eventSink{}
	_, err = bus.Subscribe("*", sink.record)
	require.NoError(t, err)

	if matcher == nil {
		matcher = &fakeMatcher{}
	}
	reg := New(cfg, []TmuxClient{client}, scanner, matcher,
		status.NewClassifier(status.Config{}), st, bus)
	return reg, st, sink
}

func TestTickCreatesSessionOnce(t *testing.T) {
	client := &fakeClient{windows: []tmux.Window{testWindow("agentboard:1", "work")}}
	scanner := &fakeScanner{records: []logscan.Record{{
		LogPath:          "/logs/a.jsonl",
		SessionID:        "sess-1",
		ProjectPath:      "/home/user/proj",
		AgentType:        store.AgentClaude,
		LastActivityAt:   time.Now(),
		LastUserMessage:  "fix the tests",
		LastKnownLogSize: 100,
	}}}

	reg, st, sink := newTestRegistry(t, Config{BaseSession: "agentboard"}, client, scanner, nil)

	ctx := context.Background()
	reg.tick(ctx)
	reg.tick(ctx)

	created := sink.ofType(events.EventSessionCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "sess-1", created[0].SessionID)

	sess, err := st.SessionByID("sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "proj", sess.DisplayName)
	assert.Equal(t, "fix the tests", *sess.LastUserMessage)
}

func TestSubagentLogsAreNotPersisted(t *testing.T) {
	client := &fakeClient{}
	scanner := &fakeScanner{records: []logscan.Record{{
		LogPath:         "/logs/sub.jsonl",
		SessionID:       "sub-1",
		AgentType:       store.AgentCodex,
		LastActivityAt:  time.Now(),
		IsCodexSubagent: true,
	}}}

	reg, st, sink := newTestRegistry(t, Config{}, client, scanner, nil)
	reg.tick(context.Background())

	sess, err := st.SessionByID("sub-1")
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Empty(t, sink.ofType(events.EventSessionCreated))
}

func TestPairingCorrelatesWindow(t *testing.T) {
	client := &fakeClient{windows: []tmux.Window{testWindow("agentboard:1", "claude")}}
	scanner := &fakeScanner{records: []logscan.Record{{
		LogPath:          "/logs/a.jsonl",
		SessionID:        "sess-1",
		ProjectPath:      "/proj",
		AgentType:        store.AgentClaude,
		LastActivityAt:   time.Now(),
		LastKnownLogSize: 10,
	}}}
	matcher := &fakeMatcher{pairings: map[string]string{"/logs/a.jsonl": "agentboard:1"}}

	reg, st, _ := newTestRegistry(t, Config{}, client, scanner, matcher)
	reg.tick(context.Background())

	sess, err := st.SessionByWindow("agentboard:1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "sess-1", sess.SessionID)

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 1)
	require.NotNil(t, snapshot[0].Agent)
	assert.Equal(t, "sess-1", snapshot[0].Agent.SessionID)
}

func TestWindowHasAtMostOneSession(t *testing.T) {
	client := &fakeClient{windows: []tmux.Window{testWindow("agentboard:1", "claude")}}
	now := time.Now()
	scanner := &fakeScanner{records: []logscan.Record{
		{LogPath: "/logs/a.jsonl", SessionID: "sess-a", AgentType: store.AgentClaude, LastActivityAt: now, LastKnownLogSize: 10},
		{LogPath: "/logs/b.jsonl", SessionID: "sess-b", AgentType: store.AgentClaude, LastActivityAt: now, LastKnownLogSize: 10},
	}}
	matcher := &fakeMatcher{pairings: map[string]string{"/logs/a.jsonl": "agentboard:1"}}

	reg, st, sink := newTestRegistry(t, Config{}, client, scanner, matcher)
	ctx := context.Background()
	reg.tick(ctx)

	// The matcher changes its mind: the other log owns the window now
	matcher.pairings = map[string]string{"/logs/b.jsonl": "agentboard:1"}
	reg.tick(ctx)

	holder, err := st.SessionByWindow("agentboard:1")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "sess-b", holder.SessionID)

	orphanedA, err := st.SessionByID("sess-a")
	require.NoError(t, err)
	require.NotNil(t, orphanedA)
	assert.Nil(t, orphanedA.CurrentWindow)

	assert.NotEmpty(t, sink.ofType(events.EventSessionOrphaned))
}

func TestWindowLossOrphansAndRemoves(t *testing.T) {
	client := &fakeClient{windows: []tmux.Window{testWindow("agentboard:1", "claude")}}
	scanner := &fakeScanner{records: []logscan.Record{{
		LogPath:          "/logs/a.jsonl",
		SessionID:        "sess-1",
		AgentType:        store.AgentClaude,
		LastActivityAt:   time.Now(),
		LastKnownLogSize: 10,
	}}}
	matcher := &fakeMatcher{pairings: map[string]string{"/logs/a.jsonl": "agentboard:1"}}

	cfg := Config{FreshActivityWindow: time.Nanosecond}
	reg, st, sink := newTestRegistry(t, cfg, client, scanner, matcher)

	ctx := context.Background()
	reg.tick(ctx)

	// Window closes; the log stops growing
	client.windows = nil
	matcher.pairings = nil
	time.Sleep(time.Millisecond)
	reg.tick(ctx)

	sess, err := st.SessionByID("sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Nil(t, sess.CurrentWindow)

	assert.NotEmpty(t, sink.ofType(events.EventSessionOrphaned))
	assert.NotEmpty(t, sink.ofType(events.EventSessionRemoved))
	assert.Empty(t, reg.Snapshot())
}

func TestPinnedSessionIsNotRemoved(t *testing.T) {
	client := &fakeClient{windows: []tmux.Window{testWindow("agentboard:1", "claude")}}
	scanner := &fakeScanner{records: []logscan.Record{{
		LogPath:          "/logs/a.jsonl",
		SessionID:        "sess-1",
		AgentType:        store.AgentClaude,
		LastActivityAt:   time.Now(),
		LastKnownLogSize: 10,
	}}}
	matcher := &fakeMatcher{pairings: map[string]string{"/logs/a.jsonl": "agentboard:1"}}

	cfg := Config{FreshActivityWindow: time.Nanosecond}
	reg, st, sink := newTestRegistry(t, cfg, client, scanner, matcher)

	ctx := context.Background()
	reg.tick(ctx)
	require.NoError(t, st.SetPinned("sess-1", true))

	client.windows = nil
	matcher.pairings = nil
	time.Sleep(time.Millisecond)
	reg.tick(ctx)

	assert.NotEmpty(t, sink.ofType(events.EventSessionOrphaned))
	assert.Empty(t, sink.ofType(events.EventSessionRemoved))
}

func TestCollectWindowsFiltersSessions(t *testing.T) {
	client := &fakeClient{windows: []tmux.Window{
		testWindow("agentboard:1", "managed"),
		testWindow("agentboard-ws-ab12cd34:1", "helper"),
		testWindow("dev-api:0", "discovered"),
		testWindow("personal:0", "unrelated"),
	}}
	scanner := &fakeScanner{}

	cfg := Config{BaseSession: "agentboard", DiscoveryPrefixes: []string{"dev-"}}
	reg, _, _ := newTestRegistry(t, cfg, client, scanner, nil)
	reg.tick(context.Background())

	snapshot := reg.Snapshot()
	targets := make(map[string]tmux.WindowSource, len(snapshot))
	for _, s := range snapshot {
		targets[s.TmuxTarget] = s.Source
	}
	assert.Equal(t, map[string]tmux.WindowSource{
		"agentboard:1": tmux.SourceManaged,
		"dev-api:0":    tmux.SourceExternal,
	}, targets)
}

func TestWindowDiffEvents(t *testing.T) {
	client := &fakeClient{windows: []tmux.Window{testWindow("agentboard:1", "alpha")}}
	scanner := &fakeScanner{}
	reg, _, sink := newTestRegistry(t, Config{}, client, scanner, nil)

	ctx := context.Background()
	reg.tick(ctx)
	require.Len(t, sink.ofType(events.EventWindowAdded), 1)

	renamed := testWindow("agentboard:1", "beta")
	client.windows = []tmux.Window{renamed, testWindow("agentboard:2", "gamma")}
	reg.tick(ctx)
	assert.Len(t, sink.ofType(events.EventWindowAdded), 2)
	assert.Len(t, sink.ofType(events.EventWindowRenamed), 1)

	client.windows = nil
	reg.tick(ctx)
	assert.Len(t, sink.ofType(events.EventWindowRemoved), 2)
}

func TestRenamedLogAdoptsExistingSession(t *testing.T) {
	client := &fakeClient{}
	scanner := &fakeScanner{records: []logscan.Record{{
		LogPath:          "/logs/old.jsonl",
		SessionID:        "sess-1",
		AgentType:        store.AgentCodex,
		LastActivityAt:   time.Now(),
		LastKnownLogSize: 10,
	}}}

	reg, st, sink := newTestRegistry(t, Config{}, client, scanner, nil)
	ctx := context.Background()
	reg.tick(ctx)

	// The agent rewrote its log under a new path on resume
	scanner.records[0].LogPath = "/logs/new.jsonl"
	reg.tick(ctx)

	sess, err := st.SessionByID("sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "/logs/new.jsonl", sess.LogFilePath)

	// Still the same session: created fired once
	assert.Len(t, sink.ofType(events.EventSessionCreated), 1)
}

func TestReappearedWindowActivatesOrphan(t *testing.T) {
	client := &fakeClient{windows: []tmux.Window{testWindow("agentboard:1", "claude")}}
	scanner := &fakeScanner{records: []logscan.Record{{
		LogPath:          "/logs/a.jsonl",
		SessionID:        "sess-1",
		AgentType:        store.AgentClaude,
		LastActivityAt:   time.Now(),
		LastKnownLogSize: 10,
	}}}
	matcher := &fakeMatcher{pairings: map[string]string{"/logs/a.jsonl": "agentboard:1"}}

	cfg := Config{FreshActivityWindow: time.Nanosecond}
	reg, _, sink := newTestRegistry(t, cfg, client, scanner, matcher)

	ctx := context.Background()
	reg.tick(ctx)
	// The very first correlation is also a windowless-to-window transition
	require.Len(t, sink.ofType(events.EventSessionActivated), 1)

	// Window dies, session orphans
	client.windows = nil
	matcher.pairings = nil
	time.Sleep(time.Millisecond)
	reg.tick(ctx)
	require.NotEmpty(t, sink.ofType(events.EventSessionOrphaned))

	// Same log gets a fresh window
	client.windows = []tmux.Window{testWindow("agentboard:7", "claude")}
	matcher.pairings = map[string]string{"/logs/a.jsonl": "agentboard:7"}
	reg.tick(ctx)

	activated := sink.ofType(events.EventSessionActivated)
	require.Len(t, activated, 2)
	assert.Equal(t, "sess-1", activated[1].SessionID)
	assert.Equal(t, "agentboard:7", activated[1].Payload["target"])
}

func TestRenameSessionRenamesCorrelatedWindow(t *testing.T) {
	client := &fakeClient{windows: []tmux.Window{testWindow("agentboard:1", "claude")}}
	now := time.Now()
	scanner := &fakeScanner{records: []logscan.Record{
		{LogPath: "/logs/a.jsonl", SessionID: "sess-a", ProjectPath: "/proj-a", AgentType: store.AgentClaude, LastActivityAt: now, LastKnownLogSize: 10},
		{LogPath: "/logs/b.jsonl", SessionID: "sess-b", ProjectPath: "/proj-b", AgentType: store.AgentClaude, LastActivityAt: now, LastKnownLogSize: 10},
	}}
	matcher := &fakeMatcher{pairings: map[string]string{"/logs/a.jsonl": "agentboard:1"}}

	reg, st, _ := newTestRegistry(t, Config{}, client, scanner, matcher)
	ctx := context.Background()
	reg.tick(ctx)

	// Colliding with another session's display name is rejected
	err := reg.RenameSession(ctx, "sess-a", "proj-b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in use")

	require.NoError(t, reg.RenameSession(ctx, "sess-a", "api-work"))

	sess, err := st.SessionByID("sess-a")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "api-work", sess.DisplayName)
	assert.Equal(t, []string{"agentboard:1=api-work"}, client.renames)

	// A windowless session renames without touching tmux
	require.NoError(t, reg.RenameSession(ctx, "sess-b", "other-work"))
	assert.Len(t, client.renames, 1)

	err = reg.RenameSession(ctx, "missing", "x")
	require.Error(t, err)
}

func TestDisabledMatcherLeavesSessionsUncorrelated(t *testing.T) {
	client := &fakeClient{windows: []tmux.Window{testWindow("agentboard:1", "claude")}}
	scanner := &fakeScanner{records: []logscan.Record{{
		LogPath:          "/logs/a.jsonl",
		SessionID:        "sess-1",
		AgentType:        store.AgentClaude,
		LastActivityAt:   time.Now(),
		LastKnownLogSize: 10,
	}}}

	st, err := store.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{})
	t.Cleanup(func() { bus.Close() })

	reg := New(Config{}, []TmuxClient{client}, scanner, nil,
		status.NewClassifier(status.Config{}), st, bus)
	reg.tick(context.Background())

	// The row still lands in the store; it just never gains a window
	sess, err := st.SessionByID("sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Nil(t, sess.CurrentWindow)

	holder, err := st.SessionByWindow("agentboard:1")
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestLogScanIntervalThrottlesScans(t *testing.T) {
	client := &fakeClient{}
	scanner := &fakeScanner{records: []logscan.Record{{
		LogPath:          "/logs/a.jsonl",
		SessionID:        "sess-1",
		AgentType:        store.AgentClaude,
		LastActivityAt:   time.Now(),
		LastKnownLogSize: 10,
	}}}

	cfg := Config{LogScanInterval: time.Hour}
	reg, st, _ := newTestRegistry(t, cfg, client, scanner, nil)

	ctx := context.Background()
	reg.tick(ctx)

	// A new log shows up, but the scan interval has not elapsed
	scanner.records = append(scanner.records, logscan.Record{
		LogPath:          "/logs/b.jsonl",
		SessionID:        "sess-2",
		AgentType:        store.AgentClaude,
		LastActivityAt:   time.Now(),
		LastKnownLogSize: 10,
	})
	reg.tick(ctx)

	sess, err := st.SessionByID("sess-2")
	require.NoError(t, err)
	assert.Nil(t, sess)

	// A forced refresh scans regardless of the interval
	reg.scanNow = true
	reg.tick(ctx)

	sess, err = st.SessionByID("sess-2")
	require.NoError(t, err)
	assert.NotNil(t, sess)
}

func TestCreateAndKillWindow(t *testing.T) {
	client := &fakeClient{}
	reg, _, _ := newTestRegistry(t, Config{BaseSession: "agentboard"}, client, &fakeScanner{}, nil)

	ctx := context.Background()
	target, err := reg.CreateWindow(ctx, "/proj", "claude", "claude --continue")
	require.NoError(t, err)
	assert.Equal(t, "agentboard:9", target)

	require.NoError(t, reg.KillWindow(ctx, "agentboard:9"))
	assert.Equal(t, []string{"agentboard:9"}, client.killed)
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package e2e exercises the REST surface end to end: real router, real
// store, real log parsing, accessed through the public client library.
package e2e

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagoefreitas/agentboard/internal/api"
	"github.com/tiagoefreitas/agentboard/internal/registry"
	"github.com/tiagoefreitas/agentboard/internal/store"
	"github.com/tiagoefreitas/agentboard/pkg/client"
)

type staticRegistry struct {
	sessions []registry.Session
}

func (s *staticRegistry) Snapshot() []registry.Session { return s.sessions }

type recordingSetter struct {
	mu      sync.Mutex
	options map[string]string
}

func (r *recordingSetter) SetOption(ctx context.Context, session, name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.options == nil {
		r.options = make(map[string]string)
	}
	r.options[session+"/"+name] = value
	return nil
}

type testEnv struct {
	client *client.Client
	store  *store.Store
	setter *recordingSetter
}

func newTestEnv(t *testing.T, reg *staticRegistry) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "agentboard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	setter := &recordingSetter{}
	router := api.NewRouter(api.ServerConfig{Port: 0}, api.Dependencies{
		Registry:    reg,
		Store:       st,
		Settings:    st,
		Tmux:        setter,
		BaseSession: "agentboard",
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{client: client.New(srv.URL), store: st, setter: setter}
}

// writeClaudeLog writes a minimal Claude projects JSONL file.
func writeClaudeLog(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "session.jsonl")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestHealthAndServerInfo(t *testing.T) {
	env := newTestEnv(t, &staticRegistry{})
	ctx := context.Background()

	ok, err := env.client.System.Health(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := env.client.System.ServerInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http", info.Protocol)
}

func TestSessionListRoundTrip(t *testing.T) {
	reg := &staticRegistry{sessions: []registry.Session{
		{
			TmuxTarget:  "agentboard:1",
			WindowName:  "claude",
			SessionName: "agentboard",
			Status:      "working",
		},
		{
			TmuxTarget:  "main:2",
			WindowName:  "codex",
			SessionName: "main",
			Host:        "devbox",
			Status:      "idle",
		},
	}}
	env := newTestEnv(t, reg)

	sessions, err := env.client.Sessions.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "agentboard:1", sessions[0].TmuxTarget)
	assert.Equal(t, "working", sessions[0].Status)
	assert.Equal(t, "devbox", sessions[1].Host)
}

func TestSessionPreviewRoundTrip(t *testing.T) {
	env := newTestEnv(t, &staticRegistry{})

	logPath := writeClaudeLog(t, t.TempDir(),
		`{"type":"user","sessionId":"e2e-1","cwd":"/tmp","message":{"role":"user","content":"fix the bug"}}`,
		`{"type":"assistant","sessionId":"e2e-1","message":{"role":"assistant","content":[{"type":"text","text":"done"}]}}`,
	)
	require.NoError(t, env.store.InsertSession(&store.AgentSession{
		SessionID:      "e2e-1",
		LogFilePath:    logPath,
		ProjectPath:    "/tmp",
		AgentType:      store.AgentClaude,
		DisplayName:    "e2e",
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}))

	preview, err := env.client.Sessions.Preview(context.Background(), "e2e-1")
	require.NoError(t, err)
	require.Len(t, preview.Lines, 2)
	assert.Equal(t, "user", preview.Lines[0].Role)
	assert.Equal(t, "fix the bug", preview.Lines[0].Text)
	assert.Equal(t, "assistant", preview.Lines[1].Role)
}

func TestSessionPreviewUnknown(t *testing.T) {
	env := newTestEnv(t, &staticRegistry{})

	_, err := env.client.Sessions.Preview(context.Background(), "nope")
	require.Error(t, err)

	apiErr, ok := err.(*client.APIError)
	require.True(t, ok)
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestDirectoriesRoundTrip(t *testing.T) {
	env := newTestEnv(t, &staticRegistry{})

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "projects"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".config"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))

	listing, err := env.client.Directories.List(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, listing.Directories, 2)
	// Dot directories sort first, files are excluded
	assert.Equal(t, ".config", listing.Directories[0].Name)
	assert.Equal(t, "projects", listing.Directories[1].Name)
	assert.False(t, listing.Truncated)
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t, &staticRegistry{})
	ctx := context.Background()

	// Defaults
	mouse, err := env.client.Settings.MouseMode(ctx)
	require.NoError(t, err)
	assert.False(t, mouse)

	hours, err := env.client.Settings.InactiveMaxAge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 48, hours)

	// Writes persist through the store and reach tmux
	require.NoError(t, env.client.Settings.SetMouseMode(ctx, true))
	mouse, err = env.client.Settings.MouseMode(ctx)
	require.NoError(t, err)
	assert.True(t, mouse)

	env.setter.mu.Lock()
	assert.Equal(t, "on", env.setter.options["agentboard/mouse"])
	env.setter.mu.Unlock()

	require.NoError(t, env.client.Settings.SetInactiveMaxAge(ctx, 72))
	hours, err = env.client.Settings.InactiveMaxAge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 72, hours)

	// Out of range is rejected and does not overwrite
	err = env.client.Settings.SetInactiveMaxAge(ctx, 10000)
	require.Error(t, err)
	apiErr, ok := err.(*client.APIError)
	require.True(t, ok)
	assert.Equal(t, "invalid_hours", apiErr.Code)

	hours, err = env.client.Settings.InactiveMaxAge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 72, hours)
}

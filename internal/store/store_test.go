// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agentboard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(sessionID string) *AgentSession {
	now := time.Now().UTC().Truncate(time.Second)
	return &AgentSession{
		SessionID:      sessionID,
		LogFilePath:    "/home/user/.claude/projects/p/" + sessionID + ".jsonl",
		ProjectPath:    "/home/user/project",
		AgentType:      AgentClaude,
		DisplayName:    "session " + sessionID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func TestInsertAndGetSession(t *testing.T) {
	s := openTestStore(t)

	sess := newTestSession("abc-123")
	require.NoError(t, s.InsertSession(sess))
	assert.NotZero(t, sess.ID)

	got, err := s.SessionByID("abc-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.SessionID, got.SessionID)
	assert.Equal(t, sess.LogFilePath, got.LogFilePath)
	assert.Equal(t, AgentClaude, got.AgentType)
	assert.Nil(t, got.CurrentWindow)
	assert.False(t, got.IsPinned)

	byPath, err := s.SessionByLogPath(sess.LogFilePath)
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, "abc-123", byPath.SessionID)

	missing, err := s.SessionByID("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertDuplicateSessionID(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.InsertSession(newTestSession("dup")))
	err := s.InsertSession(newTestSession("dup"))
	assert.Error(t, err)
}

func TestUpdateSessionPatch(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertSession(newTestSession("u1")))

	window := "agentboard:3"
	msg := "fix the login bug"
	size := int64(4096)
	require.NoError(t, s.UpdateSession("u1", Patch{
		CurrentWindow:    &window,
		SetCurrentWindow: true,
		LastUserMessage:  &msg,
		LastKnownLogSize: &size,
	}))

	got, err := s.SessionByID("u1")
	require.NoError(t, err)
	require.NotNil(t, got.CurrentWindow)
	assert.Equal(t, "agentboard:3", *got.CurrentWindow)
	require.NotNil(t, got.LastUserMessage)
	assert.Equal(t, "fix the login bug", *got.LastUserMessage)
	require.NotNil(t, got.LastKnownLogSize)
	assert.Equal(t, int64(4096), *got.LastKnownLogSize)

	// Empty patch is a no-op, not an error.
	require.NoError(t, s.UpdateSession("u1", Patch{}))

	byWindow, err := s.SessionByWindow("agentboard:3")
	require.NoError(t, err)
	require.NotNil(t, byWindow)
	assert.Equal(t, "u1", byWindow.SessionID)
}

func TestOrphanSession(t *testing.T) {
	s := openTestStore(t)
	sess := newTestSession("o1")
	window := "agentboard:1"
	sess.CurrentWindow = &window
	require.NoError(t, s.InsertSession(sess))

	require.NoError(t, s.OrphanSession("o1"))

	got, err := s.SessionByID("o1")
	require.NoError(t, err)
	assert.Nil(t, got.CurrentWindow)
}

func TestActiveAndInactiveSessions(t *testing.T) {
	s := openTestStore(t)

	active := newTestSession("active")
	window := "agentboard:0"
	active.CurrentWindow = &window
	require.NoError(t, s.InsertSession(active))

	recent := newTestSession("recent")
	require.NoError(t, s.InsertSession(recent))

	old := newTestSession("old")
	old.LogFilePath = "/tmp/old.jsonl"
	old.LastActivityAt = time.Now().UTC().Add(-72 * time.Hour)
	require.NoError(t, s.InsertSession(old))

	got, err := s.ActiveSessions()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "active", got[0].SessionID)

	inactive, err := s.InactiveSessions(24 * time.Hour)
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, "recent", inactive[0].SessionID)

	all, err := s.InactiveSessions(0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPinnedOrphaned(t *testing.T) {
	s := openTestStore(t)

	pinned := newTestSession("pinned")
	require.NoError(t, s.InsertSession(pinned))
	require.NoError(t, s.SetPinned("pinned", true))

	unpinned := newTestSession("unpinned")
	unpinned.LogFilePath = "/tmp/unpinned.jsonl"
	require.NoError(t, s.InsertSession(unpinned))

	got, err := s.PinnedOrphaned()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pinned", got[0].SessionID)
	assert.True(t, got[0].IsPinned)
}

func TestDisplayNameExists(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertSession(newTestSession("d1")))

	exists, err := s.DisplayNameExists("session d1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.DisplayNameExists("no such name")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAppSettings(t *testing.T) {
	s := openTestStore(t)

	v, err := s.AppSetting("mouse_mode")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, s.SetAppSetting("mouse_mode", "on"))
	require.NoError(t, s.SetAppSetting("mouse_mode", "off"))

	v, err = s.AppSetting("mouse_mode")
	require.NoError(t, err)
	assert.Equal(t, "off", v)
}

// TestMigrateLegacySchema seeds a database in the old shape, with a
// session_source column, a synthetic row, and no last_user_message, then
// verifies migration preserves the real row.
func TestMigrateLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE agent_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			log_file_path TEXT NOT NULL UNIQUE,
			project_path TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			display_name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_activity_at TEXT NOT NULL,
			current_window TEXT,
			is_pinned INTEGER NOT NULL DEFAULT 0,
			session_source TEXT
		);
		INSERT INTO agent_sessions
			(session_id, log_file_path, project_path, agent_type, display_name,
			 created_at, last_activity_at, session_source)
		VALUES
			('real', '/logs/real.jsonl', '/p', 'claude', 'real one',
			 '2026-01-02T03:04:05Z', '2026-01-02T03:04:05Z', 'log'),
			('fake', '/logs/fake.jsonl', '/p', 'claude', 'fake one',
			 '2026-01-02T03:04:05Z', '2026-01-02T03:04:05Z', 'synthetic');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	real, err := s.SessionByID("real")
	require.NoError(t, err)
	require.NotNil(t, real)
	assert.Equal(t, "real one", real.DisplayName)
	assert.Nil(t, real.LastUserMessage)

	fake, err := s.SessionByID("fake")
	require.NoError(t, err)
	assert.Nil(t, fake)

	// New columns are writable after migration.
	msg := "hello"
	require.NoError(t, s.UpdateSession("real", Patch{LastUserMessage: &msg}))
	real, err = s.SessionByID("real")
	require.NoError(t, err)
	require.NotNil(t, real.LastUserMessage)
	assert.Equal(t, "hello", *real.LastUserMessage)
}

// TestMigrateTwice verifies migrations are idempotent across reopens.
func TestMigrateTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.InsertSession(newTestSession("keep")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.SessionByID("keep")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

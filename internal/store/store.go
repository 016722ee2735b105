// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store persists agent-session metadata and app settings in an
// embedded SQLite database. One serialized writer mutates; readers may run
// concurrently.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// AgentType identifies which CLI owns a session log.
type AgentType string

const (
	AgentClaude AgentType = "claude"
	AgentCodex  AgentType = "codex"
)

// AgentSession is one persisted row of the agent_sessions table.
type AgentSession struct {
	ID               int64     `json:"-"`
	SessionID        string    `json:"sessionId"`
	LogFilePath      string    `json:"logFilePath"`
	ProjectPath      string    `json:"projectPath"`
	AgentType        AgentType `json:"agentType"`
	DisplayName      string    `json:"displayName"`
	CreatedAt        time.Time `json:"createdAt"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
	CurrentWindow    *string   `json:"currentWindow"`
	IsPinned         bool      `json:"isPinned"`
	LastUserMessage  *string   `json:"lastUserMessage"`
	LastResumeError  *string   `json:"lastResumeError"`
	LastKnownLogSize *int64    `json:"lastKnownLogSize"`
	IsCodexExec      bool      `json:"isCodexExec"`
}

// Patch carries the fields UpdateSession should change. Nil means leave as is.
type Patch struct {
	ProjectPath      *string
	DisplayName      *string
	LastActivityAt   *time.Time
	CurrentWindow    *string
	SetCurrentWindow bool // distinguishes "set to nil" from "unchanged"
	LastUserMessage  *string
	LastResumeError  *string
	SetResumeError   bool
	LastKnownLogSize *int64
	IsCodexExec      *bool
}

// Store wraps the SQLite handle. Mutations hold mu so migrations and writes
// never interleave.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertSession inserts a new agent session row.
func (s *Store) InsertSession(sess *AgentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO agent_sessions
			(session_id, log_file_path, project_path, agent_type, display_name,
			 created_at, last_activity_at, current_window, is_pinned,
			 last_user_message, last_resume_error, last_known_log_size, is_codex_exec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.SessionID, sess.LogFilePath, sess.ProjectPath, string(sess.AgentType),
		sess.DisplayName,
		sess.CreatedAt.UTC().Format(time.RFC3339),
		sess.LastActivityAt.UTC().Format(time.RFC3339),
		sess.CurrentWindow, boolToInt(sess.IsPinned),
		sess.LastUserMessage, sess.LastResumeError, sess.LastKnownLogSize,
		boolToInt(sess.IsCodexExec))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	sess.ID, _ = res.LastInsertId()
	return nil
}

// SessionByID retrieves a session by its opaque sessionId. Missing rows
// return (nil, nil).
func (s *Store) SessionByID(sessionID string) (*AgentSession, error) {
	return s.querySession(`WHERE session_id = ?`, sessionID)
}

// SessionByLogPath retrieves a session by its log file path.
func (s *Store) SessionByLogPath(logPath string) (*AgentSession, error) {
	return s.querySession(`WHERE log_file_path = ?`, logPath)
}

// SessionByWindow retrieves the session currently correlated to a tmux target.
func (s *Store) SessionByWindow(target string) (*AgentSession, error) {
	return s.querySession(`WHERE current_window = ?`, target)
}

// UpdateSession applies a patch to one session row.
func (s *Store) UpdateSession(sessionID string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := []string{}
	args := []any{}
	add := func(col string, v any) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}

	if p.ProjectPath != nil {
		add("project_path", *p.ProjectPath)
	}
	if p.DisplayName != nil {
		add("display_name", *p.DisplayName)
	}
	if p.LastActivityAt != nil {
		add("last_activity_at", p.LastActivityAt.UTC().Format(time.RFC3339))
	}
	if p.SetCurrentWindow {
		add("current_window", p.CurrentWindow)
	}
	if p.LastUserMessage != nil {
		add("last_user_message", *p.LastUserMessage)
	}
	if p.SetResumeError {
		add("last_resume_error", p.LastResumeError)
	}
	if p.LastKnownLogSize != nil {
		add("last_known_log_size", *p.LastKnownLogSize)
	}
	if p.IsCodexExec != nil {
		add("is_codex_exec", boolToInt(*p.IsCodexExec))
	}
	if len(set) == 0 {
		return nil
	}

	query := "UPDATE agent_sessions SET " + strings.Join(set, ", ") + " WHERE session_id = ?"
	args = append(args, sessionID)
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("update session %s: %w", sessionID, err)
	}
	return nil
}

// RebindLogPath points a session at a new log file. Agents that rewrite
// their log on resume keep the same sessionId under a fresh path.
func (s *Store) RebindLogPath(sessionID, logPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE agent_sessions SET log_file_path = ? WHERE session_id = ?`,
		logPath, sessionID)
	if err != nil {
		return fmt.Errorf("rebind log path %s: %w", sessionID, err)
	}
	return nil
}

// OrphanSession clears the session's window association atomically.
func (s *Store) OrphanSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE agent_sessions SET current_window = NULL WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("orphan session %s: %w", sessionID, err)
	}
	return nil
}

// SetPinned sets the pinned flag.
func (s *Store) SetPinned(sessionID string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE agent_sessions SET is_pinned = ? WHERE session_id = ?`,
		boolToInt(pinned), sessionID)
	if err != nil {
		return fmt.Errorf("set pinned %s: %w", sessionID, err)
	}
	return nil
}

// DisplayNameExists reports whether any session already uses name.
func (s *Store) DisplayNameExists(name string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM agent_sessions WHERE display_name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("display name exists: %w", err)
	}
	return n > 0, nil
}

// ActiveSessions returns sessions with a window association, most recent
// activity first.
func (s *Store) ActiveSessions() ([]AgentSession, error) {
	return s.querySessions(`WHERE current_window IS NOT NULL ORDER BY last_activity_at DESC`)
}

// InactiveSessions returns windowless sessions no older than maxAge, most
// recent first. maxAge <= 0 means no age cutoff.
func (s *Store) InactiveSessions(maxAge time.Duration) ([]AgentSession, error) {
	if maxAge <= 0 {
		return s.querySessions(`WHERE current_window IS NULL ORDER BY last_activity_at DESC`)
	}
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)
	return s.querySessions(`WHERE current_window IS NULL AND last_activity_at >= ? ORDER BY last_activity_at DESC`, cutoff)
}

// PinnedOrphaned returns pinned sessions with no window, candidates for
// resurrection at startup.
func (s *Store) PinnedOrphaned() ([]AgentSession, error) {
	return s.querySessions(`WHERE is_pinned = 1 AND current_window IS NULL ORDER BY last_activity_at DESC`)
}

// AppSetting reads one key from app_settings. Missing keys return "".
func (s *Store) AppSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetAppSetting upserts one key in app_settings.
func (s *Store) SetAppSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

const sessionColumns = `id, session_id, log_file_path, project_path, agent_type,
	display_name, created_at, last_activity_at, current_window, is_pinned,
	last_user_message, last_resume_error, last_known_log_size, is_codex_exec`

func (s *Store) querySession(where string, args ...any) (*AgentSession, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM agent_sessions `+where, args...)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

func (s *Store) querySessions(where string, args ...any) ([]AgentSession, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM agent_sessions `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []AgentSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*AgentSession, error) {
	var sess AgentSession
	var agentType, createdAt, lastActivityAt string
	var currentWindow, lastUserMessage, lastResumeError sql.NullString
	var lastKnownLogSize sql.NullInt64
	var pinned, codexExec int

	err := row.Scan(&sess.ID, &sess.SessionID, &sess.LogFilePath, &sess.ProjectPath,
		&agentType, &sess.DisplayName, &createdAt, &lastActivityAt,
		&currentWindow, &pinned, &lastUserMessage, &lastResumeError,
		&lastKnownLogSize, &codexExec)
	if err != nil {
		return nil, err
	}

	sess.AgentType = AgentType(agentType)
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sess.LastActivityAt, _ = time.Parse(time.RFC3339, lastActivityAt)
	sess.IsPinned = pinned == 1
	sess.IsCodexExec = codexExec == 1
	if currentWindow.Valid {
		v := currentWindow.String
		sess.CurrentWindow = &v
	}
	if lastUserMessage.Valid {
		v := lastUserMessage.String
		sess.LastUserMessage = &v
	}
	if lastResumeError.Valid {
		v := lastResumeError.String
		sess.LastResumeError = &v
	}
	if lastKnownLogSize.Valid {
		v := lastKnownLogSize.Int64
		sess.LastKnownLogSize = &v
	}
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package resume relaunches inactive agent sessions in fresh tmux windows
// and waits for the reborn log to correlate before acknowledging.
package resume

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/tiagoefreitas/agentboard/internal/events"
	"github.com/tiagoefreitas/agentboard/internal/store"
)

// Error codes returned to the client.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyActive = "ALREADY_ACTIVE"
	CodeResumeFailed  = "RESUME_FAILED"
)

// Error is a resume failure with a wire-visible code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// WindowLauncher is the slice of the registry the manager needs.
type WindowLauncher interface {
	CreateWindow(ctx context.Context, workdir, name, command string) (string, error)
	KillWindow(ctx context.Context, target string) error
	Refresh()
}

// Config holds the resume command templates and correlation wait bounds.
type Config struct {
	ClaudeResumeCmd string        // default "claude --resume {sessionId}"
	CodexResumeCmd  string        // default "codex resume {sessionId}"
	WaitTimeout     time.Duration // how long to wait for correlation, default 8s
	PollInterval    time.Duration // store re-check cadence, default 250ms
}

func (c *Config) fillDefaults() {
	if c.ClaudeResumeCmd == "" {
		c.ClaudeResumeCmd = "claude --resume {sessionId}"
	}
	if c.CodexResumeCmd == "" {
		c.CodexResumeCmd = "codex resume {sessionId}"
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 8 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
}

// Manager runs the resume pipeline.
type Manager struct {
	cfg      Config
	launcher WindowLauncher
	st       *store.Store
	bus      events.EventBus
}

// NewManager creates a resume manager.
func NewManager(cfg Config, launcher WindowLauncher, st *store.Store, bus events.EventBus) *Manager {
	cfg.fillDefaults()
	return &Manager{cfg: cfg, launcher: launcher, st: st, bus: bus}
}

// Resume relaunches sessionID in a new managed window. It returns the
// re-correlated session, or an *Error carrying NOT_FOUND, ALREADY_ACTIVE, or
// RESUME_FAILED.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*store.AgentSession, error) {
	sess, err := m.st.SessionByID(sessionID)
	if err != nil {
		return nil, &Error{Code: CodeResumeFailed, Message: err.Error()}
	}
	if sess == nil {
		return nil, &Error{Code: CodeNotFound, Message: "no such session: " + sessionID}
	}
	if sess.CurrentWindow != nil {
		return nil, &Error{Code: CodeAlreadyActive, Message: "session already has window " + *sess.CurrentWindow}
	}

	command := m.resumeCommand(sess)
	target, err := m.launcher.CreateWindow(ctx, sess.ProjectPath, sess.DisplayName, command)
	if err != nil {
		m.recordFailure(sessionID, err.Error())
		return nil, &Error{Code: CodeResumeFailed, Message: err.Error()}
	}

	resumed, err := m.awaitCorrelation(ctx, sessionID)
	if err != nil {
		m.recordFailure(sessionID, err.Error())
		// Half-born: the window launched but never correlated. Orphan the
		// row and close the window so it cannot shadow a later attempt.
		if oerr := m.st.OrphanSession(sessionID); oerr != nil {
			log.Printf("resume: orphan %s: %v", sessionID, oerr)
		}
		if kerr := m.launcher.KillWindow(ctx, target); kerr != nil {
			log.Printf("resume: kill half-born window %s: %v", target, kerr)
		}
		return nil, &Error{Code: CodeResumeFailed, Message: err.Error()}
	}

	m.clearFailure(sessionID)
	m.publish(ctx, events.Event{
		Type:      events.EventSessionResumed,
		SessionID: sessionID,
		Payload:   map[string]interface{}{"target": target},
	})
	return resumed, nil
}

// ResurrectPinned relaunches every pinned session that lost its window, one
// at a time. Run once at startup. Individual failures are reported over the
// bus and do not stop the pass.
func (m *Manager) ResurrectPinned(ctx context.Context) error {
	pinned, err := m.st.PinnedOrphaned()
	if err != nil {
		return err
	}
	for _, sess := range pinned {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.Resume(ctx, sess.SessionID); err != nil {
			log.Printf("resume: resurrect %s (%s): %v", sess.SessionID, sess.DisplayName, err)
			m.publish(ctx, events.Event{
				Type:      events.EventResurrectionFailed,
				SessionID: sess.SessionID,
				Payload:   map[string]interface{}{"error": err.Error(), "displayName": sess.DisplayName},
			})
		}
	}
	return nil
}

// Kill closes the window of an active session.
func (m *Manager) Kill(ctx context.Context, sessionID string) error {
	sess, err := m.st.SessionByID(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return &Error{Code: CodeNotFound, Message: "no such session: " + sessionID}
	}
	if sess.CurrentWindow == nil {
		return &Error{Code: CodeNotFound, Message: "session has no window"}
	}
	return m.launcher.KillWindow(ctx, *sess.CurrentWindow)
}

func (m *Manager) resumeCommand(sess *store.AgentSession) string {
	template := m.cfg.ClaudeResumeCmd
	if sess.AgentType == store.AgentCodex {
		template = m.cfg.CodexResumeCmd
	}
	return strings.ReplaceAll(template, "{sessionId}", sess.SessionID)
}

// awaitCorrelation polls the store until a matcher pass attaches the session
// to its new window. The agent may rewrite its log on resume; the registry
// rebinds the row by sessionId, so polling by id covers that too.
func (m *Manager) awaitCorrelation(ctx context.Context, sessionID string) (*store.AgentSession, error) {
	deadline := time.Now().Add(m.cfg.WaitTimeout)
	for {
		m.launcher.Refresh()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.cfg.PollInterval):
		}

		sess, err := m.st.SessionByID(sessionID)
		if err != nil {
			return nil, err
		}
		if sess != nil && sess.CurrentWindow != nil {
			return sess, nil
		}
		if time.Now().After(deadline) {
			return nil, &Error{Code: CodeResumeFailed, Message: "window never correlated with the resumed log"}
		}
	}
}

func (m *Manager) recordFailure(sessionID, message string) {
	patch := store.Patch{LastResumeError: &message, SetResumeError: true}
	if err := m.st.UpdateSession(sessionID, patch); err != nil {
		log.Printf("resume: record failure %s: %v", sessionID, err)
	}
}

func (m *Manager) clearFailure(sessionID string) {
	patch := store.Patch{SetResumeError: true}
	if err := m.st.UpdateSession(sessionID, patch); err != nil {
		log.Printf("resume: clear failure %s: %v", sessionID, err)
	}
}

func (m *Manager) publish(ctx context.Context, event events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, event); err != nil {
		log.Printf("resume: publish %s: %v", event.Type, err)
	}
}

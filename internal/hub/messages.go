// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hub

import "github.com/tiagoefreitas/agentboard/internal/store"

// Client to server message types.
const (
	MsgTerminalAttach = "terminal-attach"
	MsgTerminalDetach = "terminal-detach"
	MsgTerminalInput  = "terminal-input"
	MsgTerminalResize = "terminal-resize"
	MsgSessionCreate  = "session-create"
	MsgSessionKill    = "session-kill"
	MsgSessionRename  = "session-rename"
	MsgSessionRefresh = "session-refresh"
	MsgSessionResume  = "session-resume"
	MsgSessionPin     = "session-pin"
	MsgCheckCopyMode  = "tmux-check-copy-mode"
	MsgCancelCopyMode = "tmux-cancel-copy-mode"
)

// Server to client message types.
const (
	MsgSessions           = "sessions"
	MsgSessionUpdate      = "session-update"
	MsgSessionCreated     = "session-created"
	MsgSessionRemoved     = "session-removed"
	MsgSessionOrphaned    = "session-orphaned"
	MsgSessionActivated   = "session-activated"
	MsgResurrectionFailed = "session-resurrection-failed"
	MsgAgentSessions      = "agent-sessions"
	MsgSessionResumeReply = "session-resume-result"
	MsgSessionPinReply    = "session-pin-result"
	MsgTerminalOutput     = "terminal-output"
	MsgTerminalReady      = "terminal-ready"
	MsgTerminalError      = "terminal-error"
	MsgCopyModeStatus     = "tmux-copy-mode-status"
	MsgError              = "error"
	MsgKillFailed         = "kill-failed"
)

// clientMessage is one inbound frame. Fields are a union over all client
// message types; the Type discriminator says which apply.
type clientMessage struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId,omitempty"`
	TmuxTarget  string `json:"tmuxTarget,omitempty"`
	Data        string `json:"data,omitempty"`
	Cols        int    `json:"cols,omitempty"`
	Rows        int    `json:"rows,omitempty"`
	ProjectPath string `json:"projectPath,omitempty"`
	Command     string `json:"command,omitempty"`
	Name        string `json:"name,omitempty"`
	IsPinned    *bool  `json:"isPinned,omitempty"`
}

// serverMessage is one outbound frame.
type serverMessage struct {
	Type       string      `json:"type"`
	SessionID  string      `json:"sessionId,omitempty"`
	TmuxTarget string      `json:"tmuxTarget,omitempty"`
	Data       string      `json:"data,omitempty"`
	Session    interface{} `json:"session,omitempty"`
	Sessions   interface{} `json:"sessions,omitempty"`
	Active     interface{} `json:"active,omitempty"`
	Inactive   interface{} `json:"inactive,omitempty"`
	OK         *bool       `json:"ok,omitempty"`
	InCopyMode *bool       `json:"inCopyMode,omitempty"`
	Message    string      `json:"message,omitempty"`
	Error      *wireError  `json:"error,omitempty"`
}

// wireError is the error shape clients render as a banner.
type wireError struct {
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

// agentSessionsPayload builds the agent-sessions partition message.
func agentSessionsPayload(active, inactive []store.AgentSession) serverMessage {
	if active == nil {
		active = []store.AgentSession{}
	}
	if inactive == nil {
		inactive = []store.AgentSession{}
	}
	return serverMessage{Type: MsgAgentSessions, Active: active, Inactive: inactive}
}

func boolPtr(b bool) *bool { return &b }

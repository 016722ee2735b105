// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import "time"

// Session is one live tmux window in the dashboard view.
type Session struct {
	// TmuxTarget is the "session:window" address of the window.
	TmuxTarget string `json:"tmuxTarget"`

	// WindowName is the tmux window name.
	WindowName string `json:"windowName"`

	// SessionName is the tmux session the window belongs to.
	SessionName string `json:"sessionName"`

	// Host is the SSH host for remote windows, empty for local ones.
	Host string `json:"host,omitempty"`

	// Source reports how the window was discovered ("managed", "discovered",
	// or "remote").
	Source string `json:"source"`

	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`

	// Status is the derived agent status ("working", "waiting_input",
	// "idle", or "unknown").
	Status string `json:"status"`

	// Agent is the paired agent session, if the window hosts one.
	Agent *AgentSession `json:"agent,omitempty"`
}

// AgentSession is a persisted agent CLI session (Claude or Codex).
type AgentSession struct {
	SessionID       string    `json:"sessionId"`
	LogFilePath     string    `json:"logFilePath"`
	ProjectPath     string    `json:"projectPath"`
	AgentType       string    `json:"agentType"`
	DisplayName     string    `json:"displayName"`
	CreatedAt       time.Time `json:"createdAt"`
	LastActivityAt  time.Time `json:"lastActivityAt"`
	CurrentWindow   *string   `json:"currentWindow"`
	IsPinned        bool      `json:"isPinned"`
	LastUserMessage *string   `json:"lastUserMessage"`
	LastResumeError *string   `json:"lastResumeError"`
	IsCodexExec     bool      `json:"isCodexExec"`
}

// PreviewLine is one conversational turn from an agent session log.
type PreviewLine struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`

	Text string `json:"text"`
}

// SessionPreview holds the recent conversation tail for one agent session.
type SessionPreview struct {
	SessionID string        `json:"sessionId"`
	Lines     []PreviewLine `json:"lines"`
}

// ServerInfo describes how to reach the running server.
type ServerInfo struct {
	Port int `json:"port"`

	// TailscaleIP is the server's tailnet address, nil when the host is not
	// on a tailnet.
	TailscaleIP *string `json:"tailscaleIp"`

	// Protocol is "http" or "https".
	Protocol string `json:"protocol"`
}

// DirectoryEntry is one subdirectory in a listing.
type DirectoryEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// DirectoryListing is the result of browsing a directory.
type DirectoryListing struct {
	// Path is the cleaned absolute path that was listed.
	Path string `json:"path"`

	// Parent is the parent directory, empty at the filesystem root.
	Parent string `json:"parent"`

	Directories []DirectoryEntry `json:"directories"`

	// Truncated reports that the listing was cut off at the server's
	// entry cap.
	Truncated bool `json:"truncated"`
}

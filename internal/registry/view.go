// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"sort"
	"time"

	"github.com/tiagoefreitas/agentboard/internal/status"
	"github.com/tiagoefreitas/agentboard/internal/store"
	"github.com/tiagoefreitas/agentboard/internal/tmux"
)

// Session is the presentation view of one live tmux window, merged at read
// time with its correlated agent session and classified status.
type Session struct {
	TmuxTarget     string              `json:"tmuxTarget"`
	WindowName     string              `json:"windowName"`
	SessionName    string              `json:"sessionName"`
	Host           string              `json:"host,omitempty"`
	Source         tmux.WindowSource   `json:"source"`
	CreatedAt      time.Time           `json:"createdAt"`
	LastActivityAt time.Time           `json:"lastActivityAt"`
	Status         status.Status       `json:"status"`
	Agent          *store.AgentSession `json:"agent,omitempty"`
}

// sessionEqual reports whether two views would render identically.
func sessionEqual(a, b Session) bool {
	if a.TmuxTarget != b.TmuxTarget ||
		a.WindowName != b.WindowName ||
		a.Status != b.Status ||
		!a.LastActivityAt.Equal(b.LastActivityAt) {
		return false
	}
	return agentEqual(a.Agent, b.Agent)
}

func agentEqual(a, b *store.AgentSession) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return a.SessionID == b.SessionID &&
		a.DisplayName == b.DisplayName &&
		a.IsPinned == b.IsPinned &&
		strPtrEqual(a.CurrentWindow, b.CurrentWindow) &&
		strPtrEqual(a.LastUserMessage, b.LastUserMessage) &&
		a.LastActivityAt.Equal(b.LastActivityAt)
}

func strPtrEqual(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

// sortSessions orders a snapshot: most recent activity first, target as the
// stable tiebreak.
func sortSessions(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].LastActivityAt.Equal(sessions[j].LastActivityAt) {
			return sessions[i].LastActivityAt.After(sessions[j].LastActivityAt)
		}
		return sessions[i].TmuxTarget < sessions[j].TmuxTarget
	})
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagoefreitas/agentboard/internal/logscan"
	"github.com/tiagoefreitas/agentboard/internal/store"
	"github.com/tiagoefreitas/agentboard/internal/tmux"
)

func fixedCapture(panes map[string]string) CaptureFunc {
	return func(ctx context.Context, target string, lines int) (string, error) {
		return panes[target], nil
	}
}

func runOnce(t *testing.T, m *Matcher, req Request) Result {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	resp := make(chan Result, 1)
	req.Response = resp
	m.Submit(req)

	select {
	case res := <-resp:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("matcher did not respond")
		return Result{}
	}
}

func TestMatchUncorrelatedWindow(t *testing.T) {
	panes := map[string]string{
		"agentboard:1": "╭───╮\n│ ❯ fix the login bug\n│ ❯ also add a test\n╰───╯\n",
	}
	m := NewMatcher(fixedCapture(panes), Config{})

	res := runOnce(t, m, Request{
		Windows: []tmux.Window{{Target: "agentboard:1", SessionName: "agentboard", Index: 1}},
		Records: []logscan.Record{{
			LogPath:            "/logs/a.jsonl",
			SessionID:          "a",
			AgentType:          store.AgentClaude,
			RecentUserMessages: []string{"fix the login bug", "also add a test"},
		}},
	})

	assert.Equal(t, map[string]string{"/logs/a.jsonl": "agentboard:1"}, res.Pairings)
	assert.Zero(t, res.Skipped)
}

func TestMatchSkipFastPath(t *testing.T) {
	captures := 0
	capture := func(ctx context.Context, target string, lines int) (string, error) {
		captures++
		return "", nil
	}
	m := NewMatcher(capture, Config{})

	res := runOnce(t, m, Request{
		Windows: []tmux.Window{{Target: "agentboard:1"}},
		Known: []KnownSession{{
			SessionID:        "a",
			LogPath:          "/logs/a.jsonl",
			CurrentWindow:    "agentboard:1",
			LastKnownLogSize: 100,
		}},
		Records: []logscan.Record{{
			LogPath:          "/logs/a.jsonl",
			SessionID:        "a",
			LastKnownLogSize: 100, // unchanged
		}},
	})

	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Pairings)
	assert.Zero(t, captures, "fast path must not capture panes")
}

func TestMatchGrownLogKeepsWindow(t *testing.T) {
	m := NewMatcher(fixedCapture(nil), Config{})

	res := runOnce(t, m, Request{
		Windows: []tmux.Window{{Target: "agentboard:1"}},
		Known: []KnownSession{{
			SessionID:        "a",
			LogPath:          "/logs/a.jsonl",
			CurrentWindow:    "agentboard:1",
			LastKnownLogSize: 100,
		}},
		Records: []logscan.Record{{
			LogPath:            "/logs/a.jsonl",
			SessionID:          "a",
			LastKnownLogSize:   250,
			RecentUserMessages: []string{"more work"},
		}},
	})

	assert.Equal(t, map[string]string{"/logs/a.jsonl": "agentboard:1"}, res.Pairings)
	assert.Zero(t, res.Skipped)
}

func TestMatchSubagentNeverCorrelates(t *testing.T) {
	panes := map[string]string{"agentboard:2": "❯ sub task\n"}
	m := NewMatcher(fixedCapture(panes), Config{})

	res := runOnce(t, m, Request{
		Windows: []tmux.Window{{Target: "agentboard:2"}},
		Records: []logscan.Record{{
			LogPath:            "/logs/sub.jsonl",
			SessionID:          "sub",
			IsCodexSubagent:    true,
			RecentUserMessages: []string{"sub task"},
		}},
	})

	assert.Empty(t, res.Pairings)
}

func TestMatchAgentTypeTiebreak(t *testing.T) {
	panes := map[string]string{"agentboard:3": "▌ run the tests\n"}
	m := NewMatcher(fixedCapture(panes), Config{})

	res := runOnce(t, m, Request{
		Windows: []tmux.Window{{Target: "agentboard:3"}},
		Records: []logscan.Record{
			{
				LogPath:            "/logs/claude.jsonl",
				SessionID:          "c1",
				AgentType:          store.AgentClaude,
				RecentUserMessages: []string{"run the tests"},
			},
			{
				LogPath:            "/logs/codex.jsonl",
				SessionID:          "x1",
				AgentType:          store.AgentCodex,
				RecentUserMessages: []string{"run the tests"},
			},
		},
	})

	// The ▌ glyph marks a Codex composer, so the codex log wins the tie.
	assert.Equal(t, map[string]string{"/logs/codex.jsonl": "agentboard:3"}, res.Pairings)
}

func TestSubmitCoalesces(t *testing.T) {
	m := NewMatcher(fixedCapture(nil), Config{})

	// Worker not running: the second submit must replace the first, not block.
	m.Submit(Request{Windows: []tmux.Window{{Target: "old"}}})
	m.Submit(Request{Windows: []tmux.Window{{Target: "new"}}})

	req := <-m.requests
	require.Len(t, req.Windows, 1)
	assert.Equal(t, "new", req.Windows[0].Target)
}

func TestExtractPromptBlocks(t *testing.T) {
	scrollback := "some output\n│ ❯ first prompt\nmore output\n│ ❯ second prompt\n╰──╯\n"
	blocks := ExtractPromptBlocks(scrollback)
	assert.Equal(t, []string{"first prompt", "second prompt"}, blocks.Messages)
	assert.Equal(t, "claude", blocks.AgentHint)

	blocks = ExtractPromptBlocks("▌ codex prompt\n")
	assert.Equal(t, []string{"codex prompt"}, blocks.Messages)
	assert.Equal(t, "codex", blocks.AgentHint)

	blocks = ExtractPromptBlocks("no prompts here\n")
	assert.Empty(t, blocks.Messages)
	assert.Empty(t, blocks.AgentHint)
}

func TestLogMatchesScrollback(t *testing.T) {
	prompts := []string{"alpha", "beta", "gamma"}

	assert.True(t, containsSubsequence(prompts, []string{"alpha", "gamma"}))
	assert.False(t, containsSubsequence(prompts, []string{"gamma", "alpha"}))

	// Scrollback shorter than log history: suffix match still succeeds.
	assert.True(t, logMatchesScrollback([]string{"gamma"}, []string{"alpha", "beta", "gamma"}))
	assert.False(t, logMatchesScrollback([]string{"alpha"}, []string{"alpha", "beta", "gamma"}))

	// Truncated prompt line still matches its logged message.
	assert.True(t, promptMatches("fix the login", "fix the login bug in auth.go"))
}

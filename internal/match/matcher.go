// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package match correlates agent session logs to tmux windows by finding the
// log's recent user prompts in the window's scrollback. It never mutates
// tmux; it only reports associations.
package match

import (
	"context"
	"log"
	"strings"

	"github.com/tiagoefreitas/agentboard/internal/logscan"
	"github.com/tiagoefreitas/agentboard/internal/status"
	"github.com/tiagoefreitas/agentboard/internal/store"
	"github.com/tiagoefreitas/agentboard/internal/tmux"
)

// CaptureFunc captures the last `lines` lines of a pane's scrollback.
type CaptureFunc func(ctx context.Context, target string, lines int) (string, error)

// KnownSession is the matcher's view of an already-tracked session.
type KnownSession struct {
	SessionID        string
	LogPath          string
	CurrentWindow    string // "" when orphaned
	LastKnownLogSize int64
}

// Request is one unit of matching work.
type Request struct {
	Windows  []tmux.Window
	Known    []KnownSession
	Records  []logscan.Record // mtime-desc, as the scanner emits them
	Pinned   map[string]bool  // unused by matching, carried for the registry
	Response chan<- Result    // optional; Results() receives a copy either way
}

// Result reports the pairings of one matching pass.
type Result struct {
	Pairings map[string]string // logPath -> tmux target
	Skipped  int               // fast-path skips
}

// Config tunes the matcher.
type Config struct {
	ScrollbackLines int // capture depth, default 200
}

// Matcher runs matching passes on its own goroutine. Submissions coalesce:
// only the most recent pending request is executed.
type Matcher struct {
	capture CaptureFunc
	cfg     Config

	requests chan Request
	results  chan Result
}

// NewMatcher creates a matcher. Call Run to start its worker.
func NewMatcher(capture CaptureFunc, cfg Config) *Matcher {
	if cfg.ScrollbackLines <= 0 {
		cfg.ScrollbackLines = 200
	}
	return &Matcher{
		capture:  capture,
		cfg:      cfg,
		requests: make(chan Request, 1),
		results:  make(chan Result, 4),
	}
}

// Results delivers one Result per executed pass. Slow consumers lose old
// results, never block the worker.
func (m *Matcher) Results() <-chan Result { return m.results }

// Submit queues a request, replacing any not-yet-started one.
func (m *Matcher) Submit(req Request) {
	for {
		select {
		case m.requests <- req:
			return
		default:
			select {
			case <-m.requests:
			default:
			}
		}
	}
}

// Run executes requests until ctx is done.
func (m *Matcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.requests:
			res := m.matchOnce(ctx, req)
			if req.Response != nil {
				req.Response <- res
			}
			select {
			case m.results <- res:
			default:
				select {
				case <-m.results:
				default:
				}
				select {
				case m.results <- res:
				default:
				}
			}
		}
	}
}

func (m *Matcher) matchOnce(ctx context.Context, req Request) Result {
	res := Result{Pairings: make(map[string]string)}

	knownByWindow := make(map[string]KnownSession, len(req.Known))
	for _, k := range req.Known {
		if k.CurrentWindow != "" {
			knownByWindow[k.CurrentWindow] = k
		}
	}
	recordByPath := make(map[string]logscan.Record, len(req.Records))
	for _, r := range req.Records {
		recordByPath[r.LogPath] = r
	}
	claimedWindows := make(map[string]bool)
	claimedLogs := make(map[string]bool)

	var uncorrelated []tmux.Window
	for _, w := range req.Windows {
		k, ok := knownByWindow[w.Target]
		if !ok {
			uncorrelated = append(uncorrelated, w)
			continue
		}
		rec, seen := recordByPath[k.LogPath]
		if !seen || rec.LastKnownLogSize <= k.LastKnownLogSize {
			// Correlated and the log has not grown: nothing to re-verify
			res.Skipped++
			claimedWindows[w.Target] = true
			claimedLogs[k.LogPath] = true
			continue
		}
		// Grown log keeps its window; record the pairing so the registry
		// refreshes activity without a rematch.
		res.Pairings[k.LogPath] = w.Target
		claimedWindows[w.Target] = true
		claimedLogs[k.LogPath] = true
	}

	for _, w := range uncorrelated {
		if ctx.Err() != nil {
			return res
		}
		scrollback, err := m.capture(ctx, w.Target, m.cfg.ScrollbackLines)
		if err != nil {
			log.Printf("match: capture %s: %v", w.Target, err)
			continue
		}
		blocks := ExtractPromptBlocks(scrollback)
		if len(blocks.Messages) == 0 {
			continue
		}

		best := ""
		for _, rec := range req.Records {
			if claimedLogs[rec.LogPath] || rec.IsCodexSubagent {
				continue
			}
			if len(rec.RecentUserMessages) == 0 {
				continue
			}
			if !logMatchesScrollback(blocks.Messages, rec.RecentUserMessages) {
				continue
			}
			if best == "" {
				best = rec.LogPath
				// Records arrive mtime-desc, so the first agent-type match
				// is also the recency tiebreak.
				if blocks.AgentHint == "" || blocks.AgentHint == string(rec.AgentType) {
					break
				}
				continue
			}
			if blocks.AgentHint != "" && blocks.AgentHint == string(rec.AgentType) {
				best = rec.LogPath
				break
			}
		}
		if best != "" {
			res.Pairings[best] = w.Target
			claimedLogs[best] = true
			claimedWindows[w.Target] = true
		}
	}
	return res
}

// PromptBlocks is the canonical prompt sequence extracted from scrollback.
type PromptBlocks struct {
	Messages  []string // user prompts, oldest first
	AgentHint string   // "claude" or "codex" when the glyphs give it away
}

// ExtractPromptBlocks finds user prompts in scrollback: lines opening with a
// prompt glyph, with continuation lines folded in until the next structural
// break.
func ExtractPromptBlocks(scrollback string) PromptBlocks {
	var blocks PromptBlocks
	clean := status.StripANSI(scrollback)

	claudeCount, codexCount := 0, 0
	for _, line := range strings.Split(clean, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "│"))
		line = strings.TrimSpace(line)

		var msg string
		switch {
		case strings.HasPrefix(line, "❯"):
			msg = strings.TrimSpace(strings.TrimPrefix(line, "❯"))
			claudeCount++
		case strings.HasPrefix(line, "▌"):
			msg = strings.TrimSpace(strings.TrimPrefix(line, "▌"))
			codexCount++
		case strings.HasPrefix(line, "›"):
			msg = strings.TrimSpace(strings.TrimPrefix(line, "›"))
			codexCount++
		default:
			continue
		}
		if msg != "" {
			blocks.Messages = append(blocks.Messages, msg)
		}
	}

	switch {
	case claudeCount > 0 && codexCount == 0:
		blocks.AgentHint = string(store.AgentClaude)
	case codexCount > 0 && claudeCount == 0:
		blocks.AgentHint = string(store.AgentCodex)
	}
	return blocks
}

// logMatchesScrollback reports whether the log's trailing user messages
// appear in the scrollback prompts in order. Scrollback may be shorter than
// the log's history, so progressively shorter suffixes are tried; the final
// user message must always be present.
func logMatchesScrollback(prompts, recent []string) bool {
	for start := 0; start < len(recent); start++ {
		if containsSubsequence(prompts, recent[start:]) {
			return true
		}
	}
	return false
}

// containsSubsequence reports whether needles appear in haystack in order.
// Matching is prefix-tolerant: a scrollback prompt line may truncate the
// logged message.
func containsSubsequence(haystack, needles []string) bool {
	i := 0
	for _, h := range haystack {
		if i >= len(needles) {
			break
		}
		if promptMatches(h, needles[i]) {
			i++
		}
	}
	return i == len(needles)
}

func promptMatches(shown, logged string) bool {
	shown = strings.TrimSpace(shown)
	logged = strings.TrimSpace(logged)
	if shown == "" || logged == "" {
		return false
	}
	if strings.HasPrefix(logged, shown) || strings.HasPrefix(shown, logged) {
		return true
	}
	return false
}

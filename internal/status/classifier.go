// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package status classifies what an agent window is doing from its scrollback
// and log activity.
package status

import (
	"regexp"
	"strings"
	"time"
)

// Status is the classified activity of one agent window.
type Status string

const (
	StatusPermission Status = "permission"
	StatusWorking    Status = "working"
	StatusWaiting    Status = "waiting"
	StatusUnknown    Status = "unknown"
)

// Config holds the growth windows. Zero values take the defaults.
type Config struct {
	WorkingWindow time.Duration // log growth within this means working; default 3s
	IdleWindow    time.Duration // log idle beyond this allows waiting; default 5s
	TailLines     int           // scrollback lines inspected; default 30
}

// Classifier applies the rules top-down: permission, working, waiting,
// unknown.
type Classifier struct {
	cfg Config
}

// NewClassifier creates a classifier with defaults filled in.
func NewClassifier(cfg Config) *Classifier {
	if cfg.WorkingWindow <= 0 {
		cfg.WorkingWindow = 3 * time.Second
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = 5 * time.Second
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = 30
	}
	return &Classifier{cfg: cfg}
}

// permissionPatterns are the prompts Claude and Codex print when blocked on
// user approval.
var permissionPatterns = []string{
	"Do you want to",
	"Would you like to",
	"Allow ?",
	"Allow command?",
	"Permission required",
}

// workingPatterns show up while the agent is mid-turn.
var workingPatterns = []string{
	"esc to interrupt",
	"Esc to interrupt",
	"ctrl+c to interrupt",
	"Thinking",
	"Working",
}

// promptGlyphs end an idle input line. "❯" is Claude's prompt, "▌" and ">"
// appear in Codex's composer.
var promptGlyphs = []string{"❯", "▌", "›", "> "}

var ansiPattern = regexp.MustCompile(`\x1b(\[[0-9;?]*[a-zA-Z]|\][^\x07\x1b]*(\x07|\x1b\\)|[()][0-9A-B])`)

// Classify evaluates the rules against the window's scrollback tail and the
// time the session log last grew.
func (c *Classifier) Classify(scrollback string, lastLogGrowth, now time.Time) Status {
	tail := tailLines(StripANSI(scrollback), c.cfg.TailLines)

	for _, p := range permissionPatterns {
		if strings.Contains(tail, p) {
			return StatusPermission
		}
	}

	logGrew := !lastLogGrowth.IsZero() && now.Sub(lastLogGrowth) < c.cfg.WorkingWindow
	if logGrew {
		return StatusWorking
	}
	for _, p := range workingPatterns {
		if strings.Contains(tail, p) {
			return StatusWorking
		}
	}

	logIdle := lastLogGrowth.IsZero() || now.Sub(lastLogGrowth) >= c.cfg.IdleWindow
	if logIdle && endsAtPrompt(tail) {
		return StatusWaiting
	}

	return StatusUnknown
}

// StripANSI removes escape sequences so pattern matching sees plain text.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// endsAtPrompt reports whether the last non-blank line starts with a prompt
// glyph and carries no trailing activity.
func endsAtPrompt(tail string) bool {
	lines := strings.Split(tail, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		for _, glyph := range promptGlyphs {
			if strings.HasPrefix(line, strings.TrimSpace(glyph)) {
				return true
			}
		}
		// Box-drawing borders frame the composer; look one line further up
		if strings.HasPrefix(line, "╰") || strings.HasPrefix(line, "╭") || strings.HasPrefix(line, "│") {
			continue
		}
		return false
	}
	return false
}

func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

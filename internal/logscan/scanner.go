// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logscan discovers and parses agent CLI session logs. It is the only
// component that reads the log trees; everything downstream consumes Records.
package logscan

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tiagoefreitas/agentboard/internal/store"
)

// tailBytes bounds how much of a log file the tail parse reads.
const tailBytes = 256 * 1024

// maxRecentUserMessages bounds how many trailing user prompts a Record
// carries for window correlation.
const maxRecentUserMessages = 5

// Record is one enriched log-file observation.
type Record struct {
	LogPath               string
	SessionID             string
	ProjectPath           string
	AgentType             store.AgentType
	LastActivityAt        time.Time // file mtime
	LastUserMessage       string
	RecentUserMessages    []string // oldest first, capped at maxRecentUserMessages
	UserMessageCount      int
	AssistantMessageCount int
	LastKnownLogSize      int64
	IsCodexSubagent       bool
	IsCodexExec           bool
}

// Config holds the two log roots and batch limits.
type Config struct {
	ClaudeDir string // default ~/.claude/projects
	CodexDir  string // default ~/.codex/sessions
	PollMax   int    // files parsed per scan, default 25; values < 1 clamp to 1
	Threads   int    // parallel parse workers, default 2
}

// Scanner lists both log trees and parses the most recently modified files.
type Scanner struct {
	cfg Config
}

// NewScanner creates a scanner. Empty roots default relative to the user home.
func NewScanner(cfg Config) *Scanner {
	home, _ := os.UserHomeDir()
	if cfg.ClaudeDir == "" {
		cfg.ClaudeDir = filepath.Join(home, ".claude", "projects")
	}
	if cfg.CodexDir == "" {
		cfg.CodexDir = filepath.Join(home, ".codex", "sessions")
	}
	if cfg.PollMax < 1 {
		cfg.PollMax = 1
	}
	if cfg.Threads < 1 {
		cfg.Threads = 2
	}
	return &Scanner{cfg: cfg}
}

// Roots returns the configured log roots, for the fsnotify watcher.
func (s *Scanner) Roots() (claudeDir, codexDir string) {
	return s.cfg.ClaudeDir, s.cfg.CodexDir
}

type candidate struct {
	path      string
	agentType store.AgentType
	mtime     time.Time
	size      int64
}

// Scan lists both trees, sorts by mtime descending, and parses up to PollMax
// files across Threads workers. Unparseable files are skipped, not fatal.
// Record order follows the candidate order, newest first.
func (s *Scanner) Scan(ctx context.Context) ([]Record, error) {
	candidates := listTree(s.cfg.ClaudeDir, store.AgentClaude)
	candidates = append(candidates, listTree(s.cfg.CodexDir, store.AgentCodex)...)

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mtime.After(candidates[j].mtime)
	})
	if len(candidates) > s.cfg.PollMax {
		candidates = candidates[:s.cfg.PollMax]
	}

	parsed := make([]*Record, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Threads)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := s.parse(c)
			if err != nil {
				log.Printf("logscan: skipping %s: %v", c.path, err)
				return nil
			}
			parsed[i] = rec
			return nil
		})
	}
	err := g.Wait()

	records := make([]Record, 0, len(parsed))
	for _, rec := range parsed {
		if rec == nil || rec.SessionID == "" {
			continue
		}
		records = append(records, *rec)
	}
	return records, err
}

func (s *Scanner) parse(c candidate) (*Record, error) {
	rec := &Record{
		LogPath:          c.path,
		AgentType:        c.agentType,
		LastActivityAt:   c.mtime,
		LastKnownLogSize: c.size,
	}
	switch c.agentType {
	case store.AgentClaude:
		if err := parseClaudeLog(c.path, rec); err != nil {
			return nil, err
		}
	case store.AgentCodex:
		if err := parseCodexLog(c.path, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// listTree walks one root for .jsonl files. A missing root is not an error.
func listTree(root string, agentType store.AgentType) []candidate {
	var candidates []candidate
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		candidates = append(candidates, candidate{
			path:      path,
			agentType: agentType,
			mtime:     info.ModTime(),
			size:      info.Size(),
		})
		return nil
	})
	return candidates
}

// appendRecent keeps the newest maxRecentUserMessages entries, oldest first.
func appendRecent(msgs []string, msg string) []string {
	msgs = append(msgs, msg)
	if len(msgs) > maxRecentUserMessages {
		msgs = msgs[len(msgs)-maxRecentUserMessages:]
	}
	return msgs
}

// readTail returns the last tailBytes of a file, trimmed to whole lines when
// the read starts mid-file.
func readTail(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := info.Size()
	offset := int64(0)
	if size > tailBytes {
		offset = size - tailBytes
	}

	buf := make([]byte, size-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}

	if offset > 0 {
		// Drop the partial first line
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		}
	}
	return buf, nil
}

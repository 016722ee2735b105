// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package logscan

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
)

// codexRecord is one Codex rollout JSONL line. Payload shape depends on Type.
type codexRecord struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// codexSessionMeta is the payload of the leading session_meta line. Source is
// a plain string for interactive/exec sessions and an object for subagents.
type codexSessionMeta struct {
	ID     string          `json:"id"`
	CWD    string          `json:"cwd"`
	Source json.RawMessage `json:"source"`
}

type codexResponseItem struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// parseCodexLog fills rec from a Codex sessions log. The first line is
// session_meta; the rest are response_item and event lines.
func parseCodexLog(path string, rec *Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	if scanner.Scan() {
		var record codexRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err == nil && record.Type == "session_meta" {
			var meta codexSessionMeta
			if err := json.Unmarshal(record.Payload, &meta); err == nil {
				rec.SessionID = meta.ID
				rec.ProjectPath = meta.CWD
				rec.IsCodexSubagent, rec.IsCodexExec = classifyCodexSource(meta.Source)
			}
		}
	}
	f.Close()

	tail, err := readTail(path)
	if err != nil {
		return err
	}

	for _, raw := range bytes.Split(tail, []byte{'\n'}) {
		if len(raw) == 0 {
			continue
		}
		var record codexRecord
		if err := json.Unmarshal(raw, &record); err != nil || record.Type != "response_item" {
			continue
		}
		var item codexResponseItem
		if err := json.Unmarshal(record.Payload, &item); err != nil || item.Type != "message" {
			continue
		}
		switch item.Role {
		case "user":
			if text := codexContentText(item); text != "" {
				rec.LastUserMessage = text
				rec.UserMessageCount++
				rec.RecentUserMessages = appendRecent(rec.RecentUserMessages, text)
			}
		case "assistant":
			rec.AssistantMessageCount++
		}
	}
	return nil
}

func codexContentText(item codexResponseItem) string {
	for _, block := range item.Content {
		switch block.Type {
		case "input_text", "output_text", "text":
			if text := cleanUserText(block.Text); text != "" {
				return text
			}
		}
	}
	return ""
}

// classifyCodexSource decodes session_meta.source, which is either a plain
// string ("cli", "exec", ...) or an object like {"subagent":{...}}.
func classifyCodexSource(source json.RawMessage) (subagent, exec bool) {
	if len(source) == 0 {
		return false, false
	}

	var s string
	if err := json.Unmarshal(source, &s); err == nil {
		return false, s == "exec"
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(source, &obj); err == nil {
		_, hasSubagent := obj["subagent"]
		return hasSubagent, false
	}
	return false, false
}

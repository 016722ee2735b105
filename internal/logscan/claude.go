// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package logscan

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"strings"
)

// headScanLines bounds how far into a file the head parse looks for session
// identity. Claude logs can open with summary lines that carry no sessionId.
const headScanLines = 20

// claudeLine is one permissively parsed Claude JSONL record.
type claudeLine struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	CWD       string         `json:"cwd"`
	Message   *claudeMessage `json:"message"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// parseClaudeLog fills rec from the head and tail of a Claude projects log.
func parseClaudeLog(path string, rec *Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for i := 0; i < headScanLines && scanner.Scan(); i++ {
		var line claudeLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if rec.SessionID == "" && line.SessionID != "" {
			rec.SessionID = line.SessionID
		}
		if rec.ProjectPath == "" && line.CWD != "" {
			rec.ProjectPath = line.CWD
		}
		if rec.SessionID != "" && rec.ProjectPath != "" {
			break
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
		var line claudeLine
		if err := json.Unmarshal(raw, &line); err != nil {
			continue
		}
		switch line.Type {
		case "user":
			if msg := claudeContentText(line.Message); msg != "" {
				rec.LastUserMessage = msg
				rec.UserMessageCount++
				rec.RecentUserMessages = appendRecent(rec.RecentUserMessages, msg)
			}
		case "assistant":
			rec.AssistantMessageCount++
		}
		// Tail lines can carry identity the head scan missed on truncated files
		if rec.SessionID == "" && line.SessionID != "" {
			rec.SessionID = line.SessionID
		}
		if rec.ProjectPath == "" && line.CWD != "" {
			rec.ProjectPath = line.CWD
		}
	}
	return nil
}

// claudeContentText extracts the user-visible text from message.content,
// which is either a plain string or an array of typed blocks.
func claudeContentText(msg *claudeMessage) string {
	if msg == nil || len(msg.Content) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		return cleanUserText(text)
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return ""
	}
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			return cleanUserText(b.Text)
		}
	}
	return ""
}

// cleanUserText drops tool-result noise and system interjections so the
// session list shows the prompt a human actually typed.
func cleanUserText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "<") || strings.HasPrefix(text, "[") {
		return ""
	}
	return text
}

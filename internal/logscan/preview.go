// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package logscan

import (
	"bytes"
	"encoding/json"

	"github.com/tiagoefreitas/agentboard/internal/store"
)

// PreviewLine is one conversational turn extracted for the preview pane.
type PreviewLine struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Preview parses the tail of a session log and returns up to limit
// conversational turns, oldest first.
func Preview(path string, agentType store.AgentType, limit int) ([]PreviewLine, error) {
	if limit < 1 {
		limit = 1
	}

	tail, err := readTail(path)
	if err != nil {
		return nil, err
	}

	var lines []PreviewLine
	for _, raw := range bytes.Split(tail, []byte{'\n'}) {
		if len(raw) == 0 {
			continue
		}
		var pl PreviewLine
		var ok bool
		switch agentType {
		case store.AgentCodex:
			pl, ok = previewCodexLine(raw)
		default:
			pl, ok = previewClaudeLine(raw)
		}
		if ok {
			lines = append(lines, pl)
		}
	}

	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}

func previewClaudeLine(raw []byte) (PreviewLine, bool) {
	var line claudeLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return PreviewLine{}, false
	}
	if line.Type != "user" && line.Type != "assistant" {
		return PreviewLine{}, false
	}
	text := claudeContentText(line.Message)
	if text == "" {
		return PreviewLine{}, false
	}
	return PreviewLine{Role: line.Type, Text: text}, true
}

func previewCodexLine(raw []byte) (PreviewLine, bool) {
	var record codexRecord
	if err := json.Unmarshal(raw, &record); err != nil || record.Type != "response_item" {
		return PreviewLine{}, false
	}
	var item codexResponseItem
	if err := json.Unmarshal(record.Payload, &item); err != nil || item.Type != "message" {
		return PreviewLine{}, false
	}
	if item.Role != "user" && item.Role != "assistant" {
		return PreviewLine{}, false
	}
	text := codexContentText(item)
	if text == "" {
		return PreviewLine{}, false
	}
	return PreviewLine{Role: item.Role, Text: text}, true
}

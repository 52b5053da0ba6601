// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/codepilot/internal/util"
)

// =============================================================================
// CHAT EXPORT
// =============================================================================

// Export formats accepted by Export.
const (
	FormatMarkdown = "md"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
)

// Export renders the chat in the named format.
func (c *Chat) Export(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatMarkdown, "markdown":
		return []byte(c.ExportMarkdown()), nil
	case FormatJSON:
		return c.ExportJSON()
	case FormatYAML, "yml":
		return c.ExportYAML()
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// ExportMarkdown renders the chat as Markdown with role labels and times.
func (c *Chat) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + c.Title + "\n\n")
	sb.WriteString("Created: " + millisToTime(c.CreatedAt).Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range c.Messages {
		role := "**User**"
		switch msg.Role {
		case RoleAssistant:
			role = "**Assistant**"
		case RoleSystem:
			role = "**System**"
		}
		sb.WriteString(role + " (" + millisToTime(msg.Timestamp).Format("15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// ExportJSON renders the chat in its persisted JSON shape.
func (c *Chat) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ExportYAML renders the chat as YAML.
func (c *Chat) ExportYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode chat as yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatChatList renders chats as a fixed-width table, marking currentID.
func FormatChatList(chats []Chat, currentID string) string {
	if len(chats) == 0 {
		return "No chats found."
	}

	var sb strings.Builder
	sb.WriteString("  " + formatPadded("ID", 8) + " " + formatPadded("Updated", 16) + " " +
		formatPadded("Msgs", 5) + " Title\n")
	for _, c := range chats {
		marker := "  "
		if c.ID == currentID {
			marker = "* "
		}
		sb.WriteString(marker +
			formatPadded(util.TruncateRunes(c.ID, 8), 8) + " " +
			formatPadded(millisToTime(c.UpdatedAt).Format("2006-01-02 15:04"), 16) + " " +
			formatPadded(strconv.Itoa(len(c.Messages)), 5) + " " +
			util.Ellipsize(c.Title, 50) + "\n")
	}
	return sb.String()
}

// formatPadded pads a string to the specified width with spaces.
func formatPadded(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import "github.com/jeranaias/codepilot/internal/util"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Message is one entry of a transcript. Timestamp is epoch milliseconds.
type Message struct {
	Role      Role   `json:"role" yaml:"role"`
	Content   string `json:"content" yaml:"content"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp"`
}

// Chat is one persisted conversation. Times are epoch milliseconds.
type Chat struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Messages    []Message `json:"messages" yaml:"messages"`
	WorkspaceID string    `json:"workspaceId,omitempty" yaml:"workspace_id,omitempty"`
	CreatedAt   int64     `json:"createdAt" yaml:"created_at"`
	UpdatedAt   int64     `json:"updatedAt" yaml:"updated_at"`

	// CustomTitle is set once the chat is renamed; the title is then no
	// longer derived from the first user message.
	CustomTitle bool `json:"customTitle,omitempty" yaml:"custom_title,omitempty"`
}

// Clone returns a deep copy of c.
func (c *Chat) Clone() Chat {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}

// MessageCount returns the number of messages in the chat.
func (c *Chat) MessageCount() int {
	return len(c.Messages)
}

// Preview returns the first user message, shortened for listings.
func (c *Chat) Preview() string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			return util.Ellipsize(util.FirstLine(msg.Content), 60)
		}
	}
	return ""
}

// hasUserMessage reports whether any user message precedes the append.
func (c *Chat) hasUserMessage() bool {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return true
		}
	}
	return false
}

// TitleMaxRunes is how much of the first user message becomes the title.
const TitleMaxRunes = 30

// titleFromMessage derives a chat title from a first user message.
func titleFromMessage(content string) string {
	return util.Ellipsize(content, TitleMaxRunes)
}

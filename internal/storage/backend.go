// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Backend stores one durable record per chat. Save is a full overwrite.
type Backend interface {
	// LoadAll returns every readable record. Records that cannot be decoded
	// are skipped and reported through the returned skipped count.
	LoadAll() (chats []*Chat, skipped int, err error)
	Save(chat *Chat) error
	// Delete removes the record; a missing record yields ErrChatNotFound.
	Delete(id string) error
	Close() error
}

// Backend kinds accepted by OpenBackend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// OpenBackend opens the backend of the given kind rooted at dir.
func OpenBackend(kind, dir string) (Backend, error) {
	switch strings.ToLower(kind) {
	case "", BackendFile:
		return NewFileBackend(dir)
	case BackendSQLite:
		return OpenSQLiteBackend(filepath.Join(dir, "chats.db"))
	case BackendPebble:
		return OpenPebbleBackend(filepath.Join(dir, "chats.pebble"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

func encodeChat(chat *Chat) ([]byte, error) {
	data, err := json.MarshalIndent(chat, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat %s: %w", chat.ID, err)
	}
	return data, nil
}

func decodeChat(data []byte) (*Chat, error) {
	var chat Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, err
	}
	if chat.ID == "" {
		return nil, fmt.Errorf("chat record has no id")
	}
	return &chat, nil
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrChatNotFound is returned by backends when a record doesn't exist.
// Use errors.Is(err, ErrChatNotFound) to check for this error.
var ErrChatNotFound = &ChatError{Message: "chat not found"}

// ChatError represents a chat storage error.
type ChatError struct {
	Message string
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing chat errors.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

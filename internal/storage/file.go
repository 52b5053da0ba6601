// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/codepilot/internal/util"
)

// FileBackend keeps each chat in <BaseDir>/chats/<id>.json.
type FileBackend struct {
	// Dir is the chats directory itself.
	Dir string
}

// NewFileBackend creates the chats directory under baseDir.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	dir := filepath.Join(baseDir, "chats")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create chats directory: %w", err)
	}
	return &FileBackend{Dir: dir}, nil
}

// LoadAll reads every *.json file in the chats directory.
func (b *FileBackend) LoadAll() ([]*Chat, int, error) {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read chats directory: %w", err)
	}

	var chats []*Chat
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.Dir, entry.Name()))
		if err != nil {
			skipped++
			continue
		}
		chat, err := decodeChat(data)
		if err != nil {
			skipped++
			continue
		}
		chats = append(chats, chat)
	}
	return chats, skipped, nil
}

// Save overwrites the chat's file atomically.
func (b *FileBackend) Save(chat *Chat) error {
	data, err := encodeChat(chat)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(b.filePath(chat.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write chat %s: %w", chat.ID, err)
	}
	return nil
}

// Delete removes the chat's file.
func (b *FileBackend) Delete(id string) error {
	if err := os.Remove(b.filePath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrChatNotFound
		}
		return fmt.Errorf("failed to delete chat %s: %w", id, err)
	}
	return nil
}

// Close is a no-op for files.
func (b *FileBackend) Close() error {
	return nil
}

// filePath returns the file path for a chat ID. Ids are uuids; base name
// keeps a hand-edited id from escaping the directory.
func (b *FileBackend) filePath(id string) string {
	return filepath.Join(b.Dir, filepath.Base(id)+".json")
}

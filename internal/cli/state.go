// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jeranaias/codepilot/internal/config"
	"github.com/jeranaias/codepilot/internal/storage"
	"github.com/jeranaias/codepilot/internal/util"
)

// currentFile keeps the current chat of each workspace between runs.
const currentFile = "current.json"

// currentState maps workspace ids to their current chat id.
type currentState struct {
	path  string
	chats map[string]string
}

func loadCurrentState() *currentState {
	s := &currentState{chats: make(map[string]string)}
	dir, err := config.ConfigDir()
	if err != nil {
		return s
	}
	s.path = filepath.Join(dir, currentFile)
	if data, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(data, &s.chats)
	}
	if s.chats == nil {
		s.chats = make(map[string]string)
	}
	return s
}

// restore makes the workspace's remembered chat current. When there is none
// or it was deleted, the workspace's most recent chat is used if it has one.
func (s *currentState) restore(store *storage.Store, root string) {
	wsID := storage.ResolveWorkspaceID(root)
	if id, ok := s.chats[wsID]; ok && store.SetCurrent(id) {
		return
	}
	if chats := store.ListWorkspace(wsID); len(chats) > 0 {
		store.SetCurrent(chats[0].ID)
	}
}

// save records the store's current chat for the workspace.
func (s *currentState) save(store *storage.Store, root string) error {
	if s.path == "" {
		return nil
	}
	wsID := storage.ResolveWorkspaceID(root)
	id := store.CurrentID()
	if s.chats[wsID] == id {
		return nil
	}
	if id == "" {
		delete(s.chats, wsID)
	} else {
		s.chats[wsID] = id
	}
	data, err := json.MarshalIndent(s.chats, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	return util.AtomicWriteFile(s.path, data, 0600)
}

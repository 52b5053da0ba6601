// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat history per workspace.
//
// The Store keeps every chat in memory, loaded eagerly from a Backend at
// startup, and writes the whole record back on every mutation. It also
// tracks a "current chat" pointer that lives only for the process; on the
// next start FindOrCreateWorkspaceChat re-derives it from the workspace.
//
// # Key Types
//
//   - Store: in-memory chat map plus current pointer, safe for concurrent use
//   - Chat / Message: the persisted transcript shape
//   - Backend: durable record storage, one record per chat
//   - FileBackend: <dir>/chats/<id>.json, atomic writes (default)
//   - SQLiteBackend: one row per chat in a modernc.org/sqlite database
//   - PebbleBackend: one key per chat in a Pebble LSM store
//
// # Usage
//
//	backend, err := storage.OpenBackend("file", dir)
//	store, err := storage.NewStore(backend, storage.Options{Logger: log})
//	id, err := store.FindOrCreateWorkspaceChat(workspaceRoot)
//	store.AppendMessage(id, storage.RoleUser, "Why does this panic?")
//
// Unknown chat ids are not errors: the boolean-returning operations report
// them as false. A failed write is logged and also reported as false; the
// in-memory state keeps the change and is written out again by the next
// successful mutation of that chat.
package storage

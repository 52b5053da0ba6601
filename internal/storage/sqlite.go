// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chats (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL DEFAULT '',
	updated_at   INTEGER NOT NULL,
	data         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_workspace ON chats(workspace_id, updated_at);
`

// SQLiteBackend keeps each chat as one row holding the JSON record.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLiteBackend opens or creates the database at path.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// LoadAll reads every row.
func (b *SQLiteBackend) LoadAll() ([]*Chat, int, error) {
	rows, err := b.db.Query("SELECT data FROM chats")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	skipped := 0
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			skipped++
			continue
		}
		chat, err := decodeChat([]byte(data))
		if err != nil {
			skipped++
			continue
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read chats: %w", err)
	}
	return chats, skipped, nil
}

// Save upserts the chat's row.
func (b *SQLiteBackend) Save(chat *Chat) error {
	data, err := encodeChat(chat)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(`INSERT INTO chats (id, workspace_id, updated_at, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET workspace_id = excluded.workspace_id,
			updated_at = excluded.updated_at, data = excluded.data`,
		chat.ID, chat.WorkspaceID, chat.UpdatedAt, string(data))
	if err != nil {
		return fmt.Errorf("failed to write chat %s: %w", chat.ID, err)
	}
	return nil
}

// Delete removes the chat's row.
func (b *SQLiteBackend) Delete(id string) error {
	res, err := b.db.Exec("DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrChatNotFound
	}
	return nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

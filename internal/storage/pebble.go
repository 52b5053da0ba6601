// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// chatKeyPrefix namespaces chat records in the key space.
const chatKeyPrefix = "chat:"

// PebbleBackend keeps each chat under the key "chat:<id>".
type PebbleBackend struct {
	db *pebble.DB
}

// OpenPebbleBackend opens or creates the store at path.
func OpenPebbleBackend(path string) (*PebbleBackend, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}
	return &PebbleBackend{db: db}, nil
}

func chatKey(id string) []byte {
	return []byte(chatKeyPrefix + id)
}

// prefixUpperBound returns the smallest key greater than every key that
// starts with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// LoadAll iterates the chat key range.
func (b *PebbleBackend) LoadAll() ([]*Chat, int, error) {
	prefix := []byte(chatKeyPrefix)
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var chats []*Chat
	skipped := 0
	for iter.First(); iter.Valid(); iter.Next() {
		// The iterator owns Value's buffer; decodeChat copies out of it.
		chat, err := decodeChat(iter.Value())
		if err != nil {
			skipped++
			continue
		}
		chats = append(chats, chat)
	}
	if err := iter.Error(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate chats: %w", err)
	}
	return chats, skipped, nil
}

// Save writes the chat record with a synced commit.
func (b *PebbleBackend) Save(chat *Chat) error {
	data, err := encodeChat(chat)
	if err != nil {
		return err
	}
	if err := b.db.Set(chatKey(chat.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write chat %s: %w", chat.ID, err)
	}
	return nil
}

// Delete removes the chat record.
func (b *PebbleBackend) Delete(id string) error {
	_, closer, err := b.db.Get(chatKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrChatNotFound
		}
		return fmt.Errorf("failed to read chat %s: %w", id, err)
	}
	closer.Close()

	if err := b.db.Delete(chatKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", id, err)
	}
	return nil
}

// Close flushes and closes the store.
func (b *PebbleBackend) Close() error {
	return b.db.Close()
}

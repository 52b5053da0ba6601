// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/codepilot/internal/logger"
	"github.com/jeranaias/codepilot/internal/util"
)

// =============================================================================
// CHAT STORE
// =============================================================================

// Options configures a Store.
type Options struct {
	// MaxChats limits stored chats; the least recently updated are pruned
	// when a new chat is created (0 = unlimited)
	MaxChats int

	// Logger receives persistence failures. Nil discards them.
	Logger *zap.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is the chat history: every chat in memory, each mirrored to one
// backend record, plus the current chat pointer.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	chats    map[string]*Chat
	current  string
	maxChats int
	log      *zap.Logger
	now      func() time.Time
}

// NewStore loads every record from backend and returns the store. Records
// that cannot be decoded are skipped with a warning.
func NewStore(backend Backend, opts Options) (*Store, error) {
	s := &Store{
		backend:  backend,
		chats:    make(map[string]*Chat),
		maxChats: opts.MaxChats,
		log:      logger.OrNop(opts.Logger),
		now:      opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	chats, skipped, err := backend.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	for _, chat := range chats {
		s.chats[chat.ID] = chat
	}
	if skipped > 0 {
		s.log.Warn("chat_records_skipped", zap.Int("count", skipped))
	}
	s.log.Debug("chat_history_loaded", zap.Int("chats", len(s.chats)))
	return s, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// nowMillis returns the clock in epoch milliseconds.
func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// touch bumps UpdatedAt, never letting it fall below CreatedAt.
func (s *Store) touch(chat *Chat) {
	ts := s.nowMillis()
	if ts < chat.CreatedAt {
		ts = chat.CreatedAt
	}
	chat.UpdatedAt = ts
}

// persist writes chat to the backend. A failure is logged and reported as
// false; the in-memory chat is kept.
func (s *Store) persist(chat *Chat) bool {
	if err := s.backend.Save(chat); err != nil {
		s.log.Error("chat_persist_failed", zap.String("chat", chat.ID), zap.Error(err))
		return false
	}
	return true
}

// =============================================================================
// CREATE / READ
// =============================================================================

// CreateChat starts an empty chat, optionally tagged with workspaceID, and
// makes it current. The chat is kept even if the write fails; the error
// says so.
func (s *Store) CreateChat(workspaceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(workspaceID)
}

func (s *Store) createLocked(workspaceID string) (string, error) {
	now := s.now()
	chat := &Chat{
		ID:          uuid.NewString(),
		Title:       "Chat " + now.Format("2006-01-02 15:04:05"),
		Messages:    []Message{},
		WorkspaceID: workspaceID,
		CreatedAt:   now.UnixMilli(),
		UpdatedAt:   now.UnixMilli(),
	}
	s.chats[chat.ID] = chat
	s.current = chat.ID

	var err error
	if !s.persist(chat) {
		err = fmt.Errorf("chat %s created but not persisted", chat.ID)
	}
	s.pruneLocked()
	return chat.ID, err
}

// pruneLocked deletes the least recently updated chats beyond maxChats. The
// current chat is never pruned.
func (s *Store) pruneLocked() {
	if s.maxChats <= 0 || len(s.chats) <= s.maxChats {
		return
	}
	ordered := s.sortedLocked()
	for i := len(ordered) - 1; i >= 0 && len(s.chats) > s.maxChats; i-- {
		victim := ordered[i]
		if victim.ID == s.current {
			continue
		}
		if err := s.backend.Delete(victim.ID); err != nil && !errors.Is(err, ErrChatNotFound) {
			s.log.Error("chat_prune_failed", zap.String("chat", victim.ID), zap.Error(err))
			continue
		}
		delete(s.chats, victim.ID)
		s.log.Info("chat_pruned", zap.String("chat", victim.ID))
	}
}

// Chat returns a copy of the chat with the given id.
func (s *Store) Chat(id string) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return Chat{}, false
	}
	return chat.Clone(), true
}

// List returns copies of all chats, most recently updated first.
func (s *Store) List() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.sortedLocked())
}

// ListWorkspace returns the chats tagged with workspaceID, in List order.
func (s *Store) ListWorkspace(workspaceID string) []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.workspaceLocked(workspaceID))
}

func (s *Store) workspaceLocked(workspaceID string) []*Chat {
	var out []*Chat
	for _, chat := range s.sortedLocked() {
		if chat.WorkspaceID == workspaceID {
			out = append(out, chat)
		}
	}
	return out
}

// sortedLocked orders chats by UpdatedAt desc, then CreatedAt desc, then id.
func (s *Store) sortedLocked() []*Chat {
	out := make([]*Chat, 0, len(s.chats))
	for _, chat := range s.chats {
		out = append(out, chat)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})
	return out
}

func cloneAll(chats []*Chat) []Chat {
	out := make([]Chat, len(chats))
	for i, chat := range chats {
		out[i] = chat.Clone()
	}
	return out
}

// =============================================================================
// CURRENT CHAT
// =============================================================================

// Current returns a copy of the current chat.
func (s *Store) Current() (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[s.current]
	if !ok {
		return Chat{}, false
	}
	return chat.Clone(), true
}

// CurrentID returns the current chat id, or "".
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrent makes id the current chat. It returns false, leaving current
// unchanged, when id is unknown.
func (s *Store) SetCurrent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return false
	}
	s.current = id
	return true
}

// =============================================================================
// MUTATIONS
// =============================================================================

// AppendMessage appends a message stamped with the current time and writes
// the chat back. The first user message of a chat that was never renamed
// becomes its title. It returns false for an unknown chat or role, and when
// the write fails.
func (s *Store) AppendMessage(chatID string, role Role, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok || !role.Valid() {
		return false
	}

	if role == RoleUser && !chat.CustomTitle && !chat.hasUserMessage() {
		chat.Title = titleFromMessage(content)
	}
	s.touch(chat)
	chat.Messages = append(chat.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: chat.UpdatedAt,
	})
	return s.persist(chat)
}

// RenameChat sets the title and stops it from being derived from messages.
// It returns false for an unknown chat, a blank title or a failed write.
func (s *Store) RenameChat(chatID, title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return false
	}
	chat.Title = title
	chat.CustomTitle = true
	s.touch(chat)
	return s.persist(chat)
}

// DeleteChat removes the chat and its record, clearing current if it was
// the current chat. It returns false for an unknown chat or when the record
// could not be removed, in which case the chat is kept.
func (s *Store) DeleteChat(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return false
	}
	if err := s.backend.Delete(chatID); err != nil && !errors.Is(err, ErrChatNotFound) {
		s.log.Error("chat_delete_failed", zap.String("chat", chatID), zap.Error(err))
		return false
	}

	delete(s.chats, chatID)
	if s.current == chatID {
		s.current = ""
	}
	return true
}

// ClearAll deletes every chat. Chats whose record could not be removed are
// kept and reported in the returned error.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for id := range s.chats {
		if err := s.backend.Delete(id); err != nil && !errors.Is(err, ErrChatNotFound) {
			errs = append(errs, err)
			continue
		}
		delete(s.chats, id)
	}
	if _, ok := s.chats[s.current]; !ok {
		s.current = ""
	}
	if len(errs) > 0 {
		s.log.Error("chat_clear_failed", zap.Int("failed", len(errs)))
		return errors.Join(errs...)
	}
	return nil
}

// =============================================================================
// WORKSPACES
// =============================================================================

// ResolveWorkspaceID maps a workspace root path to a stable opaque id: the
// hex MD5 of the cleaned path. An empty path means no workspace and yields "".
func ResolveWorkspaceID(root string) string {
	if strings.TrimSpace(root) == "" {
		return ""
	}
	sum := md5.Sum([]byte(filepath.Clean(root)))
	return hex.EncodeToString(sum[:])
}

// ResolveWorkspaceID is the Store form of the package function.
func (s *Store) ResolveWorkspaceID(root string) string {
	return ResolveWorkspaceID(root)
}

// FindOrCreateWorkspaceChat makes the most recently updated chat of the
// workspace at root current, creating one if the workspace has none. With
// no workspace (root == "") it always creates an unassociated chat.
func (s *Store) FindOrCreateWorkspaceChat(root string) (string, error) {
	wsID := ResolveWorkspaceID(root)

	s.mu.Lock()
	defer s.mu.Unlock()

	if wsID != "" {
		if existing := s.workspaceLocked(wsID); len(existing) > 0 {
			s.current = existing[0].ID
			return s.current, nil
		}
	}
	return s.createLocked(wsID)
}

// =============================================================================
// SEARCH
// =============================================================================

// SearchResult is one chat matching a search.
type SearchResult struct {
	ChatID    string
	Title     string
	UpdatedAt int64
	// Matches counts matching messages; a title match alone gives 0.
	Matches int
	// Snippet is the first matching message, shortened.
	Snippet string
}

// Search finds chats whose title or messages contain query, ignoring case.
// Results follow List order. An empty query matches nothing.
func (s *Store) Search(query string) []SearchResult {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var results []SearchResult
	for _, chat := range s.sortedLocked() {
		res := SearchResult{ChatID: chat.ID, Title: chat.Title, UpdatedAt: chat.UpdatedAt}
		for _, msg := range chat.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				if res.Matches == 0 {
					res.Snippet = util.Ellipsize(util.FirstLine(msg.Content), 80)
				}
				res.Matches++
			}
		}
		if res.Matches > 0 || strings.Contains(strings.ToLower(chat.Title), query) {
			results = append(results, res)
		}
	}
	return results
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"github.com/jeranaias/codepilot/internal/prompt"
	"github.com/jeranaias/codepilot/internal/storage"
)

// Method names.
const (
	MethodAuth = "auth"

	MethodChatAsk         = "chat.ask"
	MethodChatCodeAction  = "chat.codeAction"
	MethodChatStop        = "chat.stop"
	MethodChatAbort       = "chat.abort"
	MethodChatComplete    = "chat.complete"
	MethodChatContextFile = "chat.setContextFiles"

	MethodHistoryList    = "history.list"
	MethodHistoryGet     = "history.get"
	MethodHistoryCurrent = "history.current"
	MethodHistoryNew     = "history.new"
	MethodHistorySelect  = "history.select"
	MethodHistoryRename  = "history.rename"
	MethodHistoryDelete  = "history.delete"
	MethodHistorySearch  = "history.search"
	MethodHistoryExport  = "history.export"

	MethodModelsList   = "models.list"
	MethodModelsSelect = "models.select"

	MethodTemplatesList   = "templates.list"
	MethodTemplatesSelect = "templates.select"

	// NotifyChatEvent carries stream events to the client.
	NotifyChatEvent = "chat.event"
)

type AuthParams struct {
	Token string `json:"token"`
}

type AskParams struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
	Template string `json:"template,omitempty"`
	NewChat  bool   `json:"newChat,omitempty"`
}

type CodeActionParams struct {
	Action      string `json:"action"`
	Code        string `json:"code"`
	FileContext string `json:"fileContext,omitempty"`
	// FileName is used to describe the file when FileContext is empty.
	FileName string `json:"fileName,omitempty"`
}

type RequestResult struct {
	RequestID string `json:"requestId"`
}

type AbortParams struct {
	RequestID string `json:"requestId"`
}

type CompleteParams struct {
	Prefix   string `json:"prefix"`
	FileName string `json:"fileName"`
}

type CompleteResult struct {
	Completion string `json:"completion"`
}

type ContextFilesParams struct {
	Files []string `json:"files"`
}

type OKResult struct {
	OK bool `json:"ok"`
}

type HistoryListParams struct {
	// Workspace limits the list to chats of the workspace at this root.
	Workspace string `json:"workspace,omitempty"`
}

type ChatSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	WorkspaceID  string `json:"workspaceId,omitempty"`
	MessageCount int    `json:"messageCount"`
	Preview      string `json:"preview"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

func summarize(c storage.Chat) ChatSummary {
	return ChatSummary{
		ID:           c.ID,
		Title:        c.Title,
		WorkspaceID:  c.WorkspaceID,
		MessageCount: c.MessageCount(),
		Preview:      c.Preview(),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type HistoryListResult struct {
	Chats     []ChatSummary `json:"chats"`
	CurrentID string        `json:"currentId,omitempty"`
}

type ChatParams struct {
	ChatID string `json:"chatId"`
}

type NewChatResult struct {
	ChatID string `json:"chatId"`
}

type RenameParams struct {
	ChatID string `json:"chatId"`
	Title  string `json:"title"`
}

type SearchParams struct {
	Query string `json:"query"`
}

type SearchHit struct {
	ChatID    string `json:"chatId"`
	Title     string `json:"title"`
	UpdatedAt int64  `json:"updatedAt"`
	Matches   int    `json:"matches"`
	Snippet   string `json:"snippet"`
}

type ExportParams struct {
	ChatID string `json:"chatId"`
	Format string `json:"format,omitempty"`
}

type ExportResult struct {
	Content string `json:"content"`
}

type ModelsResult struct {
	Models  []string `json:"models"`
	Current string   `json:"current"`
}

type SelectModelParams struct {
	Model string `json:"model"`
}

type TemplatesResult struct {
	Templates []prompt.Template `json:"templates"`
	Current   string            `json:"current"`
}

type SelectTemplateParams struct {
	TemplateID string `json:"templateId"`
}

// ChatEvent is the payload of a chat.event notification. Type is one of
// chunk, end, cancelled or error; Content holds the chunk text or the
// error message.
type ChatEvent struct {
	RequestID string `json:"requestId"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
}

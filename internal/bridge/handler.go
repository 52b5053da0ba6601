// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/jeranaias/codepilot/internal/assistant"
	"github.com/jeranaias/codepilot/internal/session"
	"github.com/jeranaias/codepilot/internal/storage"
	"github.com/jeranaias/codepilot/internal/workspace"
)

var errInvalidParams = errors.New("invalid params")

// rpcHandler handles the calls of one connection.
type rpcHandler struct {
	server    *Server
	assistant *assistant.Assistant
	log       *zap.Logger

	authMu        sync.Mutex
	authenticated bool
}

func (h *rpcHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.log.Debug("rpc_request", zap.String("method", req.Method))

	// Auth must be the first request
	if !h.isAuthenticated() {
		if req.Method != MethodAuth {
			h.replyError(ctx, conn, req, jsonrpc2.CodeInvalidRequest, "first request must be auth")
			conn.Close()
			return
		}
		h.handleAuth(ctx, conn, req)
		return
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodChatAsk:
		result, err = h.chatAsk(ctx, conn, req)
	case MethodChatCodeAction:
		result, err = h.chatCodeAction(ctx, conn, req)
	case MethodChatStop:
		result = OKResult{OK: h.assistant.Stop()}
	case MethodChatAbort:
		result, err = h.chatAbort(req)
	case MethodChatComplete:
		result, err = h.chatComplete(ctx, req)
	case MethodChatContextFile:
		result, err = h.chatContextFiles(req)
	case MethodHistoryList:
		result, err = h.historyList(req)
	case MethodHistoryGet:
		result, err = h.historyGet(req)
	case MethodHistoryCurrent:
		result = h.historyCurrent()
	case MethodHistoryNew:
		result, err = h.historyNew()
	case MethodHistorySelect:
		result, err = h.historySelect(req)
	case MethodHistoryRename:
		result, err = h.historyRename(req)
	case MethodHistoryDelete:
		result, err = h.historyDelete(req)
	case MethodHistorySearch:
		result, err = h.historySearch(req)
	case MethodHistoryExport:
		result, err = h.historyExport(req)
	case MethodModelsList:
		result, err = h.modelsList(ctx)
	case MethodModelsSelect:
		result, err = h.modelsSelect(req)
	case MethodTemplatesList:
		result = h.templatesList()
	case MethodTemplatesSelect:
		result, err = h.templatesSelect(req)
	default:
		h.server.metrics.request("unknown", false)
		h.replyError(ctx, conn, req, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
		return
	}

	h.server.metrics.request(req.Method, err == nil)
	if err != nil {
		code := int64(jsonrpc2.CodeInternalError)
		if errors.Is(err, errInvalidParams) || isClientError(err) {
			code = jsonrpc2.CodeInvalidParams
		}
		h.replyError(ctx, conn, req, code, err.Error())
		return
	}
	if req.Notif {
		return
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("rpc_reply_failed", zap.String("method", req.Method), zap.Error(err))
	}
}

func isClientError(err error) bool {
	for _, target := range []error{
		assistant.ErrEmptyQuestion,
		assistant.ErrEmptyCode,
		assistant.ErrUnknownAction,
		assistant.ErrUnknownTemplate,
		storage.ErrChatNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (h *rpcHandler) isAuthenticated() bool {
	h.authMu.Lock()
	defer h.authMu.Unlock()
	return h.authenticated
}

func (h *rpcHandler) handleAuth(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params AuthParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req, jsonrpc2.CodeInvalidParams, "invalid params")
		conn.Close()
		return
	}

	want := h.server.cfg.Token
	if want != "" && subtle.ConstantTimeCompare([]byte(params.Token), []byte(want)) != 1 {
		h.log.Warn("auth_rejected")
		h.server.metrics.request(MethodAuth, false)
		h.replyError(ctx, conn, req, jsonrpc2.CodeInvalidRequest, "invalid token")
		conn.Close()
		return
	}

	h.authMu.Lock()
	h.authenticated = true
	h.authMu.Unlock()
	h.server.metrics.request(MethodAuth, true)
	h.log.Info("authenticated")

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("rpc_reply_failed", zap.String("method", MethodAuth), zap.Error(err))
	}
}

func (h *rpcHandler) replyError(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, code int64, message string) {
	if req.Notif {
		return
	}
	err := &jsonrpc2.Error{Code: code, Message: message}
	if replyErr := conn.ReplyWithError(ctx, req.ID, err); replyErr != nil {
		h.log.Error("rpc_reply_failed", zap.String("method", req.Method), zap.Error(replyErr))
	}
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return nil
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return errInvalidParams
	}
	return nil
}

// =============================================================================
// CHAT
// =============================================================================

// relay returns a sink that forwards events as chat.event notifications.
func (h *rpcHandler) relay(ctx context.Context, conn *jsonrpc2.Conn) assistant.Sink {
	return func(ev session.Event) {
		payload := ChatEvent{RequestID: ev.RequestID, Type: ev.Kind.String()}
		switch ev.Kind {
		case session.EventChunk:
			payload.Content = ev.Text
		case session.EventError:
			payload.Content = ev.Message()
		}
		if err := conn.Notify(ctx, NotifyChatEvent, payload); err != nil {
			h.log.Debug("notify_failed", zap.String("request_id", ev.RequestID), zap.Error(err))
		}
	}
}

func (h *rpcHandler) chatAsk(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var p AskParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	id, err := h.assistant.Ask(ctx, assistant.AskRequest{
		Question: p.Question,
		Context:  p.Context,
		Template: p.Template,
		NewChat:  p.NewChat,
	}, h.relay(ctx, conn))
	if err != nil {
		return nil, err
	}
	return RequestResult{RequestID: id}, nil
}

func (h *rpcHandler) chatCodeAction(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var p CodeActionParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	action, err := assistant.ParseAction(p.Action)
	if err != nil {
		return nil, err
	}
	fileCtx := p.FileContext
	if fileCtx == "" && p.FileName != "" {
		fileCtx = workspace.Describe(p.FileName, p.Code)
	}
	id, err := h.assistant.CodeAction(ctx, action, p.Code, fileCtx, h.relay(ctx, conn))
	if err != nil {
		return nil, err
	}
	return RequestResult{RequestID: id}, nil
}

func (h *rpcHandler) chatAbort(req *jsonrpc2.Request) (any, error) {
	var p AbortParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	return OKResult{OK: h.assistant.Abort(p.RequestID)}, nil
}

func (h *rpcHandler) chatComplete(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	var p CompleteParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	out, err := h.assistant.Complete(ctx, p.Prefix, p.FileName)
	if err != nil {
		return nil, err
	}
	return CompleteResult{Completion: out}, nil
}

func (h *rpcHandler) chatContextFiles(req *jsonrpc2.Request) (any, error) {
	var p ContextFilesParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	h.assistant.SetContextFiles(p.Files)
	return OKResult{OK: true}, nil
}

// =============================================================================
// HISTORY
// =============================================================================

func (h *rpcHandler) store() *storage.Store {
	return h.assistant.Store()
}

func (h *rpcHandler) historyList(req *jsonrpc2.Request) (any, error) {
	var p HistoryListParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	var chats []storage.Chat
	if p.Workspace != "" {
		chats = h.store().ListWorkspace(storage.ResolveWorkspaceID(p.Workspace))
	} else {
		chats = h.store().List()
	}
	res := HistoryListResult{Chats: make([]ChatSummary, 0, len(chats)), CurrentID: h.assistant.CurrentChatID()}
	for _, c := range chats {
		res.Chats = append(res.Chats, summarize(c))
	}
	return res, nil
}

func (h *rpcHandler) historyGet(req *jsonrpc2.Request) (any, error) {
	var p ChatParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	chat, ok := h.store().Chat(p.ChatID)
	if !ok {
		return nil, storage.ErrChatNotFound
	}
	return chat, nil
}

// historyCurrent returns the connection's current chat, or null when there
// is none.
func (h *rpcHandler) historyCurrent() any {
	chat, ok := h.assistant.CurrentChat()
	if !ok {
		return nil
	}
	return chat
}

func (h *rpcHandler) historyNew() (any, error) {
	id, err := h.assistant.NewChat()
	if err != nil {
		return nil, err
	}
	return NewChatResult{ChatID: id}, nil
}

func (h *rpcHandler) historySelect(req *jsonrpc2.Request) (any, error) {
	var p ChatParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	return OKResult{OK: h.assistant.SelectChat(p.ChatID)}, nil
}

func (h *rpcHandler) historyRename(req *jsonrpc2.Request) (any, error) {
	var p RenameParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	return OKResult{OK: h.store().RenameChat(p.ChatID, p.Title)}, nil
}

func (h *rpcHandler) historyDelete(req *jsonrpc2.Request) (any, error) {
	var p ChatParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	return OKResult{OK: h.store().DeleteChat(p.ChatID)}, nil
}

func (h *rpcHandler) historySearch(req *jsonrpc2.Request) (any, error) {
	var p SearchParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	hits := []SearchHit{}
	for _, r := range h.store().Search(p.Query) {
		hits = append(hits, SearchHit{
			ChatID:    r.ChatID,
			Title:     r.Title,
			UpdatedAt: r.UpdatedAt,
			Matches:   r.Matches,
			Snippet:   r.Snippet,
		})
	}
	return hits, nil
}

func (h *rpcHandler) historyExport(req *jsonrpc2.Request) (any, error) {
	var p ExportParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	chat, ok := h.store().Chat(p.ChatID)
	if !ok {
		return nil, storage.ErrChatNotFound
	}
	data, err := chat.Export(p.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return ExportResult{Content: string(data)}, nil
}

// =============================================================================
// MODELS AND TEMPLATES
// =============================================================================

func (h *rpcHandler) modelsList(ctx context.Context) (any, error) {
	models, err := h.assistant.Models(ctx)
	if err != nil {
		return nil, err
	}
	if models == nil {
		models = []string{}
	}
	return ModelsResult{Models: models, Current: h.assistant.Model()}, nil
}

func (h *rpcHandler) modelsSelect(req *jsonrpc2.Request) (any, error) {
	var p SelectModelParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	if err := h.assistant.SelectModel(p.Model); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return OKResult{OK: true}, nil
}

func (h *rpcHandler) templatesList() any {
	return TemplatesResult{
		Templates: h.assistant.Templates().ChatTemplates(),
		Current:   h.assistant.Template(),
	}
}

func (h *rpcHandler) templatesSelect(req *jsonrpc2.Request) (any, error) {
	var p SelectTemplateParams
	if err := unmarshalParams(req, &p); err != nil {
		return nil, err
	}
	if err := h.assistant.SetTemplate(p.TemplateID); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}

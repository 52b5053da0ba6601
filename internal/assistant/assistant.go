// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/codepilot/internal/logger"
	"github.com/jeranaias/codepilot/internal/ollama"
	"github.com/jeranaias/codepilot/internal/prompt"
	"github.com/jeranaias/codepilot/internal/session"
	"github.com/jeranaias/codepilot/internal/storage"
	"github.com/jeranaias/codepilot/internal/workspace"
)

// Streamer starts and cancels streaming sessions. *session.Manager
// satisfies it.
type Streamer interface {
	Start(ctx context.Context, prompt string, opts session.Options, onEvent func(session.Event)) string
	Abort(id string) bool
	AbortAll()
	Model() string
}

// Backend is the non-streaming side of the model server. *ollama.Client
// satisfies it.
type Backend interface {
	CheckRunning(ctx context.Context) error
	ModelNames(ctx context.Context) ([]string, error)
	Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error)
}

// Sink receives a request's events: chunks in order, then one terminal
// event. It is called from the session goroutine.
type Sink func(session.Event)

// Errors returned by the Assistant.
var (
	ErrEmptyQuestion   = errors.New("question is empty")
	ErrEmptyCode       = errors.New("no code selected")
	ErrUnknownAction   = errors.New("unknown code action")
	ErrUnknownTemplate = errors.New("unknown template")
	ErrNoChat          = errors.New("no chat available")
)

// Config configures an Assistant.
type Config struct {
	// WorkspaceRoot scopes history; "" means no workspace.
	WorkspaceRoot string

	// Template is the initial chat template (default: prompt.DefaultChat).
	Template string

	// Generation holds the default sampling options for chat requests.
	Generation session.Options

	// Cache renders context files. Nil renders without caching.
	Cache *workspace.Cache

	Logger *zap.Logger
}

// Assistant runs chat requests against a single history store. One request
// is active at a time: starting another aborts the previous one. The current
// chat and model are per Assistant, so several can share a store and a
// session manager without steering each other.
type Assistant struct {
	streams   Streamer
	llm       Backend
	store     *storage.Store
	templates *prompt.Registry
	cache     *workspace.Cache
	root      string
	gen       session.Options
	log       *zap.Logger

	mu       sync.Mutex
	template string
	chat     string
	model    string
	active   *request
	files    []string

	completing sync.Mutex
}

// request is the running request. done is closed once its outcome has
// been recorded in the chat.
type request struct {
	id   string
	done chan struct{}
}

// New creates an Assistant.
func New(streams Streamer, llm Backend, store *storage.Store, templates *prompt.Registry, cfg Config) *Assistant {
	if templates == nil {
		templates = prompt.NewRegistry()
	}
	if cfg.Template == "" {
		cfg.Template = prompt.DefaultChat
	}
	return &Assistant{
		streams:   streams,
		llm:       llm,
		store:     store,
		templates: templates,
		cache:     cfg.Cache,
		root:      cfg.WorkspaceRoot,
		gen:       cfg.Generation,
		log:       logger.OrNop(cfg.Logger),
		template:  cfg.Template,
		chat:      store.CurrentID(),
	}
}

// Store returns the history store.
func (a *Assistant) Store() *storage.Store { return a.store }

// Templates returns the template registry.
func (a *Assistant) Templates() *prompt.Registry { return a.templates }

// WorkspaceRoot returns the workspace root the assistant is scoped to.
func (a *Assistant) WorkspaceRoot() string { return a.root }

// =============================================================================
// CHAT REQUESTS
// =============================================================================

// AskRequest is a free-form chat question.
type AskRequest struct {
	Question string
	// Context is extra text placed in the template's {context} slot, ahead
	// of any selected context files.
	Context string
	// Template overrides the selected chat template for this request.
	Template string
	// NewChat starts a fresh chat instead of continuing the current one.
	NewChat bool
}

// Ask records the question in the current chat and streams the answer to
// sink. The completed answer is appended to the chat when the stream ends;
// a cancelled answer keeps whatever text arrived. It returns the request id.
func (a *Assistant) Ask(ctx context.Context, req AskRequest, sink Sink) (string, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	tmpl := req.Template
	if tmpl == "" {
		tmpl = a.Template()
	}
	if _, ok := a.templates.Get(tmpl); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, tmpl)
	}

	if err := a.supersede(ctx); err != nil {
		return "", err
	}
	chatID, err := a.chatFor(req.NewChat)
	if err != nil {
		return "", err
	}
	if !a.store.AppendMessage(chatID, storage.RoleUser, question) {
		a.log.Warn("question_not_recorded", zap.String("chat", chatID))
	}

	text := a.templates.ApplyChat(tmpl, question, a.context(req.Context))
	return a.start(ctx, chatID, text, a.options(), sink), nil
}

// Action is a code action kind.
type Action string

// Code actions.
const (
	ActionExplain  Action = "explain"
	ActionRefactor Action = "refactor"
	ActionDocument Action = "document"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionExplain, ActionRefactor, ActionDocument:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Title is the display name of the action, e.g. "Explain Code".
func (a Action) Title() string {
	if a == "" {
		return ""
	}
	return strings.ToUpper(string(a[:1])) + string(a[1:]) + " Code"
}

func (a Action) template() string {
	switch a {
	case ActionRefactor:
		return prompt.RefactorCode
	case ActionDocument:
		return prompt.DocumentCode
	}
	return prompt.ExplainCode
}

// CodeAction runs an explain, refactor or document action on code.
// fileContext describes the file the code came from. A system message
// naming the action is added to the current chat before streaming.
func (a *Assistant) CodeAction(ctx context.Context, action Action, code, fileContext string, sink Sink) (string, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return "", err
	}
	if strings.TrimSpace(code) == "" {
		return "", ErrEmptyCode
	}

	if err := a.supersede(ctx); err != nil {
		return "", err
	}
	chatID, err := a.chatFor(false)
	if err != nil {
		return "", err
	}
	if !a.store.AppendMessage(chatID, storage.RoleSystem, action.Title()) {
		a.log.Warn("action_not_recorded", zap.String("chat", chatID))
	}

	text := a.templates.ApplyCodeAction(action.template(), fileContext, code)
	return a.start(ctx, chatID, text, a.options(), sink), nil
}

// options returns the generation options with the selected model.
func (a *Assistant) options() session.Options {
	opts := a.gen
	if m := a.selectedModel(); m != "" {
		opts.Model = m
	}
	return opts
}

// chatFor returns the chat a request is recorded in, creating one when
// needed.
func (a *Assistant) chatFor(fresh bool) (string, error) {
	if fresh {
		return a.NewChat()
	}
	if id := a.CurrentChatID(); id != "" {
		return id, nil
	}
	return a.adopt(a.store.FindOrCreateWorkspaceChat(a.root))
}

// adopt makes a newly found or created chat current.
func (a *Assistant) adopt(id string, err error) (string, error) {
	if id == "" {
		if err == nil {
			err = ErrNoChat
		}
		return "", err
	}
	if err != nil {
		// The chat exists in memory; keep going.
		a.log.Warn("chat_not_persisted", zap.String("chat", id), zap.Error(err))
	}
	a.mu.Lock()
	a.chat = id
	a.mu.Unlock()
	return id, nil
}

// =============================================================================
// CURRENT CHAT
// =============================================================================

// CurrentChatID returns the id of this Assistant's current chat, or "" when
// there is none or it was deleted.
func (a *Assistant) CurrentChatID() string {
	a.mu.Lock()
	id := a.chat
	a.mu.Unlock()
	if id == "" {
		return ""
	}
	if _, ok := a.store.Chat(id); !ok {
		return ""
	}
	return id
}

// CurrentChat returns a copy of the current chat.
func (a *Assistant) CurrentChat() (storage.Chat, bool) {
	id := a.CurrentChatID()
	if id == "" {
		return storage.Chat{}, false
	}
	return a.store.Chat(id)
}

// SelectChat makes id the current chat. The store's current chat follows,
// so it is remembered between runs. It returns false for an unknown id.
func (a *Assistant) SelectChat(id string) bool {
	if !a.store.SetCurrent(id) {
		return false
	}
	a.mu.Lock()
	a.chat = id
	a.mu.Unlock()
	return true
}

// NewChat creates a chat in the workspace and makes it current.
func (a *Assistant) NewChat() (string, error) {
	return a.adopt(a.store.CreateChat(storage.ResolveWorkspaceID(a.root)))
}

func (a *Assistant) context(extra string) string {
	a.mu.Lock()
	files := append([]string(nil), a.files...)
	a.mu.Unlock()

	ctx := strings.TrimSpace(extra)
	if len(files) == 0 {
		return ctx
	}

	var fileCtx string
	if a.cache != nil {
		fileCtx = a.cache.FileContext(a.root, files)
	} else {
		fileCtx = workspace.FileContext(a.root, files, workspace.DefaultLimits())
	}
	if ctx == "" {
		return fileCtx
	}
	return ctx + "\n\n" + fileCtx
}

// supersede aborts the running request and waits until its partial answer
// is recorded, so the next message lands after it in the chat.
func (a *Assistant) supersede(ctx context.Context) error {
	a.mu.Lock()
	prev := a.active
	a.mu.Unlock()
	if prev == nil {
		return nil
	}

	a.streams.Abort(prev.id)
	select {
	case <-prev.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start begins a request whose answer is recorded in chatID. A request
// still running at this point (a concurrent Ask) is aborted.
func (a *Assistant) start(ctx context.Context, chatID, text string, opts session.Options, sink Sink) string {
	if sink == nil {
		sink = func(session.Event) {}
	}

	// Held across Start so the terminal handler cannot clear active before
	// it is set.
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		a.streams.Abort(a.active.id)
	}

	req := &request{done: make(chan struct{})}
	var answer strings.Builder
	req.id = a.streams.Start(ctx, text, opts, func(ev session.Event) {
		switch ev.Kind {
		case session.EventChunk:
			answer.WriteString(ev.Text)
		default:
			a.finish(chatID, req, ev, answer.String())
		}
		sink(ev)
	})
	a.active = req
	return req.id
}

// finish records the outcome of req before its terminal event is
// delivered.
func (a *Assistant) finish(chatID string, req *request, ev session.Event, answer string) {
	defer close(req.done)

	a.mu.Lock()
	if a.active == req {
		a.active = nil
	}
	a.mu.Unlock()

	switch ev.Kind {
	case session.EventEnd, session.EventCancelled:
		if answer == "" {
			return
		}
		if !a.store.AppendMessage(chatID, storage.RoleAssistant, answer) {
			a.log.Warn("answer_not_recorded",
				zap.String("chat", chatID),
				zap.String("request_id", ev.RequestID))
		}
	case session.EventError:
		a.log.Warn("request_failed",
			zap.String("request_id", ev.RequestID),
			zap.Error(ev.Err))
	}
}

// Active returns the id of the running request, or "".
func (a *Assistant) Active() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return ""
	}
	return a.active.id
}

// Stop aborts the running request. It returns false when nothing is
// running.
func (a *Assistant) Stop() bool {
	id := a.Active()
	if id == "" {
		return false
	}
	return a.streams.Abort(id)
}

// Abort aborts a specific request by id.
func (a *Assistant) Abort(id string) bool {
	return a.streams.Abort(id)
}

// Close aborts every running request.
func (a *Assistant) Close() {
	a.streams.AbortAll()
}

// =============================================================================
// SETTINGS
// =============================================================================

// Ping checks that the model server is reachable.
func (a *Assistant) Ping(ctx context.Context) error {
	return a.llm.CheckRunning(ctx)
}

// Models lists the models installed on the server.
func (a *Assistant) Models(ctx context.Context) ([]string, error) {
	return a.llm.ModelNames(ctx)
}

// Model returns the model this Assistant's requests use.
func (a *Assistant) Model() string {
	if m := a.selectedModel(); m != "" {
		return m
	}
	return a.streams.Model()
}

// SelectModel switches the model used by this Assistant's later requests.
// Until a model is selected, requests follow the session manager's model.
func (a *Assistant) SelectModel(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("model name is empty")
	}
	a.mu.Lock()
	a.model = name
	a.mu.Unlock()
	a.log.Info("model_selected", zap.String("model", name))
	return nil
}

func (a *Assistant) selectedModel() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// SetTemplate selects the chat template for later requests.
func (a *Assistant) SetTemplate(id string) error {
	t, ok := a.templates.Get(id)
	if !ok || t.IsCodeAction() {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	a.mu.Lock()
	a.template = id
	a.mu.Unlock()
	return nil
}

// Template returns the selected chat template id.
func (a *Assistant) Template() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.template
}

// SetContextFiles replaces the files included as context in chat requests.
func (a *Assistant) SetContextFiles(files []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files = append([]string(nil), files...)
}

// ContextFiles returns the selected context files.
func (a *Assistant) ContextFiles() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.files...)
}

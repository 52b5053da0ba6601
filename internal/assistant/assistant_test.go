// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assistant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codepilot/internal/ollama"
	"github.com/jeranaias/codepilot/internal/prompt"
	"github.com/jeranaias/codepilot/internal/session"
	"github.com/jeranaias/codepilot/internal/storage"
	"github.com/jeranaias/codepilot/internal/workspace"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeLLM serves both the streaming and the one-shot side.
type fakeLLM struct {
	chunks []string
	err    error
	block  bool

	reply  string
	models []string

	mu      sync.Mutex
	prompts []string
	used    []string
	reqs    []ollama.GenerateRequest
}

func (f *fakeLLM) GenerateStream(ctx context.Context, req ollama.GenerateRequest, cb ollama.StreamCallback) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.used = append(f.used, req.Model)
	f.mu.Unlock()

	for _, c := range f.chunks {
		cb(ollama.StreamChunk{Text: c})
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeLLM) CheckRunning(context.Context) error { return f.err }

func (f *fakeLLM) ModelNames(context.Context) ([]string, error) { return f.models, f.err }

func (f *fakeLLM) Generate(_ context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &ollama.GenerateResponse{Model: req.Model, Response: f.reply, Done: true}, nil
}

func (f *fakeLLM) usedModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.used...)
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[len(f.prompts)-1]
}

type fixture struct {
	llm   *fakeLLM
	mgr   *session.Manager
	store *storage.Store
	a     *Assistant
}

func newFixture(t *testing.T, llm *fakeLLM, cfg Config) *fixture {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	store, err := storage.NewStore(backend, storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr := session.NewManager(llm, session.Config{Model: "gemma3:1b"})
	return &fixture{
		llm:   llm,
		mgr:   mgr,
		store: store,
		a:     New(mgr, llm, store, prompt.NewRegistry(), cfg),
	}
}

// recorder is a Sink that collects events.
type recorder struct {
	ch chan session.Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan session.Event, 64)}
}

func (r *recorder) sink(ev session.Event) { r.ch <- ev }

func (r *recorder) next(t *testing.T) session.Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return session.Event{}
	}
}

// terminal reads until the terminal event and returns the chunk text.
func (r *recorder) terminal(t *testing.T) (string, session.Event) {
	t.Helper()
	var text string
	for {
		ev := r.next(t)
		if ev.Kind.Terminal() {
			return text, ev
		}
		text += ev.Text
	}
}

func messages(t *testing.T, store *storage.Store) []storage.Message {
	t.Helper()
	chat, ok := store.Current()
	require.True(t, ok)
	return chat.Messages
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_RecordsQuestionAndAnswer(t *testing.T) {
	f := newFixture(t, &fakeLLM{chunks: []string{"Use ", "a map."}}, Config{})
	rec := newRecorder()

	id, err := f.a.Ask(context.Background(), AskRequest{Question: "How do I dedupe a slice?"}, rec.sink)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	text, ev := rec.terminal(t)
	assert.Equal(t, session.EventEnd, ev.Kind)
	assert.Equal(t, id, ev.RequestID)
	assert.Equal(t, "Use a map.", text)

	msgs := messages(t, f.store)
	require.Len(t, msgs, 2)
	assert.Equal(t, storage.RoleUser, msgs[0].Role)
	assert.Equal(t, "How do I dedupe a slice?", msgs[0].Content)
	assert.Equal(t, storage.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Use a map.", msgs[1].Content)

	chat, _ := f.store.Current()
	assert.Equal(t, "How do I dedupe a slice?", chat.Title)
	assert.Empty(t, f.a.Active())

	assert.Contains(t, f.llm.lastPrompt(), "Help me with the following programming task:\n\nHow do I dedupe a slice?")
}

func TestAsk_CancelKeepsPartialAnswer(t *testing.T) {
	f := newFixture(t, &fakeLLM{chunks: []string{"partial"}, block: true}, Config{})
	rec := newRecorder()

	id, err := f.a.Ask(context.Background(), AskRequest{Question: "long question"}, rec.sink)
	require.NoError(t, err)
	require.Equal(t, session.EventChunk, rec.next(t).Kind)
	assert.Equal(t, id, f.a.Active())

	assert.True(t, f.a.Stop())
	_, ev := rec.terminal(t)
	assert.Equal(t, session.EventCancelled, ev.Kind)

	msgs := messages(t, f.store)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.False(t, f.a.Stop(), "nothing left to stop")
}

func TestAsk_ErrorRecordsNoAnswer(t *testing.T) {
	f := newFixture(t, &fakeLLM{err: ollama.ErrNotRunning}, Config{})
	rec := newRecorder()

	_, err := f.a.Ask(context.Background(), AskRequest{Question: "hello"}, rec.sink)
	require.NoError(t, err)
	_, ev := rec.terminal(t)
	assert.Equal(t, session.EventError, ev.Kind)
	assert.True(t, ollama.IsNotRunning(ev.Err))

	assert.Len(t, messages(t, f.store), 1)
}

func TestAsk_NewRequestAbortsPrevious(t *testing.T) {
	f := newFixture(t, &fakeLLM{chunks: []string{"x"}, block: true}, Config{})
	first, second := newRecorder(), newRecorder()

	_, err := f.a.Ask(context.Background(), AskRequest{Question: "one"}, first.sink)
	require.NoError(t, err)
	require.Equal(t, session.EventChunk, first.next(t).Kind)

	id2, err := f.a.Ask(context.Background(), AskRequest{Question: "two"}, second.sink)
	require.NoError(t, err)

	_, ev := first.terminal(t)
	assert.Equal(t, session.EventCancelled, ev.Kind)
	require.Equal(t, session.EventChunk, second.next(t).Kind)
	assert.Equal(t, id2, f.a.Active())

	f.a.Close()
	_, ev = second.terminal(t)
	assert.Equal(t, session.EventCancelled, ev.Kind)
	f.mgr.Wait()
}

func TestAsk_SupersededAnswerKeepsOrder(t *testing.T) {
	f := newFixture(t, &fakeLLM{chunks: []string{"x"}, block: true}, Config{})
	first, second := newRecorder(), newRecorder()

	_, err := f.a.Ask(context.Background(), AskRequest{Question: "one"}, first.sink)
	require.NoError(t, err)
	require.Equal(t, session.EventChunk, first.next(t).Kind)

	_, err = f.a.Ask(context.Background(), AskRequest{Question: "two"}, second.sink)
	require.NoError(t, err)
	require.Equal(t, session.EventChunk, second.next(t).Kind)

	f.a.Close()
	_, ev := second.terminal(t)
	require.Equal(t, session.EventCancelled, ev.Kind)
	f.mgr.Wait()

	var got []string
	for _, m := range messages(t, f.store) {
		got = append(got, string(m.Role)+":"+m.Content)
	}
	assert.Equal(t, []string{"user:one", "assistant:x", "user:two", "assistant:x"}, got)
}

func TestAsk_AssistantsKeepOwnChatAndModel(t *testing.T) {
	f := newFixture(t, &fakeLLM{chunks: []string{"ok"}}, Config{})
	other := New(f.mgr, f.llm, f.store, prompt.NewRegistry(), Config{})

	ask := func(a *Assistant, q string) {
		t.Helper()
		rec := newRecorder()
		_, err := a.Ask(context.Background(), AskRequest{Question: q}, rec.sink)
		require.NoError(t, err)
		_, ev := rec.terminal(t)
		require.Equal(t, session.EventEnd, ev.Kind)
	}

	ask(f.a, "first")
	mine := f.a.CurrentChatID()
	require.NotEmpty(t, mine)

	theirs, err := other.NewChat()
	require.NoError(t, err)
	require.NotEqual(t, mine, theirs)
	require.NoError(t, other.SelectModel("llama3.2"))

	ask(f.a, "second")
	ask(other, "third")
	f.mgr.Wait()

	assert.Equal(t, mine, f.a.CurrentChatID())
	assert.Equal(t, theirs, other.CurrentChatID())
	assert.Equal(t, ollama.DefaultModel, f.a.Model())

	chat, ok := f.store.Chat(mine)
	require.True(t, ok)
	require.Len(t, chat.Messages, 4)
	assert.Equal(t, "second", chat.Messages[2].Content)

	chat, ok = f.store.Chat(theirs)
	require.True(t, ok)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, "third", chat.Messages[0].Content)

	assert.Equal(t, []string{"gemma3:1b", "gemma3:1b", "llama3.2"}, f.llm.usedModels())
}

func TestSelectChat(t *testing.T) {
	f := newFixture(t, &fakeLLM{chunks: []string{"ok"}}, Config{})

	first, err := f.a.NewChat()
	require.NoError(t, err)
	second, err := f.a.NewChat()
	require.NoError(t, err)
	assert.Equal(t, second, f.a.CurrentChatID())

	assert.False(t, f.a.SelectChat("missing"))
	assert.True(t, f.a.SelectChat(first))
	assert.Equal(t, first, f.a.CurrentChatID())
	assert.Equal(t, first, f.store.CurrentID(), "the store remembers the selection")

	require.True(t, f.store.DeleteChat(first))
	assert.Empty(t, f.a.CurrentChatID())
	_, ok := f.a.CurrentChat()
	assert.False(t, ok)
}

func TestAsk_Validation(t *testing.T) {
	f := newFixture(t, &fakeLLM{}, Config{})

	_, err := f.a.Ask(context.Background(), AskRequest{Question: "  "}, nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = f.a.Ask(context.Background(), AskRequest{Question: "q", Template: "nope"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)

	assert.Empty(t, f.store.List(), "rejected requests create no chat")
}

func TestAsk_NewChatAndWorkspace(t *testing.T) {
	root := t.TempDir()
	f := newFixture(t, &fakeLLM{chunks: []string{"ok"}}, Config{WorkspaceRoot: root})

	rec := newRecorder()
	_, err := f.a.Ask(context.Background(), AskRequest{Question: "first"}, rec.sink)
	require.NoError(t, err)
	rec.terminal(t)
	firstID := f.store.CurrentID()

	chat, _ := f.store.Current()
	assert.Equal(t, storage.ResolveWorkspaceID(root), chat.WorkspaceID)

	_, err = f.a.Ask(context.Background(), AskRequest{Question: "second", NewChat: true}, rec.sink)
	require.NoError(t, err)
	rec.terminal(t)

	assert.NotEqual(t, firstID, f.store.CurrentID())
	assert.Len(t, f.store.ListWorkspace(storage.ResolveWorkspaceID(root)), 2)
}

func TestAsk_ContextFilesAndTemplate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	f := newFixture(t, &fakeLLM{}, Config{
		WorkspaceRoot: root,
		Cache:         workspace.NewCache(time.Minute, workspace.DefaultLimits()),
	})
	f.a.SetContextFiles([]string{"main.go"})
	assert.Equal(t, []string{"main.go"}, f.a.ContextFiles())
	require.NoError(t, f.a.SetTemplate(prompt.DebugHelp))

	rec := newRecorder()
	_, err := f.a.Ask(context.Background(), AskRequest{Question: "it panics", Context: "stack trace here"}, rec.sink)
	require.NoError(t, err)
	rec.terminal(t)

	p := f.llm.lastPrompt()
	assert.Contains(t, p, "Help me debug the following issue:\n\nstack trace here\n\nIncluding 1 files as context:")
	assert.Contains(t, p, "--- File: main.go ---")
	assert.Contains(t, p, "The issue I'm facing is:\nit panics")
}

// =============================================================================
// CODE ACTIONS
// =============================================================================

func TestCodeAction(t *testing.T) {
	f := newFixture(t, &fakeLLM{chunks: []string{"It prints."}}, Config{})
	rec := newRecorder()

	_, err := f.a.CodeAction(context.Background(), ActionExplain, "fmt.Println(1)", "File: main.go", rec.sink)
	require.NoError(t, err)
	text, ev := rec.terminal(t)
	assert.Equal(t, session.EventEnd, ev.Kind)
	assert.Equal(t, "It prints.", text)

	p := f.llm.lastPrompt()
	assert.Contains(t, p, "File: main.go")
	assert.Contains(t, p, "Code to explain:\n```\nfmt.Println(1)\n```")

	msgs := messages(t, f.store)
	require.Len(t, msgs, 2)
	assert.Equal(t, storage.RoleSystem, msgs[0].Role)
	assert.Equal(t, "Explain Code", msgs[0].Content)
	assert.Equal(t, "It prints.", msgs[1].Content)
}

func TestCodeAction_Validation(t *testing.T) {
	f := newFixture(t, &fakeLLM{}, Config{})

	_, err := f.a.CodeAction(context.Background(), Action("optimize"), "x", "", nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
	_, err = f.a.CodeAction(context.Background(), ActionDocument, "   ", "", nil)
	assert.ErrorIs(t, err, ErrEmptyCode)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Refactor ")
	require.NoError(t, err)
	assert.Equal(t, ActionRefactor, a)
	assert.Equal(t, "Refactor Code", a.Title())
	assert.Equal(t, prompt.RefactorCode, a.template())

	_, err = ParseAction("")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings(t *testing.T) {
	f := newFixture(t, &fakeLLM{models: []string{"gemma3:1b", "llama3.2"}}, Config{})

	models, err := f.a.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemma3:1b", "llama3.2"}, models)
	assert.NoError(t, f.a.Ping(context.Background()))

	require.NoError(t, f.a.SelectModel("llama3.2"))
	assert.Equal(t, "llama3.2", f.a.Model())
	assert.Equal(t, ollama.DefaultModel, f.mgr.Model())
	assert.Error(t, f.a.SelectModel(" "))

	assert.Equal(t, prompt.DefaultChat, f.a.Template())
	assert.ErrorIs(t, f.a.SetTemplate("nope"), ErrUnknownTemplate)
	assert.ErrorIs(t, f.a.SetTemplate(prompt.ExplainCode), ErrUnknownTemplate, "code actions are not chat templates")
	require.NoError(t, f.a.SetTemplate(prompt.CodeGeneration))
	assert.Equal(t, prompt.CodeGeneration, f.a.Template())
}

func TestPing_NotRunning(t *testing.T) {
	f := newFixture(t, &fakeLLM{err: ollama.ErrNotRunning}, Config{})
	assert.True(t, errors.Is(f.a.Ping(context.Background()), ollama.ErrNotRunning))
}

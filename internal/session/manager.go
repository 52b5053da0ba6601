// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/codepilot/internal/logger"
	"github.com/jeranaias/codepilot/internal/ollama"
)

// Generator streams a completion, calling cb for every chunk in order.
// *ollama.Client satisfies it.
type Generator interface {
	GenerateStream(ctx context.Context, req ollama.GenerateRequest, cb ollama.StreamCallback) error
}

// Options are the per-request generation parameters. Every field is
// optional and passed through unchanged; unset fields fall back to the
// server's defaults.
type Options struct {
	// Model overrides the manager's current model for this request.
	Model       string
	System      string
	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   *int
}

func (o Options) wire() *ollama.Options {
	opts := &ollama.Options{
		Temperature: o.Temperature,
		TopP:        o.TopP,
		TopK:        o.TopK,
		NumPredict:  o.MaxTokens,
	}
	if opts.IsZero() {
		return nil
	}
	return opts
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Config holds configuration for the session manager.
type Config struct {
	// Model is the initial model (default: ollama.DefaultModel)
	Model string

	// Metrics, when set, records session counts.
	Metrics *Metrics

	// Logger receives lifecycle logs. Nil discards them.
	Logger *zap.Logger
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{Model: ollama.DefaultModel}
}

// Manager tracks in-flight streaming sessions by request id.
//
// Each session runs on its own goroutine, which is the only caller of that
// session's event callback. Many sessions may be live at once; callers that
// want one active request at a time abort the previous id themselves.
type Manager struct {
	mu       sync.Mutex
	gen      Generator
	model    string
	sessions map[string]*entry
	seq      uint64

	metrics *Metrics
	log     *zap.Logger
	wg      sync.WaitGroup
}

type entry struct {
	id      string
	cancel  context.CancelFunc
	aborted atomic.Bool
}

// NewManager creates a manager that streams through gen.
func NewManager(gen Generator, cfg Config) *Manager {
	if cfg.Model == "" {
		cfg.Model = ollama.DefaultModel
	}
	return &Manager{
		gen:      gen,
		model:    cfg.Model,
		sessions: make(map[string]*entry),
		metrics:  cfg.Metrics,
		log:      logger.OrNop(cfg.Logger),
	}
}

// SetModel changes the model used by requests that do not name one.
func (m *Manager) SetModel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = name
}

// Model returns the current model.
func (m *Manager) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// =============================================================================
// STARTING SESSIONS
// =============================================================================

// Start begins streaming a completion for prompt and returns its request id
// at once. onEvent receives chunks in order followed by exactly one terminal
// event; it is called from the session's goroutine and must not block for
// long. Cancelling ctx has the same effect as Abort.
func (m *Manager) Start(ctx context.Context, prompt string, opts Options, onEvent func(Event)) string {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	sctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.seq++
	e := &entry{
		id:     fmt.Sprintf("req-%d-%d", time.Now().UnixMilli(), m.seq),
		cancel: cancel,
	}
	m.sessions[e.id] = e
	model := m.model
	m.mu.Unlock()

	if opts.Model != "" {
		model = opts.Model
	}
	req := ollama.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		System:  opts.System,
		Options: opts.wire(),
	}

	m.metrics.sessionStarted()
	m.log.Debug("stream_started",
		zap.String("request_id", e.id),
		zap.String("model", model),
		zap.Int("prompt_len", len(prompt)))

	m.wg.Add(1)
	go m.run(sctx, e, req, onEvent)
	return e.id
}

// Stream is the channel form of Start. The channel yields the session's
// events and is closed after the terminal event. The caller must drain it;
// an unread channel stalls the session.
func (m *Manager) Stream(ctx context.Context, prompt string, opts Options) (string, <-chan Event) {
	ch := make(chan Event, 16)
	id := m.Start(ctx, prompt, opts, func(ev Event) {
		ch <- ev
		if ev.Kind.Terminal() {
			close(ch)
		}
	})
	return id, ch
}

func (m *Manager) run(ctx context.Context, e *entry, req ollama.GenerateRequest, onEvent func(Event)) {
	defer m.wg.Done()

	started := time.Now()
	chunks := 0
	err := m.gen.GenerateStream(ctx, req, func(c ollama.StreamChunk) {
		// Late data after an abort is dropped; the terminal event is next.
		if e.aborted.Load() || ctx.Err() != nil || c.Text == "" {
			return
		}
		chunks++
		m.metrics.chunk()
		onEvent(Event{Kind: EventChunk, RequestID: e.id, Text: c.Text})
	})

	// The outcome is decided after release: an Abort that won the registry
	// race has returned true, so the session must end cancelled.
	owned := m.release(e)
	ev := Event{RequestID: e.id}
	switch {
	case !owned, e.aborted.Load(), errors.Is(err, context.Canceled), ollama.IsCancelled(err):
		ev.Kind = EventCancelled
	case err == nil:
		ev.Kind = EventEnd
	default:
		ev.Kind = EventError
		ev.Err = err
	}

	m.metrics.sessionFinished(ev.Kind)

	fields := []zap.Field{
		zap.String("request_id", e.id),
		zap.String("outcome", ev.Kind.String()),
		zap.Int("chunks", chunks),
		zap.Duration("elapsed", time.Since(started)),
	}
	if ev.Err != nil {
		m.log.Warn("stream_failed", append(fields, zap.Error(ev.Err))...)
	} else {
		m.log.Debug("stream_finished", fields...)
	}

	onEvent(ev)
}

// release drops e from the registry and frees its context. It reports
// whether e was still registered, i.e. not aborted.
func (m *Manager) release(e *entry) bool {
	m.mu.Lock()
	cur, owned := m.sessions[e.id]
	owned = owned && cur == e
	if owned {
		delete(m.sessions, e.id)
	}
	m.mu.Unlock()
	e.cancel()
	return owned
}

// =============================================================================
// CANCELLATION
// =============================================================================

// Abort cancels the session registered under id. It returns false when no
// such session is live, which is not an error. An aborted session ends with
// EventCancelled.
func (m *Manager) Abort(id string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	e.aborted.Store(true)
	e.cancel()
	m.log.Debug("stream_aborted", zap.String("request_id", id))
	return true
}

// AbortAll cancels every live session and clears the registry.
func (m *Manager) AbortAll() {
	m.mu.Lock()
	live := make([]*entry, 0, len(m.sessions))
	for id, e := range m.sessions {
		live = append(live, e)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, e := range live {
		e.aborted.Store(true)
		e.cancel()
	}
	if len(live) > 0 {
		m.log.Info("streams_aborted", zap.Int("count", len(live)))
	}
}

// Active returns the number of registered sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// IsActive reports whether id is a registered session.
func (m *Manager) IsActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// Wait blocks until every session goroutine has delivered its terminal
// event.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt holds the prompt templates used for chat and code actions.
//
// Templates are plain text with {placeholder} markers. Substitution is a
// single pass, so placeholder-looking text inside user code is left alone.
package prompt

import (
	"sort"
	"strings"
	"sync"
)

// Template ids shipped with codepilot.
const (
	ExplainCode    = "explain_code"
	RefactorCode   = "refactor_code"
	DocumentCode   = "document_code"
	GeneralCoding  = "general_coding"
	DebugHelp      = "debug_help"
	CodeGeneration = "code_generation"

	// DefaultChat is the template used when none is selected.
	DefaultChat = GeneralCoding
)

// Placeholders understood by Apply.
const (
	VarFileContext  = "fileContext"
	VarSelectedCode = "selectedCode"
	VarContext      = "context"
	VarQuestion     = "question"
)

// Template is a named prompt with placeholders.
type Template struct {
	ID          string `json:"id" toml:"id"`
	Name        string `json:"name" toml:"name"`
	Description string `json:"description" toml:"description"`
	Text        string `json:"template" toml:"template"`
}

// IsCodeAction reports whether t is one of the code-action templates,
// which are not offered for chat.
func (t Template) IsCodeAction() bool {
	return strings.HasPrefix(t.ID, "explain_") ||
		strings.HasPrefix(t.ID, "refactor_") ||
		strings.HasPrefix(t.ID, "document_")
}

// Registry is an ordered set of templates, safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Template
}

// NewRegistry returns a registry holding the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]Template)}
	for _, t := range builtins {
		r.Add(t)
	}
	return r
}

// Add inserts t, replacing any template with the same id in place.
func (r *Registry) Add(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[t.ID]; !exists {
		r.order = append(r.order, t.ID)
	}
	r.byID[t.ID] = t
}

// Get returns the template with the given id.
func (r *Registry) Get(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

// All returns every template in insertion order.
func (r *Registry) All() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// ChatTemplates returns the templates meant for free-form chat.
func (r *Registry) ChatTemplates() []Template {
	var out []Template
	for _, t := range r.All() {
		if !t.IsCodeAction() {
			out = append(out, t)
		}
	}
	return out
}

// Apply fills the template's placeholders from vars. The standard
// placeholders are always replaced, with "" when vars has no value; other
// names are replaced only when present in vars. ok is false when id is
// unknown.
func (r *Registry) Apply(id string, vars map[string]string) (string, bool) {
	t, ok := r.Get(id)
	if !ok {
		return "", false
	}
	return render(t.Text, vars), true
}

// ApplyChat renders a chat template. An unknown id yields the bare question.
func (r *Registry) ApplyChat(id, question, context string) string {
	out, ok := r.Apply(id, map[string]string{
		VarQuestion: question,
		VarContext:  context,
	})
	if !ok {
		return question
	}
	return out
}

// ApplyCodeAction renders one of the code-action templates, falling back to
// a one-line instruction if the template was removed.
func (r *Registry) ApplyCodeAction(id, fileContext, selectedCode string) string {
	out, ok := r.Apply(id, map[string]string{
		VarFileContext:  fileContext,
		VarSelectedCode: selectedCode,
	})
	if ok {
		return out
	}
	verb := "Explain"
	switch id {
	case RefactorCode:
		verb = "Refactor"
	case DocumentCode:
		verb = "Document"
	}
	return verb + " this code:\n\n" + selectedCode
}

// render substitutes every known placeholder in one pass.
func render(text string, vars map[string]string) string {
	names := []string{VarFileContext, VarSelectedCode, VarContext, VarQuestion}
	for name := range vars {
		if !contains(names, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names[4:])

	pairs := make([]string, 0, 2*len(names))
	for _, name := range names {
		pairs = append(pairs, "{"+name+"}", vars[name])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

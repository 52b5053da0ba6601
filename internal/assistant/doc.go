// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assistant ties streaming sessions, prompt templates, workspace
// context and chat history together.
//
// An Assistant turns a question or code action into a prompt, starts a
// streaming session for it, forwards the session's events to a caller
// supplied sink and records the exchange in the current chat. It also
// serves one-shot inline completions.
package assistant

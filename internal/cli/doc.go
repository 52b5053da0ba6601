// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the codepilot command line.
//
// Commands are built with cobra. Each invocation loads the config, builds
// an App (logger, Ollama client, session manager, chat store, templates and
// workspace cache) and closes it when the command returns.
//
// # Commands Overview
//
//   - ask: One question, streamed to stdout
//   - chat: Interactive chat with slash commands
//   - explain, refactor, document: Code actions on a file or stdin
//   - complete: Inline completion for a file position
//   - history: List, show, rename, delete, search, export and clear chats
//   - models, templates: List and select models and prompt templates
//   - config: Show, get, set, validate and init configuration
//   - status: Ollama and history status
//   - serve: WebSocket JSON-RPC bridge for editors
//
// Output is colored with lipgloss when stdout is a terminal and NO_COLOR
// is unset.
package cli

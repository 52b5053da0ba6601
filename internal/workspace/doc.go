// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workspace gathers file context for prompts.
//
// It locates the workspace root, renders selected files into a bounded
// context block, extracts the lines around a cursor and summarizes the
// project layout. Rendered context is cached for a short time and the cache
// is invalidated by a filesystem watcher.
package workspace

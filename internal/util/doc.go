// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the codepilot packages.
//
// # Key Functions
//
// String Utilities:
//   - Ellipsize: first n runes plus "..." when the input is longer
//   - TruncateRunes: rune-safe truncation without an ellipsis
//   - FirstLine: first non-empty line, trimmed
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//
// # Usage
//
//	title := util.Ellipsize(firstUserMessage, 30)
//	err := util.AtomicWriteFile(path, data, 0600)
package util

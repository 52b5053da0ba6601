// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama is the HTTP client for a local Ollama server.
//
// Only the completion side of the API is covered: listing models through
// /api/tags and generating text through /api/generate, either as one JSON
// object or as a newline-delimited JSON stream.
//
// # Key Types
//
//   - Client: rate-limited HTTP client, safe for concurrent use
//   - GenerateRequest / GenerateResponse: /api/generate payloads
//   - Options: sampling parameters, every field optional
//   - StreamReader: lenient NDJSON reader that drops fragments it cannot parse
//   - ClientError: categorized error with IsX helpers
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	err := client.GenerateStream(ctx, ollama.GenerateRequest{
//	    Model:  "gemma3:1b",
//	    Prompt: "Explain goroutines",
//	}, func(chunk ollama.StreamChunk) {
//	    fmt.Print(chunk.Text)
//	})
//	if ollama.IsCancelled(err) {
//	    // caller aborted
//	}
package ollama

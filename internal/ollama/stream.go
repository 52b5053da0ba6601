// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader parses a newline-delimited JSON generate stream.
//
// Every line is decoded on its own. Lines that fail to decode, and lines
// without response text, are dropped without error: the server may split a
// record across deliveries and nothing downstream can act on a fragment.
type StreamReader struct {
	reader  *bufio.Reader
	model   string
	chunks  int
	dropped int
	final   *GenerateResponse
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReaderSize(r, 16<<10)}
}

// Process reads the stream and calls callback for each chunk of text.
// It blocks until the server ends the stream (a done line or EOF), the
// context is cancelled or the body fails.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		if ctx.Err() != nil {
			return transportError(ctx, ctx.Err())
		}

		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			if chunk, ok := s.parse(line); ok {
				if chunk.Text != "" {
					callback(chunk)
				}
				if chunk.Done {
					return nil
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return transportError(ctx, err)
			}
			return &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
		}
	}
}

// parse decodes one line. ok is false when the line is dropped.
func (s *StreamReader) parse(line []byte) (StreamChunk, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return StreamChunk{}, false
	}

	var resp GenerateResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		s.dropped++
		return StreamChunk{}, false
	}
	if resp.Model != "" {
		s.model = resp.Model
	}
	if resp.Done {
		s.final = &resp
	}
	if resp.Response == "" && !resp.Done {
		s.dropped++
		return StreamChunk{}, false
	}
	if resp.Response != "" {
		s.chunks++
	}

	return StreamChunk{Text: resp.Response, Model: s.model, Done: resp.Done}, true
}

// Chunks returns the number of text chunks delivered so far.
func (s *StreamReader) Chunks() int {
	return s.chunks
}

// Dropped returns the number of lines discarded as unparseable or empty.
func (s *StreamReader) Dropped() int {
	return s.dropped
}

// Final returns the server's closing record, or nil if none arrived.
func (s *StreamReader) Final() *GenerateResponse {
	return s.final
}

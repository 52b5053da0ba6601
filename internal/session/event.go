// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// EventKind discriminates the events of a session.
type EventKind int

const (
	// EventChunk carries a piece of generated text.
	EventChunk EventKind = iota
	// EventEnd means the server finished the stream.
	EventEnd
	// EventCancelled means the session was aborted or its context cancelled.
	EventCancelled
	// EventError means the transport failed; Err holds the cause.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventEnd:
		return "end"
	case EventCancelled:
		return "cancelled"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether k closes a session.
func (k EventKind) Terminal() bool {
	return k == EventEnd || k == EventCancelled || k == EventError
}

// Event is delivered to the consumer of a session.
type Event struct {
	Kind      EventKind
	RequestID string
	// Text is set for EventChunk only.
	Text string
	// Err is set for EventError only.
	Err error
}

// Message returns the diagnostic text of an error event, or "".
func (e Event) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

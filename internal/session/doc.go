// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session manages in-flight streaming generation requests.
//
// A session is one streamed completion, identified by a request id and
// bounded by exactly one terminal event. The Manager registers a
// cancellation handle per request, relays text chunks to the caller in
// transport order and then delivers one of End, Cancelled or Error. No chunk
// is ever delivered after the terminal event.
//
// # Key Types
//
//   - Manager: owns the registry of live sessions and the current model
//   - Event: tagged event (EventChunk, EventEnd, EventCancelled, EventError)
//   - Options: per-request generation parameters, all optional
//   - Generator: the streaming backend, satisfied by *ollama.Client
//   - Metrics: Prometheus counters for started, finished and active sessions
//
// # Usage
//
//	mgr := session.NewManager(client, session.DefaultConfig())
//	defer mgr.AbortAll()
//
//	id, events := mgr.Stream(ctx, "Explain channels", session.Options{})
//	for ev := range events {
//	    switch ev.Kind {
//	    case session.EventChunk:
//	        fmt.Print(ev.Text)
//	    case session.EventError:
//	        log.Println(ev.Err)
//	    }
//	}
//
// Abort(id) stops a session early; it resolves as EventCancelled.
package session

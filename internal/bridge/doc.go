// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bridge exposes the assistant to editor hosts over JSON-RPC 2.0 on
// a WebSocket.
//
// A client connects to /ws and must call "auth" first. Every connection gets
// its own assistant, sharing the history store and session manager with the
// others. Stream events are pushed as "chat.event" notifications, and a
// connection's running request is aborted when it disconnects.
package bridge

// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridgeclient is the caller's side of the tool-call
// protocol. A Client either dials a server's Unix socket or spawns
// the server as a subprocess and speaks over its stdio pipes; the
// two transports behave identically above the connection.
//
// Calls multiplex over one connection: each carries a fresh
// correlation ID and a background read loop routes response frames
// back to the goroutine that issued the call. If the transport fails
// with calls outstanding, every one of them fails with
// ErrConnectionLost rather than hanging.
package bridgeclient

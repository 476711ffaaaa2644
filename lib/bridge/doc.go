// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge hosts the server side of the tool-call protocol. It
// accepts connections over a Unix socket or a stdio pipe, frames them
// with the wire codec, and hands each decoded request to a
// per-connection dispatcher.
//
// The two transports share one read loop: malformed lines are
// answered with a protocol error response and skipped, so a single
// bad frame never tears down the connection. Responses for a
// connection are serialized through a single encoder, which is the
// only writer on that connection.
package bridge

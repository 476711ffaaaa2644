// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch maps inbound protocol messages to tool handlers
// and owns the per-connection readiness state machine.
//
// Each connection gets its own [Dispatcher]. The dispatcher starts in
// AwaitingReady: only the "ready" tool is accepted, and everything
// else is rejected with a not_ready error (never queued, never
// silently dropped) so a client cannot race work ahead of backend
// warm-up. A ready call triggers a synchronous upstream reachability
// probe; the dispatcher transitions to Ready only when the probe
// succeeds.
//
// In Ready, every call runs in its own goroutine so a long-running
// streaming call never blocks a concurrent single-shot call on the
// same connection. Responses interleave on the shared [wire.Encoder],
// tagged by correlation id so the far end can demultiplex; the
// encoder's write lock keeps frames intact.
//
// Tool parameter schemas are authored as commented JSONC, stripped
// with tidwall/jsonc, and compiled with gojsonschema. The same
// schemas are served verbatim by the tools/discover method.
package dispatch

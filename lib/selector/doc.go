// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package selector is the HTTP client for the Selector AI query
// service. It owns the retry/backoff policy for upstream calls and
// the streaming delivery path; the dispatcher above it treats the
// upstream as untyped JSON in and out.
//
// [Client.Ask] and [Client.Query] are buffered single-shot calls.
// [Client.AskStream] returns a [ChunkStream], a lazy pull iterator
// over incremental response chunks parsed from the upstream's
// Server-Sent Events variant. [Client.Phrases] fetches the natural
// language phrase catalog. [Client.Probe] is a lightweight
// reachability check used by the readiness gate; it issues no query.
//
// Transient failures (connection errors, timeouts, HTTP 429 and 5xx)
// are retried with exponential backoff and jitter up to a bounded
// attempt count; non-transient failures (other 4xx, bad credentials)
// surface immediately as an [*APIError]. A streaming call that fails
// after delivering at least one chunk surfaces a
// [*StreamInterruptedError] instead of being retried, since a retry
// would duplicate already-delivered chunks.
package selector

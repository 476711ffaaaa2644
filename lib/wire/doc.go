// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the framed protocol carried over the bridge
// transports (Unix domain socket or a subprocess's stdio pipes).
//
// Each protocol message is one newline-terminated UTF-8 JSON record.
// A record is self-contained: decoding it requires no prior stream
// context. Inbound records are [Message] values (tool invocations and
// discovery requests); outbound records are [Response] values
// (terminal results, stream chunks, and end markers).
//
// [Encoder] serializes writes with a mutex so that messages produced
// by concurrent tool handlers never interleave their bytes mid-line.
// [Decoder] buffers partial lines across physical reads and yields one
// message per complete line; a malformed line yields a [ProtocolError]
// for that line only and decoding resynchronizes at the next newline.
package wire

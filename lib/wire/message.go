// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "encoding/json"

// Protocol methods accepted by the bridge.
const (
	// MethodToolsCall invokes a tool by name.
	MethodToolsCall = "tools/call"

	// MethodToolsDiscover returns the tool catalog with parameter
	// schemas.
	MethodToolsDiscover = "tools/discover"
)

// Response statuses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// Error codes carried in [ErrorDetail.Code]. These classify failures
// so callers can make programmatic recovery decisions without parsing
// message text.
const (
	// CodeProtocolError marks a malformed inbound line. Local to that
	// line; the stream continues.
	CodeProtocolError = "protocol_error"

	// CodeNotReady marks a tool call received before the connection's
	// readiness probe has succeeded.
	CodeNotReady = "not_ready"

	// CodeUnknownTool marks a call to an unregistered tool name.
	CodeUnknownTool = "unknown_tool"

	// CodeInvalidArguments marks tool arguments that failed schema
	// validation.
	CodeInvalidArguments = "invalid_arguments"

	// CodeUpstream marks an upstream API failure, either non-retryable
	// or retryable with retries exhausted.
	CodeUpstream = "upstream_error"

	// CodeStreamInterrupted marks a streaming call that failed after
	// at least one chunk was delivered. The received prefix is valid
	// but the sequence is incomplete.
	CodeStreamInterrupted = "stream_interrupted"

	// CodeCanceled marks a call terminated because its connection
	// closed before the call completed.
	CodeCanceled = "canceled"
)

// Message is one inbound protocol frame: a single line of the framed
// stream, self-contained and decodable without prior context.
type Message struct {
	// Method is the protocol method, one of MethodToolsCall or
	// MethodToolsDiscover. Required.
	Method string `json:"method"`

	// ToolName identifies the tool for tools/call (e.g., "ready",
	// "ask_selector").
	ToolName string `json:"tool_name,omitempty"`

	// Content carries tool-specific arguments as an opaque JSON
	// object. The handler validates the schema, not the dispatcher.
	Content json.RawMessage `json:"content,omitempty"`

	// CorrelationID is assigned by the client to match responses
	// (including streamed chunks) to this request. Optional: the
	// original single-call clients omit it and match by ordering.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Response is one outbound protocol frame: either a terminal result
// for a call, a stream chunk, or a stream end marker.
type Response struct {
	// Status is one of StatusOK, StatusError, StatusReady, or
	// StatusNotReady. Empty on intermediate stream chunks.
	Status string `json:"status,omitempty"`

	// Result is the tool's payload when Status is StatusOK.
	Result json.RawMessage `json:"result,omitempty"`

	// Error describes the failure when Status is StatusError.
	Error *ErrorDetail `json:"error,omitempty"`

	// CorrelationID echoes the request's correlation id. Always
	// present on stream chunks and their end marker.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Chunk is one partial payload of a streaming call.
	Chunk json.RawMessage `json:"chunk,omitempty"`

	// Done marks the terminal frame of a streaming call. After a
	// frame with Done set, no further frames carry this correlation
	// id.
	Done bool `json:"done,omitempty"`
}

// ErrorDetail carries structured error metadata on error responses.
// Retryable indicates whether repeating the same call might succeed:
// true for interrupted streams and exhausted transient upstream
// failures, false for validation, unknown-tool, and non-retryable
// upstream errors.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Error implements the error interface so an ErrorDetail received by
// the client can be returned directly to callers.
func (detail *ErrorDetail) Error() string {
	return detail.Code + ": " + detail.Message
}

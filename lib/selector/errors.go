// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"context"
	"errors"
	"fmt"
)

// APIError is returned when the Selector API responds with an error.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Type is the API-specific error type string, when the error body
	// carries one.
	Type string

	// Message is the human-readable error description, passed through
	// verbatim from the upstream.
	Message string
}

func (err *APIError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("selector: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("selector: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited returns true if the error is a rate limit response (HTTP 429).
func (err *APIError) IsRateLimited() bool {
	return err.StatusCode == 429
}

// Transient returns true for responses worth retrying: rate limits
// (429) and server errors (5xx). Other 4xx responses indicate a
// permanent problem with the request or credential.
func (err *APIError) Transient() bool {
	return err.StatusCode == 429 || err.StatusCode >= 500
}

// StreamInterruptedError is returned by [ChunkStream.Next] when the
// upstream fails after at least one chunk has been delivered. The
// chunks already received are valid, but the sequence is incomplete;
// callers must not treat the prefix as a finished response.
type StreamInterruptedError struct {
	// Delivered is the number of chunks successfully delivered before
	// the interruption.
	Delivered int

	// Err is the underlying failure.
	Err error
}

func (err *StreamInterruptedError) Error() string {
	return fmt.Sprintf("selector: stream interrupted after %d chunks: %v", err.Delivered, err.Err)
}

func (err *StreamInterruptedError) Unwrap() error { return err.Err }

// isTransient returns true for errors that are likely transient and
// worth retrying: connection failures, timeouts, rate limiting (429),
// and server errors (5xx). Returns false for other API errors (which
// indicate a permanent problem) and for caller cancellation.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiError *APIError
	if errors.As(err, &apiError) {
		return apiError.Transient()
	}

	// Caller cancellation is not a failure to retry against.
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Everything else (connection refused, reset, EOF, per-attempt
	// deadline expiry) is transient.
	return true
}

// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// doneMarker is the sentinel data payload that ends a well-formed
// event stream. A stream that hits EOF without it was cut off.
const doneMarker = "[DONE]"

// NextFunc is the iteration function backing a ChunkStream. It
// returns one chunk per call and io.EOF when the stream is complete.
type NextFunc func() (json.RawMessage, error)

// ChunkStream is a lazy pull iterator over the chunks of a streaming
// call. Consuming it may block between chunks when the upstream is
// slower than the consumer; chunks are never dropped or reordered.
//
// The caller must call [ChunkStream.Close] when done, even if
// iteration ended early. ChunkStream is not safe for concurrent use.
type ChunkStream struct {
	next      NextFunc
	closer    io.Closer
	delivered int
	done      bool
}

// NewChunkStream creates a ChunkStream from an iteration function and
// an io.Closer for the underlying resource (typically the HTTP
// response body). Exported so tests and alternative upstreams can
// construct streams without an HTTP connection.
func NewChunkStream(next NextFunc, closer io.Closer) *ChunkStream {
	return &ChunkStream{next: next, closer: closer}
}

// Next returns the next chunk. Returns io.EOF when the stream is
// complete. A failure after at least one chunk has been delivered is
// reported as a *StreamInterruptedError so the caller knows the
// sequence is incomplete rather than assuming completion.
func (stream *ChunkStream) Next() (json.RawMessage, error) {
	if stream.done {
		return nil, io.EOF
	}

	chunk, err := stream.next()
	if err != nil {
		stream.done = true
		if err == io.EOF {
			return nil, io.EOF
		}
		if stream.delivered > 0 {
			return nil, &StreamInterruptedError{Delivered: stream.delivered, Err: err}
		}
		return nil, err
	}

	stream.delivered++
	return chunk, nil
}

// Delivered returns the number of chunks delivered so far.
func (stream *ChunkStream) Delivered() int {
	return stream.delivered
}

// Close releases the underlying resources. Must be called when done
// with the stream, even if iteration ended early.
func (stream *ChunkStream) Close() error {
	if stream.closer != nil {
		return stream.closer.Close()
	}
	return nil
}

// AskStream sends a natural language question to the Selector chat
// API in streaming mode and returns a ChunkStream over the
// incremental response chunks.
//
// Only stream establishment is retried: transient failures before the
// first byte of the event stream back off per the retry policy. Once
// the stream handle is returned, a mid-stream failure surfaces
// through [ChunkStream.Next], since retrying there would duplicate
// already-delivered chunks. Establishment is bounded by ctx, not the
// per-attempt CallTimeout, because a healthy stream can legitimately
// outlive any fixed deadline.
func (c *Client) AskStream(ctx context.Context, content string) (*ChunkStream, error) {
	payload := map[string]any{"content": content, "stream": true}

	var lastError error
	delay := c.retry.BaseDelay
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clock.After(jittered(delay)):
			}
			delay *= 2
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}

		httpResponse, err := c.send(ctx, http.MethodPost, chatEndpoint, payload, true)
		if err == nil {
			return newEventChunkStream(httpResponse.Body), nil
		}
		lastError = err

		if !isTransient(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastError
		}

		c.logger.Warn("transient selector stream establishment failure, retrying",
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, lastError
}

// newEventChunkStream wraps an SSE response body as a ChunkStream.
// Each event's data becomes one chunk; the [DONE] marker ends the
// stream cleanly. EOF without the marker means the upstream cut the
// stream off and is reported as an error (which ChunkStream converts
// to StreamInterrupted once chunks have been delivered).
func newEventChunkStream(body io.ReadCloser) *ChunkStream {
	scanner := newSSEScanner(body)

	next := func() (json.RawMessage, error) {
		for scanner.next() {
			event := scanner.event()
			if event.Data == doneMarker || event.Type == "done" {
				return nil, io.EOF
			}
			return chunkPayload(event.Data), nil
		}
		if err := scanner.scanErr(); err != nil {
			return nil, fmt.Errorf("selector: reading event stream: %w", err)
		}
		return nil, fmt.Errorf("selector: event stream ended without done marker")
	}

	return NewChunkStream(next, body)
}

// chunkPayload converts an SSE data payload to a JSON chunk. Data
// that is already valid JSON passes through verbatim; anything else
// is wrapped as a JSON string so the framed protocol always carries
// well-formed JSON.
func chunkPayload(data string) json.RawMessage {
	raw := json.RawMessage(data)
	if json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(data)
	return quoted
}

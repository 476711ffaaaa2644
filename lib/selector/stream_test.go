// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// sseHandler writes the given SSE data payloads, flushing after each,
// and appends the [DONE] marker when clean is true. Returning without
// the marker simulates an upstream that cut the stream off.
func sseHandler(clean bool, payloads ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, payload := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		if clean {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
		}
	}
}

func collectChunks(t *testing.T, stream *ChunkStream) ([]string, error) {
	t.Helper()
	defer stream.Close()

	var chunks []string
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, string(chunk))
	}
}

func TestAskStreamDeliversChunksInOrder(t *testing.T) {
	server := httptest.NewServer(sseHandler(true, `{"token":"c1"}`, `{"token":"c2"}`, `{"token":"c3"}`))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, RetryPolicy{})
	stream, err := client.AskStream(context.Background(), "question")
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}

	chunks, err := collectChunks(t, stream)
	if err != nil {
		t.Fatalf("consuming stream: %v", err)
	}
	want := []string{`{"token":"c1"}`, `{"token":"c2"}`, `{"token":"c3"}`}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d = %s, want %s", i, chunks[i], want[i])
		}
	}
	if stream.Delivered() != 3 {
		t.Fatalf("Delivered() = %d, want 3", stream.Delivered())
	}
}

func TestAskStreamInterruptionAfterChunksIsDistinguishable(t *testing.T) {
	// The upstream emits three chunks then ends without the done
	// marker. The consumer must see exactly c1, c2, c3 followed by a
	// StreamInterrupted error, never a silent truncation to success.
	server := httptest.NewServer(sseHandler(false, `{"token":"c1"}`, `{"token":"c2"}`, `{"token":"c3"}`))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, RetryPolicy{})
	stream, err := client.AskStream(context.Background(), "question")
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}

	chunks, err := collectChunks(t, stream)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks before interruption, want 3", len(chunks))
	}

	var interrupted *StreamInterruptedError
	if !errors.As(err, &interrupted) {
		t.Fatalf("error = %v, want *StreamInterruptedError", err)
	}
	if interrupted.Delivered != 3 {
		t.Fatalf("Delivered = %d, want 3", interrupted.Delivered)
	}
}

func TestAskStreamRetriesEstablishment(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		sseHandler(true, `{"token":"ok"}`)(w, r)
	}))
	defer server.Close()

	client, recorder := newTestClient(t, server.URL, RetryPolicy{MaxAttempts: 3})
	stream, err := client.AskStream(context.Background(), "question")
	if err != nil {
		t.Fatalf("AskStream after transient establishment failure: %v", err)
	}
	chunks, err := collectChunks(t, stream)
	if err != nil || len(chunks) != 1 {
		t.Fatalf("chunks = %v, err = %v", chunks, err)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("upstream saw %d requests, want 2", got)
	}
	if len(recorder.recorded()) != 1 {
		t.Fatalf("recorded %d backoff delays, want 1", len(recorder.recorded()))
	}
}

func TestAskStreamFatalEstablishmentNotRetried(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, `{"error":{"type":"authentication_error","message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, RetryPolicy{MaxAttempts: 3})
	_, err := client.AskStream(context.Background(), "question")
	var apiError *APIError
	if !errors.As(err, &apiError) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if got := requests.Load(); got != 1 {
		t.Fatalf("upstream saw %d requests, want 1 (no retry)", got)
	}
}

func TestChunkStreamFailureBeforeFirstChunkIsNotInterruption(t *testing.T) {
	failure := errors.New("connection reset")
	stream := NewChunkStream(func() (json.RawMessage, error) {
		return nil, failure
	}, nil)
	defer stream.Close()

	_, err := stream.Next()
	var interrupted *StreamInterruptedError
	if errors.As(err, &interrupted) {
		t.Fatalf("zero-chunk failure reported as StreamInterrupted: %v", err)
	}
	if !errors.Is(err, failure) {
		t.Fatalf("error = %v, want %v", err, failure)
	}
}

func TestChunkStreamNextAfterEndReturnsEOF(t *testing.T) {
	stream := NewChunkStream(func() (json.RawMessage, error) {
		return nil, io.EOF
	}, nil)
	defer stream.Close()

	if _, err := stream.Next(); err != io.EOF {
		t.Fatalf("first Next = %v, want io.EOF", err)
	}
	if _, err := stream.Next(); err != io.EOF {
		t.Fatalf("Next after end = %v, want io.EOF", err)
	}
}

func TestChunkPayloadWrapsNonJSONData(t *testing.T) {
	if got := string(chunkPayload(`{"a":1}`)); got != `{"a":1}` {
		t.Fatalf("valid JSON mangled: %s", got)
	}
	wrapped := chunkPayload("plain text token")
	var s string
	if err := json.Unmarshal(wrapped, &s); err != nil || s != "plain text token" {
		t.Fatalf("non-JSON data wrapped as %s (err %v)", wrapped, err)
	}
}

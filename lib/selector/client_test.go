// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingClock implements clock.Clock without real sleeps. Every
// After fires immediately and its requested duration is recorded, so
// tests can assert on the backoff schedule deterministically.
type recordingClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *recordingClock) Now() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()

	channel := make(chan time.Time, 1)
	channel <- c.Now()
	return channel
}

func (c *recordingClock) Sleep(d time.Duration) { <-c.After(d) }

func (c *recordingClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func newTestClient(t *testing.T, serverURL string, retry RetryPolicy) (*Client, *recordingClock) {
	t.Helper()
	recorder := &recordingClock{}
	client, err := New(Options{
		BaseURL: serverURL,
		APIKey:  "test-key",
		Clock:   recorder,
		Retry:   retry,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, recorder
}

func TestNewRequiresBaseURLAndKey(t *testing.T) {
	if _, err := New(Options{APIKey: "k"}); err == nil {
		t.Fatal("New without BaseURL succeeded")
	}
	if _, err := New(Options{BaseURL: "http://example.com"}); err == nil {
		t.Fatal("New without APIKey succeeded")
	}
}

func TestAskSendsBearerCredential(t *testing.T) {
	var authorization atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization.Store(r.Header.Get("Authorization"))
		w.Write([]byte(`{"content":"fine"}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, RetryPolicy{})
	result, err := client.Ask(context.Background(), "how is the network?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if string(result) != `{"content":"fine"}` {
		t.Fatalf("result = %s", result)
	}
	if got := authorization.Load(); got != "Bearer test-key" {
		t.Fatalf("Authorization = %q, want Bearer test-key", got)
	}
}

func TestAskRetriesTransientThenSucceeds(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"content":"recovered"}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, RetryPolicy{MaxAttempts: 4})
	result, err := client.Ask(context.Background(), "question")
	if err != nil {
		t.Fatalf("Ask after transient failures: %v", err)
	}
	if string(result) != `{"content":"recovered"}` {
		t.Fatalf("result = %s", result)
	}
	if got := requests.Load(); got != 3 {
		t.Fatalf("upstream saw %d requests, want 3", got)
	}
}

func TestAskExhaustsRetriesWithNonDecreasingBackoff(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, `{"error":{"type":"overloaded_error","message":"try later"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	retry := RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
	client, recorder := newTestClient(t, server.URL, retry)

	_, err := client.Ask(context.Background(), "question")
	var apiError *APIError
	if !errors.As(err, &apiError) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiError.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("StatusCode = %d, want 503", apiError.StatusCode)
	}
	if apiError.Type != "overloaded_error" || apiError.Message != "try later" {
		t.Fatalf("error detail not preserved verbatim: %+v", apiError)
	}
	if got := requests.Load(); got != 4 {
		t.Fatalf("upstream saw %d requests, want 4", got)
	}

	delays := recorder.recorded()
	if len(delays) != 3 {
		t.Fatalf("recorded %d backoff delays, want 3", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Fatalf("backoff decreased: %v after %v", delays[i], delays[i-1])
		}
	}
	// Jitter keeps each delay within [d/2, d] of the doubling schedule.
	schedule := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, delay := range delays {
		if delay < schedule[i]/2 || delay > schedule[i] {
			t.Fatalf("delay %d = %v outside [%v, %v]", i, delay, schedule[i]/2, schedule[i])
		}
	}
}

func TestAskDoesNotRetryFatalErrors(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, `{"error":{"type":"authentication_error","message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client, recorder := newTestClient(t, server.URL, RetryPolicy{MaxAttempts: 4})
	_, err := client.Ask(context.Background(), "question")

	var apiError *APIError
	if !errors.As(err, &apiError) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiError.Transient() {
		t.Fatal("authentication error classified as transient")
	}
	if got := requests.Load(); got != 1 {
		t.Fatalf("upstream saw %d requests, want 1 (no retry)", got)
	}
	if len(recorder.recorded()) != 0 {
		t.Fatalf("backoff recorded for a fatal error: %v", recorder.recorded())
	}
}

func TestQuerySendsCommandPayload(t *testing.T) {
	var body atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		body.Store(payload["command"])
		w.Write([]byte(`{"rows":[]}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, RetryPolicy{})
	if _, err := client.Query(context.Background(), "show bgp summary"); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := body.Load(); got != "show bgp summary" {
		t.Fatalf("command payload = %q", got)
	}
}

func TestPhrasesFiltersBySource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"phrase":"show health","source":"user"},{"phrase":"widget view","source":"widget"}]`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, RetryPolicy{})

	all, err := client.Phrases(context.Background(), "")
	if err != nil {
		t.Fatalf("Phrases: %v", err)
	}
	var unfiltered []map[string]any
	if err := json.Unmarshal(all, &unfiltered); err != nil {
		t.Fatalf("decoding unfiltered catalog: %v", err)
	}
	if len(unfiltered) != 2 {
		t.Fatalf("unfiltered catalog has %d entries, want 2", len(unfiltered))
	}

	filtered, err := client.Phrases(context.Background(), "user")
	if err != nil {
		t.Fatalf("Phrases(user): %v", err)
	}
	var userOnly []map[string]any
	if err := json.Unmarshal(filtered, &userOnly); err != nil {
		t.Fatalf("decoding filtered catalog: %v", err)
	}
	if len(userOnly) != 1 || userOnly[0]["phrase"] != "show health" {
		t.Fatalf("filtered catalog = %s", filtered)
	}
}

func TestProbeReportsReachability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	client, _ := newTestClient(t, server.URL, RetryPolicy{})

	if err := client.Probe(context.Background()); err != nil {
		t.Fatalf("Probe against healthy upstream: %v", err)
	}

	server.Close()
	if err := client.Probe(context.Background()); err == nil {
		t.Fatal("Probe against closed upstream succeeded")
	}
}

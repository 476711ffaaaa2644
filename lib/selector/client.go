// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/automateyournetwork/selector-mcp-server/lib/clock"
	"github.com/automateyournetwork/selector-mcp-server/lib/netutil"
)

// API endpoints, relative to the base URL.
const (
	chatEndpoint    = "/api/collab2-slack/copilot/v1/chat"
	commandEndpoint = "/api/collab2-slack/command"
	phrasesEndpoint = "/api/nlt2/alias"
)

// probeTimeout bounds the readiness probe. The probe must answer
// quickly so health checks polling on a fixed timeout get a
// deterministic answer rather than a stall.
const probeTimeout = 5 * time.Second

// RetryPolicy tunes the transient-failure retry loop. The zero value
// selects the defaults.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries per logical call.
	// Default 4.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry. The delay
	// doubles each attempt. Default 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the doubling. Default 8s.
	MaxDelay time.Duration

	// CallTimeout is the per-attempt deadline for buffered calls.
	// Default 15s. Streaming calls are bounded by the caller's
	// context instead, since a healthy stream can legitimately
	// outlive any fixed per-attempt deadline.
	CallTimeout time.Duration
}

func (policy RetryPolicy) withDefaults() RetryPolicy {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 4
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 8 * time.Second
	}
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = 15 * time.Second
	}
	return policy
}

// Options configures a Client.
type Options struct {
	// BaseURL is the Selector service base URL (e.g.
	// "https://selector.example.com"). Required.
	BaseURL string

	// APIKey is the bearer credential passed through on every
	// request. Required. The client never interprets or stores it
	// beyond setting the Authorization header.
	APIKey string

	// HTTPClient is the underlying HTTP client. Defaults to
	// http.DefaultClient. The client is stateless per call, so one
	// instance may be shared across connections.
	HTTPClient *http.Client

	// Clock is the time source for backoff delays. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Retry tunes the transient-failure retry loop.
	Retry RetryPolicy
}

// Client calls the Selector API. It owns no cross-request state:
// retry state is local to a single call and never shared, so a
// Client may be used concurrently from any number of connections.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
	retry      RetryPolicy
}

// New creates a Client. BaseURL and APIKey are required.
func New(options Options) (*Client, error) {
	if options.BaseURL == "" {
		return nil, fmt.Errorf("selector: BaseURL is required")
	}
	if options.APIKey == "" {
		return nil, fmt.Errorf("selector: APIKey is required")
	}
	if options.HTTPClient == nil {
		options.HTTPClient = http.DefaultClient
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Client{
		baseURL:    options.BaseURL,
		apiKey:     options.APIKey,
		httpClient: options.HTTPClient,
		clock:      options.Clock,
		logger:     options.Logger,
		retry:      options.Retry.withDefaults(),
	}, nil
}

// Ask sends a natural language question to the Selector chat API and
// returns the complete response.
func (c *Client) Ask(ctx context.Context, content string) (json.RawMessage, error) {
	return c.callRetry(ctx, http.MethodPost, chatEndpoint, map[string]string{"content": content})
}

// Query sends a raw command to the Selector command API and returns
// the raw data response.
func (c *Client) Query(ctx context.Context, command string) (json.RawMessage, error) {
	return c.callRetry(ctx, http.MethodPost, commandEndpoint, map[string]string{"command": command})
}

// Phrases fetches the Selector natural language phrase catalog. When
// source is non-empty, only phrases whose "source" field matches are
// returned (the API has no server-side filter).
func (c *Client) Phrases(ctx context.Context, source string) (json.RawMessage, error) {
	result, err := c.callRetry(ctx, http.MethodGet, phrasesEndpoint, nil)
	if err != nil {
		return nil, err
	}
	if source == "" {
		return result, nil
	}

	var phrases []map[string]any
	if err := json.Unmarshal(result, &phrases); err != nil {
		return nil, fmt.Errorf("selector: decoding phrase catalog: %w", err)
	}
	filtered := make([]map[string]any, 0, len(phrases))
	for _, phrase := range phrases {
		if phrase["source"] == source {
			filtered = append(filtered, phrase)
		}
	}
	encoded, err := json.Marshal(filtered)
	if err != nil {
		return nil, fmt.Errorf("selector: encoding filtered phrases: %w", err)
	}
	return encoded, nil
}

// Probe checks upstream reachability with a single lightweight GET
// against the phrase catalog endpoint. No retry: the readiness gate
// polls, so a failed probe is simply reported and tried again on the
// next ready call.
func (c *Client) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := c.do(probeCtx, http.MethodGet, phrasesEndpoint, nil)
	if err != nil {
		return fmt.Errorf("selector: probe failed: %w", err)
	}
	return nil
}

// callRetry performs one logical buffered call with bounded retry on
// transient errors. Each attempt carries its own deadline; deadline
// expiry counts as transient. The backoff before retry N doubles from
// BaseDelay, is capped at MaxDelay, and is jittered into the upper
// half of the interval so concurrent callers do not retry in
// lockstep.
func (c *Client) callRetry(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
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

		attemptCtx, cancel := context.WithTimeout(ctx, c.retry.CallTimeout)
		result, err := c.do(attemptCtx, method, endpoint, payload)
		cancel()
		if err == nil {
			return result, nil
		}
		lastError = err

		if !isTransient(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastError
		}

		c.logger.Warn("transient selector API failure, retrying",
			"endpoint", endpoint,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, lastError
}

// jittered maps a backoff delay into [d/2, d]. The doubling schedule
// keeps successive jittered delays non-decreasing: the upper bound of
// one attempt equals the lower bound of the next.
func jittered(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	//nolint:gosec // The random delay is for jitter, not security.
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// do performs a single HTTP request and decodes the outcome. Non-2xx
// responses become an *APIError carrying the upstream's error detail.
func (c *Client) do(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
	httpResponse, err := c.send(ctx, method, endpoint, payload, false)
	if err != nil {
		return nil, err
	}
	defer httpResponse.Body.Close()

	body, err := netutil.ReadResponse(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("selector: reading response: %w", err)
	}
	return json.RawMessage(body), nil
}

// send issues the HTTP request and checks the status code. On success
// the caller owns the response body; on error the body is already
// closed.
func (c *Client) send(ctx context.Context, method, endpoint string, payload any, streaming bool) (*http.Response, error) {
	var requestBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("selector: marshaling request: %w", err)
		}
		requestBody = bytes.NewReader(encoded)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, requestBody)
	if err != nil {
		return nil, fmt.Errorf("selector: creating request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	if streaming {
		httpRequest.Header.Set("Accept", "text/event-stream")
	} else {
		httpRequest.Header.Set("Accept", "application/json")
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("selector: sending request: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		defer httpResponse.Body.Close()
		return nil, readAPIError(httpResponse)
	}
	return httpResponse, nil
}

// readAPIError parses an error response body. The Selector API uses
// {"error": {"type": "...", "message": "..."}} for structured errors
// and bare text otherwise; both are preserved verbatim.
func readAPIError(httpResponse *http.Response) error {
	body := netutil.ErrorBody(httpResponse.Body)

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &wireError) == nil && wireError.Error.Message != "" {
		return &APIError{
			StatusCode: httpResponse.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}

	return &APIError{
		StatusCode: httpResponse.StatusCode,
		Message:    body,
	}
}

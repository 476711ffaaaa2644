// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/automateyournetwork/selector-mcp-server/lib/selector"
	"github.com/automateyournetwork/selector-mcp-server/lib/wire"
)

// Upstream is the backend the dispatcher forwards tool calls to. The
// concrete implementation is [selector.Client]; tests substitute
// counting stubs.
type Upstream interface {
	// Ask sends a buffered chat question.
	Ask(ctx context.Context, content string) (json.RawMessage, error)

	// AskStream sends a chat question in streaming mode.
	AskStream(ctx context.Context, content string) (*selector.ChunkStream, error)

	// Query sends a raw command.
	Query(ctx context.Context, command string) (json.RawMessage, error)

	// Phrases fetches the phrase catalog, optionally filtered.
	Phrases(ctx context.Context, source string) (json.RawMessage, error)

	// Probe is a lightweight reachability check used by the
	// readiness gate. It must not issue a full query.
	Probe(ctx context.Context) error
}

// State is the per-connection readiness state.
type State int

const (
	// StateAwaitingReady accepts only the "ready" tool.
	StateAwaitingReady State = iota

	// StateReady accepts all registered tools.
	StateReady

	// StateClosed rejects everything; the connection is going away.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Dispatcher routes inbound messages for one connection. Each
// dispatched call runs in its own goroutine; responses go out through
// the connection's shared encoder, which serializes frame writes.
type Dispatcher struct {
	upstream Upstream
	encoder  *wire.Encoder
	logger   *slog.Logger

	mu    sync.Mutex
	state State

	calls sync.WaitGroup
}

// New creates a Dispatcher for one connection, starting in
// AwaitingReady.
func New(upstream Upstream, encoder *wire.Encoder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		upstream: upstream,
		encoder:  encoder,
		logger:   logger,
	}
}

// State returns the current readiness state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Close marks the dispatcher closed. In-flight calls are cancelled by
// the connection context, not by Close; call [Wait] to drain them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.state = StateClosed
	d.mu.Unlock()
}

// Wait blocks until all dispatched calls have finished.
func (d *Dispatcher) Wait() {
	d.calls.Wait()
}

// Dispatch routes one inbound message. It never blocks on the
// upstream: every accepted call runs in its own goroutine so a slow
// call cannot delay a concurrent fast one. Rejections (wrong state,
// unknown tool, invalid arguments) are answered inline since they
// involve no upstream work.
func (d *Dispatcher) Dispatch(ctx context.Context, message *wire.Message) {
	switch message.Method {
	case wire.MethodToolsDiscover:
		d.respond(&wire.Response{
			Status:        wire.StatusOK,
			Result:        mustMarshal(Catalog()),
			CorrelationID: message.CorrelationID,
		})
		return
	case wire.MethodToolsCall:
	default:
		d.respondError(message.CorrelationID, false, &wire.ErrorDetail{
			Code:    wire.CodeProtocolError,
			Message: "unsupported method: " + message.Method,
		})
		return
	}

	if message.ToolName == ToolReady {
		d.spawn(func() { d.handleReady(ctx, message.CorrelationID) })
		return
	}

	if state := d.State(); state != StateReady {
		d.respondError(message.CorrelationID, false, &wire.ErrorDetail{
			Code:    wire.CodeNotReady,
			Message: "backend not ready: call the ready tool first",
		})
		return
	}

	definition, known := tools[message.ToolName]
	if !known {
		d.respondError(message.CorrelationID, false, &wire.ErrorDetail{
			Code:    wire.CodeUnknownTool,
			Message: "unknown tool: " + message.ToolName,
		})
		return
	}

	violations, err := definition.validateArguments(message.Content)
	if err != nil || violations != "" {
		detail := violations
		if err != nil {
			detail = err.Error()
		}
		d.respondError(message.CorrelationID, false, &wire.ErrorDetail{
			Code:    wire.CodeInvalidArguments,
			Message: "invalid arguments for " + message.ToolName + ": " + detail,
		})
		return
	}

	if definition.streaming {
		d.spawn(func() { d.runStream(ctx, message) })
		return
	}
	d.spawn(func() { d.runSingleShot(ctx, definition, message) })
}

// spawn runs f on its own goroutine, tracked for Wait.
func (d *Dispatcher) spawn(f func()) {
	d.calls.Add(1)
	go func() {
		defer d.calls.Done()
		f()
	}()
}

// handleReady answers the readiness probe. A connection that is
// already Ready answers immediately; otherwise reachability is probed
// synchronously and the state advances only on success. The answer is
// always prompt: orchestration health checks poll this with a
// bounded timeout and must never stall.
func (d *Dispatcher) handleReady(ctx context.Context, correlationID string) {
	if d.State() == StateReady {
		d.respond(&wire.Response{Status: wire.StatusReady, CorrelationID: correlationID})
		return
	}

	if err := d.upstream.Probe(ctx); err != nil {
		d.logger.Warn("readiness probe failed", "error", err)
		d.respond(&wire.Response{Status: wire.StatusNotReady, CorrelationID: correlationID})
		return
	}

	d.mu.Lock()
	if d.state == StateAwaitingReady {
		d.state = StateReady
	}
	d.mu.Unlock()

	d.respond(&wire.Response{Status: wire.StatusReady, CorrelationID: correlationID})
}

// runSingleShot executes a buffered tool call and answers with one
// terminal response.
func (d *Dispatcher) runSingleShot(ctx context.Context, definition *toolDefinition, message *wire.Message) {
	result, err := definition.run(ctx, d.upstream, message.Content)
	if err != nil {
		d.respondError(message.CorrelationID, false, upstreamErrorDetail(err))
		return
	}
	d.respond(&wire.Response{
		Status:        wire.StatusOK,
		Result:        result,
		CorrelationID: message.CorrelationID,
	})
}

// runStream executes a streaming tool call, forwarding each upstream
// chunk as its own frame tagged with the request's correlation id and
// finishing with a terminal done frame. Chunks go out in production
// order; the encoder's write lock keeps them intact against frames
// from concurrent calls.
func (d *Dispatcher) runStream(ctx context.Context, message *wire.Message) {
	var args askArguments
	if err := json.Unmarshal(message.Content, &args); err != nil {
		d.respondError(message.CorrelationID, true, &wire.ErrorDetail{
			Code:    wire.CodeInvalidArguments,
			Message: "invalid arguments for " + message.ToolName + ": " + err.Error(),
		})
		return
	}

	stream, err := d.upstream.AskStream(ctx, args.Content)
	if err != nil {
		d.respondError(message.CorrelationID, true, upstreamErrorDetail(err))
		return
	}
	defer stream.Close()

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			d.respond(&wire.Response{
				Status:        wire.StatusOK,
				CorrelationID: message.CorrelationID,
				Done:          true,
			})
			return
		}
		if err != nil {
			d.respondError(message.CorrelationID, true, upstreamErrorDetail(err))
			return
		}
		d.respond(&wire.Response{
			CorrelationID: message.CorrelationID,
			Chunk:         chunk,
		})
	}
}

// respond writes one frame. A write failure means the connection is
// gone; the read loop notices independently, so the failure is only
// logged.
func (d *Dispatcher) respond(response *wire.Response) {
	if err := d.encoder.Encode(response); err != nil {
		d.logger.Debug("dropping response for closed connection", "error", err)
	}
}

// respondError writes an error-status frame. done marks the frame as
// the stream terminator for streaming calls.
func (d *Dispatcher) respondError(correlationID string, done bool, detail *wire.ErrorDetail) {
	d.respond(&wire.Response{
		Status:        wire.StatusError,
		Error:         detail,
		CorrelationID: correlationID,
		Done:          done,
	})
}

// upstreamErrorDetail maps an upstream failure to its wire form. The
// upstream's error detail is preserved verbatim in the message.
func upstreamErrorDetail(err error) *wire.ErrorDetail {
	var interrupted *selector.StreamInterruptedError
	if errors.As(err, &interrupted) {
		return &wire.ErrorDetail{
			Code:      wire.CodeStreamInterrupted,
			Message:   err.Error(),
			Retryable: true,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &wire.ErrorDetail{
			Code:    wire.CodeCanceled,
			Message: "call canceled: connection closed",
		}
	}

	var apiError *selector.APIError
	if errors.As(err, &apiError) {
		return &wire.ErrorDetail{
			Code:      wire.CodeUpstream,
			Message:   err.Error(),
			Retryable: apiError.Transient(),
		}
	}

	return &wire.ErrorDetail{
		Code:      wire.CodeUpstream,
		Message:   err.Error(),
		Retryable: true,
	}
}

// mustMarshal encodes a value that cannot fail to marshal (the static
// tool catalog).
func mustMarshal(v any) json.RawMessage {
	encoded, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return encoded
}

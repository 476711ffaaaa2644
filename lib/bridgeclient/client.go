// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package bridgeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/automateyournetwork/selector-mcp-server/lib/clock"
	"github.com/automateyournetwork/selector-mcp-server/lib/dispatch"
	"github.com/automateyournetwork/selector-mcp-server/lib/netutil"
	"github.com/automateyournetwork/selector-mcp-server/lib/wire"
)

// ErrConnectionLost indicates the transport to the server failed
// while calls were outstanding. Every pending call fails with an
// error wrapping this sentinel; results are never silently dropped.
var ErrConnectionLost = errors.New("bridgeclient: connection lost")

// ErrNotReady indicates the server's upstream probe has not yet
// succeeded. Retryable: send ready again once the upstream recovers.
var ErrNotReady = errors.New("bridgeclient: upstream not ready")

// dialTimeout bounds the Unix socket connect in Dial.
const dialTimeout = 5 * time.Second

// Options configures a Client. The zero value is usable.
type Options struct {
	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Clock drives the polling delay in WaitReady. If nil, the real
	// clock is used.
	Clock clock.Clock
}

// pendingCall is the routing entry for one in-flight call. The read
// loop delivers every frame carrying the call's correlation ID to
// frames; gone is closed when the caller abandons the call so the
// read loop never blocks on a dead receiver.
type pendingCall struct {
	frames chan *wire.Response
	gone   chan struct{}
}

// Client is a framed tool-call connection to a bridge server. Calls
// are safe for concurrent use: each call carries a fresh correlation
// ID and a background read loop routes response frames back to the
// issuing goroutine, so a slow call never delays a fast one.
type Client struct {
	encoder *wire.Encoder
	closer  io.Closer
	command *exec.Cmd
	logger  *slog.Logger
	clock   clock.Clock

	mu       sync.Mutex
	pending  map[string]*pendingCall
	closed   bool
	transErr error

	readerDone chan struct{}
}

// Dial connects to a bridge server listening on a Unix socket.
func Dial(socketPath string, options Options) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("bridgeclient: dialing %s: %w", socketPath, err)
	}
	return newClient(conn, conn, conn, nil, options), nil
}

// Spawn starts the server as a subprocess and connects over its
// stdin/stdout pipes. The child's stderr passes through to this
// process's stderr so server logs stay visible. Cancelling ctx kills
// the subprocess.
func Spawn(ctx context.Context, command []string, options Options) (*Client, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("bridgeclient: empty server command")
	}

	child := exec.CommandContext(ctx, command[0], command[1:]...)
	child.Stderr = os.Stderr

	stdin, err := child.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridgeclient: opening stdin pipe: %w", err)
	}
	stdout, err := child.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridgeclient: opening stdout pipe: %w", err)
	}
	if err := child.Start(); err != nil {
		return nil, fmt.Errorf("bridgeclient: starting %s: %w", command[0], err)
	}

	return newClient(stdout, stdin, stdin, child, options), nil
}

func newClient(reader io.Reader, writer io.Writer, closer io.Closer, command *exec.Cmd, options Options) *Client {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := options.Clock
	if tick == nil {
		tick = clock.Real()
	}

	client := &Client{
		encoder:    wire.NewEncoder(writer),
		closer:     closer,
		command:    command,
		logger:     logger,
		clock:      tick,
		pending:    make(map[string]*pendingCall),
		readerDone: make(chan struct{}),
	}
	go client.readLoop(wire.NewDecoder(reader))
	return client
}

// readLoop is the single reader on the connection. It routes each
// response frame to the pending call that issued it; on transport
// failure it fails every pending call with ErrConnectionLost.
func (c *Client) readLoop(decoder *wire.Decoder) {
	defer close(c.readerDone)

	for {
		response, err := decoder.NextResponse()
		if err != nil {
			c.failPending(err)
			return
		}

		c.mu.Lock()
		call := c.pending[response.CorrelationID]
		if call != nil && terminal(response) {
			delete(c.pending, response.CorrelationID)
		}
		c.mu.Unlock()

		if call == nil {
			c.logger.Debug("response for unknown correlation id",
				"correlation_id", response.CorrelationID,
			)
			continue
		}
		select {
		case call.frames <- response:
		case <-call.gone:
		}
	}
}

// terminal reports whether this frame completes its call. Stream
// chunks are intermediate; everything else (results, errors,
// readiness answers, stream-closing frames) is final.
func terminal(response *wire.Response) bool {
	return response.Done || len(response.Chunk) == 0
}

// failPending marks the connection lost and closes every pending
// call's frame channel.
func (c *Client) failPending(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || errors.Is(cause, io.EOF) || netutil.IsExpectedCloseError(cause) {
		c.transErr = ErrConnectionLost
	} else {
		c.transErr = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
	}
	if len(c.pending) > 0 {
		c.logger.Warn("failing pending calls", "count", len(c.pending), "error", c.transErr)
	}
	for id, call := range c.pending {
		close(call.frames)
		delete(c.pending, id)
	}
}

// register allocates a correlation ID and routing entry for a call.
func (c *Client) register() (string, *pendingCall, error) {
	correlationID := uuid.NewString()
	call := &pendingCall{
		frames: make(chan *wire.Response, 16),
		gone:   make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", nil, fmt.Errorf("bridgeclient: client is closed")
	}
	if c.transErr != nil {
		return "", nil, c.transErr
	}
	c.pending[correlationID] = call
	return correlationID, call, nil
}

// unregister abandons a call. Safe to invoke after the call has
// already completed.
func (c *Client) unregister(correlationID string, call *pendingCall) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
	close(call.gone)
}

// connectionError returns the transport failure recorded by the read
// loop, or the bare sentinel if the loop ended without one.
func (c *Client) connectionError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transErr != nil {
		return c.transErr
	}
	return ErrConnectionLost
}

// roundTrip issues one message and waits for its terminal response.
func (c *Client) roundTrip(ctx context.Context, message *wire.Message) (*wire.Response, error) {
	correlationID, call, err := c.register()
	if err != nil {
		return nil, err
	}
	defer c.unregister(correlationID, call)

	message.CorrelationID = correlationID
	if err := c.encoder.Encode(message); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	select {
	case response, ok := <-call.frames:
		if !ok {
			return nil, c.connectionError()
		}
		return response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call invokes a single-shot tool and returns its result. Arguments
// may be nil for tools that take none. Failures reported by the
// server come back as a *wire.ErrorDetail.
func (c *Client) Call(ctx context.Context, tool string, arguments any) (json.RawMessage, error) {
	message := &wire.Message{Method: wire.MethodToolsCall, ToolName: tool}
	if arguments != nil {
		content, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("bridgeclient: encoding arguments: %w", err)
		}
		message.Content = content
	}

	response, err := c.roundTrip(ctx, message)
	if err != nil {
		return nil, err
	}
	switch response.Status {
	case wire.StatusOK:
		return response.Result, nil
	case wire.StatusNotReady:
		return nil, ErrNotReady
	default:
		if response.Error != nil {
			if response.Error.Code == wire.CodeNotReady {
				return nil, fmt.Errorf("%w: %s", ErrNotReady, response.Error.Message)
			}
			return nil, response.Error
		}
		return nil, fmt.Errorf("bridgeclient: unexpected response status %q", response.Status)
	}
}

// Ask sends a natural-language question and returns the answer.
func (c *Client) Ask(ctx context.Context, content string) (json.RawMessage, error) {
	return c.Call(ctx, dispatch.ToolAsk, map[string]string{"content": content})
}

// Query runs a raw command against the upstream.
func (c *Client) Query(ctx context.Context, command string) (json.RawMessage, error) {
	return c.Call(ctx, dispatch.ToolQuery, map[string]string{"command": command})
}

// Phrases lists the configured alias phrases, optionally filtered by
// source. An empty source returns all phrases.
func (c *Client) Phrases(ctx context.Context, source string) (json.RawMessage, error) {
	arguments := map[string]string{}
	if source != "" {
		arguments["source"] = source
	}
	return c.Call(ctx, dispatch.ToolPhrases, arguments)
}

// Ready performs one readiness handshake. Returns nil once the server
// reports its upstream reachable, ErrNotReady if the probe failed.
func (c *Client) Ready(ctx context.Context) error {
	response, err := c.roundTrip(ctx, &wire.Message{
		Method:   wire.MethodToolsCall,
		ToolName: dispatch.ToolReady,
	})
	if err != nil {
		return err
	}
	switch response.Status {
	case wire.StatusReady:
		return nil
	case wire.StatusNotReady:
		return ErrNotReady
	default:
		if response.Error != nil {
			return response.Error
		}
		return fmt.Errorf("bridgeclient: unexpected readiness status %q", response.Status)
	}
}

// WaitReady polls the readiness handshake until it succeeds, the
// context is cancelled, or a non-readiness error occurs.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	for {
		err := c.Ready(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotReady) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(interval):
		}
	}
}

// ToolDescription describes one tool advertised by the server.
type ToolDescription struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Streaming   bool            `json:"streaming,omitempty"`
}

// Discover returns the server's tool catalog.
func (c *Client) Discover(ctx context.Context) ([]ToolDescription, error) {
	response, err := c.roundTrip(ctx, &wire.Message{Method: wire.MethodToolsDiscover})
	if err != nil {
		return nil, err
	}
	if response.Status != wire.StatusOK {
		if response.Error != nil {
			return nil, response.Error
		}
		return nil, fmt.Errorf("bridgeclient: unexpected discover status %q", response.Status)
	}
	var catalog []ToolDescription
	if err := json.Unmarshal(response.Result, &catalog); err != nil {
		return nil, fmt.Errorf("bridgeclient: decoding tool catalog: %w", err)
	}
	return catalog, nil
}

// Close shuts down the connection. For spawned servers this closes
// the child's stdin, which the child treats as end of session, and
// then reaps the process. Outstanding calls fail with
// ErrConnectionLost.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	closeErr := c.closer.Close()
	if c.command != nil {
		if waitErr := c.command.Wait(); waitErr != nil && closeErr == nil {
			closeErr = fmt.Errorf("bridgeclient: server exited: %w", waitErr)
		}
	}
	<-c.readerDone
	if closeErr != nil && netutil.IsExpectedCloseError(closeErr) {
		return nil
	}
	return closeErr
}

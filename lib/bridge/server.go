// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/automateyournetwork/selector-mcp-server/lib/dispatch"
	"github.com/automateyournetwork/selector-mcp-server/lib/netutil"
	"github.com/automateyournetwork/selector-mcp-server/lib/wire"
)

// Server accepts framed tool-call connections on a Unix socket and
// dispatches each connection's requests against the upstream. Every
// connection gets its own dispatcher, so readiness is negotiated per
// connection and one client's state never leaks into another's.
type Server struct {
	// SocketPath is the Unix socket to listen on. Any stale socket
	// file at this path is removed before listening.
	SocketPath string

	// Upstream handles the tool calls once a connection is ready.
	Upstream dispatch.Upstream

	// Logger receives structured log output. If nil, slog.Default()
	// is used. Per-connection events are logged at Debug level;
	// lifecycle events and accept failures at Info/Error.
	Logger *slog.Logger

	listener    net.Listener
	cancel      context.CancelFunc
	done        chan struct{}
	connections sync.WaitGroup
}

// logger returns the configured logger or the default.
func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Start binds the Unix socket and begins accepting connections. It
// returns once the listener is accepting, or an error if binding
// fails. The server runs in the background until Stop is called or
// the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.SocketPath == "" {
		return fmt.Errorf("bridge: SocketPath is required")
	}
	if s.Upstream == nil {
		return fmt.Errorf("bridge: Upstream is required")
	}

	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("bridge: removing stale socket %s: %w", s.SocketPath, err)
	}

	listener, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("bridge: failed to listen on %s: %w", s.SocketPath, err)
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	go func() {
		defer close(s.done)
		defer os.Remove(s.SocketPath)
		s.acceptLoop(ctx)
	}()

	s.logger().Info("bridge listening", "socket_path", s.SocketPath)
	return nil
}

// Addr returns the listener's address. Returns nil if the server has
// not been started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts down the server, closing the listener and waiting for
// all in-flight connections to drain.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if s.done != nil {
		<-s.done
	}
}

// Wait blocks until the server has stopped.
func (s *Server) Wait() {
	if s.done != nil {
		<-s.done
	}
}

// acceptLoop accepts connections and serves each on its own
// goroutine. It waits for all in-flight connection goroutines to
// finish before returning, so that closing the done channel signals
// full quiescence.
func (s *Server) acceptLoop(ctx context.Context) {
	var connectionCount int64

	for {
		connection, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.connections.Wait()
				return
			}
			s.logger().Error("accept failed", "error", err)
			continue
		}

		connectionCount++
		connectionID := connectionCount
		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			defer connection.Close()
			logger := s.logger().With("connection_id", connectionID)
			logger.Debug("connection accepted")
			serveConnection(ctx, s.Upstream, connection, connection, logger, 0)
			logger.Debug("connection closed")
		}()
	}
}

// serveConnection runs the read loop for one connection: decode a
// frame, dispatch it, repeat until the peer disconnects or the
// context is cancelled. Malformed frames produce an error response
// and the loop resumes at the next line; only transport-level
// failures end the connection.
//
// limit bounds the number of dispatched requests, not counting the
// readiness handshake; zero means unlimited. Returns the transport
// error that ended the loop, or nil for a clean shutdown.
func serveConnection(ctx context.Context, upstream dispatch.Upstream, reader io.Reader, writer io.Writer, logger *slog.Logger, limit int) error {
	encoder := wire.NewEncoder(writer)
	decoder := wire.NewDecoder(reader)
	dispatcher := dispatch.New(upstream, encoder, logger)

	callCtx, cancelCalls := context.WithCancel(ctx)
	defer cancelCalls()

	// drain stops accepting and waits for in-flight calls. On a
	// transport failure the calls are cancelled first, so each emits
	// its terminal error instead of running against a dead peer.
	drain := func(abort bool) {
		if abort {
			cancelCalls()
		}
		dispatcher.Close()
		dispatcher.Wait()
	}

	dispatched := 0
	for {
		message, err := decoder.Next()
		if err != nil {
			var protocolError *wire.ProtocolError
			if errors.As(err, &protocolError) {
				logger.Warn("malformed frame", "error", protocolError.Err, "line", protocolError.Line)
				encodeError := encoder.Encode(&wire.Response{
					Status: wire.StatusError,
					Error: &wire.ErrorDetail{
						Code:    wire.CodeProtocolError,
						Message: protocolError.Error(),
					},
				})
				if encodeError != nil {
					drain(true)
					return encodeError
				}
				continue
			}
			if errors.Is(err, io.EOF) || netutil.IsExpectedCloseError(err) {
				drain(false)
				return nil
			}
			logger.Warn("read failed", "error", err)
			drain(true)
			return err
		}

		dispatcher.Dispatch(callCtx, message)

		if message.Method == wire.MethodToolsCall && message.ToolName == dispatch.ToolReady {
			continue
		}
		dispatched++
		if limit > 0 && dispatched >= limit {
			drain(false)
			return nil
		}
	}
}

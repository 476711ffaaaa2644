// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"io"
	"log/slog"

	"github.com/automateyournetwork/selector-mcp-server/lib/dispatch"
)

// ServePipe serves framed requests arriving on reader, writing
// responses to writer, until reader reaches EOF or the context is
// cancelled. This is the stdio transport: a parent process spawns the
// server and owns both ends of the pipe, so there is exactly one
// connection for the life of the process.
func ServePipe(ctx context.Context, upstream dispatch.Upstream, reader io.Reader, writer io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("serving on stdio")
	return serveConnection(ctx, upstream, reader, writer, logger, 0)
}

// ServeOnce serves the readiness handshake plus a single request on
// the pipe, then returns. Intended for one-request-per-process
// invocations where the caller spawns the server, issues one call,
// and lets the process exit.
func ServeOnce(ctx context.Context, upstream dispatch.Upstream, reader io.Reader, writer io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("serving single request on stdio")
	return serveConnection(ctx, upstream, reader, writer, logger, 1)
}

// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

// selector-mcp bridges the Selector AI query service to tool-calling
// clients. It speaks a framed NDJSON protocol over a Unix socket
// (--socket), over its own stdin/stdout when spawned as a subprocess
// (the default), or for exactly one request (--oneshot).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/automateyournetwork/selector-mcp-server/lib/bridge"
	"github.com/automateyournetwork/selector-mcp-server/lib/config"
	"github.com/automateyournetwork/selector-mcp-server/lib/selector"
	"github.com/automateyournetwork/selector-mcp-server/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var socketPath string
	var stdio bool
	var oneshot bool
	var verbose bool
	var showVersion bool

	flagSet := pflag.NewFlagSet("selector-mcp", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config file (default: $"+config.EnvConfigPath+")")
	flagSet.StringVarP(&socketPath, "socket", "s", "", "serve on this Unix socket instead of stdio")
	flagSet.BoolVar(&stdio, "stdio", false, "serve stdin/stdout even if the config file names a socket")
	flagSet.BoolVar(&oneshot, "oneshot", false, "serve a single request on stdio, then exit")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable per-connection debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("selector-mcp %s\n", version.Info())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if oneshot && socketPath != "" {
		return fmt.Errorf("--oneshot serves stdio and cannot be combined with --socket")
	}
	if stdio && socketPath != "" {
		return fmt.Errorf("--stdio and --socket are mutually exclusive")
	}

	// All logging goes to stderr: in stdio mode, stdout belongs to
	// the wire protocol.
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Server.SocketPath = socketPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	upstream, err := selector.New(selector.Options{
		BaseURL: cfg.Selector.URL,
		APIKey:  cfg.Selector.APIKey,
		Logger:  logger,
		Retry: selector.RetryPolicy{
			MaxAttempts: cfg.Selector.Retry.MaxAttempts,
			BaseDelay:   cfg.Selector.Retry.InitialDelay.Std(),
			MaxDelay:    cfg.Selector.Retry.MaxDelay.Std(),
			CallTimeout: cfg.Selector.Retry.CallTimeout.Std(),
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case oneshot:
		return bridge.ServeOnce(ctx, upstream, os.Stdin, os.Stdout, logger)
	case cfg.Server.SocketPath != "" && !stdio:
		return runSocket(ctx, cfg.Server.SocketPath, upstream, logger)
	default:
		return bridge.ServePipe(ctx, upstream, os.Stdin, os.Stdout, logger)
	}
}

// loadConfig resolves the config source: explicit flag, then the
// environment.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// runSocket serves on the Unix socket until the context is cancelled
// by a shutdown signal.
func runSocket(ctx context.Context, socketPath string, upstream *selector.Client, logger *slog.Logger) error {
	server := &bridge.Server{
		SocketPath: socketPath,
		Upstream:   upstream,
		Logger:     logger,
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	server.Stop()
	return nil
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `selector-mcp - expose Selector AI as framed tool calls

USAGE
    selector-mcp [flags]

FLAGS
%s
CONFIGURATION
    The Selector URL and API key come from the config file
    (selector.url, selector.api_key) or from the SELECTOR_URL and
    SELECTOR_AI_API_KEY environment variables. Environment variables
    win over file values.

EXAMPLES
    # Serve stdio (for clients that spawn this binary)
    SELECTOR_URL=https://selector.example.com \
    SELECTOR_AI_API_KEY=... selector-mcp

    # Serve a Unix socket for multiple local clients
    selector-mcp --config /etc/selector/bridge.yaml --socket /run/selector/bridge.sock

    # Answer one request and exit
    selector-mcp --oneshot < request.json
`, flagSet.FlagUsages())
}

// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

// selector-cli is a terminal client for the selector-mcp bridge. It
// either connects to a running bridge socket (--socket) or spawns the
// bridge itself (--server-command) and talks over its stdio. With a
// question on the command line it asks once and exits; with no
// arguments on a terminal it drops into an interactive loop.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/automateyournetwork/selector-mcp-server/lib/bridgeclient"
	"github.com/automateyournetwork/selector-mcp-server/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var socketPath string
	var serverCommand string
	var stream bool
	var command string
	var phrases bool
	var source string
	var timeout time.Duration
	var readyTimeout time.Duration
	var verbose bool
	var showVersion bool

	flagSet := pflag.NewFlagSet("selector-cli", pflag.ContinueOnError)
	flagSet.StringVarP(&socketPath, "socket", "s", "", "connect to a bridge on this Unix socket")
	flagSet.StringVar(&serverCommand, "server-command", "selector-mcp", "bridge command to spawn when --socket is not given")
	flagSet.BoolVar(&stream, "stream", false, "stream answers incrementally")
	flagSet.StringVar(&command, "command", "", "run a raw query instead of asking a question")
	flagSet.BoolVar(&phrases, "phrases", false, "list configured alias phrases")
	flagSet.StringVar(&source, "source", "", "filter --phrases by source")
	flagSet.DurationVar(&timeout, "timeout", 2*time.Minute, "per-call deadline")
	flagSet.DurationVar(&readyTimeout, "ready-timeout", 30*time.Second, "how long to wait for the upstream to become reachable")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("selector-cli %s\n", version.Info())
		return nil
	}

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	client, err := connect(socketPath, serverCommand, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	readyContext, cancelReady := context.WithTimeout(context.Background(), readyTimeout)
	defer cancelReady()
	if err := client.WaitReady(readyContext, time.Second); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("upstream not reachable within %s", readyTimeout)
		}
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch {
	case phrases:
		return printPhrases(ctx, client, source)
	case command != "":
		result, err := client.Query(ctx, command)
		if err != nil {
			return err
		}
		return printResult(result)
	}

	question := strings.Join(flagSet.Args(), " ")
	if question != "" {
		return ask(ctx, client, question, stream)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("no question given and stdin is not a terminal")
	}
	cancel()
	return interactiveLoop(client, stream, timeout)
}

// connect dials the socket when one is named, otherwise spawns the
// bridge as a subprocess.
func connect(socketPath, serverCommand string, logger *slog.Logger) (*bridgeclient.Client, error) {
	options := bridgeclient.Options{Logger: logger}
	if socketPath != "" {
		return bridgeclient.Dial(socketPath, options)
	}
	return bridgeclient.Spawn(context.Background(), strings.Fields(serverCommand), options)
}

func ask(ctx context.Context, client *bridgeclient.Client, question string, stream bool) error {
	if !stream {
		result, err := client.Ask(ctx, question)
		if err != nil {
			return err
		}
		return printResult(result)
	}

	answerStream, err := client.AskStream(ctx, question)
	if err != nil {
		return err
	}
	defer answerStream.Close()
	for {
		chunk, err := answerStream.Next()
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			if answerStream.Delivered() > 0 {
				fmt.Println()
				fmt.Fprintf(os.Stderr, "warning: answer truncated after %d chunks\n", answerStream.Delivered())
			}
			return err
		}
		fmt.Print(chunkText(chunk))
	}
}

func printPhrases(ctx context.Context, client *bridgeclient.Client, source string) error {
	result, err := client.Phrases(ctx, source)
	if err != nil {
		return err
	}
	return printResult(result)
}

// printResult writes a result payload for human eyes: bare strings
// unquoted, everything else as indented JSON.
func printResult(result json.RawMessage) error {
	var text string
	if json.Unmarshal(result, &text) == nil {
		fmt.Println(text)
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

// chunkText renders one stream chunk: string chunks print as-is,
// structured chunks print compact.
func chunkText(chunk json.RawMessage) string {
	var text string
	if json.Unmarshal(chunk, &text) == nil {
		return text
	}
	return string(chunk)
}

// interactiveLoop reads questions from the terminal until EOF or an
// exit command. Each question gets its own deadline.
func interactiveLoop(client *bridgeclient.Client, stream bool, timeout time.Duration) error {
	fmt.Println("Connected to Selector. Type a question, or \"exit\" to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("selector> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := ask(ctx, client, question, stream)
		cancel()
		if err != nil {
			if errors.Is(err, bridgeclient.ErrConnectionLost) {
				return err
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is a single Server-Sent Event parsed from an SSE stream.
type sseEvent struct {
	// Type is the event type from the "event:" field. Empty when the
	// stream uses only the default event type.
	Type string

	// Data is the event payload, assembled from one or more "data:"
	// lines. Multiple data lines are joined with newlines per the
	// SSE specification.
	Data string
}

// sseScanner reads Server-Sent Events from an [io.Reader] per the W3C
// Server-Sent Events specification.
//
// Events are delimited by blank lines. Within an event, lines
// starting with "data:" carry the payload and "event:" sets the
// event type. Comment lines (starting with ":") and unknown fields
// are ignored.
type sseScanner struct {
	reader  *bufio.Reader
	current sseEvent
	err     error
}

func newSSEScanner(reader io.Reader) *sseScanner {
	return &sseScanner{
		reader: bufio.NewReaderSize(reader, 64*1024),
	}
}

// next advances to the next event. Returns false when the stream ends
// (EOF) or an error occurs; call err() afterwards to distinguish.
func (scanner *sseScanner) next() bool {
	scanner.current = sseEvent{}

	var dataLines []string
	var eventType string
	hasData := false

	for {
		line, err := scanner.reader.ReadString('\n')

		// Partial last line: no trailing newline before EOF.
		if err != nil && line == "" {
			if err == io.EOF {
				if hasData {
					scanner.current = sseEvent{
						Type: eventType,
						Data: strings.Join(dataLines, "\n"),
					}
					scanner.err = io.EOF
					return true
				}
				return false
			}
			scanner.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		// Blank line = event boundary.
		if line == "" {
			if hasData {
				scanner.current = sseEvent{
					Type: eventType,
					Data: strings.Join(dataLines, "\n"),
				}
				return true
			}
			eventType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field = line
			value = ""
		} else {
			// Per spec: if value starts with a space, remove exactly one.
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		default:
			// "id", "retry", and unknown fields are ignored.
		}
	}
}

// event returns the most recently parsed event. Only valid after next
// returns true.
func (scanner *sseScanner) event() sseEvent {
	return scanner.current
}

// scanErr returns the first error encountered, or nil for a clean EOF.
func (scanner *sseScanner) scanErr() error {
	if scanner.err == io.EOF {
		return nil
	}
	return scanner.err
}

// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxLineSize bounds a single protocol line. Tool results can be
// large (raw Selector query output), but anything past 1 MB indicates
// a broken peer rather than a legitimate message.
const maxLineSize = 1024 * 1024

// ProtocolError reports a single malformed line. The decoder has
// already consumed the offending line, so the caller can surface the
// error and keep decoding: one bad message never desynchronizes the
// stream.
type ProtocolError struct {
	// Line is the offending input, truncated for logging.
	Line string

	// Err is the underlying cause (JSON syntax error, missing field).
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wire: malformed line %q: %v", e.Line, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// truncateForError bounds the line excerpt embedded in a
// ProtocolError so a pathological line does not bloat logs.
func truncateForError(line []byte) string {
	const limit = 120
	if len(line) <= limit {
		return string(line)
	}
	return string(line[:limit]) + "..."
}

// Encoder writes newline-terminated JSON records to a transport.
//
// Writes are serialized with a mutex: the bridge runs one Encoder per
// connection shared by all concurrent tool handlers, and two
// concurrently produced records must never interleave their bytes
// mid-line. encoding/json escapes newlines inside string values, so
// the only newline in an encoded record is its terminator.
type Encoder struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewEncoder creates an Encoder writing to writer.
func NewEncoder(writer io.Writer) *Encoder {
	return &Encoder{writer: writer}
}

// Encode marshals v as JSON and writes it as one newline-terminated
// record. Safe for concurrent use.
func (e *Encoder) Encode(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshaling record: %w", err)
	}
	payload = append(payload, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.writer.Write(payload); err != nil {
		return fmt.Errorf("wire: writing record: %w", err)
	}
	return nil
}

// Decoder reads newline-terminated JSON records from a transport,
// buffering partial lines across physical reads. Decoder is not safe
// for concurrent use; each connection direction owns exactly one.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a Decoder reading from reader.
func NewDecoder(reader io.Reader) *Decoder {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: scanner}
}

// Next reads the next inbound Message. Returns io.EOF when the stream
// ends cleanly, a *ProtocolError for a malformed line (the stream
// remains usable), or the transport's read error. Empty lines are
// skipped.
func (d *Decoder) Next() (*Message, error) {
	line, err := d.nextLine()
	if err != nil {
		return nil, err
	}

	var message Message
	if err := json.Unmarshal(line, &message); err != nil {
		return nil, &ProtocolError{Line: truncateForError(line), Err: err}
	}
	if message.Method == "" {
		return nil, &ProtocolError{Line: truncateForError(line), Err: fmt.Errorf("missing method field")}
	}
	return &message, nil
}

// NextResponse reads the next outbound Response frame. Used by the
// bridge client side of the connection. Error semantics match [Next].
func (d *Decoder) NextResponse() (*Response, error) {
	line, err := d.nextLine()
	if err != nil {
		return nil, err
	}

	var response Response
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, &ProtocolError{Line: truncateForError(line), Err: err}
	}
	return &response, nil
}

// nextLine returns the next non-empty line, io.EOF at clean end of
// stream, or the underlying read error.
func (d *Decoder) nextLine() ([]byte, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

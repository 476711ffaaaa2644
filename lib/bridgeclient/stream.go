// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package bridgeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/automateyournetwork/selector-mcp-server/lib/dispatch"
	"github.com/automateyournetwork/selector-mcp-server/lib/wire"
)

// Stream delivers the chunks of one streaming call in arrival order.
// Not safe for concurrent use; other calls on the same client may
// proceed while a stream is being consumed.
type Stream struct {
	client        *Client
	correlationID string
	call          *pendingCall
	ctx           context.Context
	delivered     int
	finished      bool
	err           error
}

// AskStream sends a natural-language question and streams the answer
// incrementally. The caller must drain the stream or Close it.
func (c *Client) AskStream(ctx context.Context, content string) (*Stream, error) {
	correlationID, call, err := c.register()
	if err != nil {
		return nil, err
	}

	arguments, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		c.unregister(correlationID, call)
		return nil, fmt.Errorf("bridgeclient: encoding arguments: %w", err)
	}
	message := &wire.Message{
		Method:        wire.MethodToolsCall,
		ToolName:      dispatch.ToolAskStream,
		Content:       arguments,
		CorrelationID: correlationID,
	}
	if err := c.encoder.Encode(message); err != nil {
		c.unregister(correlationID, call)
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	return &Stream{
		client:        c,
		correlationID: correlationID,
		call:          call,
		ctx:           ctx,
	}, nil
}

// Next returns the next chunk. It returns io.EOF after the server's
// closing frame; any other error means the stream did not complete
// and the chunks seen so far may be a prefix of the full answer.
func (s *Stream) Next() (json.RawMessage, error) {
	if s.finished {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}

	select {
	case response, ok := <-s.call.frames:
		if !ok {
			s.finish(s.client.connectionError())
			return nil, s.err
		}
		// An error frame ends the stream even without the done flag:
		// the server answers rejected stream calls (not ready, bad
		// arguments) with a single error response.
		if response.Error != nil {
			if response.Error.Code == wire.CodeNotReady {
				s.finish(fmt.Errorf("%w: %s", ErrNotReady, response.Error.Message))
			} else {
				s.finish(response.Error)
			}
			return nil, s.err
		}
		if response.Status == wire.StatusNotReady {
			s.finish(ErrNotReady)
			return nil, s.err
		}
		if response.Status != "" && response.Status != wire.StatusOK {
			s.finish(fmt.Errorf("bridgeclient: stream ended with status %q", response.Status))
			return nil, s.err
		}
		if response.Done || len(response.Chunk) == 0 {
			s.finish(nil)
			return nil, io.EOF
		}
		s.delivered++
		return response.Chunk, nil
	case <-s.ctx.Done():
		s.finish(s.ctx.Err())
		return nil, s.err
	}
}

// Delivered returns the number of chunks handed out so far.
func (s *Stream) Delivered() int {
	return s.delivered
}

// finish records the stream outcome and releases its routing entry.
func (s *Stream) finish(err error) {
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	s.client.unregister(s.correlationID, s.call)
}

// Close abandons the stream. Chunks still in flight are discarded.
// Safe to call after the stream has finished.
func (s *Stream) Close() error {
	s.finish(nil)
	return nil
}

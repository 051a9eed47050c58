package jsonrpc2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Conn reads and writes JSON-RPC messages over a Stream.
type Conn struct {
	stream *Stream
	mu     sync.Mutex // serializes writes
	closed bool
}

// NewConn creates a new connection.
func NewConn(stream *Stream) *Conn {
	return &Conn{stream: stream}
}

// Read decodes the next message from the stream and returns a *RequestMessage,
// *NotificationMessage or *ResponseMessage. It blocks until a message arrives.
func (c *Conn) Read(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := c.stream.ReadMessage()
	if err != nil {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		return nil, err
	}
	return decodeMessage(data)
}

func decodeMessage(data []byte) (any, error) {
	var base struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, Errorf(ParseError, "failed to parse base message: %v", err)
	}
	hasID := len(base.ID) > 0 && string(base.ID) != "null"

	switch {
	case base.Method != "" && hasID:
		var req RequestMessage
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, Errorf(ParseError, "failed to parse request message: %v", err)
		}
		return &req, nil
	case base.Method != "":
		var ntf NotificationMessage
		if err := json.Unmarshal(data, &ntf); err != nil {
			return nil, Errorf(ParseError, "failed to parse notification message: %v", err)
		}
		return &ntf, nil
	case hasID:
		var resp ResponseMessage
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, Errorf(ParseError, "failed to parse response message: %v", err)
		}
		return &resp, nil
	}
	return nil, NewError(InvalidRequest, "message is not a valid request, notification, or response")
}

// Write encodes and sends a message. It is safe for concurrent use.
// Writing to a closed connection returns io.ErrClosedPipe.
func (c *Conn) Write(ctx context.Context, msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return io.ErrClosedPipe
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := c.stream.WriteMessage(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Closed reports whether the connection has been closed or hit a fatal read error.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.stream.Close()
}

// Package servertest provides an in-memory language client for exercising a
// server.Server over connected pipes.
package servertest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akhenakh/biceplsp/jsonrpc2"
)

// DefaultTimeout bounds every wait performed by the client helpers.
const DefaultTimeout = 5 * time.Second

type pipeEnd struct {
	*io.PipeReader
	*io.PipeWriter
}

func (p pipeEnd) Close() error {
	errR := p.PipeReader.Close()
	errW := p.PipeWriter.Close()
	if errR != nil {
		return errR
	}
	return errW
}

// Pipe returns two connected in-memory streams: what one writes the other reads.
func Pipe() (server, client io.ReadWriteCloser) {
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	return pipeEnd{serverR, serverW}, pipeEnd{clientR, clientW}
}

// Client is a minimal language client. Responses are matched to calls by id;
// notifications and server requests are queued for the Wait helpers.
type Client struct {
	conn   *jsonrpc2.Conn
	nextID atomic.Int64

	mu      sync.Mutex
	waiters map[string]chan *jsonrpc2.ResponseMessage

	notifications chan *jsonrpc2.NotificationMessage
	requests      chan *jsonrpc2.RequestMessage
	done          chan struct{}
	closeOnce     sync.Once
}

// NewClient starts reading from rw. The client is closed on test cleanup.
func NewClient(t testing.TB, rw io.ReadWriter) *Client {
	t.Helper()
	c := &Client{
		conn:          jsonrpc2.NewConn(jsonrpc2.NewStream(rw)),
		waiters:       make(map[string]chan *jsonrpc2.ResponseMessage),
		notifications: make(chan *jsonrpc2.NotificationMessage, 256),
		requests:      make(chan *jsonrpc2.RequestMessage, 64),
		done:          make(chan struct{}),
	}
	go c.read()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (c *Client) read() {
	defer close(c.done)
	for {
		msg, err := c.conn.Read(context.Background())
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *jsonrpc2.ResponseMessage:
			c.mu.Lock()
			ch, ok := c.waiters[string(m.ID)]
			delete(c.waiters, string(m.ID))
			c.mu.Unlock()
			if ok {
				ch <- m
			}
		case *jsonrpc2.NotificationMessage:
			c.notifications <- m
		case *jsonrpc2.RequestMessage:
			c.requests <- m
		}
	}
}

// Call sends a request and decodes the result into result, which may be nil.
// A JSON-RPC error answer is returned as *jsonrpc2.ErrorObject.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	ch := make(chan *jsonrpc2.ResponseMessage, 1)
	c.mu.Lock()
	c.waiters[id] = ch
	c.mu.Unlock()

	req := &jsonrpc2.RequestMessage{JSONRPC: jsonrpc2.Version, ID: json.RawMessage(id), Method: method, Params: raw}
	if err := c.conn.Write(ctx, req); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, result)
	case <-c.done:
		return io.ErrUnexpectedEOF
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// Notify sends a notification.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, &jsonrpc2.NotificationMessage{JSONRPC: jsonrpc2.Version, Method: method, Params: raw})
}

// Reply answers a request sent by the server.
func (c *Client) Reply(ctx context.Context, id json.RawMessage, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, &jsonrpc2.ResponseMessage{JSONRPC: jsonrpc2.Version, ID: id, Result: raw})
}

// WaitNotification returns the next notification for method, skipping others.
func (c *Client) WaitNotification(t testing.TB, method string) *jsonrpc2.NotificationMessage {
	t.Helper()
	timeout := time.After(DefaultTimeout)
	for {
		select {
		case n := <-c.notifications:
			if n.Method == method {
				return n
			}
			t.Logf("skipping notification %s", n.Method)
		case <-timeout:
			t.Fatalf("no %s notification within %s", method, DefaultTimeout)
			return nil
		}
	}
}

// NoNotification fails if a notification for method arrives within d.
func (c *Client) NoNotification(t testing.TB, method string, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case n := <-c.notifications:
			if n.Method == method {
				t.Fatalf("unexpected %s notification: %s", method, n.Params)
			}
		case <-timeout:
			return
		}
	}
}

// WaitRequest returns the next server-to-client request for method, skipping others.
func (c *Client) WaitRequest(t testing.TB, method string) *jsonrpc2.RequestMessage {
	t.Helper()
	timeout := time.After(DefaultTimeout)
	for {
		select {
		case r := <-c.requests:
			if r.Method == method {
				return r
			}
			t.Logf("skipping request %s", r.Method)
		case <-timeout:
			t.Fatalf("no %s request within %s", method, DefaultTimeout)
			return nil
		}
	}
}

// Close closes the connection and waits for the reader to stop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		<-c.done
	})
	return err
}

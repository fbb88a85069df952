package binrpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client keeps one lazily dialed connection to a BIN-RPC endpoint. Calls
// are serialized; a failed call drops the connection so the next call
// redials.
type Client struct {
	addr    string
	timeout time.Duration

	callMutex sync.Mutex

	connMutex sync.Mutex
	conn      net.Conn
	closed    bool
}

func NewClient(host, port string, timeout time.Duration) *Client {
	return &Client{
		addr:    net.JoinHostPort(host, port),
		timeout: timeout,
	}
}

func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) Call(ctx context.Context, method string, params []any) (any, error) {
	req, err := EncodeRequest(method, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	c.callMutex.Lock()
	defer c.callMutex.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	if _, err := conn.Write(req); err != nil {
		c.drop(conn)
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	msgType, body, err := ReadFrame(conn)
	if err != nil {
		c.drop(conn)
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return DecodeResponse(msgType, body)
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	c.connMutex.Lock()
	if c.closed {
		c.connMutex.Unlock()
		return nil, net.ErrClosed
	}
	if c.conn != nil {
		conn := c.conn
		c.connMutex.Unlock()
		return conn, nil
	}
	c.connMutex.Unlock()

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}

	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	if c.closed {
		conn.Close()
		return nil, net.ErrClosed
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) drop(conn net.Conn) {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	conn.Close()
	if c.conn == conn {
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

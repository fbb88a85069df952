package xmlrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	kxmlrpc "github.com/kolo/xmlrpc"

	"github.com/thatsimonsguy/hmsim/internal/rpc"
)

const maxResponseBytes = 16 << 20

func init() {
	kxmlrpc.CharsetReader = charsetReader
}

// Client calls one XML-RPC endpoint. Each client owns its HTTP transport
// so Close releases only its own connections.
type Client struct {
	url       string
	transport *http.Transport
	http      *http.Client
	closeOnce sync.Once
}

func NewClient(host, port, path string, timeout time.Duration) *Client {
	if path == "" {
		path = "/"
	}
	transport := &http.Transport{
		Proxy:               nil,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		url:       "http://" + net.JoinHostPort(host, port) + path,
		transport: transport,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

func (c *Client) Call(ctx context.Context, method string, params []any) (any, error) {
	args := make([]any, len(params))
	for i, p := range params {
		// a bare nil param would be written as an empty <param>
		if p == nil {
			p = ""
		}
		args[i] = p
	}
	body, err := kxmlrpc.EncodeMethodCall(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("call %s: endpoint returned non-success status: %d", method, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return decodeResponse(raw)
}

// decodeResponse turns a methodResponse document into a value, or a fault
// into *rpc.Fault. Integers come back as int; nil and empty values come
// back as "", the same as over BIN-RPC.
func decodeResponse(raw []byte) (any, error) {
	// the decoder has no nil type; an empty string decodes to nil
	raw = bytes.ReplaceAll(raw, []byte("<nil/>"), []byte("<string></string>"))
	resp := kxmlrpc.Response(raw)

	if err := resp.Err(); err != nil {
		var fault kxmlrpc.FaultError
		if errors.As(err, &fault) {
			return nil, &rpc.Fault{Code: fault.Code, String: fault.String}
		}
		return nil, fmt.Errorf("decode fault: %w", err)
	}

	var result any
	if err := resp.Unmarshal(&result); err != nil {
		return nil, fmt.Errorf("decode methodResponse: %w", err)
	}
	return normalize(result), nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case int64:
		return int(t)
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	default:
		return v
	}
}

func (c *Client) Close() error {
	c.closeOnce.Do(c.transport.CloseIdleConnections)
	return nil
}

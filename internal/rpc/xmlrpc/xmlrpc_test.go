package xmlrpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hmsim/internal/rpc"
)

func echoHandler() rpc.Handler {
	return rpc.HandlerFunc(func(ctx context.Context, method string, params []any) (any, error) {
		switch method {
		case "echo":
			return params, nil
		case "fault":
			return nil, &rpc.Fault{Code: -5, String: "requested fault"}
		case "fail":
			return nil, errors.New("plain error")
		default:
			return "", nil
		}
	})
}

func newTestClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(ts.URL, "http://"))
	require.NoError(t, err)
	c := NewClient(host, port, "/RPC2", 5*time.Second)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientServerRoundTrip(t *testing.T) {
	ts := httptest.NewServer(NewServer(echoHandler()))
	defer ts.Close()

	c := newTestClient(t, ts)
	res, err := c.Call(context.Background(), "echo", []any{"a", 1, true, []any{2.5}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", 1, true, []any{2.5}}, res)
}

func TestClientReceivesFaults(t *testing.T) {
	ts := httptest.NewServer(NewServer(echoHandler()))
	defer ts.Close()

	c := newTestClient(t, ts)

	_, err := c.Call(context.Background(), "fault", nil)
	var f *rpc.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, -5, f.Code)

	_, err = c.Call(context.Background(), "fail", nil)
	require.ErrorAs(t, err, &f)
	assert.Equal(t, -1, f.Code)
	assert.Equal(t, "plain error", f.String)
}

func TestServerRejectsGet(t *testing.T) {
	s := NewServer(echoHandler())
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServerMalformedRequest(t *testing.T) {
	s := NewServer(echoHandler())
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("<broken")))

	assert.Equal(t, http.StatusOK, w.Code)
	_, err := decodeResponse(w.Body.Bytes())
	var f *rpc.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, -32700, f.Code)
}

func TestClientNonSuccessStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newTestClient(t, ts)
	_, err := c.Call(context.Background(), "listDevices", []any{"id"})
	assert.ErrorContains(t, err, "non-success status: 500")
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := NewClient("127.0.0.1", "1", "", time.Second)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestServeAndShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(echoHandler())
	done := make(chan error, 1)
	go func() { done <- s.Serve(l) }()

	host, port, _ := net.SplitHostPort(l.Addr().String())
	c := NewClient(host, port, "", 5*time.Second)
	defer c.Close()

	res, err := c.Call(context.Background(), "other", nil)
	require.NoError(t, err)
	assert.Equal(t, "", res)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}

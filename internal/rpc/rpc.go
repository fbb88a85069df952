// Package rpc defines the transport-neutral contracts shared by the
// XML-RPC and BIN-RPC adapters: an outbound Caller, an inbound Handler and
// the Fault error both protocols carry.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

type Protocol string

const (
	ProtocolBinary Protocol = "binrpc"
	ProtocolXML    Protocol = "xmlrpc"
)

// Caller issues outbound calls to one remote endpoint. Close releases the
// underlying resources and is safe to call more than once.
type Caller interface {
	Call(ctx context.Context, method string, params []any) (any, error)
	Close() error
}

// Handler serves inbound calls.
type Handler interface {
	Handle(ctx context.Context, method string, params []any) (any, error)
}

type HandlerFunc func(ctx context.Context, method string, params []any) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, params []any) (any, error) {
	return f(ctx, method, params)
}

// Fault is a protocol-level error reply.
type Fault struct {
	Code   int
	String string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("rpc fault %d: %s", f.Code, f.String)
}

func (f *Fault) Map() map[string]any {
	return map[string]any{"faultCode": f.Code, "faultString": f.String}
}

// FaultFromMap recognizes a {faultCode, faultString} struct.
func FaultFromMap(v any) (*Fault, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	code, hasCode := m["faultCode"]
	msg, hasString := m["faultString"]
	if !hasCode || !hasString {
		return nil, false
	}
	f := &Fault{}
	switch c := code.(type) {
	case int:
		f.Code = c
	case float64:
		f.Code = int(c)
	}
	f.String, _ = msg.(string)
	return f, true
}

// Request is one entry of a system.multicall batch.
type Request struct {
	Method string
	Params []any
}

// Multicall builds the single parameter of a system.multicall call.
func Multicall(requests []Request) []any {
	calls := make([]any, 0, len(requests))
	for _, r := range requests {
		calls = append(calls, map[string]any{
			"methodName": r.Method,
			"params":     r.Params,
		})
	}
	return calls
}

const shortenLimit = 77

// Shorten renders v as JSON, cut to 77 characters plus an ellipsis, for
// logging wire traffic.
func Shorten(v any) string {
	if v == nil {
		return ""
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	var s string
	if err := enc.Encode(v); err != nil {
		s = fmt.Sprint(v)
	} else {
		s = strings.TrimSuffix(buf.String(), "\n")
	}
	if len(s) > shortenLimit {
		cut := shortenLimit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}

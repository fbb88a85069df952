// Package rpctest provides a recording rpc.Caller for tests.
package rpctest

import (
	"context"
	"sync"
)

// Call is one recorded outbound call.
type Call struct {
	Method string
	Params []any
}

// Caller records every call and answers through Reply, which defaults to
// returning "" for every method.
type Caller struct {
	Reply func(ctx context.Context, method string, params []any) (any, error)

	mutex  sync.Mutex
	calls  []Call
	closes int
}

func (c *Caller) Call(ctx context.Context, method string, params []any) (any, error) {
	c.mutex.Lock()
	c.calls = append(c.calls, Call{Method: method, Params: params})
	reply := c.Reply
	c.mutex.Unlock()

	if reply == nil {
		return "", nil
	}
	return reply(ctx, method, params)
}

func (c *Caller) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closes++
	return nil
}

// Calls returns a copy of the calls recorded so far.
func (c *Caller) Calls() []Call {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]Call(nil), c.calls...)
}

// Methods returns the recorded method names in order.
func (c *Caller) Methods() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]string, 0, len(c.calls))
	for _, call := range c.calls {
		out = append(out, call.Method)
	}
	return out
}

func (c *Caller) Closes() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closes
}

// Dialer hands out Callers and remembers each one by endpoint key.
type Dialer struct {
	// Reply is installed on every Caller the dialer creates.
	Reply func(ctx context.Context, method string, params []any) (any, error)

	mutex   sync.Mutex
	callers map[string][]*Caller
}

func (d *Dialer) Dial(host, port, _ string) *Caller {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.callers == nil {
		d.callers = make(map[string][]*Caller)
	}
	c := &Caller{Reply: d.Reply}
	key := host + ":" + port
	d.callers[key] = append(d.callers[key], c)
	return c
}

// Callers returns every Caller dialed for host:port, oldest first.
func (d *Dialer) Callers(key string) []*Caller {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]*Caller(nil), d.callers[key]...)
}

// Last returns the most recent Caller for host:port, or nil.
func (d *Dialer) Last(key string) *Caller {
	callers := d.Callers(key)
	if len(callers) == 0 {
		return nil
	}
	return callers[len(callers)-1]
}

package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hmsim/internal/datadog"
	"github.com/thatsimonsguy/hmsim/internal/model"
	"github.com/thatsimonsguy/hmsim/internal/rpc"
)

// Job is a unit of outbound work run on a registration's worker.
type Job func(ctx context.Context)

// Registration is one registered client. Outbound work is queued and run
// in order by a single worker goroutine.
type Registration struct {
	Interface model.Interface
	ID        string
	URL       string
	Key       string
	Protocol  rpc.Protocol

	caller rpc.Caller
	ctx    context.Context
	cancel context.CancelFunc

	mutex  sync.Mutex
	queue  []Job
	closed bool
	wake   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newRegistration(iface model.Interface, id, rawURL string, endpoint Endpoint, caller rpc.Caller) *Registration {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registration{
		Interface: iface,
		ID:        id,
		URL:       rawURL,
		Key:       endpoint.Key(),
		Protocol:  endpoint.Protocol,
		caller:    caller,
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Registration) run() {
	defer close(r.done)
	for {
		r.mutex.Lock()
		if r.closed {
			r.mutex.Unlock()
			return
		}
		if len(r.queue) == 0 {
			r.mutex.Unlock()
			select {
			case <-r.wake:
				continue
			case <-r.ctx.Done():
				return
			}
		}
		job := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.mutex.Unlock()

		job(r.ctx)
	}
}

// Enqueue appends job to the outbound queue. It reports false once the
// registration is closed.
func (r *Registration) Enqueue(job Job) bool {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return false
	}
	r.queue = append(r.queue, job)
	r.mutex.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// Call issues an outbound call on the client's handle, logging both
// directions.
func (r *Registration) Call(ctx context.Context, method string, params []any) (any, error) {
	log.Debug().
		Str("iface", string(r.Interface)).
		Str("url", r.URL).
		Str("method", method).
		Str("params", rpc.Shorten(params)).
		Msg("rpc >")
	datadog.Incr("rpc.outbound", "iface:"+string(r.Interface), "method:"+method)

	res, err := r.caller.Call(ctx, method, params)
	if err != nil {
		datadog.Incr("rpc.outbound.errors", "iface:"+string(r.Interface), "method:"+method)
		log.Error().
			Err(err).
			Str("iface", string(r.Interface)).
			Str("url", r.URL).
			Str("method", method).
			Msg("Outbound call failed")
		return nil, err
	}

	log.Debug().
		Str("iface", string(r.Interface)).
		Str("url", r.URL).
		Str("method", method).
		Str("result", rpc.Shorten(res)).
		Msg("rpc <")
	return res, nil
}

// Done is closed when the worker has exited.
func (r *Registration) Done() <-chan struct{} {
	return r.done
}

// Close drops queued jobs, cancels the running one and releases the
// transport handle. Safe to call more than once.
func (r *Registration) Close() error {
	r.closeOnce.Do(func() {
		r.mutex.Lock()
		r.closed = true
		r.queue = nil
		r.mutex.Unlock()

		r.cancel()
		r.closeErr = r.caller.Close()
	})
	return r.closeErr
}

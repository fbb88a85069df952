package binrpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hmsim/internal/rpc"
)

// Server accepts BIN-RPC connections and answers request frames in order,
// one goroutine per connection.
type Server struct {
	handler rpc.Handler

	ctx    context.Context
	cancel context.CancelFunc

	mutex     sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
}

func NewServer(handler rpc.Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		l.Close()
		return nil
	}
	s.listeners[l] = struct{}{}
	s.mutex.Unlock()

	log.Info().Str("address", l.Addr().String()).Msg("BIN-RPC server listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			s.mutex.Lock()
			closed := s.closed
			s.mutex.Unlock()
			if closed {
				return nil
			}
			return err
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mutex.Lock()
		delete(s.conns, conn)
		s.mutex.Unlock()
		conn.Close()
	}()

	for {
		msgType, body, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("BIN-RPC connection closed")
			}
			return
		}
		if msgType != msgRequest {
			log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("Unexpected BIN-RPC message type, closing connection")
			return
		}

		if _, err := conn.Write(s.reply(body)); err != nil {
			log.Debug().Err(err).Msg("Failed to write BIN-RPC response")
			return
		}
	}
}

func (s *Server) reply(body []byte) []byte {
	method, params, err := DecodeRequest(body)
	if err != nil {
		log.Warn().Err(err).Msg("Malformed BIN-RPC request")
		return EncodeFault(&rpc.Fault{Code: -32700, String: err.Error()})
	}

	result, err := s.handler.Handle(s.ctx, method, params)
	if err != nil {
		var f *rpc.Fault
		if !errors.As(err, &f) {
			f = &rpc.Fault{Code: -1, String: err.Error()}
		}
		return EncodeFault(f)
	}

	out, err := EncodeResponse(result)
	if err != nil {
		log.Error().Err(err).Str("method", method).Msg("Failed to encode BIN-RPC response")
		return EncodeFault(&rpc.Fault{Code: -32603, String: err.Error()})
	}
	return out
}

// Shutdown stops accepting, closes open connections and waits for their
// goroutines or ctx, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	s.closed = true
	for l := range s.listeners {
		l.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mutex.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package xmlrpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hmsim/internal/rpc"
)

const maxRequestBytes = 16 << 20

type Server struct {
	handler    rpc.Handler
	httpServer *http.Server
}

func NewServer(handler rpc.Handler) *Server {
	s := &Server{handler: handler}
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	method, params, err := DecodeCall(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Malformed XML-RPC request")
		s.write(w, EncodeFault(&rpc.Fault{Code: -32700, String: err.Error()}))
		return
	}

	result, err := s.handler.Handle(r.Context(), method, params)
	if err != nil {
		s.write(w, EncodeFault(toFault(err)))
		return
	}

	body, err := EncodeResponse(result)
	if err != nil {
		log.Error().Err(err).Str("method", method).Msg("Failed to encode XML-RPC response")
		s.write(w, EncodeFault(&rpc.Fault{Code: -32603, String: err.Error()}))
		return
	}
	s.write(w, body)
}

func (s *Server) write(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
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
	log.Info().Str("address", l.Addr().String()).Msg("XML-RPC server listening")

	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func toFault(err error) *rpc.Fault {
	var f *rpc.Fault
	if errors.As(err, &f) {
		return f
	}
	return &rpc.Fault{Code: -1, String: err.Error()}
}

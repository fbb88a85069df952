package rega

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/thatsimonsguy/hmsim/db"
	"github.com/thatsimonsguy/hmsim/internal/datadog"
	"github.com/thatsimonsguy/hmsim/internal/state"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	maxScriptBytes  = 1 << 20
)

type Server struct {
	db  *sql.DB
	now func() time.Time

	router     chi.Router
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces time.Now for variable timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(database *sql.DB, opts ...Option) *Server {
	s := &Server{db: database, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get(`/{script:[a-zA-Z_-]+\.exe}`, s.handleGet)
	r.Post(`/{script:[a-zA-Z_-]+\.exe}`, s.handlePost)
	s.router = r

	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	log.Info().Str("address", l.Addr().String()).Msg("Rega server listening")
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	log.Debug().Str("script", chi.URLParam(r, "script")).Str("query", r.URL.RawQuery).Msg("rega get")
	s.write(w, "")
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxScriptBytes))
	if err != nil {
		http.Error(w, "failed to read script", http.StatusBadRequest)
		return
	}
	body, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		http.Error(w, "failed to decode script", http.StatusBadRequest)
		return
	}

	result, err := s.Exec(string(body))
	if err != nil {
		log.Error().Err(err).Str("script", chi.URLParam(r, "script")).Msg("Script failed")
		http.Error(w, "script failed", http.StatusInternalServerError)
		return
	}
	s.write(w, result)
}

// Exec runs a script body and returns the rendered response.
func (s *Server) Exec(body string) (string, error) {
	script := ParseScript(body)
	datadog.Incr("rega.scripts", "kind:"+script.Kind.String())

	switch script.Kind {
	case ScriptDump:
		records, err := s.table(script.Table)
		if err != nil {
			return "", err
		}
		log.Debug().Str("table", script.Table).Int("records", len(records)).Msg("rega dump")
		return Response(records)

	case ScriptSetState:
		ts := s.now().Format(timestampLayout)
		n, err := db.UpdateVariableState(s.db, script.ObjectID, script.Value, ts)
		if err != nil {
			return "", err
		}
		log.Info().Int64("id", script.ObjectID).Int64("matched", n).Str("ts", ts).Msg("Variable state set")
		return Response("")

	default:
		log.Warn().Str("line", script.Line).Msg("unknown script")
		return Response("")
	}
}

func (s *Server) table(name string) ([]map[string]any, error) {
	if name == state.TableVariables {
		return db.GetVariables(s.db)
	}
	return db.GetObjects(s.db, name)
}

func (s *Server) write(w http.ResponseWriter, response string) {
	encoder := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder())
	out, err := encoder.String(response)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode rega response")
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Server", "ise GmbH HTTP-Server v2.0")
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "no-store, no-cache")
	h.Set("Content-Type", "text/xml; charset=iso-8859-1")
	h.Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, out)
}

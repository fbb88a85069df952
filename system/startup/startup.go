package startup

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hmsim/db"
	"github.com/thatsimonsguy/hmsim/internal/config"
	"github.com/thatsimonsguy/hmsim/internal/dispatch"
	"github.com/thatsimonsguy/hmsim/internal/model"
	"github.com/thatsimonsguy/hmsim/internal/rpc"
	"github.com/thatsimonsguy/hmsim/internal/rpc/binrpc"
	"github.com/thatsimonsguy/hmsim/internal/rpc/xmlrpc"
	"github.com/thatsimonsguy/hmsim/internal/simulator"
	"github.com/thatsimonsguy/hmsim/internal/state"
)

// Server is a listener the process runs until shutdown.
type Server interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

type Listener struct {
	Name   string
	Addr   string
	Server Server
}

// RPCServers binds a dispatcher per configured interface to the transport
// its protocol names, in interface order.
func RPCServers(cfg config.Config, sim *simulator.Simulator) ([]Listener, error) {
	var listeners []Listener
	for _, iface := range model.Interfaces {
		ic, ok := cfg.Interfaces[iface]
		if !ok {
			continue
		}
		handler := dispatch.New(sim, iface)

		var srv Server
		switch ic.Protocol {
		case rpc.ProtocolBinary:
			srv = binrpc.NewServer(handler)
		case rpc.ProtocolXML:
			srv = xmlrpc.NewServer(handler)
		default:
			return nil, fmt.Errorf("interface %s: unknown protocol %q", iface, ic.Protocol)
		}

		listeners = append(listeners, Listener{
			Name:   string(iface) + " " + string(ic.Protocol),
			Addr:   cfg.Addr(ic.Port),
			Server: srv,
		})
	}
	return listeners, nil
}

// OpenRega opens an in-memory script database seeded from the configured
// file, or empty tables when no seed is set.
func OpenRega(cfg config.Rega) (*sql.DB, error) {
	seed := state.Empty()
	if cfg.Seed != "" {
		loaded, err := state.LoadRegaSeed(cfg.Seed)
		if err != nil {
			return nil, err
		}
		seed = loaded
	}

	database, err := db.Open(":memory:")
	if err != nil {
		return nil, err
	}
	if err := db.SeedDatabase(database, seed); err != nil {
		database.Close()
		return nil, err
	}

	counts := log.Info()
	for _, table := range state.Tables {
		counts = counts.Int(table, len(seed.Tables[table]))
	}
	counts.Str("seed", cfg.Seed).Msg("Rega database seeded")
	return database, nil
}

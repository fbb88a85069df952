package startup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hmsim/db"
	"github.com/thatsimonsguy/hmsim/internal/catalog"
	"github.com/thatsimonsguy/hmsim/internal/config"
	"github.com/thatsimonsguy/hmsim/internal/model"
	"github.com/thatsimonsguy/hmsim/internal/registry"
	"github.com/thatsimonsguy/hmsim/internal/rpc"
	"github.com/thatsimonsguy/hmsim/internal/rpc/binrpc"
	"github.com/thatsimonsguy/hmsim/internal/rpc/xmlrpc"
	"github.com/thatsimonsguy/hmsim/internal/simulator"
)

func newTestSimulator(t *testing.T) *simulator.Simulator {
	t.Helper()
	cat, err := catalog.Load(map[model.Interface]string{
		model.InterfaceRF: "../../data/devices-rfd.json",
		model.InterfaceIP: "../../data/devices-hmip.json",
	}, "../../data/paramset-descriptions.json")
	require.NoError(t, err)

	sim := simulator.New(cat, registry.New(registry.TransportDialers(time.Second)))
	t.Cleanup(sim.Close)
	return sim
}

func TestRPCServers(t *testing.T) {
	cfg := config.Config{
		ListenAddress: "127.0.0.1",
		Interfaces: map[model.Interface]config.Interface{
			model.InterfaceRF: {Protocol: rpc.ProtocolBinary, Port: 2001},
			model.InterfaceIP: {Protocol: rpc.ProtocolXML, Port: 2010},
		},
	}

	listeners, err := RPCServers(cfg, newTestSimulator(t))
	require.NoError(t, err)
	require.Len(t, listeners, 2)

	assert.Equal(t, "rfd binrpc", listeners[0].Name)
	assert.Equal(t, "127.0.0.1:2001", listeners[0].Addr)
	assert.IsType(t, &binrpc.Server{}, listeners[0].Server)

	assert.Equal(t, "hmip xmlrpc", listeners[1].Name)
	assert.IsType(t, &xmlrpc.Server{}, listeners[1].Server)
}

func TestRPCServersUnknownProtocol(t *testing.T) {
	cfg := config.Config{Interfaces: map[model.Interface]config.Interface{
		model.InterfaceIP: {Protocol: "json", Port: 2010},
	}}
	_, err := RPCServers(cfg, newTestSimulator(t))
	assert.ErrorContains(t, err, `unknown protocol "json"`)
}

func TestListenersStopOnShutdown(t *testing.T) {
	cfg := config.Config{
		ListenAddress: "127.0.0.1",
		Interfaces: map[model.Interface]config.Interface{
			model.InterfaceRF: {Protocol: rpc.ProtocolBinary},
			model.InterfaceIP: {Protocol: rpc.ProtocolXML},
		},
	}
	listeners, err := RPCServers(cfg, newTestSimulator(t))
	require.NoError(t, err)

	errs := make(chan error, len(listeners))
	for _, l := range listeners {
		l := l
		go func() { errs <- l.Server.ListenAndServe(l.Addr) }()
	}
	time.Sleep(50 * time.Millisecond)

	for _, l := range listeners {
		require.NoError(t, l.Server.Shutdown(context.Background()))
	}
	for range listeners {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("listener did not stop")
		}
	}
}

func TestOpenRega(t *testing.T) {
	database, err := OpenRega(config.Rega{Seed: "../../data/rega.json"})
	require.NoError(t, err)
	defer database.Close()

	vars, err := db.GetVariables(database)
	require.NoError(t, err)
	assert.Len(t, vars, 3)

	empty, err := OpenRega(config.Rega{})
	require.NoError(t, err)
	defer empty.Close()

	rooms, err := db.GetObjects(empty, "rooms")
	require.NoError(t, err)
	assert.Empty(t, rooms)

	_, err = OpenRega(config.Rega{Seed: "missing.json"})
	assert.Error(t, err)
}

package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimonsguy/hmsim/internal/catalog"
	"github.com/thatsimonsguy/hmsim/internal/config"
	"github.com/thatsimonsguy/hmsim/internal/console"
	"github.com/thatsimonsguy/hmsim/internal/datadog"
	"github.com/thatsimonsguy/hmsim/internal/logging"
	"github.com/thatsimonsguy/hmsim/internal/rega"
	"github.com/thatsimonsguy/hmsim/internal/registry"
	"github.com/thatsimonsguy/hmsim/internal/simulator"
	"github.com/thatsimonsguy/hmsim/system/shutdown"
	"github.com/thatsimonsguy/hmsim/system/startup"
)

func main() {
	cfg := config.Load()
	logFile := logging.Init(cfg.LogLevel, cfg.LogFile)
	defer logFile.Close()

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("listen_address", cfg.ListenAddress).
		Msg("Starting control unit simulator")

	datadog.InitMetrics(cfg.Datadog.Enabled, cfg.Datadog.AgentAddr, cfg.Datadog.Namespace, cfg.Datadog.Tags)
	defer datadog.Close()

	cat, err := catalog.Load(cfg.DevicePaths(), cfg.ParamsetDescriptions)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load device catalog")
	}
	sim := simulator.New(cat, registry.New(registry.TransportDialers(cfg.CallTimeout())))

	listeners, err := startup.RPCServers(cfg, sim)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build RPC servers")
	}

	var steps []shutdown.Step
	var closeDB func(ctx context.Context) error
	if cfg.Rega.Enabled {
		database, err := startup.OpenRega(cfg.Rega)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open rega database")
		}
		listeners = append(listeners, startup.Listener{
			Name:   "rega",
			Addr:   cfg.Addr(cfg.Rega.Port),
			Server: rega.NewServer(database),
		})
		closeDB = func(context.Context) error { return database.Close() }
	}

	// listeners stop before the registrations they feed
	for _, l := range listeners {
		steps = append(steps, shutdown.Step{Name: l.Name, Close: l.Server.Shutdown})
	}
	steps = append(steps, shutdown.Step{Name: "simulator", Close: func(context.Context) error {
		sim.Close()
		return nil
	}})
	if closeDB != nil {
		steps = append(steps, shutdown.Step{Name: "rega database", Close: closeDB})
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			log.Info().Str("listener", l.Name).Str("addr", l.Addr).Msg("Starting listener")
			return l.Server.ListenAndServe(l.Addr)
		})
	}
	if cfg.Interactive {
		g.Go(func() error {
			return console.New(sim).Run(gctx, cancel)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdown.Shutdown(steps...)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Simulator exited with error")
		datadog.Close()
		logFile.Close()
		os.Exit(1)
	}
}

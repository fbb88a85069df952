package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Step releases one part of the process. Steps run in the order given.
type Step struct {
	Name  string
	Close func(ctx context.Context) error
}

// Timeout bounds the whole shutdown sequence.
var Timeout = 5 * time.Second

// NotifyContext returns a context cancelled on SIGINT or SIGTERM.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Shutdown runs every step even when an earlier one fails and reports
// whether all of them succeeded.
func Shutdown(steps ...Step) bool {
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	ok := true
	for _, step := range steps {
		if err := step.Close(ctx); err != nil {
			log.Error().Err(err).Str("step", step.Name).Msg("Shutdown step failed")
			ok = false
			continue
		}
		log.Debug().Str("step", step.Name).Msg("Shutdown step done")
	}
	log.Info().Msg("Simulator stopped")
	return ok
}

func ShutdownWithError(err error, msg string, steps ...Step) {
	log.Error().Err(err).Msg(msg)
	Shutdown(steps...)
	os.Exit(1)
}

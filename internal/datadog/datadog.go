package datadog

import (
	"sync"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"
)

var (
	mu        sync.RWMutex
	dogstatsd *statsd.Client
)

// InitMetrics connects the DogStatsD client. When disabled every helper is a
// no-op, so callers never check.
func InitMetrics(enabled bool, addr, namespace string, tags []string) {
	if !enabled {
		log.Info().Msg("Datadog metrics disabled")
		return
	}

	client, err := statsd.New(addr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return
	}

	client.Namespace = namespace
	client.Tags = tags

	mu.Lock()
	dogstatsd = client
	mu.Unlock()

	log.Info().
		Str("addr", addr).
		Str("namespace", namespace).
		Strs("tags", tags).
		Msg("Datadog metrics initialized")
}

func Close() {
	mu.Lock()
	defer mu.Unlock()
	if dogstatsd != nil {
		if err := dogstatsd.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close DogStatsD client")
		}
		dogstatsd = nil
	}
}

func client() *statsd.Client {
	mu.RLock()
	defer mu.RUnlock()
	return dogstatsd
}

func Gauge(name string, value float64, tags ...string) {
	if c := client(); c != nil {
		if err := c.Gauge(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
		}
	}
}

func Incr(name string, tags ...string) {
	Count(name, 1, tags...)
}

func Count(name string, value int64, tags ...string) {
	if c := client(); c != nil {
		if err := c.Count(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
		}
	}
}

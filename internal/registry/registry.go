// Package registry tracks the clients that registered for events through
// init, one table per interface keyed by host:port.
package registry

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hmsim/internal/datadog"
	"github.com/thatsimonsguy/hmsim/internal/model"
	"github.com/thatsimonsguy/hmsim/internal/rpc"
	"github.com/thatsimonsguy/hmsim/internal/rpc/binrpc"
	"github.com/thatsimonsguy/hmsim/internal/rpc/xmlrpc"
)

const binaryScheme = "xmlrpc_bin"

var ErrClosed = errors.New("registry closed")

// Dialer creates the outbound handle for a client endpoint.
type Dialer func(host, port, path string) rpc.Caller

// TransportDialers returns the XML-RPC and BIN-RPC dialers.
func TransportDialers(timeout time.Duration) map[rpc.Protocol]Dialer {
	return map[rpc.Protocol]Dialer{
		rpc.ProtocolXML: func(host, port, path string) rpc.Caller {
			return xmlrpc.NewClient(host, port, path, timeout)
		},
		rpc.ProtocolBinary: func(host, port, _ string) rpc.Caller {
			return binrpc.NewClient(host, port, timeout)
		},
	}
}

// Endpoint is a parsed init url.
type Endpoint struct {
	Protocol rpc.Protocol
	Host     string
	Port     string
	Path     string
}

func (e Endpoint) Key() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// ParseEndpoint accepts scheme://host:port[/path]. The xmlrpc_bin scheme
// selects BIN-RPC, every other scheme XML-RPC.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, err
	}
	if u.Scheme == "" || u.Hostname() == "" || u.Port() == "" {
		return Endpoint{}, fmt.Errorf("url %q needs scheme, host and port", raw)
	}

	e := Endpoint{
		Protocol: rpc.ProtocolXML,
		Host:     u.Hostname(),
		Port:     u.Port(),
		Path:     u.Path,
	}
	if strings.EqualFold(u.Scheme, binaryScheme) {
		e.Protocol = rpc.ProtocolBinary
	}
	return e, nil
}

type Registry struct {
	dialers map[rpc.Protocol]Dialer

	mutex   sync.Mutex
	clients map[model.Interface]map[string]*Registration
	closed  bool
}

func New(dialers map[rpc.Protocol]Dialer) *Registry {
	return &Registry{
		dialers: dialers,
		clients: make(map[model.Interface]map[string]*Registration),
	}
}

// Register stores a new registration for the endpoint in rawURL. A
// registration already held under the same key is closed first.
func (r *Registry) Register(iface model.Interface, rawURL, id string) (*Registration, error) {
	endpoint, err := ParseEndpoint(rawURL)
	if err != nil {
		return nil, err
	}
	dial, ok := r.dialers[endpoint.Protocol]
	if !ok {
		return nil, fmt.Errorf("no dialer for protocol %s", endpoint.Protocol)
	}

	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return nil, ErrClosed
	}
	table, ok := r.clients[iface]
	if !ok {
		table = make(map[string]*Registration)
		r.clients[iface] = table
	}
	previous := table[endpoint.Key()]
	reg := newRegistration(iface, id, rawURL, endpoint, dial(endpoint.Host, endpoint.Port, endpoint.Path))
	table[endpoint.Key()] = reg
	count := len(table)
	r.mutex.Unlock()

	if previous != nil {
		log.Info().Str("iface", string(iface)).Str("key", endpoint.Key()).Str("id", previous.ID).Msg("Replacing existing registration")
		previous.Close()
	}

	datadog.Gauge("registrations", float64(count), "iface:"+string(iface))
	log.Info().
		Str("iface", string(iface)).
		Str("url", rawURL).
		Str("id", id).
		Str("protocol", string(endpoint.Protocol)).
		Msg("Client registered")
	return reg, nil
}

// Unregister closes and removes the registration for rawURL's key. It
// reports whether one existed.
func (r *Registry) Unregister(iface model.Interface, rawURL string) (bool, error) {
	endpoint, err := ParseEndpoint(rawURL)
	if err != nil {
		return false, err
	}

	r.mutex.Lock()
	reg, ok := r.clients[iface][endpoint.Key()]
	if ok {
		delete(r.clients[iface], endpoint.Key())
	}
	count := len(r.clients[iface])
	r.mutex.Unlock()

	if !ok {
		log.Warn().Str("iface", string(iface)).Str("url", rawURL).Msg("Unregister for unknown client")
		return false, nil
	}

	reg.Close()
	datadog.Gauge("registrations", float64(count), "iface:"+string(iface))
	log.Info().Str("iface", string(iface)).Str("url", rawURL).Str("id", reg.ID).Msg("Client unregistered")
	return true, nil
}

// Clients returns the registrations of iface ordered by key.
func (r *Registry) Clients(iface model.Interface) []*Registration {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := make([]*Registration, 0, len(r.clients[iface]))
	for _, reg := range r.clients[iface] {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close closes every registration. Later Register calls fail.
func (r *Registry) Close() {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return
	}
	r.closed = true
	var regs []*Registration
	for _, table := range r.clients {
		for _, reg := range table {
			regs = append(regs, reg)
		}
	}
	r.clients = make(map[model.Interface]map[string]*Registration)
	r.mutex.Unlock()

	for _, reg := range regs {
		reg.Close()
	}
	log.Info().Int("closed", len(regs)).Msg("Registry closed")
}

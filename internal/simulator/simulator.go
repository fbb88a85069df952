// Package simulator holds the control-unit state shared by every inbound
// surface: the device catalog, the live datapoint values and the clients
// registered for events.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hmsim/internal/catalog"
	"github.com/thatsimonsguy/hmsim/internal/datadog"
	"github.com/thatsimonsguy/hmsim/internal/model"
	"github.com/thatsimonsguy/hmsim/internal/reconcile"
	"github.com/thatsimonsguy/hmsim/internal/registry"
	"github.com/thatsimonsguy/hmsim/internal/rpc"
	"github.com/thatsimonsguy/hmsim/internal/store"
)

var (
	ErrUnknownDevice    = errors.New("unknown device")
	ErrUnknownParamset  = errors.New("unknown paramset")
	ErrUnknownDatapoint = errors.New("unknown datapoint")
	ErrTypeMismatch     = errors.New("value type does not match datapoint type")
	ErrRangeError       = errors.New("value out of range")
)

type Simulator struct {
	catalog  *catalog.Catalog
	values   *store.Values
	registry *registry.Registry

	closeOnce sync.Once
}

// New seeds the value store from every device that has a VALUES paramset.
func New(cat *catalog.Catalog, reg *registry.Registry) *Simulator {
	s := &Simulator{
		catalog:  cat,
		values:   store.New(),
		registry: reg,
	}

	for _, iface := range model.Interfaces {
		seeded := 0
		for _, dev := range cat.Devices(iface) {
			if !dev.HasParamset(model.ParamsetValues) {
				continue
			}
			desc, ok := cat.ParamsetDescription(iface, dev, model.ParamsetValues)
			if !ok {
				log.Warn().Str("iface", string(iface)).Str("address", dev.Address).Msg("No VALUES description for device")
				continue
			}
			s.values.Seed(iface, dev.Address, desc)
			seeded++
		}
		log.Info().Str("iface", string(iface)).Int("channels", seeded).Msg("Value store seeded")
	}
	return s
}

// Register handles init. An empty id unregisters the client at url;
// otherwise the client is registered and a reconciliation round is queued
// on its worker.
func (s *Simulator) Register(iface model.Interface, url, id string) error {
	if id == "" {
		_, err := s.registry.Unregister(iface, url)
		return err
	}

	reg, err := s.registry.Register(iface, url, id)
	if err != nil {
		return err
	}

	devices := s.catalog.Devices(iface)
	reg.Enqueue(func(ctx context.Context) {
		reconcile.Run(ctx, iface, reg, reg.ID, devices)
	})
	return nil
}

func (s *Simulator) Clients(iface model.Interface) []*registry.Registration {
	return s.registry.Clients(iface)
}

func (s *Simulator) ListDevices(iface model.Interface) []model.Device {
	return s.catalog.Devices(iface)
}

// ParamsetDescription resolves the description of paramset for the device
// at address.
func (s *Simulator) ParamsetDescription(iface model.Interface, address, paramset string) (model.ParamsetDescription, bool) {
	return s.catalog.ParamsetDescriptionByAddress(iface, address, paramset)
}

// SetValue validates value against the VALUES description and stores it.
// Datapoints flagged for events notify every registered client.
func (s *Simulator) SetValue(iface model.Interface, address, datapoint string, value any) error {
	param, err := s.parameter(iface, address, datapoint)
	if err != nil {
		s.reject(iface, address, datapoint, value, err)
		return err
	}
	if err := validate(param, value); err != nil {
		err = fmt.Errorf("%s %s: %w", address, datapoint, err)
		s.reject(iface, address, datapoint, value, err)
		return err
	}

	s.values.Set(iface, address, datapoint, value)
	log.Info().
		Str("iface", string(iface)).
		Str("address", address).
		Str("datapoint", datapoint).
		Str("value", rpc.Shorten(value)).
		Msg("Value set")

	if !param.HasEvent() {
		return nil
	}
	if param.Type == model.TypeAction {
		s.emit(iface, []model.Event{{Address: address, Datapoint: datapoint, Value: value}})
	} else {
		s.emit(iface, s.values.Snapshot(iface, address))
	}
	return nil
}

func (s *Simulator) parameter(iface model.Interface, address, datapoint string) (model.Parameter, error) {
	if _, ok := s.catalog.Device(iface, address); !ok {
		return model.Parameter{}, fmt.Errorf("%s: %w", address, ErrUnknownDevice)
	}
	desc, ok := s.catalog.ParamsetDescriptionByAddress(iface, address, model.ParamsetValues)
	if !ok {
		return model.Parameter{}, fmt.Errorf("%s %s: %w", address, model.ParamsetValues, ErrUnknownParamset)
	}
	param, ok := desc[datapoint]
	if !ok {
		return model.Parameter{}, fmt.Errorf("%s %s: %w", address, datapoint, ErrUnknownDatapoint)
	}
	return param, nil
}

func validate(p model.Parameter, value any) error {
	switch p.Type {
	case model.TypeAction, model.TypeBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s needs a boolean, got %T: %w", p.Type, value, ErrTypeMismatch)
		}
	case model.TypeInteger, model.TypeFloat:
		f, ok := model.ToFloat(value)
		if !ok {
			return fmt.Errorf("%s needs a number, got %T: %w", p.Type, value, ErrTypeMismatch)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%v is not a finite number: %w", value, ErrRangeError)
		}
		if p.Min != nil && f < *p.Min {
			return fmt.Errorf("%v below minimum %v: %w", value, *p.Min, ErrRangeError)
		}
		if p.Max != nil && f > *p.Max {
			return fmt.Errorf("%v above maximum %v: %w", value, *p.Max, ErrRangeError)
		}
	}
	return nil
}

func (s *Simulator) reject(iface model.Interface, address, datapoint string, value any, err error) {
	datadog.Incr("setvalue.rejected", "iface:"+string(iface))
	log.Warn().
		Err(err).
		Str("iface", string(iface)).
		Str("address", address).
		Str("datapoint", datapoint).
		Str("value", rpc.Shorten(value)).
		Msg("setValue rejected")
}

// emit sends events as one system.multicall per registered client.
func (s *Simulator) emit(iface model.Interface, events []model.Event) {
	if len(events) == 0 {
		return
	}
	for _, reg := range s.registry.Clients(iface) {
		requests := make([]rpc.Request, 0, len(events))
		for _, e := range events {
			requests = append(requests, rpc.Request{
				Method: "event",
				Params: []any{reg.ID, e.Address, e.Datapoint, e.Value},
			})
		}
		batch := rpc.Multicall(requests)
		reg := reg
		reg.Enqueue(func(ctx context.Context) {
			reg.Call(ctx, "system.multicall", []any{batch})
		})
	}
	datadog.Count("events.emitted", int64(len(events)), "iface:"+string(iface))
}

func (s *Simulator) GetValue(iface model.Interface, address, datapoint string) (any, error) {
	if _, ok := s.catalog.Device(iface, address); !ok {
		return nil, fmt.Errorf("%s: %w", address, ErrUnknownDevice)
	}
	v, ok := s.values.Get(iface, address, datapoint)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", address, datapoint, ErrUnknownDatapoint)
	}
	return v, nil
}

// GetParamset returns the live VALUES of address, or the defaults of any
// other described paramset.
func (s *Simulator) GetParamset(iface model.Interface, address, paramset string) (map[string]any, error) {
	dev, ok := s.catalog.Device(iface, address)
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, ErrUnknownDevice)
	}
	if paramset == model.ParamsetValues {
		if values, ok := s.values.Paramset(iface, address); ok {
			return values, nil
		}
	}
	desc, ok := s.catalog.ParamsetDescription(iface, dev, paramset)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", address, paramset, ErrUnknownParamset)
	}
	out := make(map[string]any, len(desc))
	for name, p := range desc {
		out[name] = p.InitialValue()
	}
	return out, nil
}

// Ping answers with a CENTRAL PONG event on RF. IP accepts the call and
// does nothing.
func (s *Simulator) Ping(iface model.Interface, id string) {
	if iface == model.InterfaceIP {
		log.Debug().Str("iface", string(iface)).Str("id", id).Msg("Ping ignored on IP")
		return
	}
	for _, reg := range s.registry.Clients(iface) {
		reg := reg
		reg.Enqueue(func(ctx context.Context) {
			reg.Call(ctx, "event", []any{reg.ID, "CENTRAL", "PONG", id})
		})
	}
}

// Close closes every registration. Safe to call more than once.
func (s *Simulator) Close() {
	s.closeOnce.Do(func() {
		s.registry.Close()
	})
}

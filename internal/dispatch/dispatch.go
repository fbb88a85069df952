// Package dispatch maps inbound RPC method names to simulator operations.
// One Dispatcher is bound per interface; both transports share it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hmsim/internal/datadog"
	"github.com/thatsimonsguy/hmsim/internal/model"
	"github.com/thatsimonsguy/hmsim/internal/rpc"
	"github.com/thatsimonsguy/hmsim/internal/simulator"
)

// Fault codes as used by the control unit.
const (
	FaultGeneric         = -1
	FaultUnknownDevice   = -2
	FaultUnknownParamset = -3
	FaultUnknownValue    = -5
	FaultInvalidParams   = -32602
)

type method func(ctx context.Context, params []any) (any, error)

type Dispatcher struct {
	sim     *simulator.Simulator
	iface   model.Interface
	methods map[string]method
}

func New(sim *simulator.Simulator, iface model.Interface) *Dispatcher {
	d := &Dispatcher{sim: sim, iface: iface}
	d.methods = map[string]method{
		"system.listMethods":     d.listMethods,
		"system.listmethods":     d.listMethods,
		"system.multicall":       d.multicall,
		"init":                   d.init,
		"listDevices":            d.listDevices,
		"getParamsetDescription": d.getParamsetDescription,
		"getValue":               d.getValue,
		"getParamset":            d.getParamset,
		"ping":                   d.ping,
		"setValue":               d.setValue,
	}
	return d
}

func (d *Dispatcher) Interface() model.Interface {
	return d.iface
}

// Handle implements rpc.Handler.
func (d *Dispatcher) Handle(ctx context.Context, name string, params []any) (any, error) {
	log.Debug().
		Str("iface", string(d.iface)).
		Str("method", name).
		Str("params", rpc.Shorten(params)).
		Msg("rpc call")
	datadog.Incr("rpc.inbound", "iface:"+string(d.iface), "method:"+name)

	m, ok := d.methods[name]
	if !ok {
		return d.notFound(name)
	}
	return m(ctx, params)
}

func (d *Dispatcher) notFound(name string) (any, error) {
	log.Error().Str("iface", string(d.iface)).Str("method", name).Msg("Method not found")
	return "", nil
}

func (d *Dispatcher) listMethods(ctx context.Context, params []any) (any, error) {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]any, 0, len(names))
	for _, name := range names {
		out = append(out, name)
	}
	return out, nil
}

// multicall runs each entry in order. Results are wrapped in one element
// arrays and failures become fault structs in place.
func (d *Dispatcher) multicall(ctx context.Context, params []any) (any, error) {
	calls, ok := arg(params, 0).([]any)
	if !ok {
		return nil, invalidParams("system.multicall", "expects an array of calls")
	}

	results := make([]any, 0, len(calls))
	for i, c := range calls {
		entry, ok := c.(map[string]any)
		if !ok {
			results = append(results, invalidParams("system.multicall", fmt.Sprintf("entry %d is not a struct", i)).Map())
			continue
		}
		name, _ := entry["methodName"].(string)
		if name == "system.multicall" {
			results = append(results, invalidParams(name, "recursive multicall").Map())
			continue
		}
		sub, _ := entry["params"].([]any)

		res, err := d.Handle(ctx, name, sub)
		if err != nil {
			results = append(results, asFault(err).Map())
			continue
		}
		results = append(results, []any{res})
	}
	return results, nil
}

func (d *Dispatcher) init(ctx context.Context, params []any) (any, error) {
	url, err := stringArg("init", params, 0)
	if err != nil {
		return nil, err
	}
	id, err := stringArg("init", params, 1)
	if err != nil {
		return nil, err
	}

	if err := d.sim.Register(d.iface, url, id); err != nil {
		log.Error().Err(err).Str("iface", string(d.iface)).Str("url", url).Msg("init failed")
	}
	return "", nil
}

func (d *Dispatcher) listDevices(ctx context.Context, params []any) (any, error) {
	devices := d.sim.ListDevices(d.iface)
	out := make([]any, 0, len(devices))
	for _, dev := range devices {
		out = append(out, dev.Map())
	}
	return out, nil
}

func (d *Dispatcher) getParamsetDescription(ctx context.Context, params []any) (any, error) {
	address, err := stringArg("getParamsetDescription", params, 0)
	if err != nil {
		return nil, err
	}
	paramset, err := stringArg("getParamsetDescription", params, 1)
	if err != nil {
		return nil, err
	}

	desc, ok := d.sim.ParamsetDescription(d.iface, address, paramset)
	if !ok {
		log.Warn().Str("iface", string(d.iface)).Str("address", address).Str("paramset", paramset).Msg("No paramset description")
		return nil, nil
	}
	return desc.Map(), nil
}

func (d *Dispatcher) getValue(ctx context.Context, params []any) (any, error) {
	address, err := stringArg("getValue", params, 0)
	if err != nil {
		return nil, err
	}
	datapoint, err := stringArg("getValue", params, 1)
	if err != nil {
		return nil, err
	}

	v, err := d.sim.GetValue(d.iface, address, datapoint)
	if err != nil {
		return nil, asFault(err)
	}
	return v, nil
}

func (d *Dispatcher) getParamset(ctx context.Context, params []any) (any, error) {
	address, err := stringArg("getParamset", params, 0)
	if err != nil {
		return nil, err
	}
	paramset, err := stringArg("getParamset", params, 1)
	if err != nil {
		return nil, err
	}

	values, err := d.sim.GetParamset(d.iface, address, paramset)
	if err != nil {
		return nil, asFault(err)
	}
	return values, nil
}

func (d *Dispatcher) ping(ctx context.Context, params []any) (any, error) {
	id, _ := arg(params, 0).(string)
	d.sim.Ping(d.iface, id)
	return "", nil
}

// setValue always acknowledges; validation failures are logged by the
// simulator.
func (d *Dispatcher) setValue(ctx context.Context, params []any) (any, error) {
	address, err := stringArg("setValue", params, 0)
	if err != nil {
		return nil, err
	}
	datapoint, err := stringArg("setValue", params, 1)
	if err != nil {
		return nil, err
	}
	if len(params) < 3 {
		return nil, invalidParams("setValue", "missing value")
	}

	d.sim.SetValue(d.iface, address, datapoint, params[2])
	return "", nil
}

func arg(params []any, i int) any {
	if i < len(params) {
		return params[i]
	}
	return nil
}

func stringArg(method string, params []any, i int) (string, error) {
	s, ok := arg(params, i).(string)
	if !ok {
		return "", invalidParams(method, fmt.Sprintf("parameter %d must be a string", i))
	}
	return s, nil
}

func invalidParams(method, msg string) *rpc.Fault {
	return &rpc.Fault{Code: FaultInvalidParams, String: method + ": " + msg}
}

func asFault(err error) *rpc.Fault {
	var f *rpc.Fault
	if errors.As(err, &f) {
		return f
	}
	code := FaultGeneric
	switch {
	case errors.Is(err, simulator.ErrUnknownDevice):
		code = FaultUnknownDevice
	case errors.Is(err, simulator.ErrUnknownParamset):
		code = FaultUnknownParamset
	case errors.Is(err, simulator.ErrUnknownDatapoint):
		code = FaultUnknownValue
	}
	return &rpc.Fault{Code: code, String: err.Error()}
}

// Package reconcile brings a client's device cache in line with the
// catalog: list what the client knows, delete what is stale, then publish
// what is missing.
package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hmsim/internal/datadog"
	"github.com/thatsimonsguy/hmsim/internal/model"
)

// Caller is the outbound side of one registered client.
type Caller interface {
	Call(ctx context.Context, method string, params []any) (any, error)
}

// Plan is the outcome of comparing client and catalog devices.
type Plan struct {
	Delete []string
	New    []model.Device
}

func (p Plan) Empty() bool {
	return len(p.Delete) == 0 && len(p.New) == 0
}

// Diff computes the plan for one interface. IP devices the client already
// knows are always republished; RF devices only when VERSION changed.
// Client devices the catalog does not hold are deleted.
func Diff(iface model.Interface, catalog, client []model.Device) Plan {
	known := make(map[string]model.Device, len(client))
	for _, d := range client {
		known[d.Address] = d
	}
	inCatalog := make(map[string]struct{}, len(catalog))

	var plan Plan
	for _, d := range catalog {
		inCatalog[d.Address] = struct{}{}

		have, ok := known[d.Address]
		switch {
		case !ok:
			plan.New = append(plan.New, d)
		case iface == model.InterfaceIP:
			plan.Delete = append(plan.Delete, d.Address)
			plan.New = append(plan.New, d)
		case !have.SameVersion(d):
			plan.Delete = append(plan.Delete, d.Address)
			plan.New = append(plan.New, d)
		}
	}

	for _, d := range client {
		if _, ok := inCatalog[d.Address]; !ok {
			plan.Delete = append(plan.Delete, d.Address)
		}
	}
	return plan
}

// Run executes one reconciliation round against caller. deleteDevices is
// answered before newDevices is sent; an error from deleteDevices does not
// stop the publish.
func Run(ctx context.Context, iface model.Interface, caller Caller, clientID string, catalog []model.Device) error {
	round := uuid.NewString()
	logger := log.With().Str("iface", string(iface)).Str("client", clientID).Str("round", round).Logger()

	res, err := caller.Call(ctx, "listDevices", []any{clientID})
	if err != nil {
		logger.Error().Err(err).Msg("listDevices failed, reconciliation aborted")
		return fmt.Errorf("listDevices: %w", err)
	}
	client, err := clientDevices(res)
	if err != nil {
		logger.Error().Err(err).Msg("Unexpected listDevices reply, reconciliation aborted")
		return err
	}

	plan := Diff(iface, catalog, client)
	logger.Info().
		Int("client_devices", len(client)).
		Int("catalog_devices", len(catalog)).
		Int("delete", len(plan.Delete)).
		Int("new", len(plan.New)).
		Msg("Reconciliation planned")

	if plan.Empty() {
		logger.Info().Msg("All devices known")
		return nil
	}

	if len(plan.Delete) > 0 {
		datadog.Count("reconcile.deleted", int64(len(plan.Delete)), "iface:"+string(iface))
		if _, err := caller.Call(ctx, "deleteDevices", []any{clientID, plan.Delete}); err != nil {
			logger.Warn().Err(err).Msg("deleteDevices failed")
		}
	}

	if len(plan.New) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		devices := make([]any, 0, len(plan.New))
		for _, d := range plan.New {
			devices = append(devices, d.Map())
		}
		datadog.Count("reconcile.published", int64(len(plan.New)), "iface:"+string(iface))
		if _, err := caller.Call(ctx, "newDevices", []any{clientID, devices}); err != nil {
			logger.Error().Err(err).Msg("newDevices failed")
			return fmt.Errorf("newDevices: %w", err)
		}
	}

	logger.Info().Msg("Reconciliation done")
	return nil
}

func clientDevices(res any) ([]model.Device, error) {
	switch list := res.(type) {
	case nil, string:
		// an empty client cache may come back as "" or nil
		return nil, nil
	case []any:
		out := make([]model.Device, 0, len(list))
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("listDevices entry %d is %T, not a struct", i, item)
			}
			out = append(out, model.DeviceFromMap(m))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("listDevices returned %T, not an array", res)
	}
}

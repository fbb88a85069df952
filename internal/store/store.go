package store

import (
	"sort"
	"sync"

	"github.com/thatsimonsguy/hmsim/internal/model"
)

// Values holds the current VALUES paramset of every simulated channel,
// per interface and address. It lives for the process lifetime only.
type Values struct {
	mutex   sync.RWMutex
	entries map[model.Interface]map[string]map[string]any
}

func New() *Values {
	return &Values{entries: make(map[model.Interface]map[string]map[string]any)}
}

// Seed initializes the datapoints of address from a VALUES description.
func (v *Values) Seed(iface model.Interface, address string, desc model.ParamsetDescription) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	entry := v.entry(iface, address)
	for name, p := range desc {
		entry[name] = p.InitialValue()
	}
}

func (v *Values) Get(iface model.Interface, address, datapoint string) (any, bool) {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	val, ok := v.entries[iface][address][datapoint]
	return val, ok
}

func (v *Values) Set(iface model.Interface, address, datapoint string, value any) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.entry(iface, address)[datapoint] = value
}

// Paramset returns a copy of all datapoints held for address.
func (v *Values) Paramset(iface model.Interface, address string) (map[string]any, bool) {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	entry, ok := v.entries[iface][address]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(entry))
	for k, val := range entry {
		out[k] = val
	}
	return out, true
}

// Snapshot returns one event per datapoint of address, ordered by name.
func (v *Values) Snapshot(iface model.Interface, address string) []model.Event {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	entry := v.entries[iface][address]
	names := make([]string, 0, len(entry))
	for name := range entry {
		names = append(names, name)
	}
	sort.Strings(names)

	events := make([]model.Event, 0, len(names))
	for _, name := range names {
		events = append(events, model.Event{Address: address, Datapoint: name, Value: entry[name]})
	}
	return events
}

func (v *Values) entry(iface model.Interface, address string) map[string]any {
	byAddress, ok := v.entries[iface]
	if !ok {
		byAddress = make(map[string]map[string]any)
		v.entries[iface] = byAddress
	}
	entry, ok := byAddress[address]
	if !ok {
		entry = make(map[string]any)
		byAddress[address] = entry
	}
	return entry
}

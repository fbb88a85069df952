// Package catalog holds the static device and paramset description tables
// the simulator is authoritative for. A Catalog is immutable after Load and
// safe for concurrent reads.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hmsim/internal/model"
)

type Catalog struct {
	devices      map[model.Interface][]model.Device
	byAddress    map[model.Interface]map[string]int
	descriptions map[string]model.ParamsetDescription
}

type deviceFile struct {
	Devices []model.Device `json:"devices"`
}

func New(devices map[model.Interface][]model.Device, descriptions map[string]model.ParamsetDescription) *Catalog {
	c := &Catalog{
		devices:      make(map[model.Interface][]model.Device),
		byAddress:    make(map[model.Interface]map[string]int),
		descriptions: descriptions,
	}
	if c.descriptions == nil {
		c.descriptions = make(map[string]model.ParamsetDescription)
	}
	for iface, devs := range devices {
		c.devices[iface] = devs
		idx := make(map[string]int, len(devs))
		for i, d := range devs {
			if _, dup := idx[d.Address]; dup {
				log.Warn().Str("iface", string(iface)).Str("address", d.Address).Msg("Duplicate device address in catalog, keeping first")
				continue
			}
			idx[d.Address] = i
		}
		c.byAddress[iface] = idx
	}
	return c
}

// Load reads one device file per interface and the shared paramset
// description file.
func Load(devicePaths map[model.Interface]string, descriptionPath string) (*Catalog, error) {
	devices := make(map[model.Interface][]model.Device, len(devicePaths))
	for iface, path := range devicePaths {
		var df deviceFile
		if err := readJSON(path, &df); err != nil {
			return nil, fmt.Errorf("load %s devices: %w", iface, err)
		}
		devices[iface] = df.Devices
	}

	descriptions := make(map[string]model.ParamsetDescription)
	if err := readJSON(descriptionPath, &descriptions); err != nil {
		return nil, fmt.Errorf("load paramset descriptions: %w", err)
	}

	c := New(devices, descriptions)
	for iface, devs := range devices {
		log.Info().
			Str("iface", string(iface)).
			Int("devices", len(devs)).
			Msg("Catalog loaded")
	}
	log.Info().Int("paramsets", len(descriptions)).Msg("Paramset descriptions loaded")
	return c, nil
}

func readJSON(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(v)
}

// Devices returns the catalog devices of an interface in file order.
func (c *Catalog) Devices(iface model.Interface) []model.Device {
	devs := c.devices[iface]
	out := make([]model.Device, len(devs))
	copy(out, devs)
	return out
}

func (c *Catalog) Device(iface model.Interface, address string) (model.Device, bool) {
	i, ok := c.byAddress[iface][address]
	if !ok {
		return model.Device{}, false
	}
	return c.devices[iface][i], true
}

// ParamsetKey derives the description key
// label/type/firmware/version/channelType/paramset. Channels use their
// parent's type, firmware and version and their own type as channel type.
func (c *Catalog) ParamsetKey(iface model.Interface, dev model.Device, paramset string) (string, bool) {
	owner := dev
	channelType := ""
	if dev.IsChannel() {
		parent, ok := c.Device(iface, dev.Parent)
		if !ok {
			return "", false
		}
		owner = parent
		channelType = dev.Type
	}

	return strings.Join([]string{
		iface.Label(),
		keyPart(owner.Field("TYPE")),
		keyPart(owner.Field("FIRMWARE")),
		keyPart(owner.Field("VERSION")),
		channelType,
		paramset,
	}, "/"), true
}

func (c *Catalog) ParamsetDescription(iface model.Interface, dev model.Device, paramset string) (model.ParamsetDescription, bool) {
	key, ok := c.ParamsetKey(iface, dev, paramset)
	if !ok {
		return nil, false
	}
	desc, ok := c.descriptions[key]
	return desc, ok
}

func (c *Catalog) ParamsetDescriptionByAddress(iface model.Interface, address, paramset string) (model.ParamsetDescription, bool) {
	dev, ok := c.Device(iface, address)
	if !ok {
		return nil, false
	}
	return c.ParamsetDescription(iface, dev, paramset)
}

func keyPart(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

type Interface string

const (
	InterfaceRF Interface = "rfd"
	InterfaceIP Interface = "hmip"
)

var Interfaces = []Interface{InterfaceRF, InterfaceIP}

// Label returns the interface name used in paramset description keys.
func (i Interface) Label() string {
	switch i {
	case InterfaceRF:
		return "BidCos-RF"
	case InterfaceIP:
		return "HmIP-RF"
	default:
		return string(i)
	}
}

func ParseInterface(s string) (Interface, bool) {
	for _, iface := range Interfaces {
		if string(iface) == s {
			return iface, true
		}
	}
	return "", false
}

type ValueType string

const (
	TypeAction  ValueType = "ACTION"
	TypeBool    ValueType = "BOOL"
	TypeInteger ValueType = "INTEGER"
	TypeFloat   ValueType = "FLOAT"
	TypeEnum    ValueType = "ENUM"
	TypeString  ValueType = "STRING"
)

// OPERATIONS bitmask
const (
	OperationRead  = 1
	OperationWrite = 2
	OperationEvent = 4
)

const (
	ParamsetValues = "VALUES"
	ParamsetMaster = "MASTER"
)

// Device is a catalog record for a device or one of its channels. Only the
// fields the simulator reasons about are typed; the full record is kept so
// clients receive it unchanged.
type Device struct {
	Address    string
	Parent     string
	ParentType string
	Type       string
	Firmware   string
	Paramsets  []string

	raw map[string]any
}

func DeviceFromMap(m map[string]any) Device {
	d := Device{raw: make(map[string]any, len(m))}
	for k, v := range m {
		d.raw[k] = v
	}
	d.Address, _ = m["ADDRESS"].(string)
	d.Parent, _ = m["PARENT"].(string)
	d.ParentType, _ = m["PARENT_TYPE"].(string)
	d.Type, _ = m["TYPE"].(string)
	d.Firmware, _ = m["FIRMWARE"].(string)
	if list, ok := m["PARAMSETS"].([]any); ok {
		for _, p := range list {
			if s, ok := p.(string); ok {
				d.Paramsets = append(d.Paramsets, s)
			}
		}
	}
	return d
}

func (d *Device) UnmarshalJSON(b []byte) error {
	m, err := decodeObject(b)
	if err != nil {
		return fmt.Errorf("device: %w", err)
	}
	*d = DeviceFromMap(m)
	return nil
}

func (d Device) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

// Version returns the raw VERSION field, nil when absent.
func (d Device) Version() any {
	return d.raw["VERSION"]
}

// SameVersion reports whether both records carry the same VERSION.
func (d Device) SameVersion(other Device) bool {
	return sameScalar(d.Version(), other.Version())
}

func (d Device) IsChannel() bool {
	return d.Parent != ""
}

func (d Device) HasParamset(name string) bool {
	for _, p := range d.Paramsets {
		if p == name {
			return true
		}
	}
	return false
}

// Field returns a raw record field.
func (d Device) Field(name string) any {
	return d.raw[name]
}

// Map returns a copy of the full record suitable for the wire.
func (d Device) Map() map[string]any {
	m := make(map[string]any, len(d.raw))
	for k, v := range d.raw {
		m[k] = v
	}
	return m
}

type Parameter struct {
	Type       ValueType
	Default    any
	Min        *float64
	Max        *float64
	Operations int
	ValueList  []string

	raw map[string]any
}

func ParameterFromMap(m map[string]any) Parameter {
	p := Parameter{raw: make(map[string]any, len(m))}
	for k, v := range m {
		p.raw[k] = v
	}
	if t, ok := m["TYPE"].(string); ok {
		p.Type = ValueType(t)
	}
	p.Default = m["DEFAULT"]
	if f, ok := ToFloat(m["MIN"]); ok {
		p.Min = &f
	}
	if f, ok := ToFloat(m["MAX"]); ok {
		p.Max = &f
	}
	if ops, ok := ToFloat(m["OPERATIONS"]); ok {
		p.Operations = int(ops)
	}
	if list, ok := m["VALUE_LIST"].([]any); ok {
		for _, v := range list {
			s, _ := v.(string)
			p.ValueList = append(p.ValueList, s)
		}
	}
	return p
}

func (p *Parameter) UnmarshalJSON(b []byte) error {
	m, err := decodeObject(b)
	if err != nil {
		return fmt.Errorf("parameter: %w", err)
	}
	*p = ParameterFromMap(m)
	return nil
}

func (p Parameter) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

func (p Parameter) HasEvent() bool {
	return p.Operations&OperationEvent != 0
}

// InitialValue is the value a datapoint holds before any write. ENUM
// defaults are stored as their index in VALUE_LIST.
func (p Parameter) InitialValue() any {
	if p.Type != TypeEnum {
		return p.Default
	}
	def, _ := p.Default.(string)
	for i, v := range p.ValueList {
		if v == def {
			return i
		}
	}
	if _, ok := p.Default.(int); ok {
		return p.Default
	}
	return -1
}

func (p Parameter) Map() map[string]any {
	m := make(map[string]any, len(p.raw))
	for k, v := range p.raw {
		m[k] = v
	}
	return m
}

// ParamsetDescription maps datapoint names to their parameter description.
type ParamsetDescription map[string]Parameter

func (d ParamsetDescription) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d ParamsetDescription) Map() map[string]any {
	m := make(map[string]any, len(d))
	for name, p := range d {
		m[name] = p.Map()
	}
	return m
}

// Event is a single value change notification.
type Event struct {
	Address   string
	Datapoint string
	Value     any
}

func sameScalar(a, b any) bool {
	fa, aNum := ToFloat(a)
	fb, bNum := ToFloat(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	return a == b
}

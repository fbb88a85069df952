// Package state loads the seed of the script emulator: system variables,
// programs, rooms, functions and channels as the control unit reports them.
package state

import (
	"fmt"
	"os"

	"github.com/thatsimonsguy/hmsim/internal/model"
)

// Tables served by the script emulator.
const (
	TableVariables = "variables"
	TablePrograms  = "programs"
	TableRooms     = "rooms"
	TableFunctions = "functions"
	TableChannels  = "channels"
)

var Tables = []string{TableVariables, TablePrograms, TableRooms, TableFunctions, TableChannels}

// RegaSeed holds each table as a list of raw records. Missing tables load
// as empty lists.
type RegaSeed struct {
	Tables map[string][]map[string]any
}

// LoadRegaSeed reads the seed file at path. Integer literals stay int so
// variable ids compare exactly.
func LoadRegaSeed(path string) (*RegaSeed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rega seed: %w", err)
	}
	return ParseRegaSeed(raw)
}

func ParseRegaSeed(raw []byte) (*RegaSeed, error) {
	v, err := model.DecodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rega seed: %w", err)
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse rega seed: expected an object, got %T", v)
	}

	seed := &RegaSeed{Tables: make(map[string][]map[string]any, len(Tables))}
	for _, table := range Tables {
		records := []map[string]any{}
		if list, ok := doc[table].([]any); ok {
			for i, item := range list {
				rec, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("parse rega seed: %s[%d] is not an object", table, i)
				}
				records = append(records, rec)
			}
		} else if doc[table] != nil {
			return nil, fmt.Errorf("parse rega seed: %s is not a list", table)
		}
		seed.Tables[table] = records
	}
	return seed, nil
}

// Empty returns a seed without records, for running the emulator without
// a seed file.
func Empty() *RegaSeed {
	seed := &RegaSeed{Tables: make(map[string][]map[string]any, len(Tables))}
	for _, table := range Tables {
		seed.Tables[table] = []map[string]any{}
	}
	return seed
}

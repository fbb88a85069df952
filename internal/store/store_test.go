package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hmsim/internal/model"
)

func testDescription() model.ParamsetDescription {
	return model.ParamsetDescription{
		"STATE": model.ParameterFromMap(map[string]any{"TYPE": "BOOL", "DEFAULT": false}),
		"LEVEL": model.ParameterFromMap(map[string]any{"TYPE": "FLOAT", "DEFAULT": 0.0}),
		"MODE":  model.ParameterFromMap(map[string]any{"TYPE": "ENUM", "DEFAULT": "AUTO", "VALUE_LIST": []any{"MANUAL", "AUTO"}}),
	}
}

func TestSeedAppliesDefaults(t *testing.T) {
	v := New()
	v.Seed(model.InterfaceRF, "A:1", testDescription())

	state, ok := v.Get(model.InterfaceRF, "A:1", "STATE")
	require.True(t, ok)
	assert.Equal(t, false, state)

	mode, _ := v.Get(model.InterfaceRF, "A:1", "MODE")
	assert.Equal(t, 1, mode)

	_, ok = v.Get(model.InterfaceIP, "A:1", "STATE")
	assert.False(t, ok)
}

func TestSetThenGet(t *testing.T) {
	v := New()
	v.Seed(model.InterfaceRF, "A:1", testDescription())

	v.Set(model.InterfaceRF, "A:1", "LEVEL", 0.75)
	got, ok := v.Get(model.InterfaceRF, "A:1", "LEVEL")
	require.True(t, ok)
	assert.Equal(t, 0.75, got)
}

func TestSnapshotIsSorted(t *testing.T) {
	v := New()
	v.Seed(model.InterfaceRF, "A:1", testDescription())

	events := v.Snapshot(model.InterfaceRF, "A:1")
	require.Len(t, events, 3)
	assert.Equal(t, "LEVEL", events[0].Datapoint)
	assert.Equal(t, "MODE", events[1].Datapoint)
	assert.Equal(t, "STATE", events[2].Datapoint)
	for _, ev := range events {
		assert.Equal(t, "A:1", ev.Address)
	}
}

func TestParamsetReturnsCopy(t *testing.T) {
	v := New()
	v.Seed(model.InterfaceRF, "A:1", testDescription())

	ps, ok := v.Paramset(model.InterfaceRF, "A:1")
	require.True(t, ok)
	ps["STATE"] = true

	state, _ := v.Get(model.InterfaceRF, "A:1", "STATE")
	assert.Equal(t, false, state)

	_, ok = v.Paramset(model.InterfaceRF, "B:1")
	assert.False(t, ok)
}

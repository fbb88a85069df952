package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegaSeed(t *testing.T) {
	seed, err := ParseRegaSeed([]byte(`{
		"variables": [{"id": 950, "name": "Alarm", "val": false, "ts": ""}],
		"rooms": [{"id": 1230, "channels": [1401]}]
	}`))
	require.NoError(t, err)

	require.Len(t, seed.Tables[TableVariables], 1)
	assert.Equal(t, 950, seed.Tables[TableVariables][0]["id"])
	assert.Equal(t, []any{1401}, seed.Tables[TableRooms][0]["channels"])
	assert.Empty(t, seed.Tables[TablePrograms])
	assert.NotNil(t, seed.Tables[TableChannels])
}

func TestParseRegaSeedErrors(t *testing.T) {
	for _, raw := range []string{
		`[]`,
		`{"variables": {}}`,
		`{"variables": [1]}`,
		`not json`,
	} {
		_, err := ParseRegaSeed([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestLoadBundledSeed(t *testing.T) {
	seed, err := LoadRegaSeed("../../data/rega.json")
	require.NoError(t, err)
	assert.Len(t, seed.Tables[TableVariables], 3)
	assert.Len(t, seed.Tables[TableChannels], 2)

	_, err = LoadRegaSeed("does-not-exist.json")
	assert.Error(t, err)
}

func TestEmpty(t *testing.T) {
	seed := Empty()
	for _, table := range Tables {
		assert.NotNil(t, seed.Tables[table])
		assert.Empty(t, seed.Tables[table])
	}
}

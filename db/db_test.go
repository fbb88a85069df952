package db

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hmsim/internal/state"
)

func setupTestDB(t *testing.T, raw string) *sql.DB {
	t.Helper()
	database, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	seed, err := state.ParseRegaSeed([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, SeedDatabase(database, seed))
	return database
}

const testSeed = `{
	"variables": [
		{"id": 950, "name": "Alarm", "val": false, "ts": "2026-01-01 00:00:00"},
		{"id": 1240, "name": "Temperatur Soll", "unit": "°C", "val": 21.5, "ts": "2026-01-01 00:00:00"},
		{"id": 950, "name": "Alarm copy", "val": false, "ts": "2026-01-01 00:00:00"},
		{"id": 7, "name": "No state"}
	],
	"rooms": [{"id": 1230, "name": "Wohnzimmer", "channels": [1401, 1402]}],
	"channels": [{"id": 1401, "address": "JEQ0000001:1"}, {"id": 1402, "address": "JEQ0000002:1"}]
}`

func TestSeedAndRead(t *testing.T) {
	database := setupTestDB(t, testSeed)

	vars, err := GetVariables(database)
	require.NoError(t, err)
	require.Len(t, vars, 4)
	assert.Equal(t, 950, vars[0]["id"])
	assert.Equal(t, false, vars[0]["val"])
	assert.Equal(t, 21.5, vars[1]["val"])
	assert.Equal(t, "°C", vars[1]["unit"])
	assert.NotContains(t, vars[3], "val")
	assert.NotContains(t, vars[3], "ts")

	rooms, err := GetObjects(database, state.TableRooms)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": 1230, "name": "Wohnzimmer", "channels": []any{1401, 1402}}}, rooms)

	channels, err := GetObjects(database, state.TableChannels)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "JEQ0000001:1", channels[0]["address"])

	programs, err := GetObjects(database, state.TablePrograms)
	require.NoError(t, err)
	assert.NotNil(t, programs)
	assert.Empty(t, programs)
}

func TestUpdateVariableState(t *testing.T) {
	database := setupTestDB(t, testSeed)

	n, err := UpdateVariableState(database, 950, true, "2026-10-17 08:30:00")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "every variable with the id is updated")

	n, err = UpdateVariableState(database, 7, "text", "2026-10-17 08:31:00")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = UpdateVariableState(database, 4242, 1, "2026-10-17 08:30:00")
	require.NoError(t, err)
	assert.Zero(t, n)

	vars, err := GetVariables(database)
	require.NoError(t, err)
	assert.Equal(t, true, vars[0]["val"])
	assert.Equal(t, "2026-10-17 08:30:00", vars[0]["ts"])
	assert.Equal(t, true, vars[2]["val"])
	assert.Equal(t, 21.5, vars[1]["val"])
	assert.Equal(t, "2026-01-01 00:00:00", vars[1]["ts"])
	assert.Equal(t, "text", vars[3]["val"])
	assert.Equal(t, "2026-10-17 08:31:00", vars[3]["ts"])
}

func TestReseedReplacesRows(t *testing.T) {
	database := setupTestDB(t, testSeed)

	require.NoError(t, SeedDatabase(database, state.Empty()))
	vars, err := GetVariables(database)
	require.NoError(t, err)
	assert.Empty(t, vars)
}

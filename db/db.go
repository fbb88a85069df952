package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hmsim/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS variables (
	var_id   INTEGER NOT NULL,
	position INTEGER NOT NULL,
	doc      TEXT NOT NULL,
	val      TEXT NOT NULL,
	ts       TEXT NOT NULL,
	updated  BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (position)
);
CREATE INDEX IF NOT EXISTS variables_by_id ON variables (var_id);

CREATE TABLE IF NOT EXISTS objects (
	kind     TEXT NOT NULL,
	position INTEGER NOT NULL,
	doc      TEXT NOT NULL,
	PRIMARY KEY (kind, position)
);
`

// Open opens the script emulator database and applies the schema. Use
// ":memory:" for state that ends with the process; the pool is limited to
// one connection so every query sees the same in-memory database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// SeedDatabase replaces all rows with the records of seed.
func SeedDatabase(db *sql.DB, seed *state.RegaSeed) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	defer RollbackTransaction(tx)

	if _, err := tx.Exec(`DELETE FROM variables`); err != nil {
		return fmt.Errorf("failed to clear variables: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM objects`); err != nil {
		return fmt.Errorf("failed to clear objects: %w", err)
	}

	for i, v := range seed.Tables[state.TableVariables] {
		id, ok := variableID(v["id"])
		if !ok {
			log.Warn().Int("position", i).Msg("Variable without numeric id, it cannot be set by scripts")
		}
		val, err := marshalJSON(v["val"])
		if err != nil {
			return fmt.Errorf("failed to encode variable %d value: %w", id, err)
		}
		ts, _ := v["ts"].(string)
		doc, err := marshalJSON(v)
		if err != nil {
			return fmt.Errorf("failed to encode variable %d: %w", id, err)
		}
		_, err = tx.Exec(`INSERT INTO variables (var_id, position, doc, val, ts) VALUES (?, ?, ?, ?, ?)`, id, i, doc, val, ts)
		if err != nil {
			return fmt.Errorf("failed to insert variable %d: %w", id, err)
		}
	}

	for _, kind := range state.Tables {
		if kind == state.TableVariables {
			continue
		}
		for i, rec := range seed.Tables[kind] {
			doc, err := marshalJSON(rec)
			if err != nil {
				return fmt.Errorf("failed to encode %s %d: %w", kind, i, err)
			}
			_, err = tx.Exec(`INSERT INTO objects (kind, position, doc) VALUES (?, ?, ?)`, kind, i, doc)
			if err != nil {
				return fmt.Errorf("failed to insert %s %d: %w", kind, i, err)
			}
		}
	}

	if err := CommitTransaction(tx); err != nil {
		return err
	}

	log.Info().
		Int("variables", len(seed.Tables[state.TableVariables])).
		Int("channels", len(seed.Tables[state.TableChannels])).
		Msg("Rega database seeded")
	return nil
}

func variableID(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return -1, false
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

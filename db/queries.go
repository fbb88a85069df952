package db

import (
	"database/sql"
	"fmt"

	"github.com/thatsimonsguy/hmsim/internal/model"
)

// GetVariables returns the variables in seed order with their current val
// and ts.
func GetVariables(db *sql.DB) ([]map[string]any, error) {
	rows, err := db.Query(`SELECT var_id, doc, val, ts, updated FROM variables ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query variables: %w", err)
	}
	defer rows.Close()

	variables := []map[string]any{}
	for rows.Next() {
		var id int64
		var doc, val, ts string
		var updated bool
		if err := rows.Scan(&id, &doc, &val, &ts, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}

		v, err := decodeRecord(doc)
		if err != nil {
			return nil, fmt.Errorf("variable %d: %w", id, err)
		}
		if _, ok := v["val"]; ok || updated {
			if v["val"], err = model.DecodeJSON([]byte(val)); err != nil {
				return nil, fmt.Errorf("variable %d value: %w", id, err)
			}
		}
		if _, ok := v["ts"]; ok || updated {
			v["ts"] = ts
		}
		variables = append(variables, v)
	}
	return variables, rows.Err()
}

// GetObjects returns the records of a non-variable table in seed order.
func GetObjects(db *sql.DB, kind string) ([]map[string]any, error) {
	rows, err := db.Query(`SELECT doc FROM objects WHERE kind = ? ORDER BY position`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	defer rows.Close()

	objects := []map[string]any{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		rec, err := decodeRecord(doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		objects = append(objects, rec)
	}
	return objects, rows.Err()
}

func decodeRecord(doc string) (map[string]any, error) {
	v, err := model.DecodeJSON([]byte(doc))
	if err != nil {
		return nil, err
	}
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stored record is %T, not an object", v)
	}
	return rec, nil
}

package db

import (
	"database/sql"
	"fmt"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction. It is a no-op after
// a commit.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// UpdateVariableState sets val and ts of every variable with id and
// reports how many matched.
func UpdateVariableState(db *sql.DB, id int64, val any, ts string) (int64, error) {
	encoded, err := marshalJSON(val)
	if err != nil {
		return 0, fmt.Errorf("encode value: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("start transaction: %w", err)
	}
	res, err := tx.Exec(`UPDATE variables SET val = ?, ts = ?, updated = TRUE WHERE var_id = ?`, encoded, ts, id)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("update variable %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("update variable %d: %w", id, err)
	}
	return n, tx.Commit()
}

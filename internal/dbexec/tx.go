package dbexec

import (
	"context"
	"database/sql"
	"fmt"
)

// WithinTransaction runs fn inside a transaction scoped to the call:
// begin, run, commit, with rollback on error or panic. The transaction
// never outlives the call, so at most one statement stream is in
// flight per shared connection.
func WithinTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const snapshotTxMode = `SET TRANSACTION ISOLATION LEVEL REPEATABLE READ, READ ONLY`

// ReadSnapshot runs fn in a read-only repeatable-read transaction so every
// statement in fn sees the same snapshot, e.g. a page and its total count.
func ReadSnapshot(ctx context.Context, db DBTX, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin read snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, snapshotTxMode); err != nil {
		return fmt.Errorf("set snapshot mode: %w", err)
	}
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit read snapshot: %w", err)
	}
	return nil
}

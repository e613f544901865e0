package database

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type contextKey string

// txKey is the context key for an open transaction.
const txKey contextKey = "tx"

// GetTx retrieves the transaction from context. Returns nil and false if no
// transaction is open.
func GetTx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}

// SetTx stores an open transaction in the context.
func SetTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

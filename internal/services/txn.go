package services

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/classbook/backend/internal/txn"
)

const (
	pgSerializationFailure = txn.CodeSerializationFailure
	pgDeadlockDetected     = txn.CodeDeadlockDetected
	pgUniqueViolation      = txn.CodeUniqueViolation
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner = txn.Beginner

// inTx runs fn as one serializable unit of work, retried per MaxRetries.
func (e *Engine) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return txn.Run(ctx, e.DB, txn.Policy{
		MaxRetries: e.MaxRetries,
		Backoff:    e.RetryBackoff,
		OnRetry: func(attempt int, err error) {
			e.Metrics.TxRetry(op)
			e.logger().Warn("retrying unit of work", "operation", op, "attempt", attempt, "error", err)
		},
	}, fn)
}

func isUniqueViolation(err error) bool {
	return txn.IsUniqueViolation(err)
}

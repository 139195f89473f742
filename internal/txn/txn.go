// Package txn runs serializable Postgres units of work with bounded retries.
package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeUniqueViolation      = "23505"
)

// Beginner is satisfied by *pgxpool.Pool.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Policy bounds how a unit of work is retried. OnRetry, when set, is called
// before each re-run with the attempt that just failed (1-based).
type Policy struct {
	MaxRetries int
	Backoff    time.Duration
	OnRetry    func(attempt int, err error)
}

// Run executes fn inside a serializable transaction. The caller's
// cancellation is detached: once submitted, the unit runs to commit or abort.
// Serialization failures and deadlocks re-run the whole unit up to
// MaxRetries times with linear backoff; every other error is returned as is.
func Run(ctx context.Context, db Beginner, p Policy, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	for attempt := 0; ; attempt++ {
		err := runOnce(ctx, db, fn)
		if err == nil || !IsRetryable(err) || attempt >= p.MaxRetries {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}
		time.Sleep(time.Duration(attempt+1) * p.Backoff)
	}
}

func runOnce(ctx context.Context, db Beginner, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a serialization failure or deadlock.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == CodeSerializationFailure || pgErr.Code == CodeDeadlockDetected
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == CodeUniqueViolation
}

package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type countingTx struct {
	pgx.Tx
	db *countingDB
}

func (t countingTx) Commit(context.Context) error {
	t.db.commits++
	if len(t.db.commitErrs) > 0 {
		err := t.db.commitErrs[0]
		t.db.commitErrs = t.db.commitErrs[1:]
		return err
	}
	return nil
}

func (t countingTx) Rollback(context.Context) error { return nil }

type countingDB struct {
	begins     int
	commits    int
	commitErrs []error
	opts       pgx.TxOptions
	ctxErr     error
}

func (d *countingDB) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	d.begins++
	d.opts = opts
	d.ctxErr = ctx.Err()
	return countingTx{db: d}, nil
}

func TestRun_RetriesSerializationFailures(t *testing.T) {
	db := &countingDB{commitErrs: []error{
		&pgconn.PgError{Code: CodeSerializationFailure},
		&pgconn.PgError{Code: CodeDeadlockDetected},
	}}
	var retried []int
	err := Run(context.Background(), db, Policy{MaxRetries: 3, OnRetry: func(attempt int, _ error) {
		retried = append(retried, attempt)
	}}, func(context.Context, pgx.Tx) error { return nil })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if db.begins != 3 || len(retried) != 2 || retried[1] != 2 {
		t.Errorf("begins=%d retried=%v", db.begins, retried)
	}
	if db.opts.IsoLevel != pgx.Serializable {
		t.Errorf("isolation: got %q", db.opts.IsoLevel)
	}
}

func TestRun_StopsAfterMaxRetries(t *testing.T) {
	db := &countingDB{}
	for i := 0; i < 5; i++ {
		db.commitErrs = append(db.commitErrs, &pgconn.PgError{Code: CodeSerializationFailure})
	}
	err := Run(context.Background(), db, Policy{MaxRetries: 2}, func(context.Context, pgx.Tx) error { return nil })
	if !IsRetryable(err) {
		t.Fatalf("expected the last serialization failure, got %v", err)
	}
	if db.begins != 3 {
		t.Errorf("begins: got %d, want 3", db.begins)
	}
}

func TestRun_DoesNotRetryOtherErrors(t *testing.T) {
	db := &countingDB{}
	boom := errors.New("boom")
	err := Run(context.Background(), db, Policy{MaxRetries: 3}, func(context.Context, pgx.Tx) error { return boom })
	if !errors.Is(err, boom) || db.begins != 1 || db.commits != 0 {
		t.Errorf("err=%v begins=%d commits=%d", err, db.begins, db.commits)
	}
}

func TestRun_DetachesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	db := &countingDB{}
	if err := Run(ctx, db, Policy{}, func(context.Context, pgx.Tx) error { return nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if db.ctxErr != nil {
		t.Errorf("unit of work saw a cancelled context: %v", db.ctxErr)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pgconn.PgError{Code: CodeUniqueViolation}) {
		t.Error("23505 should be a unique violation")
	}
	if IsUniqueViolation(errors.New("23505")) {
		t.Error("plain errors are not unique violations")
	}
}

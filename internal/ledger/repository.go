package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classbook/backend/internal/models"
)

// Repository is the append-only credit ledger. It has no update or delete
// operations; the schema trigger rejects them as well.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const balanceQuery = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1`

// Balance sums the user's entries outside any transaction. The result may be
// stale by the time it is used; never base a debit on it.
func (r *Repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, balanceQuery, userID).Scan(&balance)
	return balance, err
}

// BalanceTx sums the user's entries inside the caller's transaction.
func (r *Repository) BalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, balanceQuery, userID).Scan(&balance)
	return balance, err
}

// AppendTx inserts an immutable entry inside the caller's transaction. It does
// not check the balance.
func (r *Repository) AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, user_id, amount, kind, booking_id, slot_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.UserID, e.Amount, e.Kind, e.BookingID, e.SlotID, e.Note).Scan(&e.CreatedAt)
}

// ListRecent returns the newest entries for the user, newest first.
func (r *Repository) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, amount, kind, booking_id, slot_id, note, created_at
		FROM ledger_entries WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Kind, &e.BookingID, &e.SlotID, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

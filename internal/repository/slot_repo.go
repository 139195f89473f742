package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classbook/backend/internal/models"
)

const slotColumns = `id, owner_id, starts_at, ends_at, status, price_credits, meeting_link, created_at, updated_at`

type SlotRepo struct {
	pool *pgxpool.Pool
}

func NewSlotRepo(pool *pgxpool.Pool) *SlotRepo {
	return &SlotRepo{pool: pool}
}

func scanSlot(row pgx.Row) (*models.Slot, error) {
	var s models.Slot
	err := row.Scan(&s.ID, &s.OwnerID, &s.StartsAt, &s.EndsAt, &s.Status, &s.PriceCredits, &s.MeetingLink, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *SlotRepo) Create(ctx context.Context, s *models.Slot) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO slots (id, owner_id, starts_at, ends_at, status, price_credits)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, s.ID, s.OwnerID, s.StartsAt, s.EndsAt, s.Status, s.PriceCredits).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *SlotRepo) Get(ctx context.Context, id uuid.UUID) (*models.Slot, error) {
	return scanSlot(r.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
}

// GetTx reads the slot inside the caller's transaction.
func (r *SlotRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Slot, error) {
	return scanSlot(tx.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
}

// TryTransitionTx moves the slot from one status to another in a single
// conditional UPDATE. It returns false, without error, when the slot was not
// in the expected status.
func (r *SlotRepo) TryTransitionTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to models.SlotStatus) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE slots SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetStatusTx sets the status unconditionally.
func (r *SlotRepo) SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, to models.SlotStatus) error {
	tag, err := tx.Exec(ctx, `UPDATE slots SET status = $2, updated_at = now() WHERE id = $1`, id, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePrice changes the price of a slot owned by ownerID. Existing bookings
// keep the price they paid.
func (r *SlotRepo) UpdatePrice(ctx context.Context, ownerID, id uuid.UUID, price int64) (*models.Slot, error) {
	return scanSlot(r.pool.QueryRow(ctx, `
		UPDATE slots SET price_credits = $3, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+slotColumns, id, ownerID, price))
}

func (r *SlotRepo) SetMeetingLink(ctx context.Context, id uuid.UUID, link string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE slots SET meeting_link = $2, updated_at = now() WHERE id = $1`, id, link)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SlotFilter narrows ListOpen. Zero values are ignored.
type SlotFilter struct {
	OwnerID uuid.UUID
	From    time.Time
	To      time.Time
	Limit   int
}

// ListOpen returns open slots ordered by start time.
func (r *SlotRepo) ListOpen(ctx context.Context, f SlotFilter) ([]*models.Slot, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	var owner *uuid.UUID
	if f.OwnerID != uuid.Nil {
		owner = &f.OwnerID
	}
	var from, to *time.Time
	if !f.From.IsZero() {
		from = &f.From
	}
	if !f.To.IsZero() {
		to = &f.To
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE status = 'open'
		  AND ($1::uuid IS NULL OR owner_id = $1)
		  AND ($2::timestamptz IS NULL OR starts_at >= $2)
		  AND ($3::timestamptz IS NULL OR ends_at <= $3)
		ORDER BY starts_at ASC
		LIMIT $4
	`, owner, from, to, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

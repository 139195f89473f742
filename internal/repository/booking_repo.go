package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classbook/backend/internal/models"
)

const bookingColumns = `id, slot_id, student_id, status, price_credits, debit_entry_id, booked_at, cancelled_at, completed_at`

type BookingRepo struct {
	pool *pgxpool.Pool
}

func NewBookingRepo(pool *pgxpool.Pool) *BookingRepo {
	return &BookingRepo{pool: pool}
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.SlotID, &b.StudentID, &b.Status, &b.PriceCredits, &b.DebitEntryID, &b.BookedAt, &b.CancelledAt, &b.CompletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// CreateTx inserts the booking. A second active booking for the same slot
// fails with a unique violation on bookings_active_slot_uidx.
func (r *BookingRepo) CreateTx(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings (id, slot_id, student_id, status, price_credits, booked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.SlotID, b.StudentID, b.Status, b.PriceCredits, b.BookedAt)
	return err
}

func (r *BookingRepo) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
}

// GetForUpdateTx locks the booking row. Call within a transaction.
func (r *BookingRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Booking, error) {
	return scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
}

// ActiveForSlotTx returns the booking currently holding the slot.
func (r *BookingRepo) ActiveForSlotTx(ctx context.Context, tx pgx.Tx, slotID uuid.UUID) (*models.Booking, error) {
	return scanBooking(tx.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE slot_id = $1 AND status = 'booked' FOR UPDATE
	`, slotID))
}

func (r *BookingRepo) LinkDebitTx(ctx context.Context, tx pgx.Tx, bookingID, entryID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `UPDATE bookings SET debit_entry_id = $2 WHERE id = $1 AND debit_entry_id IS NULL`, bookingID, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionTx moves a booking between statuses only if it is currently in
// from, stamping cancelled_at or completed_at. Returns false when the
// precondition failed.
func (r *BookingRepo) TransitionTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to models.BookingStatus, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings SET
			status = $3::text,
			cancelled_at = CASE WHEN $3::text = 'cancelled' THEN $4::timestamptz ELSE cancelled_at END,
			completed_at = CASE WHEN $3::text IN ('completed', 'no_show') THEN $4::timestamptz ELSE completed_at END
		WHERE id = $1 AND status = $2
	`, id, from, to, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BookingRepo) ListByStudent(ctx context.Context, studentID uuid.UUID, limit int) ([]*models.Booking, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE student_id = $1 ORDER BY booked_at DESC LIMIT $2
	`, studentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/classbook/backend/internal/metrics"
	"github.com/classbook/backend/internal/models"
	"github.com/classbook/backend/internal/repository"
)

const (
	opCreateBooking   = "create_booking"
	opCancelBooking   = "cancel_booking"
	opCancelSlot      = "cancel_slot"
	opCompleteBooking = "complete_booking"
	opMarkNoShow      = "mark_no_show"
)

var tracer = otel.Tracer("github.com/classbook/backend/internal/services")

// SlotStore is the slot side of the unit of work.
type SlotStore interface {
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Slot, error)
	TryTransitionTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to models.SlotStatus) (bool, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, to models.SlotStatus) error
}

// BookingStore is the booking side of the unit of work.
type BookingStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, b *models.Booking) error
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Booking, error)
	ActiveForSlotTx(ctx context.Context, tx pgx.Tx, slotID uuid.UUID) (*models.Booking, error)
	LinkDebitTx(ctx context.Context, tx pgx.Tx, bookingID, entryID uuid.UUID) error
	TransitionTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to models.BookingStatus, at time.Time) (bool, error)
}

// LedgerStore is the append-only ledger as seen from inside a transaction.
type LedgerStore interface {
	BalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error)
	AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

// PostCommitHook runs best-effort work after a unit of work has committed. It
// has no way to fail or undo the operation that triggered it.
type PostCommitHook interface {
	AfterBookingCreated(ctx context.Context, b *models.Booking, s *models.Slot) models.MeetingOutcome
	AfterBookingCancelled(ctx context.Context, b *models.Booking, s *models.Slot, byOwner bool)
}

// Engine is the only writer of slot status and bookings. Every operation is a
// single serializable unit of work across slots, bookings and the ledger.
type Engine struct {
	DB           TxBeginner
	Slots        SlotStore
	Bookings     BookingStore
	Ledger       LedgerStore
	AfterCommit  PostCommitHook
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	MaxRetries   int
	RetryBackoff time.Duration
	Now          func() time.Time
}

func NewEngine(db TxBeginner, slots SlotStore, bookings BookingStore, ledger LedgerStore, logger *slog.Logger) *Engine {
	return &Engine{
		DB:           db,
		Slots:        slots,
		Bookings:     bookings,
		Ledger:       ledger,
		Logger:       logger,
		MaxRetries:   3,
		RetryBackoff: 10 * time.Millisecond,
		Now:          time.Now,
	}
}

// CreateResult is a committed booking plus the informational outcome of the
// post-commit meeting provisioning.
type CreateResult struct {
	Booking *models.Booking
	Slot    *models.Slot
	Meeting models.MeetingOutcome
}

// CreateBooking converts an open slot into a booking and debits the student
// the slot's price, atomically.
func (e *Engine) CreateBooking(ctx context.Context, studentID, slotID uuid.UUID) (_ *CreateResult, err error) {
	ctx, span := tracer.Start(ctx, "booking.create", trace.WithAttributes(
		attribute.String("student_id", studentID.String()),
		attribute.String("slot_id", slotID.String()),
	))
	defer e.observe(span, opCreateBooking, time.Now(), &err)

	if studentID == uuid.Nil || slotID == uuid.Nil {
		return nil, ErrInvalidInput
	}

	var booking *models.Booking
	var slot *models.Slot
	err = e.inTx(ctx, opCreateBooking, func(ctx context.Context, tx pgx.Tx) error {
		s, err := e.Slots.GetTx(ctx, tx, slotID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSlotUnavailable
		}
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if s.Status != models.SlotOpen {
			return ErrSlotUnavailable
		}

		balance, err := e.Ledger.BalanceTx(ctx, tx, studentID)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		if balance < s.PriceCredits {
			return &InsufficientCreditsError{Balance: balance, Required: s.PriceCredits}
		}

		// The conditional transition is the mutual-exclusion point between
		// concurrent bookings of the same slot.
		ok, err := e.Slots.TryTransitionTx(ctx, tx, slotID, models.SlotOpen, models.SlotBooked)
		if err != nil {
			return fmt.Errorf("transition slot: %w", err)
		}
		if !ok {
			return ErrSlotUnavailable
		}

		b := &models.Booking{
			ID:           uuid.New(),
			SlotID:       s.ID,
			StudentID:    studentID,
			Status:       models.BookingBooked,
			PriceCredits: s.PriceCredits,
			BookedAt:     e.Now().UTC(),
		}
		if err := e.Bookings.CreateTx(ctx, tx, b); err != nil {
			if isUniqueViolation(err) {
				return ErrSlotUnavailable
			}
			return fmt.Errorf("create booking: %w", err)
		}

		debit := &models.LedgerEntry{
			ID:        uuid.New(),
			UserID:    studentID,
			Amount:    -b.PriceCredits,
			Kind:      models.LedgerKindSpend,
			BookingID: &b.ID,
			SlotID:    &s.ID,
		}
		if err := e.Ledger.AppendTx(ctx, tx, debit); err != nil {
			return fmt.Errorf("append debit: %w", err)
		}
		if err := e.Bookings.LinkDebitTx(ctx, tx, b.ID, debit.ID); err != nil {
			return fmt.Errorf("link debit: %w", err)
		}
		b.DebitEntryID = &debit.ID
		s.Status = models.SlotBooked

		booking, slot = b, s
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger().Info("booking created",
		"booking_id", booking.ID, "slot_id", slot.ID, "student_id", studentID, "price_credits", booking.PriceCredits)

	res := &CreateResult{Booking: booking, Slot: slot, Meeting: models.MeetingOutcome{Status: models.MeetingSkipped}}
	if e.AfterCommit != nil {
		res.Meeting = e.AfterCommit.AfterBookingCreated(ctx, booking, slot)
	}
	return res, nil
}

// CancelBooking cancels the student's own booking, reopens the slot and
// refunds the price paid at booking time.
func (e *Engine) CancelBooking(ctx context.Context, studentID, bookingID uuid.UUID) (err error) {
	ctx, span := tracer.Start(ctx, "booking.cancel", trace.WithAttributes(
		attribute.String("student_id", studentID.String()),
		attribute.String("booking_id", bookingID.String()),
	))
	defer e.observe(span, opCancelBooking, time.Now(), &err)

	if studentID == uuid.Nil || bookingID == uuid.Nil {
		return ErrInvalidInput
	}

	var booking *models.Booking
	var slot *models.Slot
	err = e.inTx(ctx, opCancelBooking, func(ctx context.Context, tx pgx.Tx) error {
		b, err := e.Bookings.GetForUpdateTx(ctx, tx, bookingID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load booking: %w", err)
		}
		if b.StudentID != studentID {
			return ErrNotFound
		}
		s, err := e.Slots.GetTx(ctx, tx, b.SlotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		// Cancelled bookings release the slot for rebooking.
		if _, err := e.cancelTx(ctx, tx, b, models.SlotOpen); err != nil {
			return err
		}
		s.Status = models.SlotOpen
		booking, slot = b, s
		return nil
	})
	if err != nil {
		return err
	}

	e.logger().Info("booking cancelled",
		"booking_id", booking.ID, "slot_id", slot.ID, "student_id", studentID, "refund_credits", booking.PriceCredits)
	if e.AfterCommit != nil {
		e.AfterCommit.AfterBookingCancelled(ctx, booking, slot, false)
	}
	return nil
}

// cancelTx moves an active booking to cancelled, sets the slot status and
// appends the refund. Refund equals the price paid, not the slot's current
// price.
func (e *Engine) cancelTx(ctx context.Context, tx pgx.Tx, b *models.Booking, slotAfter models.SlotStatus) (*models.LedgerEntry, error) {
	if b.Status != models.BookingBooked {
		return nil, ErrInvalidState
	}
	now := e.Now().UTC()
	ok, err := e.Bookings.TransitionTx(ctx, tx, b.ID, models.BookingBooked, models.BookingCancelled, now)
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if !ok {
		return nil, ErrInvalidState
	}
	// Unconditional: the slot holds at most one active booking, and it is this one.
	if err := e.Slots.SetStatusTx(ctx, tx, b.SlotID, slotAfter); err != nil {
		return nil, fmt.Errorf("release slot: %w", err)
	}
	refund := &models.LedgerEntry{
		ID:        uuid.New(),
		UserID:    b.StudentID,
		Amount:    b.PriceCredits,
		Kind:      models.LedgerKindRefund,
		BookingID: &b.ID,
		SlotID:    &b.SlotID,
	}
	if err := e.Ledger.AppendTx(ctx, tx, refund); err != nil {
		return nil, fmt.Errorf("append refund: %w", err)
	}
	b.Status = models.BookingCancelled
	b.CancelledAt = &now
	return refund, nil
}

// SlotCancellation describes what CancelSlot changed. Booking and Refund are
// nil when the slot was open.
type SlotCancellation struct {
	Slot    *models.Slot
	Booking *models.Booking
	Refund  *models.LedgerEntry
}

// CancelSlot is the hook the slot-management flow uses to withdraw a slot.
// An open slot is cancelled directly. A booked slot has its active booking
// cancelled through the same path as a student cancellation, the student is
// refunded in full, and the slot ends up cancelled rather than reopened.
func (e *Engine) CancelSlot(ctx context.Context, ownerID, slotID uuid.UUID) (_ *SlotCancellation, err error) {
	ctx, span := tracer.Start(ctx, "slot.cancel", trace.WithAttributes(
		attribute.String("owner_id", ownerID.String()),
		attribute.String("slot_id", slotID.String()),
	))
	defer e.observe(span, opCancelSlot, time.Now(), &err)

	if ownerID == uuid.Nil || slotID == uuid.Nil {
		return nil, ErrInvalidInput
	}

	var out *SlotCancellation
	err = e.inTx(ctx, opCancelSlot, func(ctx context.Context, tx pgx.Tx) error {
		s, err := e.Slots.GetTx(ctx, tx, slotID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if s.OwnerID != ownerID {
			return ErrNotFound
		}

		res := &SlotCancellation{Slot: s}
		switch s.Status {
		case models.SlotCancelled:
			return ErrInvalidState
		case models.SlotOpen:
			ok, err := e.Slots.TryTransitionTx(ctx, tx, slotID, models.SlotOpen, models.SlotCancelled)
			if err != nil {
				return fmt.Errorf("transition slot: %w", err)
			}
			if !ok {
				return ErrSlotUnavailable
			}
		case models.SlotBooked:
			b, err := e.Bookings.ActiveForSlotTx(ctx, tx, slotID)
			if errors.Is(err, repository.ErrNotFound) {
				// The session already completed or was marked no-show.
				return ErrInvalidState
			}
			if err != nil {
				return fmt.Errorf("load active booking: %w", err)
			}
			refund, err := e.cancelTx(ctx, tx, b, models.SlotCancelled)
			if err != nil {
				return err
			}
			res.Booking, res.Refund = b, refund
		default:
			return ErrInvalidState
		}
		s.Status = models.SlotCancelled
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger().Info("slot cancelled", "slot_id", slotID, "owner_id", ownerID, "had_booking", out.Booking != nil)
	if out.Booking != nil && e.AfterCommit != nil {
		e.AfterCommit.AfterBookingCancelled(ctx, out.Booking, out.Slot, true)
	}
	return out, nil
}

// CompleteBooking marks a booked session as held. Only the slot owner may do it.
func (e *Engine) CompleteBooking(ctx context.Context, ownerID, bookingID uuid.UUID) (*models.Booking, error) {
	return e.finishBooking(ctx, opCompleteBooking, ownerID, bookingID, models.BookingCompleted)
}

// MarkNoShow records that the student did not attend. The price is not refunded.
func (e *Engine) MarkNoShow(ctx context.Context, ownerID, bookingID uuid.UUID) (*models.Booking, error) {
	return e.finishBooking(ctx, opMarkNoShow, ownerID, bookingID, models.BookingNoShow)
}

func (e *Engine) finishBooking(ctx context.Context, op string, ownerID, bookingID uuid.UUID, to models.BookingStatus) (_ *models.Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking."+op, trace.WithAttributes(
		attribute.String("owner_id", ownerID.String()),
		attribute.String("booking_id", bookingID.String()),
	))
	defer e.observe(span, op, time.Now(), &err)

	if ownerID == uuid.Nil || bookingID == uuid.Nil {
		return nil, ErrInvalidInput
	}

	var booking *models.Booking
	err = e.inTx(ctx, op, func(ctx context.Context, tx pgx.Tx) error {
		b, err := e.Bookings.GetForUpdateTx(ctx, tx, bookingID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load booking: %w", err)
		}
		s, err := e.Slots.GetTx(ctx, tx, b.SlotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if s.OwnerID != ownerID {
			return ErrNotFound
		}
		if b.Status != models.BookingBooked {
			return ErrInvalidState
		}
		now := e.Now().UTC()
		ok, err := e.Bookings.TransitionTx(ctx, tx, b.ID, models.BookingBooked, to, now)
		if err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		if !ok {
			return ErrInvalidState
		}
		b.Status = to
		b.CompletedAt = &now
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

func (e *Engine) observe(span trace.Span, op string, start time.Time, errp *error) {
	err := *errp
	e.Metrics.Operation(op, outcome(err), time.Since(start))
	if err != nil {
		span.SetAttributes(attribute.String("outcome", outcome(err)))
		if !isBusinessError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger().Error("unit of work failed", "operation", op, "error", err)
		}
	}
	span.End()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

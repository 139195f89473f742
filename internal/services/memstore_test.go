package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/classbook/backend/internal/models"
	"github.com/classbook/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

type memState struct {
	slots    map[uuid.UUID]*models.Slot
	bookings map[uuid.UUID]*models.Booking
	ledger   []*models.LedgerEntry
}

func (s *memState) clone() *memState {
	out := &memState{
		slots:    make(map[uuid.UUID]*models.Slot, len(s.slots)),
		bookings: make(map[uuid.UUID]*models.Booking, len(s.bookings)),
		ledger:   append([]*models.LedgerEntry(nil), s.ledger...),
	}
	for id, sl := range s.slots {
		cp := *sl
		out.slots[id] = &cp
	}
	for id, b := range s.bookings {
		cp := *b
		out.bookings[id] = &cp
	}
	return out
}

// memDB holds its mutex from BeginTx until Commit or Rollback, so every unit
// of work runs in isolation. Writes happen on a cloned state that replaces the
// committed one only on a successful Commit.
type memDB struct {
	mu    sync.Mutex
	state *memState

	// Fault injection, consumed in order. Only touched while mu is held.
	begins     int
	commitErrs []error
	appendErrs []error
	createErrs []error
	loseRace   int
}

func newMemDB() *memDB {
	return &memDB{state: &memState{
		slots:    map[uuid.UUID]*models.Slot{},
		bookings: map[uuid.UUID]*models.Booking{},
	}}
}

func (d *memDB) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.begins++
	return &memTx{db: d, state: d.state.clone()}, nil
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

type memTx struct {
	db    *memDB
	state *memState
	done  bool
}

func (t *memTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	defer t.db.mu.Unlock()
	if err := pop(&t.db.commitErrs); err != nil {
		return err
	}
	t.db.state = t.state
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.mu.Unlock()
	return nil
}

func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }

func stateOf(tx pgx.Tx) *memState { return tx.(*memTx).state }

// ---------------------------------------------------------------------------
// Repositories over memDB
// ---------------------------------------------------------------------------

type memSlots struct{ db *memDB }

func (r memSlots) GetTx(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Slot, error) {
	s, ok := stateOf(tx).slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r memSlots) TryTransitionTx(_ context.Context, tx pgx.Tx, id uuid.UUID, from, to models.SlotStatus) (bool, error) {
	if r.db.loseRace > 0 {
		r.db.loseRace--
		return false, nil
	}
	s, ok := stateOf(tx).slots[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	return true, nil
}

func (r memSlots) SetStatusTx(_ context.Context, tx pgx.Tx, id uuid.UUID, to models.SlotStatus) error {
	s, ok := stateOf(tx).slots[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = to
	return nil
}

func (r memSlots) SetMeetingLink(_ context.Context, id uuid.UUID, link string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.state.slots[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.MeetingLink = &link
	return nil
}

type memBookings struct{ db *memDB }

func (r memBookings) CreateTx(_ context.Context, tx pgx.Tx, b *models.Booking) error {
	if err := pop(&r.db.createErrs); err != nil {
		return err
	}
	st := stateOf(tx)
	for _, other := range st.bookings {
		if other.SlotID == b.SlotID && other.Status == models.BookingBooked {
			return &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "bookings_active_slot_uidx"}
		}
	}
	cp := *b
	st.bookings[b.ID] = &cp
	return nil
}

func (r memBookings) GetForUpdateTx(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Booking, error) {
	b, ok := stateOf(tx).bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r memBookings) ActiveForSlotTx(_ context.Context, tx pgx.Tx, slotID uuid.UUID) (*models.Booking, error) {
	for _, b := range stateOf(tx).bookings {
		if b.SlotID == slotID && b.Status == models.BookingBooked {
			cp := *b
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memBookings) LinkDebitTx(_ context.Context, tx pgx.Tx, bookingID, entryID uuid.UUID) error {
	b, ok := stateOf(tx).bookings[bookingID]
	if !ok {
		return repository.ErrNotFound
	}
	b.DebitEntryID = &entryID
	return nil
}

func (r memBookings) TransitionTx(_ context.Context, tx pgx.Tx, id uuid.UUID, from, to models.BookingStatus, at time.Time) (bool, error) {
	b, ok := stateOf(tx).bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	switch to {
	case models.BookingCancelled:
		b.CancelledAt = &at
	case models.BookingCompleted, models.BookingNoShow:
		b.CompletedAt = &at
	}
	return true, nil
}

type memLedger struct{ db *memDB }

func (r memLedger) BalanceTx(_ context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	var total int64
	for _, e := range stateOf(tx).ledger {
		if e.UserID == userID {
			total += e.Amount
		}
	}
	return total, nil
}

func (r memLedger) AppendTx(_ context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	if err := pop(&r.db.appendErrs); err != nil {
		return err
	}
	e.CreatedAt = time.Now().UTC()
	cp := *e
	st := stateOf(tx)
	st.ledger = append(st.ledger, &cp)
	return nil
}

// ---------------------------------------------------------------------------
// Seeding and inspection
// ---------------------------------------------------------------------------

func (d *memDB) seedSlot(owner uuid.UUID, price int64) *models.Slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Date(2026, 11, 2, 15, 0, 0, 0, time.UTC)
	s := &models.Slot{
		ID:           uuid.New(),
		OwnerID:      owner,
		StartsAt:     start,
		EndsAt:       start.Add(time.Hour),
		Status:       models.SlotOpen,
		PriceCredits: price,
	}
	d.state.slots[s.ID] = s
	cp := *s
	return &cp
}

func (d *memDB) seedCredits(user uuid.UUID, amount int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.ledger = append(d.state.ledger, &models.LedgerEntry{
		ID:     uuid.New(),
		UserID: user,
		Amount: amount,
		Kind:   models.LedgerKindPurchase,
	})
}

func (d *memDB) balance(user uuid.UUID) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var total int64
	for _, e := range d.state.ledger {
		if e.UserID == user {
			total += e.Amount
		}
	}
	return total
}

func (d *memDB) entriesFor(user uuid.UUID) []*models.LedgerEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range d.state.ledger {
		if e.UserID == user {
			out = append(out, e)
		}
	}
	return out
}

func (d *memDB) slot(id uuid.UUID) models.Slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.state.slots[id]
}

func (d *memDB) booking(id uuid.UUID) models.Booking {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.state.bookings[id]
}

func (d *memDB) bookingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.state.bookings)
}

func (d *memDB) setPrice(id uuid.UUID, price int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.slots[id].PriceCredits = price
}

func (d *memDB) beginCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.begins
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, *memDB) {
	t.Helper()
	db := newMemDB()
	e := NewEngine(db, memSlots{db}, memBookings{db}, memLedger{db}, discardLogger())
	e.RetryBackoff = 0
	return e, db
}

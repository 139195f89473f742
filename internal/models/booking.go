package models

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingBooked    BookingStatus = "booked"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingNoShow    BookingStatus = "no_show"
)

// Terminal reports whether no further transitions are allowed from s.
func (s BookingStatus) Terminal() bool {
	return s != BookingBooked
}

// Booking links a student, a slot and the ledger entry that paid for it.
// PriceCredits is copied from the slot at booking time and never changes.
type Booking struct {
	ID           uuid.UUID     `json:"id"`
	SlotID       uuid.UUID     `json:"slot_id"`
	StudentID    uuid.UUID     `json:"student_id"`
	Status       BookingStatus `json:"status"`
	PriceCredits int64         `json:"price_credits"`
	DebitEntryID *uuid.UUID    `json:"debit_entry_id,omitempty"`
	BookedAt     time.Time     `json:"booked_at"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Meeting provisioning outcomes reported back to the caller after commit.
const (
	MeetingCreated       = "created"
	MeetingAlreadyExists = "already_exists"
	MeetingFailed        = "failed"
	MeetingSkipped       = "skipped"
)

// MeetingOutcome is informational only; it never affects a committed booking.
type MeetingOutcome struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason,omitempty"`
}

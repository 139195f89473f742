package models

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotOpen      SlotStatus = "open"
	SlotBooked    SlotStatus = "booked"
	SlotCancelled SlotStatus = "cancelled"
)

// Slot is a bookable unit of teaching time. Status is the single-writer gate:
// it only moves open->booked through a conditional update.
type Slot struct {
	ID           uuid.UUID  `json:"id"`
	OwnerID      uuid.UUID  `json:"teacher_id"`
	StartsAt     time.Time  `json:"starts_at"`
	EndsAt       time.Time  `json:"ends_at"`
	Status       SlotStatus `json:"status"`
	PriceCredits int64      `json:"price_credits"`
	MeetingLink  *string    `json:"meeting_link,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

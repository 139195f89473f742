package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry kinds. Amount sign: purchase and refund are positive, spend is
// negative, admin_adjust may be either.
const (
	LedgerKindPurchase    = "purchase"
	LedgerKindSpend       = "spend"
	LedgerKindRefund      = "refund"
	LedgerKindAdminAdjust = "admin_adjust"
)

// LedgerEntry is an immutable signed credit movement. A user's balance is the
// sum of their entries.
type LedgerEntry struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Amount    int64      `json:"amount"`
	Kind      string     `json:"kind"`
	BookingID *uuid.UUID `json:"booking_id,omitempty"`
	SlotID    *uuid.UUID `json:"slot_id,omitempty"`
	Note      string     `json:"note,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

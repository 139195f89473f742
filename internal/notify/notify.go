// Package notify delivers user-facing event notifications. Delivery is best
// effort; nothing in the booking path waits on it.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types, also used as AMQP routing keys.
const (
	EventBookingCreated   = "booking.created"
	EventBookingCancelled = "booking.cancelled"
	EventSlotCancelled    = "slot.cancelled"
)

type Notifier interface {
	Notify(ctx context.Context, userIDs []uuid.UUID, event string, payload map[string]any) error
}

// Envelope is the wire form of a notification.
type Envelope struct {
	Event   string         `json:"event"`
	UserIDs []uuid.UUID    `json:"user_ids"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

func NewEnvelope(userIDs []uuid.UUID, event string, payload map[string]any) Envelope {
	return Envelope{Event: event, UserIDs: userIDs, Payload: payload, SentAt: time.Now().UTC()}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// LogNotifier writes notifications to the log. Used when no broker is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, userIDs []uuid.UUID, event string, payload map[string]any) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notify", "event", event, "user_ids", userIDs, "payload", payload)
	return nil
}

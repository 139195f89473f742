package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidate_BookingCreated(t *testing.T) {
	v := newTestValidator(t)
	start := time.Date(2026, 11, 2, 15, 0, 0, 0, time.UTC)

	valid := map[string]any{
		"booking_id":  uuid.NewString(),
		"slot_id":     uuid.NewString(),
		"student_id":  uuid.NewString(),
		"starts_at":   start,
		"ends_at":     start.Add(time.Hour),
		"meeting_url": "https://meet.jit.si/booking-x",
	}
	if err := v.Validate(EventBookingCreated, valid); err != nil {
		t.Fatalf("expected valid payload, got: %v", err)
	}

	cases := map[string]map[string]any{
		"missing slot_id": {
			"booking_id": uuid.NewString(), "student_id": uuid.NewString(), "starts_at": start, "ends_at": start,
		},
		"unknown field": {
			"booking_id": uuid.NewString(), "slot_id": uuid.NewString(), "student_id": uuid.NewString(),
			"starts_at": start, "ends_at": start, "extra": 1,
		},
		"wrong type": {
			"booking_id": 42, "slot_id": uuid.NewString(), "student_id": uuid.NewString(), "starts_at": start, "ends_at": start,
		},
	}
	for name, payload := range cases {
		if err := v.Validate(EventBookingCreated, payload); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("%s: expected ErrInvalidPayload, got %v", name, err)
		}
	}
}

func TestValidate_Cancellations(t *testing.T) {
	v := newTestValidator(t)
	for _, event := range []string{EventBookingCancelled, EventSlotCancelled} {
		ok := map[string]any{"booking_id": uuid.NewString(), "slot_id": uuid.NewString(), "refund_credits": int64(4), "by_owner": event == EventSlotCancelled}
		if err := v.Validate(event, ok); err != nil {
			t.Errorf("%s: expected valid, got %v", event, err)
		}
		bad := map[string]any{"booking_id": uuid.NewString(), "slot_id": uuid.NewString(), "refund_credits": -1, "by_owner": false}
		if err := v.Validate(event, bad); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("%s negative refund: expected ErrInvalidPayload, got %v", event, err)
		}
	}
	if err := v.Validate("booking.exploded", map[string]any{}); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("unknown event: expected ErrInvalidPayload, got %v", err)
	}
}

type countingNotifier struct{ calls int }

func (c *countingNotifier) Notify(context.Context, []uuid.UUID, string, map[string]any) error {
	c.calls++
	return nil
}

func TestValidating(t *testing.T) {
	next := &countingNotifier{}
	n := Validating{Next: next, Schema: newTestValidator(t)}

	err := n.Notify(context.Background(), []uuid.UUID{uuid.New()}, EventBookingCancelled, map[string]any{"booking_id": "x"})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if next.calls != 0 {
		t.Error("invalid payload must not be delivered")
	}

	payload := map[string]any{"booking_id": uuid.NewString(), "slot_id": uuid.NewString(), "refund_credits": 2, "by_owner": false}
	if err := n.Notify(context.Background(), []uuid.UUID{uuid.New()}, EventBookingCancelled, payload); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if next.calls != 1 {
		t.Errorf("delivered %d times, want 1", next.calls)
	}
}

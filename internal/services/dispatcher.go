package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/classbook/backend/internal/execution"
	"github.com/classbook/backend/internal/meeting"
	"github.com/classbook/backend/internal/metrics"
	"github.com/classbook/backend/internal/models"
	"github.com/classbook/backend/internal/notify"
)

const (
	defaultSideEffectTimeout  = 5 * time.Second
	defaultSideEffectAttempts = 2
)

// MeetingRetryQueue hands a failed provisioning over to the background worker.
type MeetingRetryQueue interface {
	EnqueueMeetingRetry(ctx context.Context, args execution.ProvisionMeetingArgs) error
}

// Dispatcher runs the post-commit side effects of the booking engine. Nothing
// it does can fail or reverse a committed booking.
type Dispatcher struct {
	Provisioner meeting.Provisioner
	Notifier    notify.Notifier
	Links       execution.LinkStore
	Retries     MeetingRetryQueue
	Timeout     time.Duration
	Attempts    int
	Backoff     time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewDispatcher returns a Dispatcher with a 5-second per-attempt timeout and two attempts.
func NewDispatcher(p meeting.Provisioner, n notify.Notifier, links execution.LinkStore, retries MeetingRetryQueue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Provisioner: p,
		Notifier:    n,
		Links:       links,
		Retries:     retries,
		Timeout:     defaultSideEffectTimeout,
		Attempts:    defaultSideEffectAttempts,
		Backoff:     200 * time.Millisecond,
		Logger:      logger,
	}
}

// MeetingID is the deterministic meeting id for a booking, so that repeated
// provisioning of the same booking hits the provider's already-exists path.
func MeetingID(bookingID uuid.UUID) string {
	return "booking-" + bookingID.String()
}

// AfterBookingCreated provisions the meeting and notifies the teacher.
func (d *Dispatcher) AfterBookingCreated(ctx context.Context, b *models.Booking, s *models.Slot) models.MeetingOutcome {
	ctx = context.WithoutCancel(ctx)
	out := d.provision(ctx, b, s)

	payload := map[string]any{
		"booking_id":  b.ID.String(),
		"slot_id":     s.ID.String(),
		"student_id":  b.StudentID.String(),
		"starts_at":   s.StartsAt,
		"ends_at":     s.EndsAt,
		"meeting_url": out.URL,
	}
	d.notify(ctx, []uuid.UUID{s.OwnerID}, notify.EventBookingCreated, payload)
	return out
}

// AfterBookingCancelled notifies both parties. byOwner marks a cancellation
// driven by the slot owner withdrawing the slot.
func (d *Dispatcher) AfterBookingCancelled(ctx context.Context, b *models.Booking, s *models.Slot, byOwner bool) {
	ctx = context.WithoutCancel(ctx)
	event := notify.EventBookingCancelled
	if byOwner {
		event = notify.EventSlotCancelled
	}
	payload := map[string]any{
		"booking_id":     b.ID.String(),
		"slot_id":        s.ID.String(),
		"refund_credits": b.PriceCredits,
		"by_owner":       byOwner,
	}
	d.notify(ctx, []uuid.UUID{b.StudentID, s.OwnerID}, event, payload)
}

func (d *Dispatcher) provision(ctx context.Context, b *models.Booking, s *models.Slot) models.MeetingOutcome {
	if d.Provisioner == nil {
		return models.MeetingOutcome{Status: models.MeetingSkipped}
	}

	id := MeetingID(b.ID)
	params := meeting.Params{
		Title:    fmt.Sprintf("Lesson %s", b.ID),
		StartsAt: s.StartsAt,
		EndsAt:   s.EndsAt,
	}

	attempts := d.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i) * d.Backoff)
		}
		m, err := d.createOnce(ctx, id, params)
		if meeting.IsAlreadyExists(err) {
			d.Metrics.SideEffect("meeting", models.MeetingAlreadyExists)
			out := models.MeetingOutcome{Status: models.MeetingAlreadyExists}
			if existing := meeting.ExistingMeeting(err); existing != nil {
				d.storeLink(ctx, s.ID, existing.URL)
				out.URL = existing.URL
			} else {
				// The room exists but its url is unknown; let the worker recover it.
				d.enqueueRetry(ctx, b, s, id, params)
			}
			return out
		}
		if err == nil {
			d.storeLink(ctx, s.ID, m.URL)
			d.Metrics.SideEffect("meeting", models.MeetingCreated)
			return models.MeetingOutcome{Status: models.MeetingCreated, URL: m.URL}
		}
		lastErr = err
		d.logger().Warn("meeting provisioning attempt failed",
			"booking_id", b.ID, "meeting_id", id, "attempt", i+1, "error", err)
	}

	d.Metrics.SideEffect("meeting", models.MeetingFailed)
	d.enqueueRetry(ctx, b, s, id, params)
	return models.MeetingOutcome{Status: models.MeetingFailed, Reason: lastErr.Error()}
}

func (d *Dispatcher) enqueueRetry(ctx context.Context, b *models.Booking, s *models.Slot, id string, params meeting.Params) {
	if d.Retries == nil {
		return
	}
	args := execution.ProvisionMeetingArgs{
		BookingID: b.ID,
		SlotID:    s.ID,
		MeetingID: id,
		Title:     params.Title,
		StartsAt:  s.StartsAt,
		EndsAt:    s.EndsAt,
	}
	if err := d.Retries.EnqueueMeetingRetry(ctx, args); err != nil {
		d.logger().Error("enqueue meeting retry failed", "booking_id", b.ID, "error", err)
	}
}

func (d *Dispatcher) createOnce(ctx context.Context, id string, p meeting.Params) (*meeting.Meeting, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultSideEffectTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Provisioner.CreateMeeting(callCtx, id, p)
}

func (d *Dispatcher) storeLink(ctx context.Context, slotID uuid.UUID, url string) {
	if d.Links == nil || url == "" {
		return
	}
	if err := d.Links.SetMeetingLink(ctx, slotID, url); err != nil {
		d.logger().Warn("store meeting link failed", "slot_id", slotID, "error", err)
	}
}

func (d *Dispatcher) notify(ctx context.Context, userIDs []uuid.UUID, event string, payload map[string]any) {
	if d.Notifier == nil {
		return
	}
	if err := d.Notifier.Notify(ctx, userIDs, event, payload); err != nil {
		d.Metrics.SideEffect("notify", "failed")
		d.logger().Warn("notification failed", "event", event, "error", err)
		return
	}
	d.Metrics.SideEffect("notify", "ok")
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

var _ PostCommitHook = (*Dispatcher)(nil)

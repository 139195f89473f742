package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/classbook/backend/internal/meeting"
	"github.com/classbook/backend/internal/notify"
)

const maxJobAttempts = 5

type NotifyArgs struct {
	UserIDs []uuid.UUID    `json:"user_ids"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (NotifyArgs) Kind() string { return "notify" }

func (NotifyArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: maxJobAttempts}
}

// NotifyWorker delivers a queued notification; River retries on error.
type NotifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	notifier notify.Notifier
}

func NewNotifyWorker(n notify.Notifier) *NotifyWorker {
	return &NotifyWorker{notifier: n}
}

func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	args := job.Args
	if err := w.notifier.Notify(ctx, args.UserIDs, args.Event, args.Payload); err != nil {
		if errors.Is(err, notify.ErrInvalidPayload) {
			return river.JobCancel(err)
		}
		return fmt.Errorf("deliver %s notification: %w", args.Event, err)
	}
	return nil
}

// ProvisionMeetingArgs re-attempts a meeting that could not be created right
// after the booking committed.
type ProvisionMeetingArgs struct {
	BookingID uuid.UUID `json:"booking_id"`
	SlotID    uuid.UUID `json:"slot_id"`
	MeetingID string    `json:"meeting_id"`
	Title     string    `json:"title,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
}

func (ProvisionMeetingArgs) Kind() string { return "provision_meeting" }

func (ProvisionMeetingArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: maxJobAttempts}
}

// LinkStore records the meeting link on the slot.
type LinkStore interface {
	SetMeetingLink(ctx context.Context, slotID uuid.UUID, link string) error
}

type ProvisionMeetingWorker struct {
	river.WorkerDefaults[ProvisionMeetingArgs]
	provisioner meeting.Provisioner
	links       LinkStore
	timeout     time.Duration
}

func NewProvisionMeetingWorker(p meeting.Provisioner, links LinkStore, timeout time.Duration) *ProvisionMeetingWorker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProvisionMeetingWorker{provisioner: p, links: links, timeout: timeout}
}

func (w *ProvisionMeetingWorker) Work(ctx context.Context, job *river.Job[ProvisionMeetingArgs]) error {
	args := job.Args
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	m, err := w.provisioner.CreateMeeting(callCtx, args.MeetingID, meeting.Params{
		Title:    args.Title,
		StartsAt: args.StartsAt,
		EndsAt:   args.EndsAt,
	})
	if meeting.IsAlreadyExists(err) {
		existing := meeting.ExistingMeeting(err)
		if existing == nil {
			// Retried by River until the provider tells us where the room is.
			return fmt.Errorf("meeting %s exists but its url is unknown: %w", args.MeetingID, err)
		}
		m = existing
	} else if err != nil {
		return fmt.Errorf("provision meeting %s: %w", args.MeetingID, err)
	}
	if err := w.links.SetMeetingLink(ctx, args.SlotID, m.URL); err != nil {
		return fmt.Errorf("store meeting link: %w", err)
	}
	return nil
}

// InsertFunc enqueues a job outside any transaction. main binds it to
// river.Client.Insert once the client exists.
type InsertFunc func(ctx context.Context, args river.JobArgs) error

// Queue turns side effects into River jobs.
type Queue struct {
	insert InsertFunc
}

func NewQueue(insert InsertFunc) *Queue {
	return &Queue{insert: insert}
}

// Notify implements notify.Notifier by enqueuing a delivery job.
func (q *Queue) Notify(ctx context.Context, userIDs []uuid.UUID, event string, payload map[string]any) error {
	return q.insert(ctx, NotifyArgs{UserIDs: userIDs, Event: event, Payload: payload})
}

func (q *Queue) EnqueueMeetingRetry(ctx context.Context, args ProvisionMeetingArgs) error {
	return q.insert(ctx, args)
}

var _ notify.Notifier = (*Queue)(nil)

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/classbook/backend/internal/middleware"
	"github.com/classbook/backend/internal/models"
	"github.com/classbook/backend/internal/services"
)

// BookingEngine is the subset of services.Engine the booking endpoints drive.
type BookingEngine interface {
	CreateBooking(ctx context.Context, studentID, slotID uuid.UUID) (*services.CreateResult, error)
	CancelBooking(ctx context.Context, studentID, bookingID uuid.UUID) error
	CompleteBooking(ctx context.Context, ownerID, bookingID uuid.UUID) (*models.Booking, error)
	MarkNoShow(ctx context.Context, ownerID, bookingID uuid.UUID) (*models.Booking, error)
}

// BookingLister reads a student's bookings.
type BookingLister interface {
	ListByStudent(ctx context.Context, studentID uuid.UUID, limit int) ([]*models.Booking, error)
}

// BookingHandler serves /api/v1/bookings endpoints.
type BookingHandler struct {
	Engine   BookingEngine
	Bookings BookingLister
	Logger   *slog.Logger
}

// --- POST /api/v1/bookings ---

type createBookingRequest struct {
	SlotID string `json:"slot_id"`
}

type bookingResponse struct {
	BookingID      uuid.UUID             `json:"booking_id"`
	SlotID         uuid.UUID             `json:"slot_id"`
	TeacherID      uuid.UUID             `json:"teacher_id"`
	Status         models.BookingStatus  `json:"status"`
	PriceCredits   int64                 `json:"price_credits"`
	BookedAt       time.Time             `json:"booked_at"`
	SlotStart      time.Time             `json:"slot_start"`
	SlotEnd        time.Time             `json:"slot_end"`
	MeetingOutcome models.MeetingOutcome `json:"meeting_outcome"`
}

// CreateBooking handles POST /api/v1/bookings. The student is the caller.
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	slotID, err := uuid.Parse(req.SlotID)
	if err != nil || slotID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid slot_id")
		return
	}

	res, err := h.Engine.CreateBooking(r.Context(), p.UserID, slotID)
	if err != nil {
		writeEngineError(w, logger(h.Logger), "create booking", err)
		return
	}

	writeJSON(w, http.StatusCreated, bookingResponse{
		BookingID:      res.Booking.ID,
		SlotID:         res.Slot.ID,
		TeacherID:      res.Slot.OwnerID,
		Status:         res.Booking.Status,
		PriceCredits:   res.Booking.PriceCredits,
		BookedAt:       res.Booking.BookedAt,
		SlotStart:      res.Slot.StartsAt,
		SlotEnd:        res.Slot.EndsAt,
		MeetingOutcome: res.Meeting,
	})
}

// CancelBooking handles POST /api/v1/bookings/{id}/cancel.
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	bookingID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	if err := h.Engine.CancelBooking(r.Context(), p.UserID, bookingID); err != nil {
		writeEngineError(w, logger(h.Logger), "cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// CompleteBooking handles POST /api/v1/bookings/{id}/complete. The caller
// must own the booked slot.
func (h *BookingHandler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "complete booking", h.Engine.CompleteBooking)
}

// MarkNoShow handles POST /api/v1/bookings/{id}/no-show.
func (h *BookingHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "mark no-show", h.Engine.MarkNoShow)
}

func (h *BookingHandler) finish(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, ownerID, bookingID uuid.UUID) (*models.Booking, error)) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	bookingID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	b, err := fn(r.Context(), p.UserID, bookingID)
	if err != nil {
		writeEngineError(w, logger(h.Logger), op, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ListMine handles GET /api/v1/bookings: the caller's bookings, newest first.
func (h *BookingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := queryLimit(r)
	if limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	list, err := h.Bookings.ListByStudent(r.Context(), p.UserID, limit)
	if err != nil {
		logger(h.Logger).Error("list bookings", "student_id", p.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list bookings")
		return
	}
	if list == nil {
		list = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, list)
}

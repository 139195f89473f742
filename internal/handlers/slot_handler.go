package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/classbook/backend/internal/middleware"
	"github.com/classbook/backend/internal/models"
	"github.com/classbook/backend/internal/repository"
	"github.com/classbook/backend/internal/services"
)

// SlotStore is the slot repository surface used outside the booking engine.
// It never changes slot status.
type SlotStore interface {
	Create(ctx context.Context, s *models.Slot) error
	Get(ctx context.Context, id uuid.UUID) (*models.Slot, error)
	UpdatePrice(ctx context.Context, ownerID, id uuid.UUID, price int64) (*models.Slot, error)
	ListOpen(ctx context.Context, f repository.SlotFilter) ([]*models.Slot, error)
}

// SlotCanceller withdraws a slot through the booking engine so that any
// active booking is refunded.
type SlotCanceller interface {
	CancelSlot(ctx context.Context, ownerID, slotID uuid.UUID) (*services.SlotCancellation, error)
}

// SlotHandler serves /api/v1/slots endpoints.
type SlotHandler struct {
	Slots  SlotStore
	Engine SlotCanceller
	Logger *slog.Logger
}

type createSlotRequest struct {
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	PriceCredits int64     `json:"price_credits"`
}

// CreateSlot handles POST /api/v1/slots. The caller becomes the owner.
func (h *SlotHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.StartsAt.IsZero() || !req.EndsAt.After(req.StartsAt) {
		writeError(w, http.StatusBadRequest, "ends_at must be after starts_at")
		return
	}
	if req.PriceCredits <= 0 {
		writeError(w, http.StatusBadRequest, "price_credits must be > 0")
		return
	}

	s := &models.Slot{
		ID:           uuid.New(),
		OwnerID:      p.UserID,
		StartsAt:     req.StartsAt.UTC(),
		EndsAt:       req.EndsAt.UTC(),
		Status:       models.SlotOpen,
		PriceCredits: req.PriceCredits,
	}
	if err := h.Slots.Create(r.Context(), s); err != nil {
		logger(h.Logger).Error("create slot", "owner_id", p.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create slot")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// GetSlot handles GET /api/v1/slots/{id}.
func (h *SlotHandler) GetSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid slot id")
		return
	}
	s, err := h.Slots.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "slot not found")
		return
	}
	if err != nil {
		logger(h.Logger).Error("get slot", "slot_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load slot")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ListOpen handles GET /api/v1/slots?teacher_id=&from=&to=&limit=.
func (h *SlotHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f repository.SlotFilter
	if raw := q.Get("teacher_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid teacher_id")
			return
		}
		f.OwnerID = id
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = t
	}
	if f.Limit = queryLimit(r); f.Limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	list, err := h.Slots.ListOpen(r.Context(), f)
	if err != nil {
		logger(h.Logger).Error("list slots", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list slots")
		return
	}
	if list == nil {
		list = []*models.Slot{}
	}
	writeJSON(w, http.StatusOK, list)
}

type updatePriceRequest struct {
	PriceCredits int64 `json:"price_credits"`
}

// UpdatePrice handles PATCH /api/v1/slots/{id}/price. Bookings already made
// keep the price they paid.
func (h *SlotHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid slot id")
		return
	}
	var req updatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.PriceCredits <= 0 {
		writeError(w, http.StatusBadRequest, "price_credits must be > 0")
		return
	}
	s, err := h.Slots.UpdatePrice(r.Context(), p.UserID, id, req.PriceCredits)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "slot not found")
		return
	}
	if err != nil {
		logger(h.Logger).Error("update slot price", "slot_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update price")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type cancelSlotResponse struct {
	Slot    *models.Slot        `json:"slot"`
	Booking *models.Booking     `json:"booking,omitempty"`
	Refund  *models.LedgerEntry `json:"refund,omitempty"`
}

// CancelSlot handles POST /api/v1/slots/{id}/cancel.
func (h *SlotHandler) CancelSlot(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid slot id")
		return
	}
	out, err := h.Engine.CancelSlot(r.Context(), p.UserID, id)
	if err != nil {
		writeEngineError(w, logger(h.Logger), "cancel slot", err)
		return
	}
	writeJSON(w, http.StatusOK, cancelSlotResponse{Slot: out.Slot, Booking: out.Booking, Refund: out.Refund})
}

// Package credits serves balance and ledger reads plus the two non-booking
// ways credits enter the ledger: the purchase stub and admin adjustments.
package credits

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/classbook/backend/internal/ledger"
	"github.com/classbook/backend/internal/middleware"
	"github.com/classbook/backend/internal/models"
)

// Ledger is the subset of ledger.Service these endpoints use.
type Ledger interface {
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	List(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
	Purchase(ctx context.Context, userID uuid.UUID, amount int64) (*models.LedgerEntry, error)
	Adjust(ctx context.Context, userID uuid.UUID, amount int64, note string) (*models.LedgerEntry, error)
}

type Handler struct {
	ledger Ledger
	log    *slog.Logger
}

func NewHandler(l Ledger, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: l, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// targetUser resolves {id} and checks the caller may read it: self or admin.
func targetUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return uuid.Nil, false
	}
	if id != p.UserID && p.Role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden")
		return uuid.Nil, false
	}
	return id, true
}

// GET /api/v1/users/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUser(w, r)
	if !ok {
		return
	}
	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		h.log.Error("get balance failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

// GET /api/v1/users/{id}/ledger?limit=
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.ledger.List(r.Context(), userID, limit)
	if err != nil {
		h.log.Error("list ledger failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list ledger")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type purchaseRequest struct {
	Amount int64 `json:"amount"`
}

// POST /api/v1/credits/purchase
//
// Stub: credits are granted without any payment provider.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	entry, err := h.ledger.Purchase(r.Context(), p.UserID, req.Amount)
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "amount must be > 0")
		return
	case errors.Is(err, ledger.ErrAmountTooLarge):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ledger.ErrBalanceOverflow):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.log.Error("purchase failed", "user_id", p.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "purchase failed")
		return
	}
	h.log.Info("credits purchased", "user_id", p.UserID, "amount", req.Amount, "entry_id", entry.ID)
	writeJSON(w, http.StatusCreated, entry)
}

type adjustRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

// POST /api/v1/admin/credits/adjust
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil || p.Role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	if req.Note == "" {
		writeError(w, http.StatusBadRequest, "note is required")
		return
	}
	entry, err := h.ledger.Adjust(r.Context(), userID, req.Amount, req.Note)
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "amount must be non-zero")
		return
	case errors.Is(err, ledger.ErrAmountTooLarge):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ledger.ErrNegativeBalance), errors.Is(err, ledger.ErrBalanceOverflow):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.log.Error("adjust failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "adjust failed")
		return
	}
	h.log.Info("credits adjusted", "user_id", userID, "amount", req.Amount, "admin_id", p.UserID, "entry_id", entry.ID)
	writeJSON(w, http.StatusCreated, entry)
}

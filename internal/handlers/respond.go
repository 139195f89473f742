package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/classbook/backend/internal/services"
)

type insufficientCreditsResponse struct {
	Error     string `json:"error"`
	Balance   int64  `json:"balance"`
	Required  int64  `json:"required"`
	Shortfall int64  `json:"shortfall"`
}

// writeEngineError maps booking engine failures to HTTP statuses. Anything
// that is not a business-rule failure is logged and reported as 500.
func writeEngineError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	var ice *services.InsufficientCreditsError
	switch {
	case errors.As(err, &ice):
		writeJSON(w, http.StatusPaymentRequired, insufficientCreditsResponse{
			Error:     "insufficient credits",
			Balance:   ice.Balance,
			Required:  ice.Required,
			Shortfall: ice.Shortfall(),
		})
	case errors.Is(err, services.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot unavailable")
	case errors.Is(err, services.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid state")
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, services.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input")
	default:
		log.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// queryLimit returns the "limit" query parameter, 0 when absent, -1 when malformed.
func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

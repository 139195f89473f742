package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/classbook/backend/internal/auth"
	"github.com/classbook/backend/internal/credits"
	"github.com/classbook/backend/internal/handlers"
	"github.com/classbook/backend/internal/models"
)

// tokens maps a bearer token straight to a role.
type tokens map[string]string

func (t tokens) ValidateToken(_ context.Context, token string) (uuid.UUID, string, error) {
	role, ok := t[token]
	if !ok {
		return uuid.Nil, "", errors.New("invalid token")
	}
	return uuid.New(), role, nil
}

func newTestRouter() http.Handler {
	return New(Deps{
		Auth:     auth.NewHandler(nil, nil),
		Bookings: &handlers.BookingHandler{},
		Slots:    &handlers.SlotHandler{},
		Credits:  credits.NewHandler(nil, nil),
		Tokens:   tokens{"s": models.RoleStudent, "t": models.RoleTeacher},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("metrics"))
		}),
	})
}

func TestHealthzAndMetrics(t *testing.T) {
	r := newTestRouter()
	for path, want := range map[string]string{"/healthz": `{"status":"ok"}`, "/metrics": "metrics"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Errorf("%s: got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func TestRoutesRequireAuthAndRole(t *testing.T) {
	r := newTestRouter()

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"booking without token", http.MethodPost, "/api/v1/bookings", "", http.StatusUnauthorized},
		{"booking with bad token", http.MethodPost, "/api/v1/bookings", "nope", http.StatusUnauthorized},
		{"teacher cannot book", http.MethodPost, "/api/v1/bookings", "t", http.StatusForbidden},
		{"student cannot create slots", http.MethodPost, "/api/v1/slots", "s", http.StatusForbidden},
		{"student cannot complete", http.MethodPost, "/api/v1/bookings/" + uuid.NewString() + "/complete", "s", http.StatusForbidden},
		{"admin only adjust", http.MethodPost, "/api/v1/admin/credits/adjust", "t", http.StatusForbidden},
		{"wrong method", http.MethodDelete, "/api/v1/bookings", "s", http.StatusMethodNotAllowed},
		// Reaches the handler, which rejects the body before touching the engine.
		{"student books", http.MethodPost, "/api/v1/bookings", "s", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{"slot_id":"bad"}`))
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

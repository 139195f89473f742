package router

import (
	"net/http"

	"github.com/classbook/backend/internal/auth"
	"github.com/classbook/backend/internal/credits"
	"github.com/classbook/backend/internal/handlers"
	"github.com/classbook/backend/internal/middleware"
	"github.com/classbook/backend/internal/models"
)

// Deps are the handlers the API is assembled from. Metrics is optional.
type Deps struct {
	Auth     *auth.Handler
	Bookings *handlers.BookingHandler
	Slots    *handlers.SlotHandler
	Credits  *credits.Handler
	Tokens   middleware.TokenValidator
	Metrics  http.Handler
}

// New returns an http.Handler that serves the API under /api/v1 plus
// /healthz and /metrics.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	authed := middleware.Authenticate(d.Tokens)
	as := func(h http.HandlerFunc, roles ...string) http.Handler {
		if len(roles) == 0 {
			return authed(h)
		}
		return authed(middleware.RequireRole(roles...)(h))
	}

	mux.HandleFunc("POST "+base+"/auth/register", d.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", d.Auth.Login)

	mux.HandleFunc("GET "+base+"/slots", d.Slots.ListOpen)
	mux.HandleFunc("GET "+base+"/slots/{id}", d.Slots.GetSlot)
	mux.Handle("POST "+base+"/slots", as(d.Slots.CreateSlot, models.RoleTeacher))
	mux.Handle("PATCH "+base+"/slots/{id}/price", as(d.Slots.UpdatePrice, models.RoleTeacher))
	mux.Handle("POST "+base+"/slots/{id}/cancel", as(d.Slots.CancelSlot, models.RoleTeacher))

	mux.Handle("POST "+base+"/bookings", as(d.Bookings.CreateBooking, models.RoleStudent))
	mux.Handle("GET "+base+"/bookings", as(d.Bookings.ListMine, models.RoleStudent))
	mux.Handle("POST "+base+"/bookings/{id}/cancel", as(d.Bookings.CancelBooking, models.RoleStudent))
	mux.Handle("POST "+base+"/bookings/{id}/complete", as(d.Bookings.CompleteBooking, models.RoleTeacher))
	mux.Handle("POST "+base+"/bookings/{id}/no-show", as(d.Bookings.MarkNoShow, models.RoleTeacher))

	mux.Handle("GET "+base+"/users/{id}/balance", as(d.Credits.GetBalance))
	mux.Handle("GET "+base+"/users/{id}/ledger", as(d.Credits.ListLedger))
	mux.Handle("POST "+base+"/credits/purchase", as(d.Credits.Purchase))
	mux.Handle("POST "+base+"/admin/credits/adjust", as(d.Credits.Adjust, models.RoleAdmin))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	return mux
}

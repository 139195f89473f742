package main

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/classbook/backend/internal/auth"
	"github.com/classbook/backend/internal/config"
	"github.com/classbook/backend/internal/credits"
	"github.com/classbook/backend/internal/handlers"
	"github.com/classbook/backend/internal/ledger"
	"github.com/classbook/backend/internal/repository"
	"github.com/classbook/backend/internal/router"
	"github.com/classbook/backend/internal/services"
)

// buildHandler assembles the HTTP surface around the booking engine.
func buildHandler(
	cfg config.Config,
	pool *pgxpool.Pool,
	engine *services.Engine,
	slotRepo *repository.SlotRepo,
	bookingRepo *repository.BookingRepo,
	ledgerSvc *ledger.Service,
	registry *prometheus.Registry,
	logger *slog.Logger,
) http.Handler {
	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret, cfg.JWTTTL)

	mux := router.New(router.Deps{
		Auth: auth.NewHandler(authSvc, logger),
		Bookings: &handlers.BookingHandler{
			Engine:   engine,
			Bookings: bookingRepo,
			Logger:   logger,
		},
		Slots: &handlers.SlotHandler{
			Slots:  slotRepo,
			Engine: engine,
			Logger: logger,
		},
		Credits: credits.NewHandler(ledgerSvc, logger),
		Tokens:  authSvc,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)
}

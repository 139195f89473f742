package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/classbook/backend/internal/config"
	"github.com/classbook/backend/internal/db"
	"github.com/classbook/backend/internal/execution"
	"github.com/classbook/backend/internal/ledger"
	"github.com/classbook/backend/internal/meeting"
	"github.com/classbook/backend/internal/metrics"
	"github.com/classbook/backend/internal/notify"
	"github.com/classbook/backend/internal/obs"
	"github.com/classbook/backend/internal/repository"
	"github.com/classbook/backend/internal/services"
)

const serviceName = "classbook-api"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, serviceName, cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		slog.Error("Tracer init failed", "error", err)
		os.Exit(1)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker compose up -d", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Notification delivery: broker when configured, log otherwise.
	var delivery notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.RabbitURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			slog.Error("RabbitMQ connect failed", "error", err)
			os.Exit(1)
		}
		defer amqpNotifier.Close()
		delivery = amqpNotifier
		slog.Info("Publishing notifications to RabbitMQ", "exchange", cfg.RabbitExchange)
	}

	schemas, err := notify.NewValidator()
	if err != nil {
		slog.Error("Failed to compile notification schemas", "error", err)
		os.Exit(1)
	}

	var provisioner meeting.Provisioner = meeting.LinkProvisioner{BaseURL: cfg.MeetingBaseURL}
	if cfg.MeetingAPIURL != "" {
		provisioner = meeting.NewHTTPProvisioner(cfg.MeetingAPIURL, cfg.MeetingAPIKey, cfg.SideEffectTimeout)
	}

	slotRepo := repository.NewSlotRepo(pool)
	bookingRepo := repository.NewBookingRepo(pool)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(pool, ledgerRepo, cfg.LedgerMaxLimit)
	ledgerSvc.MaxEntryCredits = cfg.MaxEntryCredits
	ledgerSvc.MaxRetries = cfg.TxMaxRetries

	// Jobs: insert func is set after River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn execution.InsertFunc
	insert := func(ctx context.Context, args river.JobArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, args)
	}
	queue := execution.NewQueue(insert)

	workers := river.NewWorkers()
	// Jobs queued before a schema change are re-checked before delivery.
	river.AddWorker(workers, execution.NewNotifyWorker(notify.Validating{Next: delivery, Schema: schemas}))
	river.AddWorker(workers, execution.NewProvisionMeetingWorker(provisioner, slotRepo, cfg.SideEffectTimeout))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers: workers,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, args river.JobArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	outbox := notify.Validating{Next: queue, Schema: schemas}
	dispatcher := services.NewDispatcher(provisioner, outbox, slotRepo, queue, logger)
	dispatcher.Timeout = cfg.SideEffectTimeout
	dispatcher.Attempts = cfg.SideEffectAttempts
	dispatcher.Metrics = m

	engine := services.NewEngine(pool, slotRepo, bookingRepo, ledgerRepo, logger)
	engine.MaxRetries = cfg.TxMaxRetries
	engine.Metrics = m
	engine.AfterCommit = dispatcher

	handler := buildHandler(cfg, pool, engine, slotRepo, bookingRepo, ledgerSvc, registry, logger)

	// River is stopped explicitly below so in-flight jobs can finish.
	if err := riverClient.Start(context.WithoutCancel(ctx)); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River stop failed", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		slog.Error("Tracer shutdown failed", "error", err)
	}
}

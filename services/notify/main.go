package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/diagnosis/afyaplus/pkg/config"
	"github.com/diagnosis/afyaplus/pkg/events"
	"github.com/diagnosis/afyaplus/pkg/firebaseapp"
	"github.com/diagnosis/afyaplus/pkg/logger"
	mw "github.com/diagnosis/afyaplus/pkg/middleware"
	"github.com/diagnosis/afyaplus/pkg/notify"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", logger.Err(err))
		os.Exit(1)
	}
	if cfg.NATS.URL == "" {
		logger.Error("Notify service requires NATS_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var app *firebase.App
	if cfg.Firebase.Enabled() {
		app, err = firebaseapp.New(ctx, cfg.Firebase)
		if err != nil {
			logger.Error("Failed to initialise Firebase", logger.Err(err))
			os.Exit(1)
		}
	}

	gateway, err := notify.NewGateway(ctx, app, cfg.Notify, cfg.Email)
	if err != nil {
		logger.Error("Failed to build notification gateway", logger.Err(err))
		os.Exit(1)
	}

	// Connect to event bus
	bus, err := events.NewNATSEventBus(cfg.NATS.URL, "afyaplus-notify")
	if err != nil {
		logger.Error("Failed to connect to NATS", logger.Err(err))
		os.Exit(1)
	}

	worker := notify.NewWorker(bus, gateway, cfg.NATS.Queue, cfg.Notify.SendTimeout)
	if err := worker.Start(); err != nil {
		logger.Error("Failed to subscribe notify worker", logger.Err(err))
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("notify"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(mw.Metrics)

	srv := &http.Server{
		Addr:         ":" + cfg.Notify.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting notify service", "port", cfg.Notify.Port, "queue", cfg.NATS.Queue)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down notify service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Drain in-flight deliveries before the listener goes away.
		if err := bus.Close(); err != nil {
			logger.Error("Event bus drain error", logger.Err(err))
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Notify service error", logger.Err(err))
		os.Exit(1)
	}
}

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
	"github.com/diagnosis/afyaplus/pkg/auth"
	"github.com/diagnosis/afyaplus/pkg/config"
	"github.com/diagnosis/afyaplus/pkg/database"
	"github.com/diagnosis/afyaplus/pkg/events"
	"github.com/diagnosis/afyaplus/pkg/firebaseapp"
	"github.com/diagnosis/afyaplus/pkg/logger"
	mw "github.com/diagnosis/afyaplus/pkg/middleware"
	"github.com/diagnosis/afyaplus/pkg/notify"
	"github.com/diagnosis/afyaplus/services/api/internal/handlers"
	"github.com/diagnosis/afyaplus/services/api/internal/repository"
	"github.com/diagnosis/afyaplus/services/api/internal/repository/memstore"
	"github.com/diagnosis/afyaplus/services/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type repositories struct {
	users         repository.UserRepository
	doctors       repository.DoctorRepository
	requests      repository.RequestRepository
	subscriptions repository.SubscriptionRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", logger.Err(err))
		os.Exit(1)
	}

	ctx := context.Background()

	repos, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open storage", logger.Err(err), "driver", cfg.Storage.Driver)
		os.Exit(1)
	}
	defer closeStore()

	var app *firebase.App
	if cfg.Firebase.Enabled() {
		app, err = firebaseapp.New(ctx, cfg.Firebase)
		if err != nil {
			logger.Error("Failed to initialise Firebase", logger.Err(err))
			os.Exit(1)
		}
	}

	verifier, err := newVerifier(ctx, cfg, app)
	if err != nil {
		logger.Error("Failed to build credential verifier", logger.Err(err))
		os.Exit(1)
	}

	// Connect to event bus
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		bus, err := events.NewNATSEventBus(cfg.NATS.URL, "afyaplus-api")
		if err != nil {
			logger.Error("Failed to connect to NATS", logger.Err(err))
			os.Exit(1)
		}
		publisher = bus
	}
	defer publisher.Close()

	var dispatcher notify.Dispatcher
	if cfg.Notify.Mode == "nats" {
		dispatcher = notify.NewBusDispatcher(publisher)
	} else {
		gateway, err := notify.NewGateway(ctx, app, cfg.Notify, cfg.Email)
		if err != nil {
			logger.Error("Failed to build notification gateway", logger.Err(err))
			os.Exit(1)
		}
		async := notify.NewAsyncDispatcher(gateway, cfg.Notify.SendTimeout)
		defer async.Wait()
		dispatcher = async
	}

	// Initialize services
	identityService := service.NewIdentityService(verifier, repos.users)
	marketplaceService := service.NewMarketplaceService(repos.requests, repos.users, dispatcher, publisher, cfg.Subscription.Currency, nil)
	profileService := service.NewProfileService(repos.doctors, repos.users)
	subscriptionService := service.NewSubscriptionService(repos.subscriptions, publisher,
		cfg.Subscription.ActivationDays, cfg.Subscription.GraceFailures, nil)
	ussdService := service.NewUSSDService(service.NewPhoneResolver(repos.users), subscriptionService,
		cfg.Subscription.ProductName, cfg.Subscription.ActivationDays, nil)

	opts := handlers.Options{
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		USSDServiceCodes:    cfg.USSD.ServiceCodes,
	}
	if cfg.Redis.URL != "" {
		client, err := mw.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Error("Failed to connect to Redis", logger.Err(err))
			os.Exit(1)
		}
		defer client.Close()

		opts.RateLimit = mw.NewRateLimiter(client, mw.RateLimitConfig{
			Prefix:   "afyaplus:ratelimit",
			Requests: cfg.Redis.RateLimit,
			Window:   cfg.Redis.RateLimitWindow,
		}).Middleware()
		opts.Idempotency = mw.Idempotency(mw.NewRedisIdempotencyStore(client), 24*time.Hour)
	}

	h := handlers.New(identityService, marketplaceService, profileService, subscriptionService, ussdService, opts)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("api"))
	r.Use(mw.Logging)
	r.Use(middleware.Recoverer)
	r.Use(mw.CORS(cfg.Server.AllowedOrigins))
	r.Use(mw.Health)
	r.Use(mw.Metrics)

	r.Mount("/", h.Routes())

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down api service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("API service shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Starting api service",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"verifier", cfg.Auth.Verifier,
		"notify_mode", cfg.Notify.Mode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("API service error", logger.Err(err))
		os.Exit(1)
	}
	<-done
}

func openStorage(ctx context.Context, cfg *config.Config) (repositories, func(), error) {
	if cfg.Storage.Driver == "memory" {
		logger.Warn("Using in-memory storage; data is lost on restart")
		store := memstore.New()
		return repositories{
			users:         store.Users(),
			doctors:       store.Doctors(),
			requests:      store.Requests(),
			subscriptions: store.Subscriptions(),
		}, func() {}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			return repositories{}, nil, err
		}
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return repositories{}, nil, err
	}
	return repositories{
		users:         repository.NewUserRepository(pool),
		doctors:       repository.NewDoctorRepository(pool),
		requests:      repository.NewRequestRepository(pool),
		subscriptions: repository.NewSubscriptionRepository(pool),
	}, pool.Close, nil
}

func newVerifier(ctx context.Context, cfg *config.Config, app *firebase.App) (auth.Verifier, error) {
	if cfg.Auth.Verifier == "jwt" {
		if cfg.IsProduction() {
			logger.Warn("JWT verifier enabled in production")
		}
		return auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer), nil
	}
	if app == nil {
		return nil, firebaseapp.ErrNotConfigured
	}
	return auth.NewFirebaseVerifier(ctx, app)
}

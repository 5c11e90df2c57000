package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wrenchly/wrenchly/internal"
	"github.com/wrenchly/wrenchly/internal/billing"
	"github.com/wrenchly/wrenchly/internal/email"
	"github.com/wrenchly/wrenchly/internal/handler/api"
	"github.com/wrenchly/wrenchly/internal/handler/saas"
	"github.com/wrenchly/wrenchly/internal/handler/webhook"
	"github.com/wrenchly/wrenchly/internal/middleware"
	"github.com/wrenchly/wrenchly/internal/postgres"
	"github.com/wrenchly/wrenchly/internal/router"
	"github.com/wrenchly/wrenchly/internal/routes"
	"github.com/wrenchly/wrenchly/internal/service"
	"github.com/wrenchly/wrenchly/internal/telemetry"
	"github.com/wrenchly/wrenchly/internal/tenant"
	"github.com/wrenchly/wrenchly/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry error tracking
	sentryCleanup, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer sentryCleanup()

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize stores
	accountStore := postgres.NewAccountStore(pool)
	ledgerStore := postgres.NewLedgerStore(pool)
	slotStore := postgres.NewBetaSlotStore(pool)
	jobStore := postgres.NewJobStore(pool)

	// Seed the slot counter from the current tester count on first boot
	if err := slotStore.EnsureInitialized(ctx); err != nil {
		return fmt.Errorf("failed to initialize beta slot counter: %w", err)
	}

	// Initialize Stripe billing provider
	logger.Info("Initializing Stripe billing provider...")
	stripeConfig := billing.StripeConfig{
		APIKey:        cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}
	billingProvider, err := billing.NewStripeProvider(stripeConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe billing provider initialized", "test_mode", stripeConfig.IsTestMode())

	// Initialize email service. Postmark takes precedence when a server
	// token is configured; SMTP covers local dev (Mailhog) and self-hosting.
	var emailSender email.Sender
	if cfg.Email.PostmarkToken != "" {
		emailSender = email.NewPostmarkSender(cfg.Email.PostmarkToken)
		logger.Info("email sender initialized", "provider", "postmark")
	} else {
		emailSender = email.NewSMTPSender(
			cfg.Email.Host,
			int(cfg.Email.Port),
			cfg.Email.Username,
			cfg.Email.Password,
			cfg.Email.From,
			cfg.Email.FromName,
		)
		logger.Info("email sender initialized", "provider", "smtp", "host", cfg.Email.Host)
	}
	emailService, err := email.NewService(emailSender, cfg.Email.From, cfg.Email.FromName, cfg.TemplateDir)
	if err != nil {
		return fmt.Errorf("failed to initialize email service: %w", err)
	}

	// Initialize services
	lifecycleService := service.NewLifecycleService(accountStore, billingProvider, jobStore, service.LifecycleConfig{
		PriceID: cfg.Stripe.PriceID,
		BaseURL: cfg.BaseURL,
	}, logger)

	betaService := service.NewBetaService(accountStore, slotStore, jobStore, service.BetaConfig{
		MaxSlots: int32(cfg.Beta.MaxSlots),
	}, logger)

	shopService := service.NewShopService(accountStore, betaService, logger)

	// ==========================================================================
	// Build route dependencies
	// ==========================================================================

	tenantResolver := tenant.NewDBResolver(pool)
	resolveTenant := middleware.ResolveTenant(middleware.TenantConfig{
		Resolver: tenantResolver,
		Logger:   logger,
	})
	requireBilling := middleware.RequireActiveBilling(lifecycleService, logger)

	stripeWebhookHandler := webhook.NewStripeHandler(billingProvider, ledgerStore, lifecycleService, webhook.StripeWebhookConfig{
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}, logger)
	webhookDeps := routes.WebhookDeps{
		StripeHandler: stripeWebhookHandler.HandleWebhook,
	}

	billingDeps := routes.BillingDeps{
		Handler:       saas.NewBillingHandler(lifecycleService, logger),
		ResolveTenant: resolveTenant,
		RequireTenant: middleware.RequireTenant,
	}

	apiDeps := routes.APIDeps{
		ShopHandler:    api.NewShopHandler(shopService),
		ResolveTenant:  resolveTenant,
		RequireTenant:  middleware.RequireTenant,
		RequireBilling: requireBilling,
	}

	// ==========================================================================
	// Initialize middleware
	// ==========================================================================

	// Initialize Prometheus metrics
	metrics := middleware.NewMetrics("wrenchly")
	telemetry.InitBusinessMetrics("wrenchly")

	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env == "dev" {
		securityConfig.ContentSecurityPolicy = ""
		securityConfig.HSTSMaxAge = 0
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		telemetry.SentryMiddleware(),
		middleware.RequestID,
		middleware.WithRequestLogger(logger),
		metrics.Middleware,
		middleware.SecurityHeaders(securityConfig),
		router.CORS([]string{cfg.BaseURL}),
		router.Logger(logger),
	)

	// Metrics endpoint (no auth required, but should be protected in production via firewall)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		metrics.Handler().ServeHTTP(w, req)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Register route groups
	routes.RegisterWebhookRoutes(r, webhookDeps)
	routes.RegisterBillingRoutes(r, billingDeps)
	routes.RegisterAPIRoutes(r, apiDeps)

	// ==========================================================================
	// Start worker and server
	// ==========================================================================

	w := worker.NewWorker(jobStore, ledgerStore, emailService, lifecycleService, worker.Config{
		WorkerID:       cfg.Worker.ID,
		MaxConcurrency: cfg.Worker.Concurrency,
	}, logger)
	go func() {
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker stopped", "error", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

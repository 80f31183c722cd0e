// Package main is the entry point for the payments API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/fxacademy/internal/api"
	"github.com/onnwee/fxacademy/internal/auth"
	"github.com/onnwee/fxacademy/internal/config"
	"github.com/onnwee/fxacademy/internal/db"
	"github.com/onnwee/fxacademy/internal/health"
	"github.com/onnwee/fxacademy/internal/idempotency"
	"github.com/onnwee/fxacademy/internal/jobs"
	"github.com/onnwee/fxacademy/internal/middleware"
	"github.com/onnwee/fxacademy/internal/payment"
	"github.com/onnwee/fxacademy/internal/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file (environment variables take precedence)")
	flag.Parse()

	if *help {
		fmt.Println("FX Academy Payments API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting payments api", "version", version, "config", cfg.LogSummary())

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown failed", "error", err)
		}
	}()

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.Migrate(sqlDB); err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	httpMetrics := middleware.NewMetrics()
	paymentMetrics := payment.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, r := range []interface{ Register(prometheus.Registerer) error }{httpMetrics, paymentMetrics, jobMetrics} {
		if err := r.Register(registry); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	deps := buildDeps(ctx, cfg, logger, sqlDB, redisClient, registry, httpMetrics, paymentMetrics, jobMetrics)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Webhooks may wait on provider re-verification.
		WriteTimeout: cfg.ProviderVerifyTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// buildDeps wires stores, providers and handlers, and starts the background cleanup jobs.
// The jobs stop when ctx is canceled.
func buildDeps(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	sqlDB *sql.DB,
	redisClient *redis.Client,
	registry *prometheus.Registry,
	httpMetrics *middleware.Metrics,
	paymentMetrics *payment.Metrics,
	jobMetrics *jobs.Metrics,
) routerDeps {
	events := payment.NewPostgresEventStore(sqlDB)
	subs := payment.NewPostgresSubscriptionStore(sqlDB)
	plans := payment.NewPostgresPlanStore(sqlDB)

	providers := []payment.Provider{
		payment.NewPaystackClient(payment.PaystackConfig{
			SecretKey: cfg.PaystackSecretKey,
			BaseURL:   cfg.PaystackBaseURL,
			Timeout:   cfg.ProviderVerifyTimeout,
		}),
	}
	if cfg.StripeEnabled() {
		providers = append(providers, payment.NewStripeClient(payment.StripeConfig{
			APIKey:     cfg.StripeAPIKey,
			SuccessURL: cfg.StripeSuccessURL,
			CancelURL:  cfg.StripeCancelURL,
		}))
	}

	processor := payment.NewProcessor(payment.ProcessorConfig{
		VerifyTimeout: cfg.ProviderVerifyTimeout,
		Logger:        logger,
		Metrics:       paymentMetrics,
	}, events, subs, plans, providers...)

	checkers := map[string]health.Checker{
		"database": health.NewDBChecker(sqlDB),
	}
	if cfg.ReadyCheckProviders {
		checkers["paystack"] = health.NewHTTPChecker(cfg.PaystackBaseURL)
	}

	var rateStore middleware.RateLimitStore
	if redisClient != nil {
		rateStore = middleware.NewRedisRateLimitStore(redisClient, httpMetrics)
		checkers["redis"] = health.NewRedisChecker(redisClient)
	} else {
		mem := middleware.NewInMemoryRateLimitStore()
		go jobs.Periodic(ctx, jobs.JobTypeRateLimitCleanup, cfg.RateLimitWindow, jobMetrics, func(ctx context.Context) error {
			if n := mem.Cleanup(); n > 0 {
				logger.DebugContext(ctx, "expired rate limit buckets removed", "count", n)
			}
			return nil
		})
		rateStore = mem
	}

	idemRepo := idempotency.NewPostgresRepository(sqlDB)
	go idempotency.RunPeriodicCleanup(ctx, idemRepo, cfg.IdempotencyCleanupInterval, cfg.IdempotencyTTL, jobMetrics)

	return routerDeps{
		Logger:   logger,
		Registry: registry,
		Metrics:  httpMetrics,
		Webhooks: api.NewWebhookHandlers(processor, cfg.PaystackSecretKey, cfg.StripeWebhookSecret),
		Payments: api.NewPaymentHandlers(api.PaymentHandlersConfig{
			Plans:           plans,
			Subscriptions:   subs,
			Providers:       providers,
			DefaultProvider: payment.ProviderPaystack,
			Currency:        cfg.PaystackCurrency,
			CallbackURL:     cfg.PaystackCallbackURL,
		}),
		Plans:           api.NewPlanHandlers(plans),
		Health:          api.NewHealthHandlers(checkers, 0),
		Tokens:          auth.NewJWTService(cfg.JWTSecret, cfg.JWTPreviousSecret),
		RateLimitStore:  rateStore,
		RateLimit:       middleware.RateLimitConfig{RequestsPerWindow: cfg.RateLimitRequests, WindowDuration: cfg.RateLimitWindow},
		IdempotencyRepo: idemRepo,
		StripeWebhooks:  cfg.StripeEnabled(),
	}
}

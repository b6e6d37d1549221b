package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/api"
	"github.com/reyhq/rentledger/internal/billing"
	"github.com/reyhq/rentledger/internal/circuitbreaker"
	"github.com/reyhq/rentledger/internal/config"
	"github.com/reyhq/rentledger/internal/db"
	"github.com/reyhq/rentledger/internal/events"
	"github.com/reyhq/rentledger/internal/gateway"
	"github.com/reyhq/rentledger/internal/metrics"
	"github.com/reyhq/rentledger/internal/notify"
	"github.com/reyhq/rentledger/internal/observ"
	"github.com/reyhq/rentledger/internal/reconcile"
	"github.com/reyhq/rentledger/internal/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting rentledger server",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis powers the webhook dedupe fast path and payment rate limiting.
	// Both degrade gracefully when it is down.
	var redisClient *redis.Client
	var rateLimiter *redis.RateLimiter
	var ackCache *redis.AckCache
	if cfg.RedisEnabled {
		redisClient, err = redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, dedupe and rate limiting disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer redisClient.Close()
			rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.PaymentRateLimit,
				Window: cfg.PaymentRateWindow,
			})
			ackCache = redis.NewAckCache(redisClient, logger, 24*time.Hour)
		}
	}

	// SNS billing events are optional; downstream consumers subscribe to
	// invoice.created, payment.completed and notification.dead_lettered.
	var publisher *events.Publisher
	if cfg.SNSTopicARN != "" {
		publisher, err = events.NewPublisher(ctx, cfg.SNSTopicARN, cfg.AWSRegion, logger)
		if err != nil {
			logger.Warn("sns publisher unavailable, billing events disabled", zap.Error(err))
			publisher = nil
		}
	}

	// Email goes through SES in production; development logs instead of
	// sending.
	var sender notify.EmailSender
	if cfg.Env == "production" {
		sesSender, err := notify.NewSESSender(ctx, notify.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create SES email sender: %w", err)
		}
		sender = sesSender
	} else {
		sender = notify.NewLogSender(logger)
	}

	sesBreaker := circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger)
	sender = circuitbreaker.NewProtectedSender(sender, sesBreaker, logger)

	dispatcher := notify.New(repo, sender, notify.Config{
		PollInterval: cfg.DispatchInterval,
		BatchSize:    cfg.DispatchBatch,
		MaxRetries:   cfg.MaxSendRetries,
	}, logger).WithEvents(publisher)

	scheduler := billing.NewScheduler(repo, logger).WithEvents(publisher)

	var gatewayClient gateway.Client
	if cfg.GatewayBaseURL != "" {
		gwBreaker := circuitbreaker.New(circuitbreaker.DefaultConfig("gateway"), logger)
		gatewayClient = circuitbreaker.NewProtectedGateway(
			gateway.NewHTTPClient(gateway.Config{
				BaseURL: cfg.GatewayBaseURL,
				APIKey:  cfg.GatewayAPIKey,
				Timeout: cfg.GatewayTimeout,
			}, logger),
			gwBreaker, logger,
		)
	} else {
		logger.Warn("gateway not configured, payment initiation and reconciliation disabled")
	}

	var reconciler api.Reconciler
	if gatewayClient != nil {
		svc := reconcile.NewService(repo, gatewayClient, logger).WithEvents(publisher)
		if ackCache != nil {
			svc = svc.WithCache(ackCache)
		}
		reconciler = svc
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go dispatcher.Start(workerCtx)
	logger.Info("notification dispatcher started",
		zap.Duration("poll_interval", cfg.DispatchInterval),
		zap.Int("batch_size", cfg.DispatchBatch),
	)

	// The charge scheduler runs on a coarse ticker; generation is idempotent
	// per (lease, month) so overlapping runs are safe.
	go func() {
		ticker := time.NewTicker(cfg.BillingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if _, err := scheduler.Run(workerCtx, time.Now().UTC()); err != nil {
					logger.Error("scheduled billing cycle failed", zap.Error(err))
				}
			}
		}
	}()
	logger.Info("billing scheduler started", zap.Duration("interval", cfg.BillingInterval))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, repo, reconciler, scheduler, dispatcher)
	if gatewayClient != nil {
		handler = handler.WithGateway(gatewayClient, cfg.GatewayCallbackURL)
	}

	r.Route("/v1", func(r chi.Router) {
		// Hosted-page gateways redirect the browser back with query params.
		r.Post("/webhooks/payment", handler.PaymentWebhook)
		r.Get("/webhooks/payment", handler.PaymentWebhook)
		r.Get("/leases/{id}/statement", handler.GetStatement)
		r.Post("/admin/billing/run", handler.RunBilling)
		r.Post("/admin/notifications/drain", handler.DrainNotifications)

		r.Group(func(r chi.Router) {
			r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
			r.Post("/payments", handler.CreatePayment)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

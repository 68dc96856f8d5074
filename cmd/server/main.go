// Package main is the entry point for the Whistle anonymous reporting server.
// It provides a REST API for report submission, status lookup and admin
// review, and a server-sent event stream that pushes new reports to every
// signed-in admin.
//
// Architecture:
//   - Submitters are anonymous: IP headers are stripped before logging
//   - Encrypted reports are stored as opaque envelopes; the server has no key
//   - Status lookups expose review progress only, never content
//   - Urgent reports additionally trigger an email alert
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/whistle/whistle-server/internal/auth"
	"github.com/whistle/whistle-server/internal/config"
	"github.com/whistle/whistle-server/internal/database"
	"github.com/whistle/whistle-server/internal/handlers"
	"github.com/whistle/whistle-server/internal/middleware"
	"github.com/whistle/whistle-server/internal/notify"
	"github.com/whistle/whistle-server/internal/services"
	"github.com/whistle/whistle-server/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("Failed to load config: %v", err)
	}

	sugar.Infow("Starting Whistle server",
		"port", cfg.Port,
		"env", cfg.Environment,
		"database", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"email", cfg.EmailConfigured(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		sugar.Fatalf("Server error: %v", err)
	}
	sugar.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	creds, err := auth.NewCredentials(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		return err
	}

	st, storage, err := openStore(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = middleware.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}
	apiLimiter := newLimiter(rdb, "api", cfg.RateLimitRPM, time.Minute)
	loginLimiter := newLimiter(rdb, "login", cfg.LoginRateLimit, cfg.LoginRateLimitEvery)

	mailer, err := newMailer(cfg, sugar)
	if err != nil {
		return err
	}

	// Initialize services
	hub := notify.NewHub(issuer, cfg.HeartbeatInterval, sugar)
	notifier := notify.NewNotifier(hub, mailer, sugar)
	activitySvc := services.NewActivityLogService(st, sugar)
	reportSvc := services.NewReportService(st, activitySvc, notifier, sugar)

	// Initialize handlers
	reportHandler := handlers.NewReportHandler(reportSvc, sugar)
	adminHandler := handlers.NewAdminHandler(issuer, creds, cfg.LoginFailureDelay, cfg.Production(), sugar)
	notificationHandler := handlers.NewNotificationHandler(hub, notifier, cfg.ViewerBuffer, cfg.EmailTo, sugar)
	activityHandler := handlers.NewActivityHandler(activitySvc, sugar)
	healthHandler := handlers.NewHealthHandler(st, hub, storage, sugar)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StripIPHeaders()) // Remove IP-identifying headers before logging
	r.Use(middleware.StructuredLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true, // session cookie
		MaxAge:           300,
	}))
	r.Use(middleware.RateLimit(apiLimiter, middleware.ByPath, sugar))

	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived stream; it must stay outside the request timeout.
		r.Get("/notifications/stream", notificationHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(30 * time.Second))

			// Health check
			r.Get("/health", healthHandler.Check)
			r.Get("/health/ready", healthHandler.Ready)

			// Public report endpoints
			r.Post("/reports", reportHandler.Submit)
			r.Get("/reports/{id}/status", reportHandler.Status)

			r.With(middleware.RateLimit(loginLimiter, middleware.ByClient, sugar)).
				Post("/admin/login", adminHandler.Login)
			r.Post("/admin/logout", adminHandler.Logout)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth(issuer))
				r.Get("/reports", reportHandler.List)
				r.Get("/reports/{id}", reportHandler.Get)
				r.Put("/reports/{id}", reportHandler.Update)

				r.Get("/notifications/settings", notificationHandler.Settings)
				r.Post("/notifications/email", notificationHandler.Email)
				r.Post("/notifications/test-email", notificationHandler.TestEmail)

				r.Get("/activity/recent", activityHandler.Recent)
				r.Get("/activity/reports/{id}", activityHandler.ByReport)
			})
		})
	})

	// Create HTTP server. WriteTimeout is left to the handlers so the
	// notification stream can stay open.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("Shutting down gracefully...")

		// Streams never finish on their own; close them first.
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		notifier.Wait()
		if err != nil {
			return fmt.Errorf("forced shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// openStore uses PostgreSQL when DATABASE_URL is set and memory otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (store.Store, string, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; reports are kept in memory and lost on restart")
		return store.NewMemory(), "memory", nil
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.Options{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}
	pg := store.NewPostgres(pool, logger)
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, "", err
	}
	return pg, "postgres", nil
}

func newLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration) middleware.Limiter {
	if rdb != nil {
		return middleware.NewRedisLimiter(rdb, prefix, limit, window)
	}
	return middleware.NewMemoryLimiter(limit, window)
}

func newMailer(cfg *config.Config, logger *zap.SugaredLogger) (notify.Mailer, error) {
	if !cfg.EmailConfigured() {
		return notify.NewLogMailer(cfg.EmailTo, logger), nil
	}
	var to []string
	for _, addr := range strings.Split(cfg.EmailTo, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
		To:       to,
	})
}

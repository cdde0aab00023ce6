package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/labtracksimple/labtrack/internal/adapter/http"
	cfnats "github.com/labtracksimple/labtrack/internal/adapter/nats"
	"github.com/labtracksimple/labtrack/internal/adapter/natskv"
	"github.com/labtracksimple/labtrack/internal/adapter/oss"
	cfotel "github.com/labtracksimple/labtrack/internal/adapter/otel"
	"github.com/labtracksimple/labtrack/internal/adapter/placeholder"
	"github.com/labtracksimple/labtrack/internal/adapter/postgres"
	"github.com/labtracksimple/labtrack/internal/adapter/ristretto"
	"github.com/labtracksimple/labtrack/internal/adapter/tiered"
	"github.com/labtracksimple/labtrack/internal/adapter/ws"
	"github.com/labtracksimple/labtrack/internal/config"
	"github.com/labtracksimple/labtrack/internal/logger"
	"github.com/labtracksimple/labtrack/internal/middleware"
	"github.com/labtracksimple/labtrack/internal/resilience"
	"github.com/labtracksimple/labtrack/internal/service"
	"github.com/labtracksimple/labtrack/internal/slots"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"extraction_slots", cfg.Extraction.MaxConcurrent,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL, "labtrack-api")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Drain(); err != nil {
			_ = queue.Close()
		}
	}()

	// Caches: ristretto in process, NATS KV shared between replicas.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	trendKV, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("l2 cache: %w", err)
	}
	trendCache := tiered.New(l1, natskv.New(trendKV), cfg.Cache.TrendTTL)

	idemKV, err := queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}

	// Object storage
	objects, err := oss.New(cfg.Storage, resilience.NewBreaker("oss", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}

	// --- Services ---
	store := postgres.NewStore(pool)
	hub := ws.NewHub(store, originPatterns(cfg.Server.CORSOrigin)...)
	defer hub.Close()

	events := service.NewEventPublisher(queue, hub)
	extractionSvc := service.NewExtractionService(
		store,
		placeholder.New(),
		events,
		slots.NewPool(cfg.Extraction.MaxConcurrent),
		cfg.Extraction.Timeout,
		metrics,
	)
	confirmationSvc := service.NewConfirmationService(store, events, metrics)
	reviewSvc := service.NewReviewService(store, objects, events, metrics, cfg.Storage.SignedURLTTL)
	intakeSvc := service.NewIntakeService(store, objects, extractionSvc, metrics, cfg.Server.MaxUploadSize)
	trendSvc := service.NewTrendService(store, trendCache, cfg.Cache.TrendTTL)
	confirmationSvc.SetTrends(trendSvc)

	cancelTrends, err := trendSvc.Subscribe(ctx, queue)
	if err != nil {
		return fmt.Errorf("trend subscriber: %w", err)
	}
	defer cancelTrends()

	service.NewJanitorService(store, cfg.Janitor.OrphanTTL, metrics).Start(ctx, cfg.Janitor.Interval)

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Extraction:    extractionSvc,
		Confirmation:  confirmationSvc,
		Review:        reviewSvc,
		Intake:        intakeSvc,
		Trends:        trendSvc,
		DB:            store,
		Queue:         queue,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		Version:       version,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware("labtrack-api"))
	r.Use(limiter.Handler)

	// The socket outlives the request timeout, so only plain requests get one.
	r.Group(func(r chi.Router) {
		r.Use(skipForWebSocket(chimw.Timeout(60 * time.Second)))
		cfhttp.MountRoutes(r, handlers, cfhttp.RouteOptions{
			Auth:           middleware.NewAuthenticator(cfg.Auth),
			Idempotency:    natskv.New(idemKV),
			IdempotencyTTL: cfg.Idempotency.TTL,
			WebSocket:      hub.HandleWS,
		})
	})

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// originPatterns turns the CORS origin into the host pattern the WebSocket
// origin check expects.
func originPatterns(origin string) []string {
	if origin == "" || origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func skipForWebSocket(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

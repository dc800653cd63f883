package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"kudos-api/internal/auth"
	"kudos-api/internal/cache"
	"kudos-api/internal/catalog"
	"kudos-api/internal/config"
	"kudos-api/internal/database"
	"kudos-api/internal/events"
	"kudos-api/internal/features"
	"kudos-api/internal/handler"
	"kudos-api/internal/logger"
	"kudos-api/internal/middleware"
	"kudos-api/internal/scheduler"
	"kudos-api/internal/service"
	"kudos-api/internal/tracing"
)

const tokenTTL = 30 * 24 * time.Hour

func main() {
	configFile := flag.String("config", "", "Path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	lg, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer lg.Sync()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		return err
	}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	var boardCache cache.Cache = cache.NewInMemoryCache()
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.Prefix)
		if err != nil {
			return err
		}
		defer rc.Close()
		boardCache = rc
	}

	flags := features.NewManager(cfg.Features)

	notifier := events.NewManager(true, lg.Named("events"))
	notifier.SubscribeAll(events.LogHandler(lg.Named("notify")))
	if cfg.NATS.URL != "" {
		nc, err := events.ConnectNATS(cfg.NATS.URL, tracing.ServiceName)
		if err != nil {
			return err
		}
		defer nc.Drain()
		notifier.SubscribeAll(events.NewNATSHandler(nc, cfg.NATS.SubjectPrefix))
	}
	defer notifier.Shutdown()

	startingBalance, err := cfg.StartingBalance()
	if err != nil {
		return err
	}

	svc := service.NewService(db,
		service.WithSink(notifier),
		service.WithAdmins(auth.NewStaticAdmins(cfg.Admin.IDs...)),
		service.WithCache(boardCache, cfg.Cache.TTL),
		service.WithFeatures(flags),
		service.WithLogger(lg.Named("ledger")),
		service.WithStartingBalance(startingBalance),
	)

	if cfg.Catalog.Path != "" {
		rewards, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		n, err := catalog.Seed(ctx, svc, rewards)
		if err != nil {
			return err
		}
		lg.Info("reward catalog seeded", zap.Int("rewards", n), zap.String("path", cfg.Catalog.Path))
	}

	sched := scheduler.New(svc, flags, lg)
	if cfg.Scheduler.Enabled {
		go sched.Start(ctx, cfg.Scheduler.Interval)
	}

	var issuer *auth.Issuer
	if cfg.Auth.JWTSecret != "" {
		issuer = auth.NewIssuer(cfg.Auth.JWTSecret, tokenTTL)
	} else {
		lg.Warn("no JWT secret configured, trusting the " + middleware.AccountHeader + " header")
	}

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Sweeper:     sched,
		Features:    flags,
		Issuer:      issuer,
		Logger:      lg.Named("http"),
	})

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(lg.Named("http")))
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.AccountHeader, middleware.UsernameHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Rate limiting runs after authentication so budgets are per account.
	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer limiter.Stop()
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticated(issuer))
		if limiter != nil {
			r.Use(middleware.RateLimitMiddleware(limiter))
		}
		h.Routes(r)
	})

	server := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("HTTP server listening",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Driver),
			zap.Bool("scheduler", cfg.Scheduler.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	lg.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		lg.Error("tracing shutdown failed", zap.Error(err))
	}

	lg.Info("server stopped")
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/backtest"
	"github.com/PapaPablano/swiftbolt/internal/config"
	"github.com/PapaPablano/swiftbolt/internal/metrics"
	"github.com/PapaPablano/swiftbolt/internal/risk"
	"github.com/PapaPablano/swiftbolt/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.CacheTTLSeconds)*time.Second)
			slog.Info("Redis cache enabled", "ttl_seconds", cfg.CacheTTLSeconds)
		}
	case cfg.SQLitePath != "":
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			slog.Error("sqlite open failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { db.Close() })
		st = db
		slog.Info("using SQLite store", "path", cfg.SQLitePath)
	default:
		slog.Warn("no DATABASE_URL or SQLITE_PATH set, using in-memory store (runs will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Position limits ---
	var limiter *risk.PositionLimiter
	if cfg.Limits.MaxPerSymbol > 0 && cfg.Limits.MaxPerUnderlying > 0 {
		limiter = risk.NewPositionLimiter(
			decimal.NewFromFloat(cfg.Limits.MaxPerSymbol),
			decimal.NewFromFloat(cfg.Limits.MaxPerUnderlying),
		)
		slog.Info("position limits enabled",
			"max_per_symbol", cfg.Limits.MaxPerSymbol,
			"max_per_underlying", cfg.Limits.MaxPerUnderlying)
	}

	// --- Backtest service ---
	svc := backtest.NewService(st, limiter)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"swiftbolt"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Backtest runs.
		r.Post("/backtests", svc.RunBacktest)
		r.Get("/backtests", svc.ListRuns)
		r.Get("/backtests/{runID}", svc.GetRun)
		r.Get("/backtests/{runID}/equity", svc.GetEquity)
		r.Get("/backtests/{runID}/trades", svc.GetTrades)
		r.Delete("/backtests/{runID}", svc.DeleteRun)

		// Strategy catalog.
		r.Get("/strategies", svc.ListStrategies)

		// Standalone option valuation.
		r.Post("/pricing/price", svc.PriceOption)
		r.Post("/pricing/implied-vol", svc.ImpliedVol)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("swiftbolt listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down swiftbolt...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("swiftbolt stopped")
}

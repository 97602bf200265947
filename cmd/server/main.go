package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/fundbattle/battle-engine/internal/battle"
	"github.com/fundbattle/battle-engine/internal/config"
	"github.com/fundbattle/battle-engine/internal/joinlink"
	"github.com/fundbattle/battle-engine/internal/metrics"
	"github.com/fundbattle/battle-engine/internal/room"
	"github.com/fundbattle/battle-engine/internal/series"
	"github.com/fundbattle/battle-engine/internal/store"
	"github.com/fundbattle/battle-engine/internal/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("could not read .env", "err", err)
	}
	cfg, err := config.LoadServerFromEnv()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (cache + cross-instance events) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := store.Migrate(ctx, pool); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Event stream ---
	var events stream.Stream
	if rdb != nil {
		rs := stream.NewRedisStream(ctx, rdb, logger)
		cleanup = append(cleanup, func() { rs.Close() })
		go rs.Run(ctx)
		events = rs
		slog.Info("room events over Redis pub/sub")
	} else {
		events = stream.NewBroker(logger)
	}

	wsHub := stream.NewHub(events, logger,
		stream.WithRoomValidator(joinlink.ValidRoomID),
		stream.WithClientGauge(func(n int) { metrics.WebSocketClients.Set(float64(n)) }))
	go wsHub.Run(ctx)

	// --- Rooms ---
	recorder := battle.NewRecorder(st, events, logger)
	cleanup = append(cleanup, recorder.Close)
	rooms := room.NewRegistry(room.Config{
		Years:          cfg.GameYears,
		InitialCapital: cfg.InitialCapital,
		GateCountdown:  cfg.GateCountdown,
		Overlay:        cfg.River,
		Publisher:      recorder,
		Logger:         logger,
	})
	cleanup = append(cleanup, func() { rooms.Close(context.Background()) })

	var provider series.Provider
	if cfg.FundBaseURL != "" {
		provider = series.NewHTTPProvider(cfg.FundBaseURL, series.DefaultLibrary())
	} else {
		slog.Warn("BATTLE_FUND_BASE_URL not set, every room plays a synthetic fund")
	}
	funds := series.NewFallback(provider, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 2)))

	battleSvc := battle.NewService(rooms, st, funds, battle.Options{
		PublicURL:       cfg.PublicURL,
		MinParticipants: cfg.MinParticipants,
		Logger:          logger,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for browser clients.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+battle.HostTokenHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"battle-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for room events.
		r.Get("/ws", wsHub.HandleWS)

		// Request timeouts apply to the REST surface only; the socket is
		// long-lived.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			battleSvc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("battle-engine listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down battle-engine...")
	stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("battle-engine stopped")
}

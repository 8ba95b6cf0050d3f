package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	httpAdapter "github.com/lorrc/follow-notifier/internal/adapters/primary/http"
	mw "github.com/lorrc/follow-notifier/internal/adapters/primary/http/middleware"
	"github.com/lorrc/follow-notifier/internal/adapters/primary/websocket"
	"github.com/lorrc/follow-notifier/internal/adapters/secondary/chzzk"
	"github.com/lorrc/follow-notifier/internal/adapters/secondary/store"
	"github.com/lorrc/follow-notifier/internal/auth"
	"github.com/lorrc/follow-notifier/internal/config"
	"github.com/lorrc/follow-notifier/internal/core/domain"
	"github.com/lorrc/follow-notifier/internal/core/services"
	"github.com/lorrc/follow-notifier/internal/infrastructure/logging"
	"github.com/lorrc/follow-notifier/internal/settings"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	logger.Info("starting service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Local Storage
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		logger.Error("failed to create data directory", "dir", cfg.Storage.DataDir, "error", err)
		os.Exit(1)
	}

	sessions, err := auth.NewSessionStore(cfg.Storage.DataDir, logger)
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}

	eventStore, err := store.Open(filepath.Join(cfg.Storage.DataDir, "events.db"), logger)
	if err != nil {
		logger.Error("failed to open event store", "error", err)
		os.Exit(1)
	}
	defer eventStore.Close()

	settingsStore, err := settings.NewStore(filepath.Join(cfg.Storage.DataDir, "settings.json"), logger)
	if err != nil {
		logger.Error("failed to open settings store", "error", err)
		os.Exit(1)
	}

	// 4. Initialize Real-time Components
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	// Settings changes reach clients through the file watcher, whether the
	// save came from the API or from an external editor.
	settingsStore.OnChange(func(s settings.Settings) {
		raw, err := json.Marshal(s)
		if err != nil {
			logger.Warn("failed to encode settings for broadcast", "error", err)
			return
		}
		if err := hub.Broadcast(domain.SettingsUpdatedMessage(raw)); err != nil {
			logger.Warn("failed to broadcast settings update", "error", err)
		}
	})
	go func() {
		if err := settingsStore.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("settings watcher stopped", "error", err)
		}
	}()

	// 5. Initialize Rate Limiters
	var generalRateLimiter, testAlertRateLimiter *mw.RateLimiter
	if cfg.RateLimit.Enabled {
		generalRateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
			CleanupInterval:   time.Minute,
			TTL:               3 * time.Minute,
		})

		testAlertRateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.TestAlertRPS,
			BurstSize:         cfg.RateLimit.TestAlertBurst,
			CleanupInterval:   time.Minute,
			TTL:               5 * time.Minute,
		})
	}

	// 6. Dependency Injection (Wiring the Hexagon)

	// Error Handler
	errorHandler := httpAdapter.NewErrorHandler(logger)

	// Upstream Source (Secondary Adapter)
	upstream := chzzk.NewClient(sessions, chzzk.Config{
		GameAPIBase:  cfg.Upstream.GameAPIBase,
		ChzzkAPIBase: cfg.Upstream.ChzzkAPIBase,
		PageSize:     cfg.Upstream.PageSize,
	}, &http.Client{Timeout: cfg.Upstream.RequestTimeout}, logger)

	// Services (Core)
	queue := services.NewMergeQueue(services.MergeQueueConfig{
		TestTTL: cfg.Queue.TestTTL,
		RealTTL: cfg.Queue.RealTTL,
	}, logger)
	alerts := services.NewAlertService(queue, eventStore, hub, logger)
	poller := services.NewPoller(upstream, alerts, sessions, services.PollerConfig{
		Interval:       cfg.Upstream.PollInterval,
		RequestTimeout: cfg.Upstream.RequestTimeout,
	}, logger)
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poller stopped", "error", err)
		}
	}()

	go pruneLoop(ctx, eventStore, cfg.Storage.Retention, logger)

	// Handlers (Primary Adapters)
	followerHandler := httpAdapter.NewFollowerHandler(alerts, errorHandler, logger)
	settingsHandler := httpAdapter.NewSettingsHandler(settingsStore, errorHandler, logger)
	authHandler := httpAdapter.NewAuthHandler(sessions, errorHandler, logger)
	wsHandler := httpAdapter.NewWebSocketHandler(hub, alerts, cfg, logger)
	healthHandler := httpAdapter.NewHealthHandler(eventStore, cfg.App.Version)

	// 7. Setup Router
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))

	// The companion extension and the overlay page run on browser origins of
	// their own, so CORS stays open; the server binds to loopback.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Apply general rate limiting if enabled
	if generalRateLimiter != nil {
		r.Use(generalRateLimiter.Middleware)
	}

	// Health check endpoints
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/live", healthHandler.HandleLiveness)
	r.Get("/health/ready", healthHandler.HandleReadiness)

	// WebSocket route
	r.Get("/ws", wsHandler.ServeHTTP)

	// REST routes
	r.Group(func(r chi.Router) {
		r.Get("/followers", followerHandler.HandleList)
		r.Get("/followers/recent", followerHandler.HandleRecent)
		settingsHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			if testAlertRateLimiter != nil {
				r.Use(testAlertRateLimiter.Middleware)
			}
			r.Post("/test-follower", followerHandler.HandleTestFollower)
			r.Route("/auth", authHandler.RegisterRoutes)
		})
	})

	// 8. Start Server with Graceful Shutdown
	listener, port, err := listen(cfg)
	if err != nil {
		logger.Error("no available port", "base_port", cfg.Server.Port, "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Addr(port))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// listen binds the configured port, probing upward when it is taken so a
// second instance or a port squatter does not block startup.
func listen(cfg *config.Config) (net.Listener, int, error) {
	var lastErr error
	for i := 0; i < cfg.Server.PortProbeCount; i++ {
		port := cfg.Server.Port + i
		ln, err := net.Listen("tcp", cfg.Addr(port))
		if err == nil {
			return ln, port, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("probed %d ports from %d: %w",
		cfg.Server.PortProbeCount, cfg.Server.Port, lastErr)
}

// pruneLoop trims persisted follower events past the retention window.
func pruneLoop(ctx context.Context, events *store.EventStore, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := events.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("event history prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned follower events", "count", n)
			}
		}
	}
}

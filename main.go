package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"murmur/codec"
	"murmur/config"
	"murmur/database"
	"murmur/handlers"
	"murmur/routes"
	"murmur/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.GinMode)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

func newLogger(mode string) *slog.Logger {
	if mode == gin.ReleaseMode {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.GinMode)

	store, mongo, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := mongo.Disconnect(); err != nil {
			logger.Warn("mongo disconnect failed", "error", err)
		}
	}()

	c, err := codec.New(cfg.EncryptionKey, cfg.EncryptionSalt, codec.WithLogger(logger))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	scope, err := websocket.ParseScope(cfg.BroadcastScope)
	if err != nil {
		return err
	}
	manager := websocket.NewManager(
		websocket.WithScope(scope),
		websocket.WithAuthenticator(routes.TokenAuthenticator(cfg.JWTSecret)),
		websocket.WithAllowedOrigins(cfg.CORSOrigins),
		websocket.WithMetrics(websocket.NewMetrics(reg)),
		websocket.WithLogger(logger),
	)

	opts := []handlers.Option{handlers.WithLogger(logger)}
	if cfg.PushEnabled() {
		opts = append(opts, handlers.WithPusher(
			handlers.NewPusher(store, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject, logger)))
		logger.Info("web push enabled")
	} else {
		logger.Info("web push disabled, VAPID keys not set")
	}
	h := handlers.New(store, c, manager, opts...)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      routes.SetupRouter(h, manager, cfg, reg, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "port", cfg.Port, "store", cfg.Store, "scope", scope)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by Shutdown.
		manager.Shutdown()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore returns the configured store. The returned *database.Mongo is nil
// for the in-memory store; its Disconnect is nil-safe.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (database.Store, *database.Mongo, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return database.NewMemoryStore(), nil, nil
	}

	var (
		m   *database.Mongo
		err error
	)
	for attempt := 1; attempt <= 3; attempt++ {
		if m, err = database.Connect(cfg.MongoURI, cfg.MongoDatabase, logger); err == nil {
			break
		}
		logger.Warn("mongo connection attempt failed", "attempt", attempt, "error", err)
		if attempt == 3 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, nil, err
	}

	if err := m.EnsureIndexes(ctx); err != nil {
		_ = m.Disconnect()
		return nil, nil, err
	}
	return database.NewMongoStore(m.DB, logger), m, nil
}

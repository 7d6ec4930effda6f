// Trade report wizard server.
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

	"github.com/etofiasko/tg-bot-v2/internal/access"
	"github.com/etofiasko/tg-bot-v2/internal/api"
	"github.com/etofiasko/tg-bot-v2/internal/backend"
	"github.com/etofiasko/tg-bot-v2/internal/catalog"
	"github.com/etofiasko/tg-bot-v2/internal/chat"
	"github.com/etofiasko/tg-bot-v2/internal/config"
	"github.com/etofiasko/tg-bot-v2/internal/engine"
	"github.com/etofiasko/tg-bot-v2/internal/identity"
	"github.com/etofiasko/tg-bot-v2/internal/middleware"
	"github.com/etofiasko/tg-bot-v2/internal/shared"
	"github.com/etofiasko/tg-bot-v2/internal/store"
	"github.com/etofiasko/tg-bot-v2/internal/wizard"
	"github.com/etofiasko/tg-bot-v2/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "engine_mode", cfg.Engine.Mode, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.UsersDBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	for _, id := range cfg.AdminIDs {
		if err := repo.EnsureAdmin(context.Background(), id); err != nil {
			slog.Error("Failed to bootstrap admin", "user_id", id, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Admins bootstrapped", "count", len(cfg.AdminIDs))

	primaryCatalog, err := catalog.NewSQLite(string(backend.Primary), cfg.Catalog.PrimaryDB)
	if err != nil {
		slog.Error("Failed to open catalog", "backend", backend.Primary, "error", err)
		os.Exit(1)
	}
	defer primaryCatalog.Close()
	secondaryCatalog, err := catalog.NewSQLite(string(backend.Secondary), cfg.Catalog.SecondaryDB)
	if err != nil {
		slog.Error("Failed to open catalog", "backend", backend.Secondary, "error", err)
		os.Exit(1)
	}
	defer secondaryCatalog.Close()

	loader, closeLoader, err := newLoader(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize engine loader", "error", err)
		os.Exit(1)
	}
	defer closeLoader()

	registry := backend.NewRegistry(loader, logger)
	defer func() {
		if closeErr := registry.Close(); closeErr != nil {
			slog.Error("Failed to unload engines", "error", closeErr)
		}
	}()
	selector := backend.NewSelector(registry,
		backend.Profile{ID: backend.Primary, Catalog: catalog.NewCached(primaryCatalog, cfg.Catalog.CacheTTL)},
		backend.Profile{ID: backend.Secondary, Catalog: catalog.NewCached(secondaryCatalog, cfg.Catalog.CacheTTL)},
	)

	flows, err := wizard.LoadFlows(cfg.FlowsFile)
	if err != nil {
		slog.Error("Failed to load dialogue flows", "error", err, "path", cfg.FlowsFile)
		os.Exit(1)
	}

	// Initialize services.
	controller := access.New(repo, selector, logger)
	sessions := wizard.NewStore()
	wiz := wizard.New(wizard.Config{
		Flows:             flows,
		DefaultVariant:    wizard.Variant(cfg.Wizard.DefaultVariant),
		GenerationTimeout: cfg.Wizard.GenerationTimeout,
		Retry: shared.RetryPolicy{
			MaxRetries: cfg.Retry.DatabaseMaxRetries,
			BaseDelay:  cfg.Retry.DatabaseRetryBaseDelay,
		},
	}, sessions, repo, repo, selector, controller, logger)

	conns := chat.NewManager(logger)
	if cfg.Wizard.AsyncFinalize {
		wiz.SetNotifier(conns)
		slog.Info("Reports are delivered asynchronously over WebSocket")
	}

	// Initialize handlers.
	turns := &shared.TurnLocks{}
	apiHandler := api.NewHandler(wiz, controller, turns, logger)
	healthHandler := api.NewHealthHandler(repo, registry, cfg.Timeout.HealthCheck)
	wsHandler := chat.NewWebSocketHandler(wiz, conns, turns, cfg.AllowedOrigins(), cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Dialogue and admin routes require a chat identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware())
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Browser chat client.
	r.Handle("/*", web.ChatHandler())

	// Note: generation turns can take minutes, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.Timeout.Read,
		WriteTimeout: 0,
		IdleTimeout:  cfg.Timeout.Idle,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartSweeper(ctx, cfg.Wizard.SweepInterval, cfg.Wizard.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	conns.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	waitDone := make(chan struct{})
	go func() {
		wiz.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-shutdownCtx.Done():
		slog.Warn("Background generations still running at shutdown")
	}

	slog.Info("Server stopped successfully")
}

// newLoader builds the engine loader for the configured mode and a function
// that releases it.
func newLoader(cfg *config.Config, logger *slog.Logger) (engine.Loader, func(), error) {
	grpcConfig := func(addr string) engine.GrpcConfig {
		gc := engine.DefaultGrpcConfig(addr)
		gc.ConnectTimeout = cfg.Engine.ConnectTimeout
		gc.RequestTimeout = cfg.Wizard.GenerationTimeout
		return gc
	}

	if cfg.Engine.Mode == config.EngineModeDocker {
		if !config.IsContainer() {
			slog.Warn("Docker engine mode expects the server to run on the engine network", "network", cfg.Engine.Network)
		}
		launcher, err := engine.NewDockerLauncher(engine.DockerConfig{
			Images: map[string]string{
				string(backend.Primary):   cfg.Engine.PrimaryImage,
				string(backend.Secondary): cfg.Engine.SecondaryImage,
			},
			Network: cfg.Engine.Network,
			Grpc:    grpcConfig,
		}, logger)
		if err != nil {
			return nil, nil, err
		}

		// Ensure the bridge network exists for engine containers.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		networkID, err := launcher.EnsureNetwork(ctx)
		if err != nil {
			_ = launcher.Close()
			return nil, nil, err
		}
		slog.Info("Engine network ready", "network_id", networkID)

		return launcher, func() {
			if err := launcher.Close(); err != nil {
				slog.Error("Failed to close docker client", "error", err)
			}
		}, nil
	}

	return &engine.AddressLoader{
		Addresses: map[string]string{
			string(backend.Primary):   cfg.Engine.PrimaryAddr,
			string(backend.Secondary): cfg.Engine.SecondaryAddr,
		},
		Config: grpcConfig,
		Logger: logger,
	}, func() {}, nil
}

// eventsync - assistant server event tracker
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/ashureev/eventsync/internal/api"
	"github.com/ashureev/eventsync/internal/cache"
	"github.com/ashureev/eventsync/internal/chat"
	"github.com/ashureev/eventsync/internal/config"
	"github.com/ashureev/eventsync/internal/health"
	"github.com/ashureev/eventsync/internal/middleware"
	"github.com/ashureev/eventsync/internal/notify"
	"github.com/ashureev/eventsync/internal/queue"
	"github.com/ashureev/eventsync/internal/remote"
	"github.com/ashureev/eventsync/internal/store"
	"github.com/ashureev/eventsync/internal/tracker"
	"github.com/ashureev/eventsync/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if cfg.AllowsAnyOrigin() {
		slog.Warn("ALLOWED_ORIGINS contains *, any web page may read the API and notification feed")
	}

	slog.Info("Starting eventsync", "port", cfg.Port, "server_url", cfg.ServerURL, "directory", cfg.ServerDirectory)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "path", cfg.DBPath)

	client, err := remote.NewClient(cfg.ServerURL, cfg.ServerDirectory, logger)
	if err != nil {
		slog.Error("Failed to initialize server client", "error", err)
		os.Exit(1)
	}

	resources := cache.New(logger)
	defer resources.Close()
	registerFetchers(resources, client)

	prompts := queue.New()

	var sinks []notify.Sink
	if cfg.Notifications.Console {
		sinks = append(sinks, notify.NewConsoleSink(nil))
	}
	hub := notify.NewHub(repo, logger, sinks...)
	defer hub.Wait()

	healthSrv := health.NewServer(logger)

	trk, err := tracker.New(tracker.Options{
		Transport:      client.Events(),
		Cache:          resources,
		Toaster:        hub,
		Notifier:       hub,
		Errors:         hub,
		Queue:          prompts,
		Titles:         repo,
		Sessions:       repo,
		Observer:       tracker.Observers{hub, healthSrv},
		ReconnectDelay: cfg.Tracker.ReconnectDelay,
		ThrottleWindow: cfg.Tracker.ThrottleWindow,
		Logger:         logger,
	})
	if err != nil {
		slog.Error("Failed to initialize tracker", "error", err)
		os.Exit(1)
	}

	chatSvc, err := chat.NewService(chat.Options{
		Remote:    client,
		Tracker:   trk,
		Queue:     prompts,
		Cache:     resources,
		RateLimit: rate.Limit(cfg.RateLimit.PromptsPerSecond),
		RateBurst: cfg.RateLimit.Burst,
		Logger:    logger,
	})
	if err != nil {
		slog.Error("Failed to initialize chat service", "error", err)
		os.Exit(1)
	}
	defer chatSvc.Close()
	hub.OnCompletion(chatSvc.HandleCompletion)

	// Initialize handlers.
	streamHandler := api.NewStreamHandler(hub, cfg.SSE.KeepaliveInterval, cfg.SSE.RetryDelay, logger)
	wsHandler := notify.NewWebSocketHandler(hub, cfg.OriginHosts(), logger)
	apiHandler := api.NewHandler(api.Options{
		Tracker:       trk,
		Chat:          chatSvc,
		Reader:        api.CacheReader{Cache: resources},
		Errors:        hub,
		Notifications: repo,
		Stream:        streamHandler,
		WebSocket:     wsHandler,
		Logger:        logger,
	})
	healthHandler := api.NewHealthHandler(repo, trk)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	healthHandler.RegisterHealth(r)
	apiHandler.RegisterRoutes(r)

	// Serve embedded status page (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE connections require no WriteTimeout; keepalives hold them open.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartPruneWorker(ctx, repo, store.DefaultPruneInterval, cfg.Notifications.Retention)

	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		trk.Run(ctx)
	}()

	if cfg.GRPCEnabled() {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
			os.Exit(1)
		}
		go func() {
			if err := healthSrv.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	select {
	case <-trackerDone:
	case <-shutdownCtx.Done():
		slog.Warn("Tracker did not stop before shutdown deadline")
	}

	slog.Info("Server stopped successfully")
}

func registerFetchers(c *cache.Cache, client *remote.Client) {
	c.Register(cache.KindSessions, func(ctx context.Context, _ cache.Key) (any, error) {
		return client.ListSessions(ctx)
	})
	c.Register(cache.KindMessages, func(ctx context.Context, key cache.Key) (any, error) {
		return client.ListMessages(ctx, key.SessionID)
	})
	c.Register(cache.KindProviders, func(ctx context.Context, _ cache.Key) (any, error) {
		return client.Providers(ctx)
	})
	c.Register(cache.KindConfig, func(ctx context.Context, _ cache.Key) (any, error) {
		return client.Config(ctx)
	})
}

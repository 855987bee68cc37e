package main

import (
	"context"
	"encoding/json"
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
	"github.com/google/uuid"

	arborhttp "github.com/Strob0t/arbor/internal/adapter/http"
	cfnats "github.com/Strob0t/arbor/internal/adapter/nats"
	"github.com/Strob0t/arbor/internal/adapter/natskv"
	"github.com/Strob0t/arbor/internal/adapter/otel"
	"github.com/Strob0t/arbor/internal/adapter/ristretto"
	"github.com/Strob0t/arbor/internal/adapter/tiered"
	"github.com/Strob0t/arbor/internal/adapter/ws"
	"github.com/Strob0t/arbor/internal/config"
	"github.com/Strob0t/arbor/internal/domain/sharing"
	"github.com/Strob0t/arbor/internal/logger"
	"github.com/Strob0t/arbor/internal/middleware"
	"github.com/Strob0t/arbor/internal/port/cache"
	"github.com/Strob0t/arbor/internal/port/database"
	"github.com/Strob0t/arbor/internal/port/messagequeue"
	"github.com/Strob0t/arbor/internal/resilience"
	"github.com/Strob0t/arbor/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := dispatch(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func dispatch(args []string) error {
	if len(args) == 0 {
		return runServe(nil)
	}
	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "migrate":
		return runMigrate(args[1:])
	case "admin":
		return runAdmin(args[1:])
	case "help", "--help", "-h":
		printHelp()
		return nil
	default:
		// Bare flags mean serve, e.g. `arbor --port 9090`.
		return runServe(args)
	}
}

func printHelp() {
	fmt.Fprint(os.Stderr, `Usage: arbor [command] [options]

Commands:
  serve      Run the HTTP API (default)
  migrate    Apply or roll back schema migrations
  admin      Verify, rebuild or print a forest
  help       Show this help message

Run 'arbor admin help' for the admin commands.
`)
}

func runServe(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"backend", cfg.Store.Backend,
		"log_level", cfg.Logging.Level,
		"nats", cfg.NATS.URL != "",
		"sharing", cfg.Sharing.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTel, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	store, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	var shared cache.Cache = l1

	instance := uuid.NewString()
	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin)...)
	defer hub.Close()
	events := service.NewEventPublisher(instance, hub)
	events.SetMetrics(metrics)

	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := q.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		queue = q
		events.SetQueue(q, resilience.NewBreaker("nats", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

		kv, err := q.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		shared = tiered.New(l1, natskv.New(kv), cfg.Cache.SnapshotTTL)

		stopRelay, err := events.Relay(ctx)
		if err != nil {
			return err
		}
		defer stopRelay()
	}

	// --- Services ---

	snapshots := service.NewSnapshotCache(store, shared, cfg.Cache.SnapshotTTL)
	snapshots.SetMetrics(metrics)
	tree := service.NewTreeService(store, events)
	tree.SetMetrics(metrics)
	tree.SetSnapshotCache(snapshots)
	sharingSvc := service.NewSharingService(store, cfg.Sharing.Enabled, sharing.ParseOrder(cfg.Sharing.SortOrder))

	// --- HTTP ---

	handlers := &arborhttp.Handlers{Tree: tree, Sharing: sharingSvc}

	r := chi.NewRouter()
	r.Use(otel.HTTPMiddleware(cfg.OTel.ServiceName))
	r.Use(arborhttp.SecurityHeaders)
	r.Use(arborhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(arborhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", healthHandler(store, queue, hub))
	r.Get("/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(middleware.Idempotency(shared))
		arborhttp.MountRoutes(r, handlers)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "instance", instance)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// originPatterns turns the CORS origin URL into the host pattern the
// websocket handshake checks.
func originPatterns(origin string) []string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// healthHandler reports the store backend and the NATS connection state.
func healthHandler(store database.Store, queue messagequeue.Queue, hub *ws.Hub) http.HandlerFunc {
	type healthStatus struct {
		Status      string `json:"status"`
		Store       string `json:"store"`
		NATS        string `json:"nats"`
		Connections int    `json:"ws_connections"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:      "ok",
			Store:       store.Backend(),
			NATS:        "disabled",
			Connections: hub.ConnectionCount(),
		}
		code := http.StatusOK
		if queue != nil {
			status.NATS = "connected"
			if !queue.IsConnected() {
				status.NATS = "disconnected"
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

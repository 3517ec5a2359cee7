package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/tabsplit/internal/allocator"
	"github.com/mmynk/tabsplit/internal/auth"
	"github.com/mmynk/tabsplit/internal/config"
	"github.com/mmynk/tabsplit/internal/money"
	"github.com/mmynk/tabsplit/internal/observability"
	"github.com/mmynk/tabsplit/internal/reconcile"
	"github.com/mmynk/tabsplit/internal/server"
	"github.com/mmynk/tabsplit/internal/service"
	"github.com/mmynk/tabsplit/internal/storage"
	"github.com/mmynk/tabsplit/internal/storage/postgres"
	"github.com/mmynk/tabsplit/internal/storage/sqlite"
	"github.com/mmynk/tabsplit/pkg/extract"
	"github.com/mmynk/tabsplit/pkg/logging"
)

func main() {
	// Setup structured logging
	logging.Setup()

	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Session.Secret == config.DevSessionSecret {
		slog.Warn("Using the development session secret; set TABSPLIT_SESSION_SECRET in production")
	}

	// Initialize storage for the configured backend
	store, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "backend", cfg.Storage.Backend)

	// Wire services
	metrics := observability.New(nil)
	sessions := auth.NewSessionManager(cfg.Session.Secret, cfg.Session.TTL)
	alloc := allocator.New(store, slog.Default(), allocator.WithMaxRetries(cfg.Allocator.MaxRetries))

	reconcileOpts := reconcile.Options{
		TipFloor:  money.Cents(cfg.Reconcile.TipFloorCents),
		MaxPasses: cfg.Reconcile.MaxPasses,
	}
	receipts := service.NewReceiptService(store, metrics, reconcileOpts, cfg.Server.BaseURL)
	claims := service.NewClaimService(store, alloc, sessions, metrics)

	var extractor server.Extractor
	if cfg.Extraction.APIURL != "" {
		extractor = extract.NewClient(cfg.Extraction.APIURL, cfg.Extraction.APIKey)
		slog.Info("Extraction API configured", "url", cfg.Extraction.APIURL)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	server.SetupRoutes(router, receipts, claims, extractor, sessions, metrics, cfg.Session.TTL)

	// Wrap with h2c so clients can speak HTTP/2 without TLS
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: h2c.NewHandler(router, &http2.Server{}),
	}

	go func() {
		slog.Info("Server starting", "address", srv.Addr, "base_url", cfg.Server.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Block until interrupted, then drain in-flight requests
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Forced shutdown", "error", err)
	}
	slog.Info("Server stopped")
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return postgres.New(ctx, cfg.Storage.PostgresDSN, cfg.Storage.PoolMaxConns)
	default:
		return sqlite.New(cfg.Storage.SQLitePath)
	}
}

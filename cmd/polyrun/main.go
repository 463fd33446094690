// Polyrun controller server — provides the HTTP API, routes executions to
// worker runtimes, and manages session state in Postgres and Redis.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/polyrun/polyrun/pkg/api"
	"github.com/polyrun/polyrun/pkg/cache"
	"github.com/polyrun/polyrun/pkg/catalog"
	"github.com/polyrun/polyrun/pkg/cleanup"
	"github.com/polyrun/polyrun/pkg/config"
	"github.com/polyrun/polyrun/pkg/database"
	"github.com/polyrun/polyrun/pkg/discovery"
	"github.com/polyrun/polyrun/pkg/gateway"
	"github.com/polyrun/polyrun/pkg/protocol"
	"github.com/polyrun/polyrun/pkg/runtime"
	"github.com/polyrun/polyrun/pkg/session"
	"github.com/polyrun/polyrun/pkg/telemetry"
	"github.com/polyrun/polyrun/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, continuing with existing environment", "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	slog.Info("Starting polyrun controller", "version", version.Full())

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	dbConfig := database.DefaultConfig(cfg.DatabaseURL)
	dbConfig.MaxOpenConns = cfg.DBMaxOpenConns
	dbConfig.MaxIdleConns = cfg.DBMaxIdleConns

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL, migrations applied")

	redisCache, err := cache.NewRedisCache(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisCache.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis")

	sessions := session.NewManager(dbClient.DB(), redisCache,
		cfg.SessionExpiry, cfg.Runtime.CacheTTL, cfg.Runtime.MaxScriptSize, logger)

	tel := telemetry.NewDatabaseLogger(dbClient.DB(), cfg.RequestLoggingEnabled, logger)

	// An unreadable mappings file leaves the rule list empty, which the
	// selector treats as prefix fallback.
	mappings, err := runtime.LoadMappings(cfg.Runtime.RuntimeMappingsFile)
	if err != nil {
		slog.Warn("Failed to load runtime mappings, falling back to prefix matching",
			"path", cfg.Runtime.RuntimeMappingsFile, "error", err)
	}

	var discoverer runtime.Discoverer
	if cfg.Runtime.SelectionStrategy == config.StrategyDiscovery {
		k8s, err := discovery.NewClient(cfg.Runtime.KubernetesNamespace, cfg.Runtime.CacheTTL)
		if err != nil {
			slog.Error("Failed to initialize Kubernetes discovery", "error", err)
			os.Exit(1)
		}
		discoverer = k8s
		slog.Info("Kubernetes runtime discovery enabled", "namespace", cfg.Runtime.KubernetesNamespace)
	}

	selector := runtime.NewSelector(cfg.Runtime.SelectionStrategy, mappings, discoverer, logger)

	adapter, err := protocol.New(protocol.Kind(cfg.Runtime.Protocol))
	if err != nil {
		slog.Error("Failed to initialize protocol adapter", "protocol", cfg.Runtime.Protocol, "error", err)
		os.Exit(1)
	}
	defer func() {
		if closer, ok := adapter.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				slog.Error("Error closing protocol adapter", "error", err)
			}
		}
	}()

	// Degraded fallbacks are an RPC-path behavior; the JSON path surfaces
	// failures to the caller.
	degraded := cfg.Runtime.Protocol == string(protocol.KindRPC)
	resilient := protocol.NewResilient(adapter, cfg.Runtime.MaxRetries, degraded, logger)

	var gw runtime.FunctionGateway
	if cfg.Runtime.OpenFaaSGatewayURL != "" {
		gw = gateway.NewOpenFaaSClient(cfg.Runtime.OpenFaaSGatewayURL, cfg.Runtime.FallbackTimeout)
		slog.Info("OpenFaaS gateway enabled", "url", cfg.Runtime.OpenFaaSGatewayURL)
	}

	runtimes := runtime.NewManager(cfg.Runtime, selector, resilient, gw, logger)
	functions := catalog.NewManager(dbClient.DB())

	cleaner := cleanup.NewService(sessions, cfg.SessionCleanupInterval)
	cleaner.Start(ctx)
	defer cleaner.Stop()

	server := api.NewServer(sessions, runtimes, selector, functions, tel, dbClient.DB(), logger)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Polyrun started successfully",
		"protocol", cfg.Runtime.Protocol,
		"selection_strategy", cfg.Runtime.SelectionStrategy,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/vanshika/swapguard/internal/config"
	"github.com/vanshika/swapguard/internal/graph"
	"github.com/vanshika/swapguard/internal/ledger"
	"github.com/vanshika/swapguard/internal/lock"
	"github.com/vanshika/swapguard/internal/logging"
	"github.com/vanshika/swapguard/internal/metrics"
	"github.com/vanshika/swapguard/internal/repository"
	"github.com/vanshika/swapguard/internal/server"
	"github.com/vanshika/swapguard/internal/service"
	"github.com/vanshika/swapguard/internal/store"
	"github.com/vanshika/swapguard/internal/trade"
)

func main() {
	flagSet := pflag.NewFlagSet("swapguard-server", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "YAML config file (overrides "+config.FileEnv+")")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	if *configPath != "" {
		if err := os.Setenv(config.FileEnv, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set config path: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	ctx := context.Background()

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to open store", "error", err, "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("closing store failed", "error", err)
		}
	}()

	graphClient, err := buildGraphClient(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to create graph client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := graphClient.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}()

	locker, closeLocker := buildLocker(logger, cfg)
	defer closeLocker()

	recorder, err := metrics.NewGlobal()
	if err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	repo := repository.New(graphClient)
	trustService := service.NewTrustService(backend, nil, logger).
		WithGraph(repo).
		WithMetrics(recorder)
	violations := ledger.New(backend, logger).
		WithGraph(repo).
		WithMetrics(recorder)
	trades := trade.NewService(backend, trustService, violations, locker, logger).
		WithGraph(repo).
		WithMetrics(recorder)

	var exposure server.ExposureSource
	if cfg.Graph.URI != "" {
		exposure = repo
	}
	apiHandlers := server.NewAPIHandlers(logger, trades, trustService, violations, exposure)

	router := server.NewRouter(logger, server.RouterDependencies{
		Health: server.HealthChecks{
			server.StoreHealthService{Store: backend},
			server.GraphHealthService{Client: graphClient},
		},
		API:              apiHandlers,
		AllowedOrigins:   server.ParseOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
		RateLimit:        cfg.RateLimit,
	})

	srv := server.New(logger, cfg.HTTP, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// buildGraphClient falls back to an in-process client when no graph is
// configured, so projections become no-ops rather than failures.
func buildGraphClient(ctx context.Context, logger *slog.Logger, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		logger.Info("graph projection disabled", "reason", graph.ErrMissingURI.Error())
		return graph.NewMemoryClient(), nil
	}
	client, err := graph.NewNeo4jClient(ctx, graph.OptionsFromConfig(cfg.Graph))
	if err != nil {
		return nil, err
	}
	logger.Info("graph projection enabled", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)
	return client, nil
}

func buildLocker(logger *slog.Logger, cfg config.Config) (lock.Locker, func()) {
	if cfg.Redis.Addr == "" {
		return lock.NewKeyedMutex(), func() {}
	}
	client := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	logger.Info("using redis trade locks", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.LockTTL.String())
	return lock.NewRedisLocker(client, cfg.Redis.LockTTL, logger), func() {
		if err := client.Close(); err != nil {
			logger.Warn("closing redis client failed", "error", err)
		}
	}
}

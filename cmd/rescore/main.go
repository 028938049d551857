package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/vanshika/swapguard/internal/config"
	"github.com/vanshika/swapguard/internal/domain"
	"github.com/vanshika/swapguard/internal/generator"
	"github.com/vanshika/swapguard/internal/graph"
	"github.com/vanshika/swapguard/internal/logging"
	"github.com/vanshika/swapguard/internal/metrics"
	"github.com/vanshika/swapguard/internal/repository"
	"github.com/vanshika/swapguard/internal/service"
	"github.com/vanshika/swapguard/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rescore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		profilesPath string
		userIDs      []string
		workers      int
		configPath   string
	)
	flagSet := pflag.NewFlagSet("swapguard-rescore", pflag.ContinueOnError)
	flagSet.StringVar(&profilesPath, "profiles", "", "profiles.json to import before rescoring")
	flagSet.StringSliceVar(&userIDs, "users", nil, "user IDs to rescore (default: every stored profile)")
	flagSet.IntVarP(&workers, "workers", "w", 4, "number of concurrent workers")
	flagSet.StringVar(&configPath, "config", "", "YAML config file (overrides "+config.FileEnv+")")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if configPath != "" {
		if err := os.Setenv(config.FileEnv, configPath); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Logging).With("component", "rescore")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()

	recorder, err := metrics.NewGlobal()
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	trustService := service.NewTrustService(backend, nil, logger).WithMetrics(recorder)

	graphClient, err := buildGraphClient(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("connect graph: %w", err)
	}
	if graphClient != nil {
		defer func() {
			if err := graphClient.Close(context.Background()); err != nil {
				logger.Warn("closing graph client failed", "error", err)
			}
		}()
		trustService.WithGraph(repository.New(graphClient))
	}

	refresher := service.NewBulkRefresher(trustService, workers)
	start := time.Now()

	if profilesPath != "" {
		dataset, err := generator.ReadDataset(profilesPath)
		if err != nil {
			return err
		}
		logger.Info("importing profiles", "count", len(dataset.Profiles), "workers", workers)
		summary, err := refresher.ImportProfiles(ctx, dataset.Profiles)
		logger.Info("import finished", "processed", summary.Processed, "failed", summary.Failed)
		if err != nil && !tolerable(err) {
			return err
		}
	}

	var summary service.RefreshSummary
	if len(userIDs) > 0 {
		summary, err = refresher.RefreshUsers(ctx, userIDs)
	} else {
		summary, err = refresher.RefreshAll(ctx)
	}
	logger.Info("rescore complete",
		"duration", time.Since(start).String(),
		"processed", summary.Processed,
		"degraded", summary.Degraded,
		"failed", summary.Failed,
	)
	return err
}

// tolerable reports whether every import failure was a rejected record
// (bad input or an already registered user) rather than a store error.
func tolerable(err error) bool {
	var taskErr *service.TaskError
	if !errors.As(err, &taskErr) {
		return false
	}
	for _, e := range taskErr.Errors {
		if !domain.IsValidation(e) {
			return false
		}
	}
	return true
}

func buildGraphClient(ctx context.Context, logger *slog.Logger, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		return nil, nil
	}
	client, err := graph.NewNeo4jClient(ctx, graph.OptionsFromConfig(cfg.Graph))
	if err != nil {
		return nil, err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	logger.Info("connected to graph", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)
	return client, nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/softcane/spot-optimizer/internal/api"
	"github.com/softcane/spot-optimizer/internal/baseline"
	"github.com/softcane/spot-optimizer/internal/config"
	"github.com/softcane/spot-optimizer/internal/engine"
	"github.com/softcane/spot-optimizer/internal/identity"
	"github.com/softcane/spot-optimizer/internal/ledger"
	"github.com/softcane/spot-optimizer/internal/maintenance"
	"github.com/softcane/spot-optimizer/internal/metrics"
	"github.com/softcane/spot-optimizer/internal/policy"
	"github.com/softcane/spot-optimizer/internal/pricefeed"
	"github.com/softcane/spot-optimizer/internal/queue"
	"github.com/softcane/spot-optimizer/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the optimizer server",
	Long: `Run starts the optimizer server.

The server will:
1. Open the SQLite store and load the baseline statistics manifest
2. Serve the agent and operator HTTP API
3. Run the maintenance loop (savings rollup, retention, baseline reload)
4. Optionally poll cloud prices into the snapshot history`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()

	if cfgFile == "" {
		cfgFile = "config/default.yaml"
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	baselines := baseline.NewStore(nil)
	if cfg.Baseline.ManifestPath != "" {
		table, err := baseline.Load(cfg.Baseline.ManifestPath)
		if err != nil {
			return fmt.Errorf("failed to load baseline manifest: %w", err)
		}
		baselines.Swap(table)
		metrics.BaselinePools.Set(float64(len(table.Pools)))
		logger.Info("baseline table loaded",
			"version", table.Version, "pools", len(table.Pools))
	} else {
		logger.Warn("no baseline manifest configured; risk scoring runs neutral")
	}

	eng := engine.New(engine.Config{
		Guard:     policy.NewGuard(st),
		Baselines: baselines,
		Decisions: st,
		Logger:    logger,
	})
	q := queue.New(st, logger)
	led := ledger.New(st, logger)

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout(),
		WriteTimeout:   cfg.Server.WriteTimeout(),
		IdleTimeout:    cfg.Server.IdleTimeout(),
		RequestTimeout: cfg.Server.RequestTimeout(),
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, api.Deps{
		Store:     st,
		Engine:    eng,
		Queue:     q,
		Ledger:    led,
		Resolver:  identity.NewStoreResolver(st),
		Baselines: baselines,
		Logger:    logger,
	})

	runner := maintenance.NewRunner(maintenance.Config{
		Store:        st,
		Baselines:    baselines,
		ManifestPath: cfg.Baseline.ManifestPath,
		Interval:     cfg.Maintenance.Interval(),
		Logger:       logger,
	})
	go func() {
		if err := runner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("maintenance runner failed", "error", err)
		}
	}()

	if cfg.PriceFeed.Enabled {
		provider, err := pricefeed.NewAWSProvider(ctx, cfg.PriceFeed.Region, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize price provider: %w", err)
		}
		poller := pricefeed.NewPoller(pricefeed.PollerConfig{
			Provider:      provider,
			Store:         st,
			Region:        cfg.PriceFeed.Region,
			InstanceTypes: cfg.PriceFeed.InstanceTypes,
			Interval:      cfg.PriceFeed.PollInterval(),
			Logger:        logger,
		})
		go func() {
			if err := poller.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("price poller failed", "error", err)
			}
		}()
	}

	logger.Info("server ready")
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server failure: %w", err)
	}
	return nil
}

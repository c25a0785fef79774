package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mkravets/orderwatch/internal/dedup"
	"github.com/mkravets/orderwatch/internal/dispatch"
	"github.com/mkravets/orderwatch/internal/fetch"
	"github.com/mkravets/orderwatch/internal/governor"
	"github.com/mkravets/orderwatch/internal/mailwatch"
	"github.com/mkravets/orderwatch/internal/orchestrator"
	"github.com/mkravets/orderwatch/internal/ratelimit"
	"github.com/mkravets/orderwatch/internal/retry"
	"github.com/mkravets/orderwatch/internal/vault"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scan daemon",
	Long:  "Start the scan loop; blocks until SIGINT/SIGTERM.",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("config loaded",
		"interval", cfg.Scan.IntervalBase.String(),
		"store", cfg.Store.Type,
		"notifier", cfg.Notifier.Type,
		"dedup_retention", cfg.Store.DedupRetention.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var fetchOpts []fetch.Option
	if cfg.Vault.Key != "" {
		v, err := vault.New(cfg.Vault.Key, vault.Credentials{
			Login:    cfg.Vault.Login,
			Password: cfg.Vault.Password,
		}, st, "primary")
		if err != nil {
			logger.Error("failed to initialize vault", "error", err)
			os.Exit(1)
		}
		// Seal once at startup so a bad key fails fast, not mid-run.
		if _, err := v.Credentials(ctx); err != nil {
			logger.Error("sealing credentials failed", "error", err)
			os.Exit(1)
		}
		fetchOpts = append(fetchOpts, fetch.WithVault(v))
		logger.Info("vault ready")
	}

	spool, err := fetch.NewSpoolFetcher(cfg.Spool.Dir, cfg.Spool.OutboxDir, logger, fetchOpts...)
	if err != nil {
		logger.Error("failed to set up spool", "error", err)
		os.Exit(1)
	}
	fetcher := retry.New(spool, 2, 5*time.Second, logger)

	n, err := setupNotifier(cfg, logger)
	if err != nil {
		logger.Error("failed to set up notifier", "error", err)
		os.Exit(1)
	}

	index, err := dedup.Load(ctx, st, logger)
	if err != nil {
		logger.Error("failed to load dedup index", "error", err)
		os.Exit(1)
	}

	gov := governor.New(governor.Config{
		BaseInterval:      cfg.Scan.IntervalBase,
		MinInterval:       cfg.Scan.IntervalMin,
		MaxInterval:       cfg.Scan.IntervalMax,
		CaptchaPause:      cfg.Scan.CaptchaPause,
		NightStart:        cfg.Scan.NightStart,
		NightEnd:          cfg.Scan.NightEnd,
		BackoffThreshold:  cfg.Scan.BackoffThreshold,
		BackoffMultiplier: cfg.Scan.BackoffMultiplier,
		BackoffCap:        cfg.Scan.BackoffCap,
	}, logger)

	router := dispatch.NewRouter(n, fetcher,
		ratelimit.NewBudget(cfg.Budgets.GlobalPerWindow, cfg.Budgets.Window),
		ratelimit.NewBudget(cfg.Budgets.PerSubscriberPerWindow, cfg.Budgets.Window),
		logger,
	)

	mail := mailwatch.NewBuffer(256, logger)
	orch := orchestrator.New(fetcher, mail, index, router, gov, st, logger)

	// Daily retention sweep so the dedup index does not grow unbounded.
	c := cron.New()
	if _, err := c.AddFunc("@daily", func() {
		if _, err := index.Sweep(context.Background(), cfg.Store.DedupRetention, time.Now()); err != nil {
			logger.Error("retention sweep failed", "error", err)
		}
	}); err != nil {
		logger.Error("failed to schedule retention sweep", "error", err)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	if err := orch.Run(ctx); err != nil {
		logger.Error("scan loop error", "error", err)
		os.Exit(1)
	}

	logger.Info("goodbye")
	return nil
}

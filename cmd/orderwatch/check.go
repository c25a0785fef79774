package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkravets/orderwatch/internal/dedup"
	"github.com/mkravets/orderwatch/internal/dispatch"
	"github.com/mkravets/orderwatch/internal/fetch"
	"github.com/mkravets/orderwatch/internal/governor"
	"github.com/mkravets/orderwatch/internal/mailwatch"
	"github.com/mkravets/orderwatch/internal/model"
	"github.com/mkravets/orderwatch/internal/notifier"
	"github.com/mkravets/orderwatch/internal/orchestrator"
	"github.com/mkravets/orderwatch/internal/ratelimit"
	"github.com/mkravets/orderwatch/internal/store"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one scan cycle, print matches, exit",
	Long:  "One-shot cycle: consumes the spool, logs what each subscriber would receive, exits. Nothing is persisted and nothing is delivered.",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("check mode: nothing will be persisted or delivered")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Subscribers come from the real store so the dry run exercises the real
	// filters; dedup state goes to a nop store so nothing is marked seen.
	realStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	spool, err := fetch.NewSpoolFetcher(cfg.Spool.Dir, cfg.Spool.OutboxDir, logger)
	if err != nil {
		logger.Error("failed to set up spool", "error", err)
		os.Exit(1)
	}

	nop := store.NewNopStore()
	index, err := dedup.Load(ctx, nop, logger)
	if err != nil {
		logger.Error("failed to build dedup index", "error", err)
		os.Exit(1)
	}

	gov := governor.New(governor.Config{
		BaseInterval: cfg.Scan.IntervalBase,
		MinInterval:  cfg.Scan.IntervalMin,
		MaxInterval:  cfg.Scan.IntervalMax,
		CaptchaPause: cfg.Scan.CaptchaPause,
	}, logger)

	// Log notifier; templates are stripped below so no auto-response can be
	// submitted from a dry run.
	router := dispatch.NewRouter(notifier.NewLogNotifier(logger), spool,
		ratelimit.NewBudget(cfg.Budgets.GlobalPerWindow, time.Hour),
		ratelimit.NewBudget(cfg.Budgets.PerSubscriberPerWindow, time.Hour),
		logger,
	)

	dryStore := &checkStore{NopStore: store.NewNopStore(), subscribers: realStore}
	orch := orchestrator.New(spool, mailwatch.NewBuffer(16, logger), index, router, gov, dryStore,
		logger, orchestrator.WithSeeding(false))

	fb := orch.Cycle(ctx)
	logger.Info("check complete",
		"new", fb.NewCount,
		"duplicates", fb.Duplicates,
		"signal", fb.Signal.String(),
		"errored", fb.Errored,
	)
	return nil
}

// checkStore reads subscribers from the real store with templates stripped
// (notify only) and drops every write.
type checkStore struct {
	*store.NopStore
	subscribers model.Store
}

func (s *checkStore) LoadSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	subs, err := s.subscribers.LoadSubscribers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i].Template = ""
	}
	return subs, nil
}

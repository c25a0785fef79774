package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mkravets/orderwatch/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Browse tracked listings",
	Long:  "Interactive browser over the dedup index: what was seen, when, and which subscribers were notified.",
	RunE:  runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	entries, err := st.LoadDedup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load tracked listings: %v\n", err)
		os.Exit(1)
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Println(review.Summary(entries))
		return nil
	}

	names := make(map[int64]string)
	if subs, err := st.LoadSubscribers(ctx); err == nil {
		for _, sub := range subs {
			names[sub.ID] = sub.Name
		}
	}

	return review.Run(entries, names)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkravets/orderwatch/internal/config"
	"github.com/mkravets/orderwatch/internal/model"
	"github.com/mkravets/orderwatch/internal/notifier"
	"github.com/mkravets/orderwatch/internal/store"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "orderwatch",
	Short: "Marketplace order watcher",
	Long:  "Orderwatch scans a freelance marketplace for new orders, filters them per subscriber and notifies or auto-responds.",
	// Default to `start` so that `orderwatch` with no args runs the daemon.
	RunE: runStart,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: ORDERWATCH_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > ORDERWATCH_CONFIG env var > "./config.yaml"
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("ORDERWATCH_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func setupNotifier(cfg *config.Config, logger *slog.Logger) (model.Notifier, error) {
	switch cfg.Notifier.Type {
	case "telegram":
		logger.Info("using telegram notifier")
		return notifier.NewTelegramNotifier(cfg.Notifier.Token, logger)
	default:
		return notifier.NewLogNotifier(logger), nil
	}
}

// openStore builds the configured backend. The returned closer releases the
// underlying connection.
func openStore(ctx context.Context, cfg *config.Config) (model.Store, func() error, error) {
	switch cfg.Store.Type {
	case "redis":
		s, err := store.NewRedisStore(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("opening redis store: %w", err)
		}
		return s, s.Close, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, s.Close, nil
	}
}

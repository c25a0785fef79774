package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "List subscribers and their filters",
	Long:  "Reads the store and prints a table of subscribers, their filter rules and whether auto-respond is armed.",
	RunE:  runFilters,
}

func init() {
	rootCmd.AddCommand(filtersCmd)
}

func runFilters(cmd *cobra.Command, args []string) error {
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

	subs, err := st.LoadSubscribers(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load subscribers: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%-8s %-20s %-30s %s\n", "ID", "Name", "Filters", "Auto-respond")
	fmt.Println(strings.Repeat("─", 72))

	armed := 0
	for _, sub := range subs {
		names := make([]string, 0, len(sub.Filters))
		for _, f := range sub.Filters {
			names = append(names, f.Name)
		}
		filters := strings.Join(names, ", ")
		if filters == "" {
			filters = "(none)"
		}

		respond := "off"
		if sub.HasTemplate() {
			respond = "armed"
			armed++
		}
		fmt.Printf("%-8d %-20s %-30s %s\n", sub.ID, sub.Name, filters, respond)
	}

	fmt.Printf("\nTotal: %d subscribers (%d with auto-respond)\n", len(subs), armed)
	return nil
}

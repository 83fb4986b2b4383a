package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"cloudpico-station/internal/app"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one wake cycle and exit",
	Long: `Takes one reading, uploads it or buffers it, drains the backlog when the
collector is reachable, and reports how long the node may deep-sleep.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, runCycle)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run cycles on CYCLE_SCHEDULE and serve /healthz",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			err := a.Serve(ctx)
			slog.Info("shutting down")
			return err
		})
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Upload the buffered backlog without taking a reading",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Flush(ctx)
			slog.Info("flush done", "delivered", n)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(cycleCmd, serveCmd, flushCmd)
}

func runCycle(ctx context.Context, a *app.App) error {
	out, err := a.RunCycle(ctx)
	if err != nil {
		return err
	}
	slog.Info("cycle finished",
		"reading", out.Reading.ID,
		"timestamp", out.Reading.Timestamp,
		"uploaded", out.Uploaded,
		"buffered", out.Buffered,
		"backlog", out.Backlog,
	)
	if out.StorageErr != nil {
		slog.Error("reading lost", "error", out.StorageErr)
	}
	if d, sleep := a.SleepAdvice(); sleep {
		slog.Info("outside operating hours", "sleep_for", d.Round(time.Minute).String())
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cloudpico-station/internal/app"
	"cloudpico-station/internal/config"
	"cloudpico-station/internal/logging"
)

var version = "dev"
var appName = "cloudpico-station"

var (
	envFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "station",
	Short: "cloudpico weather station node",
	Long: `Samples the station sensors, timestamps the reading and delivers it to the
collector, buffering to local storage while the collector is unreachable.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env if present)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnvFile(envFile, envFile != ""); err != nil {
		return err
	}
	var err error
	cfg, err = config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"command", cmd.Name(),
	)
	return nil
}

// withApp builds the station, runs fn and releases the hardware afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}()
	return fn(ctx, a)
}

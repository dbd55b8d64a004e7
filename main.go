package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"odisea.app/cloud/internal/config"
	"odisea.app/cloud/internal/logger"
	"odisea.app/cloud/internal/reconcile"
	"odisea.app/cloud/internal/storage"
	"odisea.app/cloud/internal/version"
)

var appVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "odisea",
	Short:         "Odisea cloud API",
	Long:          "Odisea cloud API: billing entitlements, admin directory and translation proxy.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back database migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(storage.Up), string(storage.Down)},
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := storage.Up
		if len(args) == 1 {
			dir = storage.Direction(args[0])
		}
		return runMigrate(dir)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one entitlement consistency sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Odisea Cloud API %s\n", appVersion)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd, versionCmd)
}

func main() {
	appVersion = version.Resolve("VERSION")
	rootCmd.Version = appVersion

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to load .env file", map[string]interface{}{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("Command failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Release:          appVersion,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	defer sentry.Flush(2 * time.Second)

	a, err := newApp(ctx, cfg, appVersion)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.sweeper.Start(cfg.SweepSchedule); err != nil {
		return err
	}
	defer a.sweeper.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Odisea Cloud API starting", map[string]interface{}{
			"version": appVersion,
			"port":    cfg.Port,
			"driver":  cfg.DatabaseDriver,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMigrate(dir storage.Direction) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Migrate(dir)
}

func runSweep(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := reconcile.NewSweeper(store).Run(ctx)
	if report != nil {
		logger.Info("Sweep finished", map[string]interface{}{
			"profiles":     report.Profiles,
			"institutions": report.Institutions,
		})
	}
	return err
}

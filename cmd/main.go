package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/kanda-backend/internal/app"
	"github.com/yungbote/kanda-backend/internal/data/db"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

var version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:           "kanda",
	Short:         "Kanda character backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with an in-process enrichment worker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app.App) error { return a.Serve(ctx) })
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the enrichment worker and maintenance schedule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runApp(cmd.Context(), func(ctx context.Context, a *app.App) error { return a.Work(ctx) })
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := app.LoadConfig(configFile)
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.LogMode)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer log.Sync()
		pg, err := app.OpenDB(log, cfg)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := db.AutoMigrateAll(pg.DB()); err != nil {
			return fmt.Errorf("automigrate: %w", err)
		}
		log.Info("Schema up to date", "driver", cfg.DBDriver)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("kanda version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml when present)")
	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd, versionCmd)
}

func runApp(parent context.Context, run func(ctx context.Context, a *app.App) error) error {
	cfg, err := app.LoadConfig(configFile)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := run(ctx, a); err != nil {
		a.Log.Error("Shutting down with error", "error", err)
		return err
	}
	a.Log.Info("Shutdown complete")
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

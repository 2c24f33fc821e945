package main

import (
	"fmt"
	"os"

	"github.com/cristianortiz/liveAuction/internal/shared/config"
	"github.com/cristianortiz/liveAuction/internal/shared/db/migrations"
	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	log := logger.GetLogger()
	defer log.Sync()

	rootCmd := &cobra.Command{
		Use:           "liveauction",
		Short:         "Live auction bidding with real-time fan-out and payment webhook reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error("liveauction failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.GetLogger()
			log.Info("Running database migrations...", zap.String("dir", cfg.MigrationsDir))
			if err := migrations.RunMigrations(cfg.MigrationsDir, cfg.PostgresDSN()); err != nil {
				return fmt.Errorf("database migration failed: %w", err)
			}
			log.Info("Database migrations completed successfully.")
			return nil
		},
	}
}

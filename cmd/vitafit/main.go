// cmd/vitafit/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vitafit/config"
	"vitafit/internal/db"
	"vitafit/pkg/logger"
)

const maxDBRetries = 5

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vitafit",
		Short:         "Structured generation service for the VitaFit health assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(serveCmd(), generateCmd(), migrateCmd())
	return cmd
}

// setup loads the configuration and builds the logger it asks for.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Log.Development {
		return cfg, logger.NewDevelopment(), nil
	}
	return cfg, logger.New(), nil
}

// connect opens the store, retrying while the database comes up.
func connect(ctx context.Context, cfg config.DBConfig, l *logger.Logger) (db.Store, error) {
	var (
		store db.Store
		err   error
	)
	for i := 0; i < maxDBRetries; i++ {
		store, err = db.Open(ctx, cfg)
		if err == nil {
			return store, nil
		}
		l.Errorw("Failed to connect to database, retrying...", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxDBRetries, err)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := setup()
			if err != nil {
				return err
			}
			defer l.Sync()

			store, err := connect(cmd.Context(), cfg.DB, l)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			l.Infow("Database schema is up to date", "driver", cfg.DB.Driver)
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "carefinder",
	Short: "Reproductive-health data ingestion pipeline",
	Long:  "Crawls state government, advocacy, news, and clinic-directory sources for all 50 states, merges and enriches the results, and upserts legal information and clinics into the record store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// contextOrBackground keeps commands usable when run without a context.
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

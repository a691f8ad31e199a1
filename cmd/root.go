package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upjong-lab/district-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "district-cli",
	Short: "Commercial-district scoring and recommendation pipeline",
	Long:  "Aggregates district statistics (population, rent, survival, store counts, sales), computes weighted composite scores, and ranks districts or industries for startup-location decisions.",
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

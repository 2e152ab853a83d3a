package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sagepoint-data/identity-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "identity-cli",
	Short: "Company identity resolution and enrichment pipeline",
	Long:  "Resolves noisy pension and annuity company references to stable company IDs via overrides, a persistent enrichment cache, the EQC registry, and deterministic temp IDs.",
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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/eventscout/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "eventscout",
	Short: "Event discovery search orchestrator",
	Long:  "Discovers, ranks, and enriches upcoming industry events for a user profile by fanning a query out across search providers, gating results through a rerank pass, prioritising with an LLM, and deep-crawling the survivors for speaker and agenda detail.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if v, _ := cmd.Flags().GetString("anthropic-model"); v != "" {
			cfg.Anthropic.Model = v
		}
		if v, _ := cmd.Flags().GetInt("max-candidates"); v > 0 {
			cfg.Pipeline.MaxCandidates = v
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("anthropic-model", "", "override Anthropic model name (e.g. claude-haiku-4-5-20251001)")
	rootCmd.PersistentFlags().Int("max-candidates", 0, "override the discovery candidate cap")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

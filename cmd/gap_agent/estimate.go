package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/jonathan/visibility-gap/internal/observability"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the token usage and cost of a launch",
	Long: "Project the tokens and USD cost of probing prompts against each provider in the citation " +
		"phase plus the search phase queries. The estimate is advisory and never blocks a launch.",
	RunE: runEstimate,
}

var (
	estimatePrompts   int
	estimateProviders []string
	estimateQueries   int
	estimateJSON      bool
)

func init() {
	estimateCmd.Flags().IntVar(&estimatePrompts, "prompts", 0, "Number of prompts probed per provider")
	estimateCmd.Flags().StringSliceVar(&estimateProviders, "providers", []string{"openai", "gemini", "perplexity"}, "Generative engines probed (comma-separated)")
	estimateCmd.Flags().IntVar(&estimateQueries, "queries", 0, "Number of search queries")
	estimateCmd.Flags().BoolVar(&estimateJSON, "json", false, "Print the estimate as JSON")
	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	est := cfg.CostTable().Estimate(estimatePrompts, splitList(estimateProviders), estimateQueries)

	if estimateJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(est)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintEstimate(est)
	return nil
}

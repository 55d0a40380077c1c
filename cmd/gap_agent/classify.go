package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/observability"
	"github.com/jonathan/visibility-gap/internal/types"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <domain>...",
	Short: "Classify domains as editorial, competitor, corporate, ugc, institutional or aggregator",
	Long: "Classify hostnames or URLs with the curated knowledge table and heuristics. Domains the " +
		"static rules leave unknown go to the remote classifier when an LLM key or the visibility " +
		"API is configured.",
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

var (
	classifyCompetitors []string
	classifyJSON        bool
	classifyStatic      bool
)

func init() {
	classifyCmd.Flags().StringSliceVar(&classifyCompetitors, "competitors", nil, "Competitor domains (comma-separated)")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Print results as JSON")
	classifyCmd.Flags().BoolVar(&classifyStatic, "static", false, "Use the knowledge table and heuristics only")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resolver := classify.NewResolver(nil)
	if !classifyStatic {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := connect(ctx, cfg, false, false)
		if err != nil {
			return err
		}
		defer d.Close()
		if resolver, err = d.resolver(ctx); err != nil {
			return err
		}
	}

	competitors := types.NewDomainSet(splitList(classifyCompetitors)...)
	resolved := resolver.ResolveBatch(ctx, args, competitors)

	results := make([]types.ClassifiedDomain, 0, len(resolved))
	for _, d := range classify.SortedDomains(resolved) {
		results = append(results, resolved[d])
	}
	for _, raw := range args {
		if types.NormalizeDomain(raw) == "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: skipping invalid domain %q\n", raw)
		}
	}

	if classifyJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintClassifications(results)
	return nil
}

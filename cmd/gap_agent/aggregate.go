package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/observability"
	"github.com/jonathan/visibility-gap/internal/opportunities"
	"github.com/jonathan/visibility-gap/internal/schemas"
	"github.com/jonathan/visibility-gap/internal/types"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Rank editorial opportunities from search and citation row files",
	Long: "Merge search-result rows and citation rows into one ranked list of editorial placement " +
		"opportunities. Input files are validated against the row schemas before use.",
	RunE: runAggregate,
}

var (
	aggregateSearchFile      string
	aggregateCitationFile    string
	aggregateCompetitors     []string
	aggregateCompetitorsFile string
	aggregateClients         []string
	aggregateClientsFile     string
	aggregateExclude         []string
	aggregateNonEditorial    bool
	aggregateValidateLinks   bool
	aggregateStatic          bool
	aggregateJSON            bool
)

func init() {
	aggregateCmd.Flags().StringVar(&aggregateSearchFile, "search", "", "Path to a search rows JSON file")
	aggregateCmd.Flags().StringVar(&aggregateCitationFile, "citations", "", "Path to a citation rows JSON file")
	aggregateCmd.Flags().StringSliceVar(&aggregateCompetitors, "competitors", nil, "Competitor domains (comma-separated)")
	aggregateCmd.Flags().StringVar(&aggregateCompetitorsFile, "competitors-file", "", "Path to a JSON array of competitor domains")
	aggregateCmd.Flags().StringSliceVar(&aggregateClients, "clients", nil, "Client domains (comma-separated)")
	aggregateCmd.Flags().StringVar(&aggregateClientsFile, "clients-file", "", "Path to a JSON array of client domains")
	aggregateCmd.Flags().StringSliceVar(&aggregateExclude, "exclude", nil, "Domains to exclude, subdomains included (comma-separated)")
	aggregateCmd.Flags().BoolVar(&aggregateNonEditorial, "include-non-editorial", false, "Keep every non-client domain, competitors flagged")
	aggregateCmd.Flags().BoolVar(&aggregateValidateLinks, "validate-links", false, "Check citation URLs before using them as best URL")
	aggregateCmd.Flags().BoolVar(&aggregateStatic, "static", false, "Classify with the knowledge table and heuristics only")
	aggregateCmd.Flags().BoolVar(&aggregateJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(aggregateCmd)
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	if aggregateSearchFile == "" && aggregateCitationFile == "" {
		return fmt.Errorf("at least one of --search or --citations is required")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var in opportunities.Input
	if aggregateSearchFile != "" {
		if err := readRows(schemas.SearchRows, aggregateSearchFile, &in.SearchRows); err != nil {
			return err
		}
	}
	if aggregateCitationFile != "" {
		if err := readRows(schemas.CitationRows, aggregateCitationFile, &in.CitationRows); err != nil {
			return err
		}
	}

	competitors, err := domainList(aggregateCompetitors, aggregateCompetitorsFile)
	if err != nil {
		return err
	}
	clients, err := domainList(aggregateClients, aggregateClientsFile)
	if err != nil {
		return err
	}
	in.Competitors = types.NewDomainSet(competitors...)
	in.Clients = types.NewDomainSet(clients...)
	for _, d := range splitList(aggregateExclude) {
		in.Exclusions = append(in.Exclusions, types.ExclusionRule{Domain: types.NormalizeDomain(d), MatchSubdomains: true})
	}
	in.CitationRows = opportunities.ApplyExclusionFlags(in.CitationRows, in.Exclusions)

	resolver := classify.NewResolver(nil)
	logger := zerolog.Nop()
	var validator opportunities.URLValidator
	if !aggregateStatic || aggregateValidateLinks {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := connect(ctx, cfg, false, false)
		if err != nil {
			return err
		}
		defer d.Close()
		logger = d.logger
		if !aggregateStatic {
			if resolver, err = d.resolver(ctx); err != nil {
				return err
			}
		}
		if aggregateValidateLinks {
			validator = d.urlValidator()
		}
	}

	service := opportunities.NewService(resolver, validator, logger)
	res, err := service.Opportunities(ctx, in, opportunities.Options{IncludeNonEditorial: aggregateNonEditorial})
	if err != nil {
		return err
	}

	if aggregateJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintOpportunities(res.Opportunities)
	if res.Dropped > 0 || res.Filtered > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Dropped %d malformed rows, filtered %d domains\n", res.Dropped, res.Filtered)
	}
	if review := opportunities.NeedsReview(res.Opportunities); len(review) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d opportunities still need classification\n", len(review))
	}
	return nil
}

// readRows validates a rows file against its schema and decodes it into out.
func readRows(schema, path string, out any) error {
	data, err := schemas.ValidateFile(schema, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// domainList merges flag values with an optional JSON file of domains.
func domainList(flagValues []string, path string) ([]string, error) {
	out := splitList(flagValues)
	if path == "" {
		return out, nil
	}
	var fromFile []string
	if err := readRows(schemas.DomainList, path, &fromFile); err != nil {
		return nil, err
	}
	return append(out, fromFile...), nil
}

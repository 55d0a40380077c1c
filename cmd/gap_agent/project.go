package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/visibility-gap/internal/db"
	"github.com/jonathan/visibility-gap/internal/types"
)

var projectID string

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage a project's competitors, client domains and exclusion rules",
}

var projectShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the project's domain lists",
	Args:  cobra.NoArgs,
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store *db.DB, _ []string) error {
		competitors, err := store.ListCompetitors(ctx, projectID)
		if err != nil {
			return err
		}
		clients, err := store.ListClientDomains(ctx, projectID)
		if err != nil {
			return err
		}
		rules, err := store.ListExclusionRules(ctx, projectID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Competitors: %v\n", competitors)
		fmt.Fprintf(out, "Clients:     %v\n", clients)
		fmt.Fprintln(out, "Exclusions:")
		for _, r := range rules {
			scope := "exact"
			if r.MatchSubdomains {
				scope = "with subdomains"
			}
			fmt.Fprintf(out, "  %s (%s) %s\n", r.Domain, scope, r.Reason)
		}
		return nil
	}),
}

var projectCompetitorsCmd = &cobra.Command{
	Use:   "competitors <domain>...",
	Short: "Replace the project's competitor list",
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store *db.DB, args []string) error {
		domains := splitList(args)
		if err := store.ReplaceCompetitors(ctx, projectID, domains); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %d competitors\n", len(domains))
		return nil
	}),
}

var projectClientsCmd = &cobra.Command{
	Use:   "clients <domain>...",
	Short: "Replace the project's client domains",
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store *db.DB, args []string) error {
		domains := splitList(args)
		if err := store.ReplaceClientDomains(ctx, projectID, domains); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %d client domains\n", len(domains))
		return nil
	}),
}

var (
	excludeExact  bool
	excludeReason string
)

var projectExcludeCmd = &cobra.Command{
	Use:   "exclude <domain>",
	Short: "Add or update an exclusion rule",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store *db.DB, args []string) error {
		domain := types.NormalizeDomain(args[0])
		if domain == "" {
			return fmt.Errorf("invalid domain %q", args[0])
		}
		rule := types.ExclusionRule{Domain: domain, MatchSubdomains: !excludeExact, Reason: excludeReason}
		if err := store.UpsertExclusionRule(ctx, projectID, rule); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Excluded %s\n", domain)
		return nil
	}),
}

var projectIncludeCmd = &cobra.Command{
	Use:   "include <domain>",
	Short: "Remove an exclusion rule",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store *db.DB, args []string) error {
		if err := store.DeleteExclusionRule(ctx, projectID, types.NormalizeDomain(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed exclusion for %s\n", args[0])
		return nil
	}),
}

func init() {
	projectCmd.PersistentFlags().StringVar(&projectID, "project", "", "Project ID (required)")
	_ = projectCmd.MarkPersistentFlagRequired("project")
	projectExcludeCmd.Flags().BoolVar(&excludeExact, "exact", false, "Match the domain only, not its subdomains")
	projectExcludeCmd.Flags().StringVar(&excludeReason, "reason", "", "Why the domain is excluded")

	projectCmd.AddCommand(projectShowCmd, projectCompetitorsCmd, projectClientsCmd, projectExcludeCmd, projectIncludeCmd)
	rootCmd.AddCommand(projectCmd)
}

// withStore opens the database for a subcommand and closes it afterwards.
func withStore(fn func(ctx context.Context, cmd *cobra.Command, store *db.DB, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		d, err := connect(ctx, cfg, true, false)
		if err != nil {
			return err
		}
		defer d.Close()
		return fn(ctx, cmd, d.db, args)
	}
}

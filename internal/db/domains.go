package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/visibility-gap/internal/types"
)

// -----------------------------------------------------------------------------
// Competitor, Client and Exclusion Lists
// -----------------------------------------------------------------------------

// ListCompetitors returns the project's competitor domains.
func (db *DB) ListCompetitors(ctx context.Context, projectID string) ([]string, error) {
	return db.listDomains(ctx, "competitor_domains", projectID)
}

// ReplaceCompetitors overwrites the project's competitor list. Invalid domains are skipped.
func (db *DB) ReplaceCompetitors(ctx context.Context, projectID string, domains []string) error {
	return db.replaceDomains(ctx, "competitor_domains", projectID, domains)
}

// ListClientDomains returns the domains owned by the analyzed brand.
func (db *DB) ListClientDomains(ctx context.Context, projectID string) ([]string, error) {
	return db.listDomains(ctx, "client_domains", projectID)
}

// ReplaceClientDomains overwrites the project's client domains. Invalid domains are skipped.
func (db *DB) ReplaceClientDomains(ctx context.Context, projectID string, domains []string) error {
	return db.replaceDomains(ctx, "client_domains", projectID, domains)
}

// table is always one of the constants above, never user input.
func (db *DB) listDomains(ctx context.Context, table, projectID string) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT domain FROM `+table+` WHERE project_id = $1 ORDER BY domain`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	domains, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	return domains, nil
}

func (db *DB) replaceDomains(ctx context.Context, table, projectID string, domains []string) error {
	set := types.NewDomainSet(domains...)
	return db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE project_id = $1`, projectID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
		for _, d := range set.Sorted() {
			if _, err := tx.Exec(ctx,
				`INSERT INTO `+table+` (project_id, domain) VALUES ($1, $2)`,
				projectID, d,
			); err != nil {
				return fmt.Errorf("failed to insert into %s: %w", table, err)
			}
		}
		return nil
	})
}

// ListExclusionRules returns the project's manual exclusion rules.
func (db *DB) ListExclusionRules(ctx context.Context, projectID string) ([]types.ExclusionRule, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT domain, match_subdomains, COALESCE(reason, '') FROM exclusion_rules
		 WHERE project_id = $1 ORDER BY domain`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list exclusion rules: %w", err)
	}
	defer rows.Close()

	rules := []types.ExclusionRule{}
	for rows.Next() {
		var r types.ExclusionRule
		if err := rows.Scan(&r.Domain, &r.MatchSubdomains, &r.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan exclusion rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list exclusion rules: %w", err)
	}
	return rules, nil
}

// UpsertExclusionRule adds or updates a rule.
func (db *DB) UpsertExclusionRule(ctx context.Context, projectID string, rule types.ExclusionRule) error {
	domain := types.NormalizeDomain(rule.Domain)
	if domain == "" {
		return fmt.Errorf("invalid exclusion domain %q", rule.Domain)
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO exclusion_rules (project_id, domain, match_subdomains, reason)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, domain) DO UPDATE SET match_subdomains = $3, reason = $4`,
		projectID, domain, rule.MatchSubdomains, nullable(rule.Reason),
	)
	if err != nil {
		return fmt.Errorf("failed to save exclusion rule: %w", err)
	}
	return nil
}

// DeleteExclusionRule removes a rule.
func (db *DB) DeleteExclusionRule(ctx context.Context, projectID, domain string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM exclusion_rules WHERE project_id = $1 AND domain = $2`,
		projectID, types.NormalizeDomain(domain),
	)
	if err != nil {
		return fmt.Errorf("failed to delete exclusion rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

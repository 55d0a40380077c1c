package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/visibility-gap/internal/types"
)

// -----------------------------------------------------------------------------
// Phase Result Rows
// -----------------------------------------------------------------------------

// ReplaceSearchRows stores the rows of a completed search job, replacing any earlier search rows
// of the project. Input order is preserved so aggregation ties resolve the same way every time.
func (db *DB) ReplaceSearchRows(ctx context.Context, projectID, jobID string, rows []types.SearchResultRow) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", jobID, err)
	}
	return db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM search_result_rows WHERE project_id = $1`, projectID); err != nil {
			return fmt.Errorf("failed to clear search rows: %w", err)
		}
		batch := &pgx.Batch{}
		for i, r := range rows {
			batch.Queue(
				`INSERT INTO search_result_rows (project_id, job_id, domain, url, title, position, content_type, query, ordinal)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				projectID, id, r.Domain, r.URL, nullable(r.Title), r.Position, nullable(r.ContentType), nullable(r.Query), i,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert search rows: %w", err)
		}
		return nil
	})
}

// ListSearchRows returns the project's stored search rows in their original order.
func (db *DB) ListSearchRows(ctx context.Context, projectID string) ([]types.SearchResultRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT domain, url, COALESCE(title, ''), position, COALESCE(content_type, ''), COALESCE(query, '')
		 FROM search_result_rows WHERE project_id = $1 ORDER BY ordinal`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list search rows: %w", err)
	}
	defer rows.Close()

	out := []types.SearchResultRow{}
	for rows.Next() {
		var r types.SearchResultRow
		if err := rows.Scan(&r.Domain, &r.URL, &r.Title, &r.Position, &r.ContentType, &r.Query); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list search rows: %w", err)
	}
	return out, nil
}

// ReplaceCitationRows stores the most cited domains of a citation run. Storing the same run
// again replaces its rows.
func (db *DB) ReplaceCitationRows(ctx context.Context, projectID, runID string, rows []types.CitationRow) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM citation_rows WHERE project_id = $1 AND run_id = $2`, projectID, runID,
		); err != nil {
			return fmt.Errorf("failed to clear citation rows: %w", err)
		}
		batch := &pgx.Batch{}
		for i, r := range rows {
			urls, err := json.Marshal(nonNil(r.URLs))
			if err != nil {
				return fmt.Errorf("failed to marshal urls: %w", err)
			}
			providers, err := json.Marshal(nonNil(r.Providers))
			if err != nil {
				return fmt.Errorf("failed to marshal providers: %w", err)
			}
			batch.Queue(
				`INSERT INTO citation_rows (project_id, run_id, domain, urls, title, count, providers, content_type, domain_type, is_excluded, ordinal)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				projectID, runID, r.Domain, urls, nullable(r.Title), r.Count, providers,
				nullable(r.ContentType), nullable(r.DomainType), r.IsExcluded, i,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert citation rows: %w", err)
		}
		return nil
	})
}

// ListCitationRows returns the rows of a citation run in their original order.
func (db *DB) ListCitationRows(ctx context.Context, projectID, runID string) ([]types.CitationRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT domain, urls, COALESCE(title, ''), count, providers, COALESCE(content_type, ''),
		        COALESCE(domain_type, ''), is_excluded
		 FROM citation_rows WHERE project_id = $1 AND run_id = $2 ORDER BY ordinal`,
		projectID, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list citation rows: %w", err)
	}
	defer rows.Close()

	out := []types.CitationRow{}
	for rows.Next() {
		var r types.CitationRow
		var urls, providers []byte
		if err := rows.Scan(&r.Domain, &urls, &r.Title, &r.Count, &providers, &r.ContentType,
			&r.DomainType, &r.IsExcluded); err != nil {
			return nil, fmt.Errorf("failed to scan citation row: %w", err)
		}
		_ = json.Unmarshal(urls, &r.URLs)
		_ = json.Unmarshal(providers, &r.Providers)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list citation rows: %w", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

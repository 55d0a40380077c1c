package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/types"
)

// ClassificationStore is a durable classify.Cache keyed by knowledge table version. It backs
// deployments without Redis.
type ClassificationStore struct {
	db      *DB
	version string
}

// Classifications returns the classification store for a knowledge table version.
func (db *DB) Classifications(knowledgeVersion string) *ClassificationStore {
	return &ClassificationStore{db: db, version: knowledgeVersion}
}

// GetMany returns stored remote classifications for the given domains.
func (s *ClassificationStore) GetMany(ctx context.Context, domains []string) (map[string]classify.External, error) {
	out := make(map[string]classify.External)
	if len(domains) == 0 {
		return out, nil
	}

	rows, err := s.db.pool.Query(ctx,
		`SELECT domain, domain_type, accepts_sponsored FROM domain_classifications
		 WHERE knowledge_version = $1 AND domain = ANY($2)`,
		s.version, domains,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var domain, domainType string
		var sponsored *bool
		if err := rows.Scan(&domain, &domainType, &sponsored); err != nil {
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}
		dt := types.DomainType(domainType)
		if !dt.Valid() || dt == types.DomainUnknown {
			continue
		}
		out[domain] = classify.External{DomainType: dt, AcceptsSponsored: sponsored}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read classifications: %w", err)
	}
	return out, nil
}

// PutMany stores remote classifications. Unknown verdicts are skipped.
func (s *ClassificationStore) PutMany(ctx context.Context, items map[string]classify.External) error {
	batch := &pgx.Batch{}
	for domain, ext := range items {
		if !ext.DomainType.Valid() || ext.DomainType == types.DomainUnknown {
			continue
		}
		batch.Queue(
			`INSERT INTO domain_classifications (knowledge_version, domain, domain_type, accepts_sponsored)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (knowledge_version, domain) DO UPDATE
			 SET domain_type = $3, accepts_sponsored = $4, updated_at = NOW()`,
			s.version, domain, string(ext.DomainType), ext.AcceptsSponsored,
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store classifications: %w", err)
	}
	return nil
}

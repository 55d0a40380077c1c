package types

import (
	"github.com/go-playground/validator/v10"
)

// LaunchRequest starts the full analysis (search and citation in parallel, then gap).
type LaunchRequest struct {
	NicheID string   `json:"niche_id" validate:"required"`
	Queries []string `json:"queries" validate:"required,min=1,dive,required"`
	Confirm bool     `json:"confirm"`
}

// PhaseLaunchRequest starts a single phase. Queries are used by the search phase only,
// NicheID by the citation phase only.
type PhaseLaunchRequest struct {
	NicheID string   `json:"niche_id,omitempty"`
	Queries []string `json:"queries,omitempty" validate:"dive,required"`
	Confirm bool     `json:"confirm"`
}

// EstimateRequest asks for the advisory cost of a launch.
type EstimateRequest struct {
	Prompts   int      `json:"prompts" validate:"gte=0"`
	Providers []string `json:"providers" validate:"dive,required"`
	Queries   int      `json:"queries" validate:"gte=0"`
}

// ClassifyRequest classifies a batch of domains against an optional competitor list.
type ClassifyRequest struct {
	Domains     []string `json:"domains" validate:"required,min=1,max=500,dive,required"`
	Competitors []string `json:"competitors,omitempty"`
}

// OpportunitiesRequest computes the opportunity list for a project from its persisted rows.
type OpportunitiesRequest struct {
	CitationRunID       string   `json:"citation_run_id,omitempty"`
	Competitors         []string `json:"competitors,omitempty"`
	IncludeNonEditorial bool     `json:"include_non_editorial"`
}

// validate caches struct metadata across calls; it is safe for concurrent use.
var validate = validator.New()

func (r *LaunchRequest) Validate() error { return validate.Struct(r) }

func (r *PhaseLaunchRequest) Validate() error { return validate.Struct(r) }

func (r *EstimateRequest) Validate() error { return validate.Struct(r) }

func (r *ClassifyRequest) Validate() error { return validate.Struct(r) }

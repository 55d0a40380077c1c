package server

import (
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/visibility-gap/internal/db"
	"github.com/jonathan/visibility-gap/internal/opportunities"
	"github.com/jonathan/visibility-gap/internal/types"
)

// OpportunitiesResponse is the ranked opportunity list of a project.
type OpportunitiesResponse struct {
	ProjectID        string              `json:"project_id"`
	CitationRunID    string              `json:"citation_run_id,omitempty"`
	KnowledgeVersion string              `json:"knowledge_version"`
	Opportunities    []types.Opportunity `json:"opportunities"`
	Dropped          int                 `json:"dropped"`
	Filtered         int                 `json:"filtered"`
}

// projectRows is everything aggregation reads from the store.
type projectRows struct {
	search      []types.SearchResultRow
	citations   []types.CitationRow
	competitors []string
	clients     []string
	exclusions  []types.ExclusionRule
}

// handleOpportunities recomputes the opportunity list from the project's persisted rows.
func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.failure(w, r, ErrNotConfigured)
		return
	}
	projectID := r.PathValue("project_id")

	var req types.OpportunitiesRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.failure(w, r, err)
		return
	}

	runID := req.CitationRunID
	if runID == "" {
		latest, err := s.deps.Store.LatestCitationRunID(r.Context(), projectID)
		switch {
		case errors.Is(err, db.ErrNotFound):
		case err != nil:
			s.failure(w, r, err)
			return
		default:
			runID = latest
		}
	}

	rows, err := s.loadRows(r, projectID, runID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	// Request competitors extend the persisted list; they never hide a stored competitor.
	competitors := types.NewDomainSet(rows.competitors...).Union(types.NewDomainSet(req.Competitors...))

	res, err := s.service.Opportunities(r.Context(), opportunities.Input{
		SearchRows:   rows.search,
		CitationRows: opportunities.ApplyExclusionFlags(rows.citations, rows.exclusions),
		Competitors:  competitors,
		Clients:      types.NewDomainSet(rows.clients...),
		Exclusions:   rows.exclusions,
	}, opportunities.Options{IncludeNonEditorial: req.IncludeNonEditorial})
	if err != nil {
		s.failure(w, r, err)
		return
	}

	opps := res.Opportunities
	if opps == nil {
		opps = []types.Opportunity{}
	}
	s.jsonResponse(w, http.StatusOK, OpportunitiesResponse{
		ProjectID:        projectID,
		CitationRunID:    runID,
		KnowledgeVersion: s.resolver.Classifier().Knowledge().Version(),
		Opportunities:    opps,
		Dropped:          res.Dropped,
		Filtered:         res.Filtered,
	})
}

// loadRows reads the project's rows and domain lists concurrently.
func (s *Server) loadRows(r *http.Request, projectID, runID string) (projectRows, error) {
	var out projectRows
	store := s.deps.Store
	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() (err error) {
		out.search, err = store.ListSearchRows(ctx, projectID)
		return err
	})
	if runID != "" {
		g.Go(func() (err error) {
			out.citations, err = store.ListCitationRows(ctx, projectID, runID)
			return err
		})
	}
	g.Go(func() (err error) {
		out.competitors, err = store.ListCompetitors(ctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		out.clients, err = store.ListClientDomains(ctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		out.exclusions, err = store.ListExclusionRules(ctx, projectID)
		return err
	})

	if err := g.Wait(); err != nil {
		return projectRows{}, err
	}
	return out, nil
}

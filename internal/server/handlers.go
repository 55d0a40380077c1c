package server

import (
	"net/http"

	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/types"
)

// KnowledgeResponse describes the curated domain table the classifier uses.
type KnowledgeResponse struct {
	Version    string                  `json:"version"`
	Domains    int                     `json:"domains"`
	Categories []classify.CategoryInfo `json:"categories"`
}

// ClassifyResponse lists verdicts in request order. Inputs that are not hostnames or URLs are
// returned in Invalid.
type ClassifyResponse struct {
	KnowledgeVersion string                   `json:"knowledge_version"`
	Results          []types.ClassifiedDomain `json:"results"`
	Invalid          []string                 `json:"invalid,omitempty"`
}

// handleKnowledge returns the knowledge table version and categories
func (s *Server) handleKnowledge(w http.ResponseWriter, _ *http.Request) {
	k := s.resolver.Classifier().Knowledge()
	s.jsonResponse(w, http.StatusOK, KnowledgeResponse{
		Version:    k.Version(),
		Domains:    k.Len(),
		Categories: k.Categories(),
	})
}

// handleClassify classifies a batch of domains, falling back to the remote classifier for
// domains the knowledge table and heuristics cannot resolve
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req types.ClassifyRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.failure(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.failure(w, r, err)
		return
	}

	resolved := s.resolver.ResolveBatch(r.Context(), req.Domains, types.NewDomainSet(req.Competitors...))

	resp := ClassifyResponse{
		KnowledgeVersion: s.resolver.Classifier().Knowledge().Version(),
		Results:          make([]types.ClassifiedDomain, 0, len(resolved)),
	}
	seen := make(map[string]bool, len(resolved))
	for _, raw := range req.Domains {
		d := types.NormalizeDomain(raw)
		c, ok := resolved[d]
		if !ok {
			resp.Invalid = append(resp.Invalid, raw)
			continue
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		resp.Results = append(resp.Results, c)
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleEstimate returns the advisory token and cost projection of a launch
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req types.EstimateRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.failure(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.failure(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, s.costs.Estimate(req.Prompts, req.Providers, req.Queries))
}

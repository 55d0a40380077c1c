package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/visibility-gap/internal/llm"
	"github.com/jonathan/visibility-gap/internal/prompts"
	"github.com/jonathan/visibility-gap/internal/types"
)

// LLMClassifier implements BatchClassifier on top of an LLM client.
type LLMClassifier struct {
	client llm.Client
	brand  string
	niche  string
}

// NewLLMClassifier creates a remote classifier. Brand and niche are optional prompt context.
func NewLLMClassifier(client llm.Client, brand, niche string) *LLMClassifier {
	return &LLMClassifier{
		client: client,
		brand:  brand,
		niche:  niche,
	}
}

// BatchClassifyDomains asks the model for a type per domain. Domains the model skipped or
// labeled with something unrecognizable come back as unknown.
func (c *LLMClassifier) BatchClassifyDomains(ctx context.Context, domains []string) ([]RemoteResult, error) {
	if c.client == nil {
		return nil, &ClassificationError{Message: "LLM client is required"}
	}
	if len(domains) == 0 {
		return []RemoteResult{}, nil
	}

	responseText, err := c.client.Complete(ctx, llm.Request{Prompt: c.buildPrompt(domains), JSON: true})
	if err != nil {
		return nil, &ClassificationError{
			Message: "failed to generate content from LLM",
			Cause:   err,
		}
	}

	results, err := parseRemoteResponse(responseText, domains)
	if err != nil {
		return nil, &ClassificationError{
			Message: "failed to parse classification response",
			Cause:   err,
		}
	}
	return results, nil
}

func (c *LLMClassifier) buildPrompt(domains []string) string {
	prompt := prompts.MustRender("classify.json", "classify-domains", map[string]string{
		"Domains": strings.Join(domains, "\n"),
	})
	if c.brand != "" || c.niche != "" {
		prompt += "\n\n" + prompts.MustRender("classify.json", "classify-domains-context", map[string]string{
			"Brand": c.brand,
			"Niche": c.niche,
		})
	}
	return prompt
}

type llmDomainLabel struct {
	Domain           string `json:"domain"`
	DomainType       string `json:"domain_type"`
	AcceptsSponsored *bool  `json:"accepts_sponsored"`
}

// parseRemoteResponse returns one result per requested domain, in request order.
func parseRemoteResponse(responseText string, requested []string) ([]RemoteResult, error) {
	var labels []llmDomainLabel
	if err := json.Unmarshal([]byte(llm.ExtractJSON(responseText)), &labels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal classification JSON: %w", err)
	}

	byDomain := make(map[string]llmDomainLabel, len(labels))
	for _, l := range labels {
		if d := types.NormalizeDomain(l.Domain); d != "" {
			byDomain[d] = l
		}
	}

	results := make([]RemoteResult, 0, len(requested))
	for _, raw := range requested {
		d := types.NormalizeDomain(raw)
		res := RemoteResult{Domain: d, DomainType: types.DomainUnknown}
		if l, ok := byDomain[d]; ok {
			res.DomainType = types.ParseDomainType(l.DomainType)
			res.AcceptsSponsored = l.AcceptsSponsored
		}
		results = append(results, res)
	}
	return results, nil
}

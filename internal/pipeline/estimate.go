package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ProviderRate is the unit cost of probing one generative engine with one prompt.
type ProviderRate struct {
	InputTokensPerPrompt  int     `json:"input_tokens_per_prompt"`
	OutputTokensPerPrompt int     `json:"output_tokens_per_prompt"`
	InputPerMTok          float64 `json:"input_per_mtok"`
	OutputPerMTok         float64 `json:"output_per_mtok"`
}

func (r ProviderRate) costFor(prompts int) (tokens int, usd float64) {
	in := prompts * r.InputTokensPerPrompt
	out := prompts * r.OutputTokensPerPrompt
	usd = float64(in)/1e6*r.InputPerMTok + float64(out)/1e6*r.OutputPerMTok
	return in + out, usd
}

// CostTable holds the static unit costs used for advisory estimates.
type CostTable struct {
	Providers      map[string]ProviderRate `json:"providers"`
	DefaultRate    ProviderRate            `json:"default_rate"`
	SearchPerQuery float64                 `json:"search_per_query"`
	// SearchTokensPerQuery covers classification of the domains a query returns.
	SearchTokensPerQuery int `json:"search_tokens_per_query"`
}

// DefaultCostTable returns the built-in unit costs (USD).
func DefaultCostTable() CostTable {
	return CostTable{
		Providers: map[string]ProviderRate{
			"openai":     {InputTokensPerPrompt: 350, OutputTokensPerPrompt: 900, InputPerMTok: 2.50, OutputPerMTok: 10.00},
			"gemini":     {InputTokensPerPrompt: 350, OutputTokensPerPrompt: 900, InputPerMTok: 0.30, OutputPerMTok: 2.50},
			"perplexity": {InputTokensPerPrompt: 350, OutputTokensPerPrompt: 700, InputPerMTok: 1.00, OutputPerMTok: 1.00},
			"claude":     {InputTokensPerPrompt: 350, OutputTokensPerPrompt: 900, InputPerMTok: 3.00, OutputPerMTok: 15.00},
			"copilot":    {InputTokensPerPrompt: 350, OutputTokensPerPrompt: 800, InputPerMTok: 2.50, OutputPerMTok: 10.00},
		},
		DefaultRate:          ProviderRate{InputTokensPerPrompt: 350, OutputTokensPerPrompt: 900, InputPerMTok: 3.00, OutputPerMTok: 15.00},
		SearchPerQuery:       0.002,
		SearchTokensPerQuery: 1500,
	}
}

// Merge returns a copy of t with the given provider rates added or replaced.
func (t CostTable) Merge(overrides map[string]ProviderRate) CostTable {
	merged := make(map[string]ProviderRate, len(t.Providers)+len(overrides))
	for k, v := range t.Providers {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[strings.ToLower(strings.TrimSpace(k))] = v
	}
	t.Providers = merged
	return t
}

// ProviderEstimate is the citation-phase share of one provider.
type ProviderEstimate struct {
	Provider string  `json:"provider"`
	Calls    int     `json:"calls"`
	Tokens   int     `json:"tokens"`
	CostUSD  float64 `json:"cost_usd"`
	Default  bool    `json:"default_rate,omitempty"`
}

// Estimate is an advisory token and cost projection for a launch. It never gates a launch.
type Estimate struct {
	Queries         int                `json:"queries"`
	SearchTokens    int                `json:"search_tokens"`
	SearchCostUSD   float64            `json:"search_cost_usd"`
	Prompts         int                `json:"prompts"`
	Providers       []ProviderEstimate `json:"providers"`
	CitationTokens  int                `json:"citation_tokens"`
	CitationCostUSD float64            `json:"citation_cost_usd"`
	TotalTokens     int                `json:"total_tokens"`
	TotalCostUSD    float64            `json:"total_cost_usd"`
	Warnings        []string           `json:"warnings,omitempty"`
}

// Estimate projects the cost of probing prompts x providers in the citation phase and running
// queries in the search phase. Negative counts are treated as zero.
func (t CostTable) Estimate(prompts int, providers []string, queries int) Estimate {
	prompts = max(prompts, 0)
	queries = max(queries, 0)

	e := Estimate{
		Queries:       queries,
		Prompts:       prompts,
		SearchTokens:  queries * t.SearchTokensPerQuery,
		SearchCostUSD: roundUSD(float64(queries) * t.SearchPerQuery),
		Providers:     []ProviderEstimate{},
	}

	seen := make(map[string]bool)
	var names []string
	for _, p := range providers {
		name := strings.ToLower(strings.TrimSpace(p))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rate, ok := t.Providers[name]
		if !ok {
			rate = t.DefaultRate
			e.Warnings = append(e.Warnings, fmt.Sprintf("no unit cost for provider %q, using default rate", name))
		}
		tokens, usd := rate.costFor(prompts)
		e.Providers = append(e.Providers, ProviderEstimate{
			Provider: name,
			Calls:    prompts,
			Tokens:   tokens,
			CostUSD:  roundUSD(usd),
			Default:  !ok,
		})
		e.CitationTokens += tokens
		e.CitationCostUSD += usd
	}
	e.CitationCostUSD = roundUSD(e.CitationCostUSD)

	if prompts > 0 && len(names) == 0 {
		e.Warnings = append(e.Warnings, "no providers selected, citation phase will not probe any engine")
	}

	e.TotalTokens = e.SearchTokens + e.CitationTokens
	e.TotalCostUSD = roundUSD(e.SearchCostUSD + e.CitationCostUSD)
	return e
}

func roundUSD(v float64) float64 {
	return math.Round(v*10000) / 10000
}

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate_KnownProviders(t *testing.T) {
	e := DefaultCostTable().Estimate(10, []string{"OpenAI", "gemini", "openai"}, 20)

	assert.Equal(t, 10, e.Prompts)
	assert.Equal(t, 20, e.Queries)
	assert.Equal(t, 30000, e.SearchTokens)
	assert.InDelta(t, 0.04, e.SearchCostUSD, 1e-9)

	require.Len(t, e.Providers, 2)
	assert.Equal(t, "gemini", e.Providers[0].Provider)
	assert.Equal(t, "openai", e.Providers[1].Provider)

	openai := e.Providers[1]
	assert.Equal(t, 10, openai.Calls)
	assert.Equal(t, 12500, openai.Tokens)
	assert.InDelta(t, 0.09875, openai.CostUSD, 1e-4)
	assert.False(t, openai.Default)

	assert.Equal(t, 25000, e.CitationTokens)
	assert.Equal(t, e.SearchTokens+e.CitationTokens, e.TotalTokens)
	assert.InDelta(t, e.SearchCostUSD+e.CitationCostUSD, e.TotalCostUSD, 1e-4)
	assert.Empty(t, e.Warnings)
}

func TestEstimate_UnknownProviderUsesDefaultRate(t *testing.T) {
	table := DefaultCostTable()
	e := table.Estimate(4, []string{"mistral"}, 0)

	require.Len(t, e.Providers, 1)
	assert.True(t, e.Providers[0].Default)
	tokens, _ := table.DefaultRate.costFor(4)
	assert.Equal(t, tokens, e.Providers[0].Tokens)
	require.Len(t, e.Warnings, 1)
	assert.Contains(t, e.Warnings[0], "mistral")
}

func TestEstimate_EdgeCases(t *testing.T) {
	table := DefaultCostTable()

	e := table.Estimate(-3, nil, -1)
	assert.Equal(t, 0, e.Prompts)
	assert.Equal(t, 0, e.Queries)
	assert.Equal(t, 0, e.TotalTokens)
	assert.Zero(t, e.TotalCostUSD)
	assert.NotNil(t, e.Providers)
	assert.Empty(t, e.Warnings)

	e = table.Estimate(5, []string{" ", ""}, 0)
	assert.Empty(t, e.Providers)
	require.Len(t, e.Warnings, 1)
	assert.Contains(t, e.Warnings[0], "no providers")
}

func TestCostTable_Merge(t *testing.T) {
	base := DefaultCostTable()
	merged := base.Merge(map[string]ProviderRate{
		" Mistral ": {InputTokensPerPrompt: 100, OutputTokensPerPrompt: 100, InputPerMTok: 1, OutputPerMTok: 1},
	})

	_, ok := merged.Providers["mistral"]
	assert.True(t, ok)
	_, ok = base.Providers["mistral"]
	assert.False(t, ok, "merge must not mutate the receiver")

	e := merged.Estimate(1000, []string{"mistral"}, 0)
	require.Len(t, e.Providers, 1)
	assert.False(t, e.Providers[0].Default)
	assert.Equal(t, 200000, e.Providers[0].Tokens)
	assert.InDelta(t, 0.2, e.Providers[0].CostUSD, 1e-9)
}

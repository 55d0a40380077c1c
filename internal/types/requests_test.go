package types

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchRequest_Validate(t *testing.T) {
	ok := LaunchRequest{NicheID: "n-1", Queries: []string{"mejor cuenta remunerada"}}
	assert.NoError(t, ok.Validate())

	tests := []struct {
		name  string
		req   LaunchRequest
		field string
	}{
		{"missing niche", LaunchRequest{Queries: []string{"q"}}, "NicheID"},
		{"no queries", LaunchRequest{NicheID: "n-1"}, "Queries"},
		{"blank query", LaunchRequest{NicheID: "n-1", Queries: []string{"q", ""}}, "Queries[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var verrs validator.ValidationErrors
			require.True(t, errors.As(tt.req.Validate(), &verrs))
			assert.Equal(t, tt.field, verrs[0].Field())
		})
	}
}

func TestPhaseLaunchRequest_Validate(t *testing.T) {
	assert.NoError(t, (&PhaseLaunchRequest{}).Validate())
	assert.Error(t, (&PhaseLaunchRequest{Queries: []string{""}}).Validate())
}

func TestEstimateRequest_Validate(t *testing.T) {
	assert.NoError(t, (&EstimateRequest{Prompts: 20, Providers: []string{"openai"}, Queries: 5}).Validate())
	assert.Error(t, (&EstimateRequest{Prompts: -1}).Validate())
	assert.Error(t, (&EstimateRequest{Providers: []string{""}}).Validate())
}

func TestClassifyRequest_Validate(t *testing.T) {
	assert.NoError(t, (&ClassifyRequest{Domains: []string{"xataka.com"}}).Validate())
	assert.Error(t, (&ClassifyRequest{}).Validate())

	tooMany := make([]string, 501)
	for i := range tooMany {
		tooMany[i] = "d.example"
	}
	assert.Error(t, (&ClassifyRequest{Domains: tooMany}).Validate())
}

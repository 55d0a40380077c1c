package opportunities

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/types"
)

type fakeValidator struct {
	valid []string
	err   error
	asked []string
}

func (f *fakeValidator) ValidateURLs(_ context.Context, urls []string) ([]string, error) {
	f.asked = append(f.asked, urls...)
	return f.valid, f.err
}

type fakeRemote struct {
	answers map[string]types.DomainType
	asked   []string
}

func (f *fakeRemote) BatchClassifyDomains(_ context.Context, domains []string) ([]classify.RemoteResult, error) {
	f.asked = append(f.asked, domains...)
	var out []classify.RemoteResult
	for _, d := range domains {
		if dt, ok := f.answers[d]; ok {
			out = append(out, classify.RemoteResult{Domain: d, DomainType: dt})
		}
	}
	return out, nil
}

func TestIsArticleURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://elpais.com/economia/articulo.html", true},
		{"http://elpais.com/a", true},
		{"https://elpais.com/", false},
		{"https://elpais.com", false},
		{"https://elpais.com//", false},
		{"ftp://elpais.com/a", false},
		{"/relative/path", false},
		{"", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsArticleURL(tt.url), tt.url)
	}
}

func TestCandidateCitationURLs(t *testing.T) {
	in := Input{
		CitationRows: []types.CitationRow{
			{Domain: "a-media.net", Count: 1, URLs: []string{"https://a-media.net/1", "https://a-media.net/", "https://a-media.net/1"}},
			{Domain: "b-media.net", Count: 1, URLs: []string{"https://b-media.net/1"}},
			{Domain: "c-media.net", Count: 1, URLs: []string{"https://c-media.net/1"}, IsExcluded: true},
			{Domain: "d-media.net", Count: 1, URLs: []string{"https://d-media.net/1"}},
		},
		SearchRows: []types.SearchResultRow{
			{Domain: "b-media.net", URL: "https://b-media.net/ranking", Position: 1},
		},
		Exclusions: []types.ExclusionRule{{Domain: "d-media.net"}},
	}

	assert.Equal(t, []string{"https://a-media.net/1"}, CandidateCitationURLs(in))
}

func TestApplyExclusionFlags(t *testing.T) {
	rows := []types.CitationRow{{Domain: "a-media.net"}, {Domain: "blog.b-media.net"}}
	out := ApplyExclusionFlags(rows, []types.ExclusionRule{{Domain: "b-media.net", MatchSubdomains: true}})

	assert.False(t, out[0].IsExcluded)
	assert.True(t, out[1].IsExcluded)
	assert.False(t, rows[1].IsExcluded, "input untouched")
}

func TestService_Opportunities(t *testing.T) {
	remote := &fakeRemote{answers: map[string]types.DomainType{
		"acme-widgets.io": types.DomainCorporate,
		"lectores.net":    types.DomainEditorial,
	}}
	validator := &fakeValidator{valid: []string{"https://lectores.net/guia", "https://unasked.net/x"}}
	svc := NewService(classify.NewResolver(nil, classify.WithRemote(remote)), validator, zerolog.Nop())

	in := Input{
		Clients: types.NewDomainSet("mi-marca.com"),
		CitationRows: []types.CitationRow{
			{Domain: "lectores.net", Count: 4, URLs: []string{"https://lectores.net/guia"}},
			{Domain: "acme-widgets.io", Count: 9, URLs: []string{"https://acme-widgets.io/blog/x"}},
			{Domain: "mi-marca.com", Count: 9},
		},
		SearchRows: []types.SearchResultRow{
			{Domain: "elpais.com", URL: "https://elpais.com/x", Position: 2},
		},
	}

	res, err := svc.Opportunities(context.Background(), in, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"lectores.net", "elpais.com"}, domains(res.Opportunities))

	lectores := res.Opportunities[0]
	assert.Equal(t, types.ProvenanceRemote, lectores.Provenance)
	assert.Equal(t, "https://lectores.net/guia", lectores.BestURL)

	assert.ElementsMatch(t, []string{"lectores.net", "acme-widgets.io"}, remote.asked, "clients and static hits are not sent remotely")
	assert.ElementsMatch(t, []string{"https://lectores.net/guia", "https://acme-widgets.io/blog/x"}, validator.asked)
}

func TestService_ValidatorFailureHidesCitationURLs(t *testing.T) {
	validator := &fakeValidator{err: errors.New("validator down")}
	svc := NewService(nil, validator, zerolog.Nop())

	in := Input{CitationRows: []types.CitationRow{
		{Domain: "a-media.net", Count: 1, URLs: []string{"https://a-media.net/1"}},
	}}

	res, err := svc.Opportunities(context.Background(), in, Options{})
	require.NoError(t, err)
	require.Len(t, res.Opportunities, 1)
	assert.Empty(t, res.Opportunities[0].BestURL)
}

func TestService_NoValidator(t *testing.T) {
	svc := NewService(nil, nil, zerolog.Nop())
	in := Input{CitationRows: []types.CitationRow{
		{Domain: "a-media.net", Count: 1, URLs: []string{"https://a-media.net/1"}},
	}}

	res, err := svc.Opportunities(context.Background(), in, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Opportunities[0].BestURL)
}

func TestService_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewService(nil, nil, zerolog.Nop()).Opportunities(ctx, Input{}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

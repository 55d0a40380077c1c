package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/visibility-gap/internal/types"
)

func TestClassify_ExactMatch(t *testing.T) {
	c := New(nil)

	got := c.Classify("elpais.com", nil)
	assert.Equal(t, types.DomainEditorial, got.DomainType)
	assert.Equal(t, "medio", got.Category)
	assert.Equal(t, types.ProvenanceStatic, got.Provenance)
	assert.Equal(t, "exact", got.Rule)
	require.NotNil(t, got.AcceptsSponsored)
	assert.True(t, *got.AcceptsSponsored)
}

func TestClassify_NormalizesInput(t *testing.T) {
	c := New(nil)

	got := c.Classify("https://WWW.ElPais.com/economia/2026/articulo.html", nil)
	assert.Equal(t, "elpais.com", got.Domain)
	assert.Equal(t, types.DomainEditorial, got.DomainType)
}

func TestClassify_SubdomainFolding(t *testing.T) {
	c := New(nil)

	got := c.Classify("cincodias.elpais.com", nil)
	assert.Equal(t, types.DomainEditorial, got.DomainType)
	assert.Equal(t, "parent:elpais.com", got.Rule)
	assert.Equal(t, "cincodias.elpais.com", got.Domain)

	deep := c.Classify("a.b.xataka.com", nil)
	assert.Equal(t, types.DomainEditorial, deep.DomainType)
	assert.Equal(t, "parent:xataka.com", deep.Rule)

	uk := c.Classify("news.bbc.co.uk", nil)
	assert.Equal(t, types.DomainEditorial, uk.DomainType)
	assert.Equal(t, "parent:bbc.co.uk", uk.Rule)
}

func TestClassify_FoldingPrefersNearestParent(t *testing.T) {
	c := New(nil)

	got := c.Classify("data.ecb.europa.eu", nil)
	assert.Equal(t, "parent:ecb.europa.eu", got.Rule)
	assert.Equal(t, types.DomainInstitutional, got.DomainType)
}

func TestClassify_EveryCuratedDomainSurvivesOneExtraLabel(t *testing.T) {
	c := New(nil)
	k := c.Knowledge()

	for _, dt := range types.AllDomainTypes() {
		for _, d := range k.Domains(dt) {
			assert.Equal(t, dt, c.Classify(d, nil).DomainType, d)
			assert.Equal(t, dt, c.Classify("sub."+d, nil).DomainType, "sub."+d)
		}
	}
}

func TestClassify_Heuristics(t *testing.T) {
	c := New(nil)

	tests := []struct {
		domain   string
		wantType types.DomainType
		wantRule string
	}{
		{"tramites.gob.mx", types.DomainInstitutional, "suffix:gob"},
		{"sede.hacienda.gob.es", types.DomainInstitutional, "suffix:gob"},
		{"energy.gov", types.DomainInstitutional, "suffix:gov"},
		{"harvard.edu", types.DomainInstitutional, "suffix:edu"},
		{"es.wikipedia.org", types.DomainUGC, "token:wikipedia"},
		{"forum.example.com", types.DomainUGC, "token:forum"},
		{"comunidadfinanciera.es", types.DomainUGC, "token:forum"},
		{"mibanco.pe", types.DomainCompetitor, "token:bank"},
		{"blogdelujo.com", types.DomainEditorial, "prefix:editorial"},
		{"noticiasdehoy.es", types.DomainEditorial, "prefix:editorial"},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			got := c.Classify(tt.domain, nil)
			assert.Equal(t, tt.wantType, got.DomainType)
			assert.Equal(t, tt.wantRule, got.Rule)
			assert.Equal(t, types.ProvenanceStatic, got.Provenance)
			assert.Nil(t, got.AcceptsSponsored, "heuristics never decide sponsorship")
		})
	}
}

func TestClassify_External(t *testing.T) {
	c := New(nil)
	ext := &External{DomainType: types.DomainCorporate, AcceptsSponsored: types.Bool(false)}

	got := c.Classify("acme-widgets.io", ext)
	assert.Equal(t, types.DomainCorporate, got.DomainType)
	assert.Equal(t, types.ProvenanceRemote, got.Provenance)
	require.NotNil(t, got.AcceptsSponsored)
	assert.False(t, *got.AcceptsSponsored)
}

func TestClassify_StaticBeatsExternal(t *testing.T) {
	c := New(nil)
	ext := &External{DomainType: types.DomainCorporate}

	got := c.Classify("elpais.com", ext)
	assert.Equal(t, types.DomainEditorial, got.DomainType)
	assert.Equal(t, types.ProvenanceStatic, got.Provenance)

	heur := c.Classify("es.wikipedia.org", ext)
	assert.Equal(t, types.DomainUGC, heur.DomainType)
}

func TestClassify_Unknown(t *testing.T) {
	c := New(nil)

	got := c.Classify("acme-widgets.io", nil)
	assert.Equal(t, types.DomainUnknown, got.DomainType)
	assert.Equal(t, types.ProvenanceNone, got.Provenance)
	assert.Nil(t, got.AcceptsSponsored)
	assert.True(t, got.NeedsClassification())

	unknownExt := c.Classify("acme-widgets.io", &External{DomainType: types.DomainUnknown})
	assert.Equal(t, types.ProvenanceNone, unknownExt.Provenance)

	invalidExt := c.Classify("acme-widgets.io", &External{DomainType: "spaceship"})
	assert.Equal(t, types.DomainUnknown, invalidExt.DomainType)
}

func TestClassify_InvalidInputNeverPanics(t *testing.T) {
	c := New(nil)

	for _, in := range []string{"", "   ", "localhost", "..", "http://"} {
		got := c.Classify(in, nil)
		assert.Equal(t, types.DomainUnknown, got.DomainType, in)
		assert.Equal(t, "", got.Domain, in)
	}
}

func TestIsStaticallyResolved(t *testing.T) {
	c := New(nil)
	assert.True(t, c.IsStaticallyResolved("bbva.es"))
	assert.True(t, c.IsStaticallyResolved("blogdelujo.com"))
	assert.False(t, c.IsStaticallyResolved("acme-widgets.io"))
}

func TestNew_CustomKnowledge(t *testing.T) {
	k, err := NewKnowledge("test", map[types.DomainType][]Seed{
		types.DomainEditorial: {{Domain: "acme-widgets.io", Category: "nicho"}},
	})
	require.NoError(t, err)

	got := New(k).Classify("shop.acme-widgets.io", nil)
	assert.Equal(t, types.DomainEditorial, got.DomainType)
	assert.Equal(t, "nicho", got.Category)
}

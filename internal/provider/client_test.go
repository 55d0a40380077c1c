package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/visibility-gap/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, append([]Option{WithAPIKey("secret")}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient("not a url")
	require.Error(t, err)

	var perr *Error
	assert.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "invalid base URL")
}

func TestCreateJobs(t *testing.T) {
	var bodies []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		switch r.URL.Path {
		case "/projects/p1/search-jobs":
			_, _ = w.Write([]byte(`{"job_id":"s-1"}`))
		case "/projects/p1/citation-jobs":
			_, _ = w.Write([]byte(`{"job_id":"c-1","run_id":"run-9"}`))
		case "/projects/p1/gap-jobs":
			_, _ = w.Write([]byte(`{"job_id":"g-1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	job, err := c.CreateSearchJob(ctx, "p1", []string{"hipoteca fija"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", job.ID)

	job, err = c.CreateCitationJob(ctx, "p1", "banca")
	require.NoError(t, err)
	assert.Equal(t, "c-1", job.ID)
	assert.Equal(t, "run-9", job.RunID)

	job, err = c.CreateGapJob(ctx, "p1", "run-9")
	require.NoError(t, err)
	assert.Equal(t, "g-1", job.ID)

	require.Len(t, bodies, 3)
	assert.Equal(t, []any{"hipoteca fija"}, bodies[0]["queries"])
	assert.Equal(t, "banca", bodies[1]["niche_id"])
	assert.Equal(t, "run-9", bodies[2]["citation_run_id"])
}

func TestCreateJob_MissingJobID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.CreateSearchJob(context.Background(), "p1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no job_id")
}

func TestGetJobStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/jobs/ext-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"running","progress":0.4,"step_info":"probing gemini"}`))
	})

	report, err := c.GetJobStatus(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "running", report.Status)
	assert.Equal(t, 0.4, report.Progress)
	assert.Equal(t, "probing gemini", report.StepInfo)
}

func TestFetchSearchResults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p1/search-results", r.URL.Path)
		assert.Equal(t, "cuenta nomina", r.URL.Query().Get("query"))
		_, _ = w.Write([]byte(`{"rows":[{"domain":"rankia.com","url":"https://rankia.com/a","title":"A","position":2}]}`))
	})

	rows, err := c.FetchSearchResults(context.Background(), "p1", "cuenta nomina")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.SearchResultRow{Domain: "rankia.com", URL: "https://rankia.com/a", Title: "A", Position: 2}, rows[0])
}

func TestGetCitationMetrics(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/citation-runs/run-9/metrics", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"brands":[{"name":"BBVA","mentions":12,"share_of_voice":0.3}],
			"top_cited_domains":[{"domain":"xataka.com","urls":["https://xataka.com/x"],"count":4,"providers":["openai"],"is_excluded":false}]
		}`))
	})

	metrics, err := c.GetCitationMetrics(context.Background(), "run-9")
	require.NoError(t, err)
	assert.Equal(t, "run-9", metrics.RunID)
	require.Len(t, metrics.Brands, 1)
	assert.Equal(t, 12, metrics.Brands[0].Mentions)
	require.Len(t, metrics.TopCitedDomains, 1)
	assert.Equal(t, "xataka.com", metrics.TopCitedDomains[0].Domain)
	assert.Equal(t, 4, metrics.TopCitedDomains[0].Count)
}

func TestBatchClassifyDomains(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classify-domains", r.URL.Path)
		_, _ = w.Write([]byte(`{"results":[
			{"domain":"WWW.Blog-Finanzas.es","domain_type":"editorial","accepts_sponsored":true},
			{"domain":"foro.example","domain_type":"nonsense"},
			{"domain":"","domain_type":"ugc"}
		]}`))
	})

	results, err := c.BatchClassifyDomains(context.Background(), []string{"blog-finanzas.es", "foro.example"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "blog-finanzas.es", results[0].Domain)
	assert.Equal(t, types.DomainEditorial, results[0].DomainType)
	require.NotNil(t, results[0].AcceptsSponsored)
	assert.True(t, *results[0].AcceptsSponsored)
	assert.Equal(t, types.DomainUnknown, results[1].DomainType)

	empty, err := c.BatchClassifyDomains(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestValidateURLs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URLs []string `json:"urls"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.URLs, 2)
		_, _ = w.Write([]byte(`{"valid":["https://a.com/post"]}`))
	})

	valid, err := c.ValidateURLs(context.Background(), []string{"https://a.com/post", "https://b.com/hallucinated"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.com/post"}, valid)
}

func TestErrorResponses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jobs/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"job not found"}`))
		case "/jobs/broken":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream crashed"))
		case "/jobs/garbage":
			_, _ = w.Write([]byte("not json"))
		}
	})
	ctx := context.Background()

	_, err := c.GetJobStatus(ctx, "missing")
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusNotFound, perr.StatusCode)
	assert.Equal(t, "job not found", perr.Message)
	assert.False(t, perr.Temporary())

	_, err = c.GetJobStatus(ctx, "broken")
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
	assert.Equal(t, "upstream crashed", perr.Message)
	assert.True(t, perr.Temporary())

	_, err = c.GetJobStatus(ctx, "garbage")
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "decode")
}

func TestCircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	var healthy atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/jobs/absent" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"completed","progress":1}`))
	}, WithBreaker(BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: 50 * time.Millisecond}))
	ctx := context.Background()

	// Client errors never open the breaker.
	for i := 0; i < 3; i++ {
		_, err := c.GetJobStatus(ctx, "absent")
		require.Error(t, err)
	}
	assert.Equal(t, "closed", c.BreakerState())

	for i := 0; i < 2; i++ {
		_, err := c.GetJobStatus(ctx, "x")
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.BreakerState())

	before := calls.Load()
	_, err := c.GetJobStatus(ctx, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, before, calls.Load(), "open breaker must not call upstream")

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Temporary())

	healthy.Store(true)
	time.Sleep(80 * time.Millisecond)
	report, err := c.GetJobStatus(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "completed", report.Status)
	assert.Equal(t, "closed", c.BreakerState())
}

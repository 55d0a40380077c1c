// Package provider is the HTTP client for the upstream visibility API: search, citation and gap
// jobs, the shared job status endpoint, citation metrics, remote domain classification and URL
// validation. Every call goes through one circuit breaker.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/pipeline"
	"github.com/jonathan/visibility-gap/internal/types"
)

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 30 * time.Second

// maxErrorBody bounds how much of an error response is kept in Error.Message.
const maxErrorBody = 512

// Client talks to the upstream visibility API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// BreakerSettings tunes the circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker once exceeded.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before letting probe requests through.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings returns the breaker settings used when none are given.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// WithBreaker sets the circuit breaker thresholds.
func WithBreaker(s BreakerSettings) Option {
	return func(c *Client) { c.cb = newBreaker(s, &c.logger) }
}

func newBreaker(s BreakerSettings, logger *zerolog.Logger) *gobreaker.CircuitBreaker {
	d := DefaultBreakerSettings()
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = d.ConsecutiveFailures
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = d.OpenTimeout
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "visibility-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			_, rejected := err.(*clientError)
			return err == nil || rejected
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &Error{Op: "configure", Message: fmt.Sprintf("invalid base URL %q", baseURL), Cause: err}
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cb == nil {
		c.cb = newBreaker(DefaultBreakerSettings(), &c.logger)
	}
	return c, nil
}

// BreakerState returns the circuit breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

type createJobResponse struct {
	JobID string `json:"job_id"`
	RunID string `json:"run_id,omitempty"`
}

func (r createJobResponse) external(op string) (pipeline.ExternalJob, error) {
	if r.JobID == "" {
		return pipeline.ExternalJob{}, &Error{Op: op, Message: "response carries no job_id"}
	}
	return pipeline.ExternalJob{ID: r.JobID, RunID: r.RunID}, nil
}

// CreateSearchJob starts a search phase for the given queries.
func (c *Client) CreateSearchJob(ctx context.Context, projectID string, queries []string) (pipeline.ExternalJob, error) {
	var resp createJobResponse
	body := map[string]any{"queries": queries}
	if err := c.do(ctx, "create search job", http.MethodPost, c.projectPath(projectID, "search-jobs"), body, &resp); err != nil {
		return pipeline.ExternalJob{}, err
	}
	return resp.external("create search job")
}

// CreateCitationJob starts a citation phase for a niche.
func (c *Client) CreateCitationJob(ctx context.Context, projectID, nicheID string) (pipeline.ExternalJob, error) {
	var resp createJobResponse
	body := map[string]any{"niche_id": nicheID}
	if err := c.do(ctx, "create citation job", http.MethodPost, c.projectPath(projectID, "citation-jobs"), body, &resp); err != nil {
		return pipeline.ExternalJob{}, err
	}
	return resp.external("create citation job")
}

// CreateGapJob starts a gap phase over a completed citation run.
func (c *Client) CreateGapJob(ctx context.Context, projectID, citationRunID string) (pipeline.ExternalJob, error) {
	var resp createJobResponse
	body := map[string]any{"citation_run_id": citationRunID}
	if err := c.do(ctx, "create gap job", http.MethodPost, c.projectPath(projectID, "gap-jobs"), body, &resp); err != nil {
		return pipeline.ExternalJob{}, err
	}
	return resp.external("create gap job")
}

// GetJobStatus returns the status of any upstream job. Polling has no side effects upstream.
func (c *Client) GetJobStatus(ctx context.Context, externalJobID string) (types.JobStatusReport, error) {
	var report types.JobStatusReport
	path := "/jobs/" + url.PathEscape(externalJobID)
	if err := c.do(ctx, "get job status", http.MethodGet, path, nil, &report); err != nil {
		return types.JobStatusReport{}, err
	}
	return report, nil
}

// FetchSearchResults returns the ranked rows of a project's search phase. An empty query returns
// the rows of every query.
func (c *Client) FetchSearchResults(ctx context.Context, projectID, query string) ([]types.SearchResultRow, error) {
	path := c.projectPath(projectID, "search-results")
	if query != "" {
		path += "?" + url.Values{"query": {query}}.Encode()
	}
	var resp struct {
		Rows []types.SearchResultRow `json:"rows"`
	}
	if err := c.do(ctx, "fetch search results", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Rows == nil {
		resp.Rows = []types.SearchResultRow{}
	}
	return resp.Rows, nil
}

// GetCitationMetrics returns the brands and most cited domains of a completed citation run.
func (c *Client) GetCitationMetrics(ctx context.Context, runID string) (types.CitationMetrics, error) {
	var metrics types.CitationMetrics
	path := "/citation-runs/" + url.PathEscape(runID) + "/metrics"
	if err := c.do(ctx, "get citation metrics", http.MethodGet, path, nil, &metrics); err != nil {
		return types.CitationMetrics{}, err
	}
	if metrics.RunID == "" {
		metrics.RunID = runID
	}
	return metrics, nil
}

// BatchClassifyDomains asks the remote classifier about domains the static rules left unknown.
func (c *Client) BatchClassifyDomains(ctx context.Context, domains []string) ([]classify.RemoteResult, error) {
	if len(domains) == 0 {
		return []classify.RemoteResult{}, nil
	}
	var resp struct {
		Results []struct {
			Domain           string `json:"domain"`
			DomainType       string `json:"domain_type"`
			AcceptsSponsored *bool  `json:"accepts_sponsored"`
		} `json:"results"`
	}
	if err := c.do(ctx, "classify domains", http.MethodPost, "/classify-domains", map[string]any{"domains": domains}, &resp); err != nil {
		return nil, err
	}

	out := make([]classify.RemoteResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		domain := types.NormalizeDomain(r.Domain)
		if domain == "" {
			continue
		}
		out = append(out, classify.RemoteResult{
			Domain:           domain,
			DomainType:       types.ParseDomainType(r.DomainType),
			AcceptsSponsored: r.AcceptsSponsored,
		})
	}
	return out, nil
}

// ValidateURLs returns the subset of urls the link validator considers live and not hallucinated.
func (c *Client) ValidateURLs(ctx context.Context, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return []string{}, nil
	}
	var resp struct {
		Valid []string `json:"valid"`
	}
	if err := c.do(ctx, "validate urls", http.MethodPost, "/validate-urls", map[string]any{"urls": urls}, &resp); err != nil {
		return nil, err
	}
	if resp.Valid == nil {
		resp.Valid = []string{}
	}
	return resp.Valid, nil
}

func (c *Client) projectPath(projectID, resource string) string {
	return "/projects/" + url.PathEscape(projectID) + "/" + resource
}

// do sends one JSON request through the breaker and decodes the answer into out.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Message: "failed to encode request", Cause: err}
		}
	}

	respBody, err := c.cb.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, op, method, path, payload)
	})
	if err != nil {
		var ce *clientError
		switch {
		case asClientError(err, &ce):
			return ce.err
		case isBreakerRejection(err):
			return &Error{Op: op, Message: "upstream unavailable", Cause: ErrCircuitOpen}
		}
		c.logger.Warn().Err(err).Str("op", op).Str("breaker", c.cb.State().String()).Msg("provider call failed")
		return err
	}

	if out == nil {
		return nil
	}
	data, _ := respBody.([]byte)
	if len(bytes.TrimSpace(data)) == 0 {
		return &Error{Op: op, Message: "empty response body"}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &clientError{err: &Error{Op: op, Message: "failed to create request", Cause: err}}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; that says nothing about upstream health.
			return nil, &clientError{err: &Error{Op: op, Message: "request canceled", Cause: ctx.Err()}}
		}
		return nil, &Error{Op: op, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: "failed to read response body", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &Error{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
		if tripsBreaker(resp.StatusCode) {
			return nil, perr
		}
		return nil, &clientError{err: perr}
	}
	return data, nil
}

// errorMessage extracts {"error": "..."} or {"message": "..."} from an error body, falling back to
// the raw (truncated) body or the status line.
func errorMessage(body []byte, status string) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return status
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return text
}

func asClientError(err error, target **clientError) bool {
	ce, ok := err.(*clientError)
	if ok {
		*target = ce
	}
	return ok
}

// Package server provides the HTTP REST API for the visibility gap analysis.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/jonathan/visibility-gap/internal/classify"
	"github.com/jonathan/visibility-gap/internal/opportunities"
	"github.com/jonathan/visibility-gap/internal/pipeline"
	"github.com/jonathan/visibility-gap/internal/server/middleware"
	"github.com/jonathan/visibility-gap/internal/server/ratelimit"
	"github.com/jonathan/visibility-gap/internal/types"
)

// maxBodyBytes bounds request bodies; row payloads are the largest.
const maxBodyBytes = 8 << 20

// Store is the persistence the API reads project data from.
type Store interface {
	pipeline.PriorRuns
	ListJobs(ctx context.Context, projectID string) ([]types.AnalysisJob, error)
	LatestCitationRunID(ctx context.Context, projectID string) (string, error)
	ListSearchRows(ctx context.Context, projectID string) ([]types.SearchResultRow, error)
	ListCitationRows(ctx context.Context, projectID, runID string) ([]types.CitationRow, error)
	ListCompetitors(ctx context.Context, projectID string) ([]string, error)
	ListClientDomains(ctx context.Context, projectID string) ([]string, error)
	ListExclusionRules(ctx context.Context, projectID string) ([]types.ExclusionRule, error)
}

// Tracker persists every transition of a job registry until the returned function is called.
type Tracker interface {
	Track(registry *pipeline.JobRegistry) func()
}

// Deps are the collaborators the API is built from. Only API is required.
type Deps struct {
	API       pipeline.JobAPI
	Store     Store
	Sink      pipeline.ResultSink
	Tracker   Tracker
	Resolver  *classify.Resolver
	Validator opportunities.URLValidator
	Pipeline  pipeline.Config
	Costs     *pipeline.CostTable
	RateLimit *ratelimit.Config
	Logger    zerolog.Logger
}

// Config holds server configuration
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	handler     http.Handler
	deps        Deps
	costs       pipeline.CostTable
	resolver    *classify.Resolver
	service     *opportunities.Service
	rateLimiter *ratelimit.Limiter
	validate    *validator.Validate
	logger      zerolog.Logger
	shutdown    time.Duration

	// baseCtx outlives requests; background launches stop when it is canceled.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu            sync.Mutex
	orchestrators map[string]*pipeline.Orchestrator
	untrack       []func()
	launches      sync.WaitGroup
}

// New creates a new server instance
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.API == nil {
		return nil, fmt.Errorf("server requires an upstream job API")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		deps:          deps,
		costs:         pipeline.DefaultCostTable(),
		resolver:      deps.Resolver,
		validate:      validator.New(),
		logger:        deps.Logger,
		shutdown:      cfg.ShutdownTimeout,
		orchestrators: make(map[string]*pipeline.Orchestrator),
	}
	if deps.Costs != nil {
		s.costs = *deps.Costs
	}
	if s.resolver == nil {
		s.resolver = classify.NewResolver(nil)
	}
	s.service = opportunities.NewService(s.resolver, deps.Validator, deps.Logger)
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	// Initialize rate limiter
	rl := deps.RateLimit
	if rl == nil {
		rl = ratelimit.LoadConfig()
	}
	s.rateLimiter = ratelimit.NewLimiter(rl)

	// Setup router
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /knowledge", s.handleKnowledge)
	mux.HandleFunc("POST /classify", s.handleClassify)
	mux.HandleFunc("POST /estimate", s.handleEstimate)

	// Analysis phases
	mux.HandleFunc("POST /projects/{project_id}/analyses", s.handleLaunchAll)
	mux.HandleFunc("POST /projects/{project_id}/phases/{kind}", s.handleLaunchPhase)
	mux.HandleFunc("POST /projects/{project_id}/phases/{kind}/cancel", s.handleCancelPhase)
	mux.HandleFunc("GET /projects/{project_id}/jobs", s.handleListJobs)
	mux.HandleFunc("GET /projects/{project_id}/jobs/stream", s.handleJobStream)
	mux.HandleFunc("GET /jobs/{id}", s.handleJobStatus)

	// Opportunities
	mux.HandleFunc("POST /projects/{project_id}/opportunities", s.handleOpportunities)

	s.handler = middleware.RequestID(middleware.AccessLog(s.logger)(s.withRateLimit(s.withCORS(mux))))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open for the whole analysis
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for requests and blocks until SIGINT/SIGTERM or ctx is done, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.Close()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

// Close cancels background launches, waits for them to record their outcome and stops
// persistence tracking.
func (s *Server) Close() {
	s.cancelBase()
	s.launches.Wait()

	s.mu.Lock()
	untrack := s.untrack
	s.untrack = nil
	s.mu.Unlock()
	for _, fn := range untrack {
		fn()
	}
	s.rateLimiter.Stop()
}

// orchestrator returns the project's orchestrator, creating it on first use. Persisted jobs are
// restored so re-run confirmation and gap prerequisites survive restarts.
func (s *Server) orchestrator(ctx context.Context, projectID string) *pipeline.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.orchestrators[projectID]; ok {
		return o
	}

	opts := []pipeline.Option{
		pipeline.WithConfig(s.deps.Pipeline),
		pipeline.WithLogger(s.logger),
	}
	if s.deps.Store != nil {
		opts = append(opts, pipeline.WithPriorRuns(s.deps.Store))
	}
	if s.deps.Sink != nil {
		opts = append(opts, pipeline.WithResultSink(s.deps.Sink))
	}
	o := pipeline.New(projectID, s.deps.API, opts...)

	if s.deps.Store != nil {
		jobs, err := s.deps.Store.ListJobs(ctx, projectID)
		if err != nil {
			s.logger.Warn().Err(err).Str("project_id", projectID).Msg("failed to restore jobs")
		} else {
			o.Registry().Restore(jobs...)
		}
	}
	if s.deps.Tracker != nil {
		s.untrack = append(s.untrack, s.deps.Tracker.Track(o.Registry()))
	}

	s.orchestrators[projectID] = o
	return o
}

// findJob looks a job up across every project the server knows about.
func (s *Server) findJob(id string) (*pipeline.Orchestrator, types.AnalysisJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orchestrators {
		if job, ok := o.Registry().Get(id); ok {
			return o, job, true
		}
	}
	return nil, types.AnalysisJob{}, false
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func (s *Server) decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// failure maps err to a status code and writes it. Server errors are logged with the request.
func (s *Server) failure(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	s.jsonResponse(w, status, errorBody(err))
}

// extractClientID extracts the client identifier (IP address) from the request.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]interface{}{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}

	s.logger.Warn().Int("limit", info.Limit).Str("rule", info.Rule).Msg("rate limit exceeded")
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

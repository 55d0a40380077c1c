// Package pipeline orchestrates the three analysis phases (search, citation, gap) against the
// upstream job API: launching, polling with a watchdog, re-run confirmation and cancellation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/visibility-gap/internal/pipeline/phases"
	"github.com/jonathan/visibility-gap/internal/types"
)

// ExternalJob is the handle the upstream API returns when a job is created.
type ExternalJob struct {
	ID    string `json:"id"`
	RunID string `json:"run_id,omitempty"`
}

// JobAPI is the upstream job surface shared by all three phases.
type JobAPI interface {
	CreateSearchJob(ctx context.Context, projectID string, queries []string) (ExternalJob, error)
	CreateCitationJob(ctx context.Context, projectID, nicheID string) (ExternalJob, error)
	CreateGapJob(ctx context.Context, projectID, citationRunID string) (ExternalJob, error)
	GetJobStatus(ctx context.Context, externalJobID string) (types.JobStatusReport, error)
}

// PriorRuns reports completed runs persisted outside this orchestrator instance.
type PriorRuns interface {
	HasCompletedRun(ctx context.Context, projectID string, kind types.PhaseKind) (bool, error)
}

// ResultSink persists the results of a completed phase so aggregation can be recomputed later.
type ResultSink interface {
	PhaseCompleted(ctx context.Context, job types.AnalysisJob) error
}

// ConfirmFunc asks the user whether an existing completed run may be overwritten.
type ConfirmFunc func(ctx context.Context, kind types.PhaseKind) bool

// SkipReason explains why a launch did nothing.
type SkipReason string

// SkipReason values
const (
	SkipNone              SkipReason = ""
	SkipPrerequisites     SkipReason = "prerequisites_not_met"
	SkipRerunNotConfirmed SkipReason = "rerun_not_confirmed"
	SkipAlreadyRunning    SkipReason = "already_running"
)

// Config holds polling settings
type Config struct {
	SearchPollInterval   time.Duration
	CitationPollInterval time.Duration
	GapPollInterval      time.Duration
	PhaseTimeout         time.Duration
	// MaxPollErrors is the number of consecutive status errors tolerated before a phase fails.
	MaxPollErrors int
	// SinkTimeout bounds how long a completed phase waits for its results to be persisted.
	SinkTimeout time.Duration
}

// DefaultConfig returns the default polling configuration.
func DefaultConfig() Config {
	return Config{
		SearchPollInterval:   3 * time.Second,
		CitationPollInterval: 3 * time.Second,
		GapPollInterval:      3 * time.Second,
		PhaseTimeout:         30 * time.Minute,
		MaxPollErrors:        5,
		SinkTimeout:          2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SearchPollInterval <= 0 {
		c.SearchPollInterval = d.SearchPollInterval
	}
	if c.CitationPollInterval <= 0 {
		c.CitationPollInterval = d.CitationPollInterval
	}
	if c.GapPollInterval <= 0 {
		c.GapPollInterval = d.GapPollInterval
	}
	if c.PhaseTimeout <= 0 {
		c.PhaseTimeout = d.PhaseTimeout
	}
	if c.MaxPollErrors <= 0 {
		c.MaxPollErrors = d.MaxPollErrors
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = d.SinkTimeout
	}
	return c
}

func (c Config) interval(kind types.PhaseKind) time.Duration {
	switch kind {
	case types.PhaseCitation:
		return c.CitationPollInterval
	case types.PhaseGap:
		return c.GapPollInterval
	default:
		return c.SearchPollInterval
	}
}

// LaunchParams carries the inputs of a launch.
type LaunchParams struct {
	Queries []string
	NicheID string
	// CitationRunID overrides the run the gap phase analyzes; defaults to the latest completed
	// citation job's run.
	CitationRunID string
	// Confirmed allows overwriting a previous completed run.
	Confirmed bool
}

// LaunchResult describes one phase launch.
type LaunchResult struct {
	Kind    types.PhaseKind    `json:"kind"`
	Job     *types.AnalysisJob `json:"job,omitempty"`
	Skipped SkipReason         `json:"skipped,omitempty"`
	Missing []types.PhaseKind  `json:"missing,omitempty"`

	done <-chan struct{}
	err  *error
}

// Done is closed when the phase reaches a terminal state. It is already closed for skipped
// launches.
func (r LaunchResult) Done() <-chan struct{} {
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// Err returns the phase outcome once Done is closed.
func (r LaunchResult) Err() error {
	if r.err == nil {
		return nil
	}
	select {
	case <-r.Done():
		return *r.err
	default:
		return nil
	}
}

// AllResult is the outcome of LaunchAll.
type AllResult struct {
	Search   LaunchResult `json:"search"`
	Citation LaunchResult `json:"citation"`
	Gap      LaunchResult `json:"gap"`
	Skipped  SkipReason   `json:"skipped,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the polling configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg.withDefaults() }
}

// WithPriorRuns sets the collaborator consulted for completed runs persisted elsewhere.
func WithPriorRuns(p PriorRuns) Option {
	return func(o *Orchestrator) { o.prior = p }
}

// WithConfirm sets the re-run confirmation dialog.
func WithConfirm(fn ConfirmFunc) Option {
	return func(o *Orchestrator) { o.confirm = fn }
}

// WithResultSink sets where completed phase results are persisted.
func WithResultSink(s ResultSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRegistry uses an existing registry, e.g. one restored from persistence.
func WithRegistry(r *JobRegistry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// Orchestrator drives the phases of one project. It owns its JobRegistry.
type Orchestrator struct {
	projectID string
	api       JobAPI
	registry  *JobRegistry
	cfg       Config
	prior     PriorRuns
	confirm   ConfirmFunc
	sink      ResultSink
	logger    zerolog.Logger

	mu      sync.Mutex
	cancels map[types.PhaseKind]context.CancelCauseFunc
}

// New creates an orchestrator for a project.
func New(projectID string, api JobAPI, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		projectID: projectID,
		api:       api,
		cfg:       DefaultConfig(),
		logger:    zerolog.Nop(),
		cancels:   make(map[types.PhaseKind]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = NewJobRegistry(projectID)
	}
	return o
}

// Registry returns the orchestrator's job registry.
func (o *Orchestrator) Registry() *JobRegistry {
	return o.registry
}

// ProjectID returns the project the orchestrator drives.
func (o *Orchestrator) ProjectID() string {
	return o.projectID
}

// Config returns the effective polling configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// LaunchAll runs search and citation concurrently, then gap with the citation run id, and
// returns once gap is terminal. Gap is not launched unless both prerequisites completed. A
// failure in one prerequisite does not stop the other.
func (o *Orchestrator) LaunchAll(ctx context.Context, params LaunchParams) (AllResult, error) {
	var out AllResult

	if !params.Confirmed {
		ok, err := o.confirmRerun(ctx, types.PhaseSearch, types.PhaseCitation, types.PhaseGap)
		if err != nil {
			return out, err
		}
		if !ok {
			out.Skipped = SkipRerunNotConfirmed
			return out, nil
		}
	}
	params.Confirmed = true

	var g errgroup.Group
	var searchErr, citationErr error

	g.Go(func() error {
		out.Search, searchErr = o.LaunchSingle(ctx, types.PhaseSearch, params)
		return nil
	})
	g.Go(func() error {
		out.Citation, citationErr = o.LaunchSingle(ctx, types.PhaseCitation, params)
		return nil
	})
	_ = g.Wait()

	if err := errors.Join(searchErr, citationErr); err != nil {
		out.Gap = LaunchResult{Kind: types.PhaseGap, Skipped: SkipPrerequisites, Missing: o.missing(types.PhaseGap)}
		o.logger.Warn().Err(err).Str("project_id", o.projectID).Msg("prerequisite phase did not complete, gap not launched")
		return out, err
	}
	if out.Search.Skipped != SkipNone || out.Citation.Skipped != SkipNone {
		out.Gap = LaunchResult{Kind: types.PhaseGap, Skipped: SkipPrerequisites, Missing: o.missing(types.PhaseGap)}
		return out, nil
	}

	gapParams := params
	gapParams.CitationRunID = ""
	if out.Citation.Job != nil {
		gapParams.CitationRunID = out.Citation.Job.ExternalRunID
	}
	gap, err := o.LaunchSingle(ctx, types.PhaseGap, gapParams)
	out.Gap = gap
	return out, err
}

// LaunchSingle launches one phase and waits for it to reach a terminal state. Unmet gap
// prerequisites, an unconfirmed re-run or an already running phase are no-ops reported in
// LaunchResult.Skipped, not errors.
func (o *Orchestrator) LaunchSingle(ctx context.Context, kind types.PhaseKind, params LaunchParams) (LaunchResult, error) {
	res, err := o.Start(ctx, kind, params)
	if err != nil || res.Skipped != SkipNone {
		return res, err
	}
	<-res.Done()
	if job, ok := o.registry.Get(res.Job.ID); ok {
		res.Job = &job
	}
	return res, res.Err()
}

// Start launches one phase and returns as soon as the upstream job exists; polling continues in
// the background until the phase is terminal or ctx is canceled. Use LaunchResult.Done to wait.
func (o *Orchestrator) Start(ctx context.Context, kind types.PhaseKind, params LaunchParams) (LaunchResult, error) {
	res := LaunchResult{Kind: kind}

	if _, ok := phases.PhaseRegistry[kind]; !ok {
		return res, fmt.Errorf("unknown phase: %s", kind)
	}

	if err := phases.ValidateDependencies(kind, o.registry.Status); err != nil {
		var depErr *phases.DependencyError
		if errors.As(err, &depErr) {
			res.Skipped = SkipPrerequisites
			res.Missing = depErr.Missing
			o.logger.Info().Str("project_id", o.projectID).Str("phase", string(kind)).
				Interface("missing", depErr.Missing).Msg("launch skipped, prerequisites not completed")
			return res, nil
		}
		return res, err
	}

	if !params.Confirmed {
		ok, err := o.confirmRerun(ctx, kind)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Skipped = SkipRerunNotConfirmed
			return res, nil
		}
	}

	citationRunID := params.CitationRunID
	if kind == types.PhaseGap && citationRunID == "" {
		if job, ok := o.registry.LastCompleted(types.PhaseCitation); ok {
			citationRunID = job.ExternalRunID
		}
	}

	// Claim the phase before creating anything upstream so concurrent launches cannot both run.
	o.mu.Lock()
	if _, running := o.cancels[kind]; running {
		o.mu.Unlock()
		res.Skipped = SkipAlreadyRunning
		return res, nil
	}
	pollCtx, cancel := context.WithCancelCause(ctx)
	o.cancels[kind] = cancel
	o.mu.Unlock()

	job := o.registry.Create(kind)
	ext, err := o.createExternal(pollCtx, kind, params, citationRunID)
	if err != nil {
		failure := &PhaseFailedError{Phase: kind, JobID: job.ID, Message: "could not create upstream job", Cause: err}
		failed, _ := o.registry.Fail(job.ID, types.FailureLaunch, failure)
		o.release(kind)
		cancel(nil)
		res.Job = &failed
		var outcome error = failure
		res.err = &outcome
		return res, failure
	}

	started, err := o.registry.Start(job.ID, ext.ID)
	if err != nil {
		o.release(kind)
		cancel(nil)
		return res, err
	}
	res.Job = &started
	o.logger.Info().Str("project_id", o.projectID).Str("phase", string(kind)).
		Str("job_id", started.ID).Str("external_job_id", ext.ID).Msg("phase started")

	done := make(chan struct{})
	var outcome error
	res.done = done
	res.err = &outcome

	go func() {
		defer close(done)
		defer o.release(kind)
		defer cancel(nil)
		outcome = o.watch(pollCtx, started, ext.RunID)
	}()

	return res, nil
}

// Cancel stops polling a running phase. The job ends failed with ErrPhaseCanceled.
func (o *Orchestrator) Cancel(kind types.PhaseKind) error {
	o.mu.Lock()
	cancel, ok := o.cancels[kind]
	o.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	cancel(ErrPhaseCanceled)
	return nil
}

// PollStatus returns the upstream status of a job. id may be a registry job id or an upstream
// job id. Polling has no side effects on the registry.
func (o *Orchestrator) PollStatus(ctx context.Context, id string) (types.JobStatusReport, error) {
	externalID := id
	if job, ok := o.registry.Get(id); ok {
		if job.ExternalJobID == "" {
			return types.JobStatusReport{
				Status:   string(job.Status),
				Progress: job.Progress,
				StepInfo: job.StepInfo,
				Error:    job.Error,
			}, nil
		}
		externalID = job.ExternalJobID
	}
	return o.api.GetJobStatus(ctx, externalID)
}

// Jobs lists every job of the project in creation order.
func (o *Orchestrator) Jobs() []types.AnalysisJob {
	return o.registry.List()
}

func (o *Orchestrator) release(kind types.PhaseKind) {
	o.mu.Lock()
	delete(o.cancels, kind)
	o.mu.Unlock()
}

func (o *Orchestrator) missing(kind types.PhaseKind) []types.PhaseKind {
	var depErr *phases.DependencyError
	if err := phases.ValidateDependencies(kind, o.registry.Status); errors.As(err, &depErr) {
		return depErr.Missing
	}
	return nil
}

func (o *Orchestrator) createExternal(ctx context.Context, kind types.PhaseKind, params LaunchParams, citationRunID string) (ExternalJob, error) {
	switch kind {
	case types.PhaseSearch:
		return o.api.CreateSearchJob(ctx, o.projectID, params.Queries)
	case types.PhaseCitation:
		return o.api.CreateCitationJob(ctx, o.projectID, params.NicheID)
	case types.PhaseGap:
		if citationRunID == "" {
			return ExternalJob{}, errors.New("no citation run id available for gap analysis")
		}
		return o.api.CreateGapJob(ctx, o.projectID, citationRunID)
	}
	return ExternalJob{}, fmt.Errorf("unknown phase: %s", kind)
}

// confirmRerun reports whether launching may proceed. It asks for confirmation only when one of
// the phases already has a completed run.
func (o *Orchestrator) confirmRerun(ctx context.Context, kinds ...types.PhaseKind) (bool, error) {
	var existing []types.PhaseKind
	for _, kind := range kinds {
		done, err := o.HasCompletedRun(ctx, kind)
		if err != nil {
			return false, err
		}
		if done {
			existing = append(existing, kind)
		}
	}
	if len(existing) == 0 {
		return true, nil
	}
	if o.confirm == nil {
		return false, nil
	}
	for _, kind := range existing {
		if !o.confirm(ctx, kind) {
			return false, nil
		}
	}
	return true, nil
}

// HasCompletedRun reports whether a phase has a completed run in the registry or, failing that,
// according to the PriorRuns collaborator.
func (o *Orchestrator) HasCompletedRun(ctx context.Context, kind types.PhaseKind) (bool, error) {
	if _, ok := o.registry.LastCompleted(kind); ok {
		return true, nil
	}
	if o.prior == nil {
		return false, nil
	}
	done, err := o.prior.HasCompletedRun(ctx, o.projectID, kind)
	if err != nil {
		return false, fmt.Errorf("failed to check previous %s runs: %w", kind, err)
	}
	return done, nil
}

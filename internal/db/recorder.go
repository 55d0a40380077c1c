package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/visibility-gap/internal/pipeline"
	"github.com/jonathan/visibility-gap/internal/types"
)

// ResultSource fetches the output of completed upstream jobs.
type ResultSource interface {
	FetchSearchResults(ctx context.Context, projectID, query string) ([]types.SearchResultRow, error)
	GetCitationMetrics(ctx context.Context, runID string) (types.CitationMetrics, error)
}

// resultStore is the subset of DB the recorder writes to.
type resultStore interface {
	SaveJob(ctx context.Context, job types.AnalysisJob) error
	ReplaceSearchRows(ctx context.Context, projectID, jobID string, rows []types.SearchResultRow) error
	ReplaceCitationRows(ctx context.Context, projectID, runID string, rows []types.CitationRow) error
}

const (
	// transitionBuffer is how many job transitions may wait for the database.
	transitionBuffer = 64
	// defaultSaveTimeout bounds each background SaveJob.
	defaultSaveTimeout = 10 * time.Second
)

// Recorder persists job transitions and the results of completed phases. It implements
// pipeline.ResultSink.
type Recorder struct {
	store  resultStore
	source ResultSource
	logger zerolog.Logger

	events      chan types.AnalysisJob
	saveTimeout time.Duration
	dropped     atomic.Int64
	wg          sync.WaitGroup
	once        sync.Once
}

// NewRecorder creates a recorder writing to db and reading results from source.
func NewRecorder(db *DB, source ResultSource, logger zerolog.Logger) *Recorder {
	return newRecorder(db, source, logger)
}

func newRecorder(store resultStore, source ResultSource, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:       store,
		source:      source,
		logger:      logger,
		events:      make(chan types.AnalysisJob, transitionBuffer),
		saveTimeout: defaultSaveTimeout,
	}
}

// PhaseCompleted stores the rows a completed phase produced. Gap results stay upstream.
func (r *Recorder) PhaseCompleted(ctx context.Context, job types.AnalysisJob) error {
	if err := r.store.SaveJob(ctx, job); err != nil {
		return err
	}

	switch job.Kind {
	case types.PhaseSearch:
		rows, err := r.source.FetchSearchResults(ctx, job.ProjectID, "")
		if err != nil {
			return fmt.Errorf("failed to fetch search results: %w", err)
		}
		if err := r.store.ReplaceSearchRows(ctx, job.ProjectID, job.ID, rows); err != nil {
			return err
		}
		r.logger.Info().Str("project_id", job.ProjectID).Int("rows", len(rows)).Msg("search rows stored")

	case types.PhaseCitation:
		if job.ExternalRunID == "" {
			return fmt.Errorf("citation job %s has no run id", job.ID)
		}
		metrics, err := r.source.GetCitationMetrics(ctx, job.ExternalRunID)
		if err != nil {
			return fmt.Errorf("failed to fetch citation metrics: %w", err)
		}
		if err := r.store.ReplaceCitationRows(ctx, job.ProjectID, job.ExternalRunID, metrics.TopCitedDomains); err != nil {
			return err
		}
		r.logger.Info().Str("project_id", job.ProjectID).Str("run_id", job.ExternalRunID).
			Int("rows", len(metrics.TopCitedDomains)).Msg("citation rows stored")
	}
	return nil
}

// Track persists the transitions of a registry's jobs in order, off the caller's goroutine.
// The poll loop is never held up by the database: when the buffer is full the transition is
// dropped and counted. Call Close to flush and stop.
func (r *Recorder) Track(registry *pipeline.JobRegistry) func() {
	r.once.Do(func() {
		r.wg.Add(1)
		go r.drain()
	})
	return registry.Subscribe(func(e pipeline.ProgressEvent) {
		select {
		case r.events <- e.Job:
		default:
			n := r.dropped.Add(1)
			r.logger.Warn().Str("job_id", e.Job.ID).Str("status", string(e.Job.Status)).
				Int64("dropped", n).Msg("job transition dropped, store is falling behind")
		}
	})
}

// Dropped returns how many transitions were not persisted because the buffer was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for job := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
		if err := r.store.SaveJob(ctx, job); err != nil {
			r.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist job transition")
		}
		cancel()
	}
}

// Close stops tracking after every queued transition is written. Unsubscribe every tracked
// registry before calling Close.
func (r *Recorder) Close() {
	r.once.Do(func() {})
	close(r.events)
	r.wg.Wait()
}

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/jonathan/visibility-gap/internal/types"
)

// watch polls one running job until it is terminal. The watchdog, cancellation, success and
// failure all resolve in the same select, so no timer outlives the phase.
func (o *Orchestrator) watch(ctx context.Context, job types.AnalysisJob, runID string) error {
	kind := job.Kind
	ctx, stop := context.WithTimeoutCause(ctx, o.cfg.PhaseTimeout, errWatchdog)
	defer stop()

	ticker := time.NewTicker(o.cfg.interval(kind))
	defer ticker.Stop()

	log := o.logger.With().Str("project_id", o.projectID).Str("phase", string(kind)).Str("job_id", job.ID).Logger()
	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			return o.stopped(ctx, job)

		case <-ticker.C:
			report, err := o.api.GetJobStatus(ctx, job.ExternalJobID)
			if err != nil {
				if ctx.Err() != nil {
					return o.stopped(ctx, job)
				}
				consecutiveErrors++
				log.Warn().Err(err).Int("consecutive_errors", consecutiveErrors).Msg("job status poll failed")
				if consecutiveErrors >= o.cfg.MaxPollErrors {
					failure := &PhaseFailedError{Phase: kind, JobID: job.ID, Message: "job status unavailable", Cause: err}
					o.fail(job.ID, types.FailureProvider, failure)
					return failure
				}
				continue
			}
			consecutiveErrors = 0

			switch types.ParseJobStatus(report.Status) {
			case types.JobCompleted:
				if report.RunID != "" {
					runID = report.RunID
				}
				completed, err := o.registry.Complete(job.ID, runID)
				if err != nil {
					return err
				}
				log.Info().Str("external_run_id", completed.ExternalRunID).Msg("phase completed")
				o.persist(ctx, completed)
				return nil

			case types.JobFailed:
				msg := report.Error
				if msg == "" {
					msg = "upstream job reported failure"
				}
				failure := &PhaseFailedError{Phase: kind, JobID: job.ID, Message: msg}
				o.fail(job.ID, types.FailureProvider, failure)
				log.Warn().Str("error", msg).Msg("phase failed")
				return failure

			default:
				if _, err := o.registry.Progress(job.ID, report.Progress, report.StepInfo); err != nil {
					return err
				}
			}
		}
	}
}

// stopped records why the context ended: the watchdog or a cancellation.
func (o *Orchestrator) stopped(ctx context.Context, job types.AnalysisJob) error {
	if errors.Is(context.Cause(ctx), errWatchdog) {
		timeout := &PhaseTimedOutError{Phase: job.Kind, JobID: job.ID, Timeout: o.cfg.PhaseTimeout}
		if _, err := o.registry.TimeOut(job.ID, timeout); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to record timeout")
		}
		o.logger.Warn().Str("project_id", o.projectID).Str("phase", string(job.Kind)).
			Dur("timeout", o.cfg.PhaseTimeout).Msg("phase timed out")
		return timeout
	}

	o.fail(job.ID, types.FailureCanceled, ErrPhaseCanceled)
	o.logger.Info().Str("project_id", o.projectID).Str("phase", string(job.Kind)).Msg("phase canceled")
	return ErrPhaseCanceled
}

func (o *Orchestrator) fail(id, kind string, cause error) {
	if _, err := o.registry.Fail(id, kind, cause); err != nil {
		o.logger.Error().Err(err).Str("job_id", id).Msg("failed to record job failure")
	}
}

// persist hands a completed job to the result sink. Sink errors do not change the job status:
// results can be fetched again from the upstream run. The sink outlives a canceled launch but
// not SinkTimeout.
func (o *Orchestrator) persist(ctx context.Context, job types.AnalysisJob) {
	if o.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.SinkTimeout)
	defer cancel()
	if err := o.sink.PhaseCompleted(ctx, job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Str("phase", string(job.Kind)).Msg("failed to persist phase results")
	}
}

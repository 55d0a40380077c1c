package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/visibility-gap/internal/pipeline"
	"github.com/jonathan/visibility-gap/internal/pipeline/phases"
	"github.com/jonathan/visibility-gap/internal/types"
)

// heartbeatInterval keeps idle SSE connections open through proxies.
const heartbeatInterval = 15 * time.Second

// LaunchResponse acknowledges an accepted or skipped launch.
type LaunchResponse struct {
	ProjectID string              `json:"project_id"`
	Accepted  bool                `json:"accepted"`
	Skipped   pipeline.SkipReason `json:"skipped,omitempty"`
	Phases    []types.PhaseKind   `json:"phases,omitempty"`
	Missing   []types.PhaseKind   `json:"missing,omitempty"`
	Job       *types.AnalysisJob  `json:"job,omitempty"`
	StreamURL string              `json:"stream_url,omitempty"`
}

// JobsResponse lists a project's jobs with the current state of each phase.
type JobsResponse struct {
	ProjectID string                              `json:"project_id"`
	Jobs      []types.AnalysisJob                 `json:"jobs"`
	Phases    map[types.PhaseKind]types.JobStatus `json:"phases"`
	Available []types.PhaseKind                   `json:"available"`
	Blocked   []types.PhaseKind                   `json:"blocked"`
}

func streamURL(projectID string) string {
	return "/projects/" + projectID + "/jobs/stream"
}

// handleLaunchAll starts search and citation, then gap, in the background and returns at once.
// Progress is followed through the job stream.
func (s *Server) handleLaunchAll(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	var req types.LaunchRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.failure(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.failure(w, r, err)
		return
	}

	o := s.orchestrator(r.Context(), projectID)
	all := []types.PhaseKind{types.PhaseSearch, types.PhaseCitation, types.PhaseGap}

	for _, kind := range all {
		if o.Registry().Status(kind) == types.JobRunning {
			s.jsonResponse(w, http.StatusConflict, LaunchResponse{
				ProjectID: projectID,
				Skipped:   pipeline.SkipAlreadyRunning,
				Phases:    []types.PhaseKind{kind},
				StreamURL: streamURL(projectID),
			})
			return
		}
	}

	if !req.Confirm {
		var existing []types.PhaseKind
		for _, kind := range all {
			done, err := o.HasCompletedRun(r.Context(), kind)
			if err != nil {
				s.failure(w, r, err)
				return
			}
			if done {
				existing = append(existing, kind)
			}
		}
		if len(existing) > 0 {
			s.jsonResponse(w, http.StatusConflict, LaunchResponse{
				ProjectID: projectID,
				Skipped:   pipeline.SkipRerunNotConfirmed,
				Phases:    existing,
			})
			return
		}
	}

	params := pipeline.LaunchParams{Queries: req.Queries, NicheID: req.NicheID, Confirmed: true}
	logger := zerolog.Ctx(r.Context()).With().Str("project_id", projectID).Logger()

	s.launches.Add(1)
	go func() {
		defer s.launches.Done()
		res, err := o.LaunchAll(s.baseCtx, params)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("analysis did not complete")
		case res.Gap.Skipped != pipeline.SkipNone:
			logger.Info().Str("skipped", string(res.Gap.Skipped)).Msg("gap phase not launched")
		default:
			logger.Info().Msg("analysis completed")
		}
	}()

	s.jsonResponse(w, http.StatusAccepted, LaunchResponse{
		ProjectID: projectID,
		Accepted:  true,
		Phases:    all,
		StreamURL: streamURL(projectID),
	})
}

// handleLaunchPhase starts one phase. It returns once the upstream job exists.
func (s *Server) handleLaunchPhase(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	kind, ok := types.ParsePhaseKind(r.PathValue("kind"))
	if !ok {
		s.failure(w, r, &ErrValidation{Field: "kind", Message: "unknown phase " + strconv.Quote(r.PathValue("kind"))})
		return
	}

	var req types.PhaseLaunchRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.failure(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.failure(w, r, err)
		return
	}
	switch {
	case kind == types.PhaseSearch && len(req.Queries) == 0:
		s.failure(w, r, &ErrValidation{Field: "queries", Message: "search requires at least one query"})
		return
	case kind == types.PhaseCitation && req.NicheID == "":
		s.failure(w, r, &ErrValidation{Field: "niche_id", Message: "citation requires a niche id"})
		return
	}

	o := s.orchestrator(r.Context(), projectID)
	res, err := o.Start(s.baseCtx, kind, pipeline.LaunchParams{
		Queries:   req.Queries,
		NicheID:   req.NicheID,
		Confirmed: req.Confirm,
	})
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if res.Skipped != pipeline.SkipNone {
		s.jsonResponse(w, http.StatusConflict, LaunchResponse{
			ProjectID: projectID,
			Skipped:   res.Skipped,
			Phases:    []types.PhaseKind{kind},
			Missing:   res.Missing,
		})
		return
	}

	// Close waits for the phase to record its outcome.
	s.launches.Add(1)
	go func() {
		defer s.launches.Done()
		<-res.Done()
	}()

	s.jsonResponse(w, http.StatusAccepted, LaunchResponse{
		ProjectID: projectID,
		Accepted:  true,
		Phases:    []types.PhaseKind{kind},
		Job:       res.Job,
		StreamURL: streamURL(projectID),
	})
}

// handleCancelPhase stops polling a running phase
func (s *Server) handleCancelPhase(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	kind, ok := types.ParsePhaseKind(r.PathValue("kind"))
	if !ok {
		s.failure(w, r, &ErrValidation{Field: "kind", Message: "unknown phase " + strconv.Quote(r.PathValue("kind"))})
		return
	}

	if err := s.orchestrator(r.Context(), projectID).Cancel(kind); err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"project_id": projectID,
		"phase":      string(kind),
		"status":     "canceling",
	})
}

// handleListJobs returns every job of a project and which phases can be launched
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	o := s.orchestrator(r.Context(), projectID)
	s.jsonResponse(w, http.StatusOK, s.jobsResponse(o))
}

func (s *Server) jobsResponse(o *pipeline.Orchestrator) JobsResponse {
	reg := o.Registry()
	statuses := make(map[types.PhaseKind]types.JobStatus, len(types.AllPhases()))
	for _, kind := range types.AllPhases() {
		statuses[kind] = reg.Status(kind)
	}
	return JobsResponse{
		ProjectID: o.ProjectID(),
		Jobs:      o.Jobs(),
		Phases:    statuses,
		Available: nonNilPhases(phases.AvailablePhases(reg.Status)),
		Blocked:   nonNilPhases(phases.BlockedPhases(reg.Status)),
	}
}

func nonNilPhases(p []types.PhaseKind) []types.PhaseKind {
	if p == nil {
		return []types.PhaseKind{}
	}
	return p
}

// handleJobStream streams job transitions of a project as Server-Sent Events. The first event
// is a snapshot of every job. With ?until_idle=true the stream ends once no phase is running.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	untilIdle, _ := strconv.ParseBool(r.URL.Query().Get("until_idle"))
	o := s.orchestrator(r.Context(), projectID)

	// Subscribe before the snapshot so no transition falls between the two.
	events := make(chan pipeline.ProgressEvent, 64)
	dropped := make(chan struct{}, 1)
	unsubscribe := o.Registry().Subscribe(func(e pipeline.ProgressEvent) {
		select {
		case events <- e:
		default:
			select {
			case dropped <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if err := sse.WriteSnapshot(o.Jobs()); err != nil {
		return
	}

	idle := func() bool {
		for _, kind := range types.AllPhases() {
			if o.Registry().Status(kind) == types.JobRunning {
				return false
			}
		}
		return true
	}
	if untilIdle && idle() {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.baseCtx.Done():
			return
		case <-heartbeat.C:
			if err := sse.WriteHeartbeat(); err != nil {
				return
			}
		case <-dropped:
			// The client fell behind; resynchronize with a fresh snapshot.
			if err := sse.WriteSnapshot(o.Jobs()); err != nil {
				return
			}
		case e := <-events:
			if err := sse.WriteProgress(e); err != nil {
				return
			}
			if untilIdle && e.Job.Status.IsTerminal() && idle() {
				return
			}
		}
	}
}

// handleJobStatus polls the upstream status of a job. id may be a local job id or an upstream
// job id.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	o, job, ok := s.findJob(id)
	if !ok {
		report, err := s.deps.API.GetJobStatus(r.Context(), id)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		s.jsonResponse(w, http.StatusOK, map[string]any{"status": report})
		return
	}

	report, err := o.PollStatus(r.Context(), id)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("job_id", id).Msg("upstream status unavailable")
		s.jsonResponse(w, http.StatusOK, map[string]any{"job": job, "status_error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"job": job, "status": report})
}

package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/visibility-gap/internal/types"
)

// ProgressEvent is emitted on every job transition
type ProgressEvent struct {
	Phase    types.PhaseKind   `json:"phase"`
	JobID    string            `json:"job_id"`
	Status   types.JobStatus   `json:"status"`
	Progress float64           `json:"progress"`
	Message  string            `json:"message,omitempty"`
	Job      types.AnalysisJob `json:"job"`
}

// ProgressCallback is called when a job changes
type ProgressCallback func(event ProgressEvent)

// JobRegistry owns the AnalysisJobs of one project. All mutation goes through the transition
// methods; readers get copies.
type JobRegistry struct {
	mu        sync.RWMutex
	projectID string
	jobs      map[string]*types.AnalysisJob
	order     []string
	current   map[types.PhaseKind]string

	obsMu     sync.RWMutex
	observers map[int]ProgressCallback
	nextObs   int

	now func() time.Time
}

// NewJobRegistry creates an empty registry for a project.
func NewJobRegistry(projectID string) *JobRegistry {
	return &JobRegistry{
		projectID: projectID,
		jobs:      make(map[string]*types.AnalysisJob),
		current:   make(map[types.PhaseKind]string),
		observers: make(map[int]ProgressCallback),
		now:       time.Now,
	}
}

// ProjectID returns the project the registry belongs to.
func (r *JobRegistry) ProjectID() string {
	return r.projectID
}

// Subscribe registers a callback for every transition. The returned function unsubscribes.
// Callbacks run synchronously on the goroutine that made the transition and must not block.
func (r *JobRegistry) Subscribe(cb ProgressCallback) func() {
	r.obsMu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = cb
	r.obsMu.Unlock()

	return func() {
		r.obsMu.Lock()
		delete(r.observers, id)
		r.obsMu.Unlock()
	}
}

func (r *JobRegistry) emit(job types.AnalysisJob, message string) {
	r.obsMu.RLock()
	callbacks := make([]ProgressCallback, 0, len(r.observers))
	for _, cb := range r.observers {
		callbacks = append(callbacks, cb)
	}
	r.obsMu.RUnlock()

	event := ProgressEvent{
		Phase:    job.Kind,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  message,
		Job:      job,
	}
	for _, cb := range callbacks {
		cb(event)
	}
}

// Create adds a new idle job for a phase and makes it the phase's current job.
func (r *JobRegistry) Create(kind types.PhaseKind) types.AnalysisJob {
	r.mu.Lock()
	job := &types.AnalysisJob{
		ID:        uuid.New().String(),
		ProjectID: r.projectID,
		Kind:      kind,
		Status:    types.JobIdle,
		CreatedAt: r.now().UTC(),
	}
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	r.current[kind] = job.ID
	snapshot := *job
	r.mu.Unlock()

	r.emit(snapshot, "created")
	return snapshot
}

// Restore loads previously persisted jobs, e.g. after a restart. Jobs already known are skipped.
// Non-terminal jobs are restored as failed because nothing is polling them anymore.
func (r *JobRegistry) Restore(jobs ...types.AnalysisJob) {
	sorted := append([]types.AnalysisJob(nil), jobs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range sorted {
		if _, ok := r.jobs[j.ID]; ok || j.ID == "" {
			continue
		}
		job := j
		job.ProjectID = r.projectID
		if !job.Status.IsTerminal() {
			job.Status = types.JobFailed
			job.FailureKind = types.FailureCanceled
			job.Error = "interrupted by restart"
		}
		r.jobs[job.ID] = &job
		r.order = append(r.order, job.ID)
		if cur, ok := r.current[job.Kind]; !ok || r.jobs[cur].CreatedAt.Before(job.CreatedAt) {
			r.current[job.Kind] = job.ID
		}
	}
}

// transition applies fn to a job under the lock after checking the allowed source states.
func (r *JobRegistry) transition(id string, to types.JobStatus, allowed []types.JobStatus, fn func(*types.AnalysisJob)) (types.AnalysisJob, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return types.AnalysisJob{}, ErrUnknownJob
	}
	if job.Status.IsTerminal() {
		from := job.Status
		r.mu.Unlock()
		return types.AnalysisJob{}, &TransitionError{JobID: id, From: from, To: to, Cause: ErrTerminalJob}
	}
	permitted := false
	for _, s := range allowed {
		if job.Status == s {
			permitted = true
			break
		}
	}
	if !permitted {
		from := job.Status
		r.mu.Unlock()
		return types.AnalysisJob{}, &TransitionError{JobID: id, From: from, To: to, Cause: ErrInvalidTransition}
	}

	fn(job)
	job.Status = to
	if to.IsTerminal() {
		t := r.now().UTC()
		job.FinishedAt = &t
	}
	snapshot := *job
	r.mu.Unlock()
	return snapshot, nil
}

// Start moves an idle job to running once the upstream job exists.
func (r *JobRegistry) Start(id, externalJobID string) (types.AnalysisJob, error) {
	job, err := r.transition(id, types.JobRunning, []types.JobStatus{types.JobIdle}, func(j *types.AnalysisJob) {
		t := r.now().UTC()
		j.StartedAt = &t
		j.ExternalJobID = externalJobID
	})
	if err != nil {
		return job, err
	}
	r.emit(job, "started")
	return job, nil
}

// Progress records a poll result on a running job.
func (r *JobRegistry) Progress(id string, progress float64, stepInfo string) (types.AnalysisJob, error) {
	job, err := r.transition(id, types.JobRunning, []types.JobStatus{types.JobRunning}, func(j *types.AnalysisJob) {
		j.Progress = types.ClampProgress(progress)
		if stepInfo != "" {
			j.StepInfo = stepInfo
		}
	})
	if err != nil {
		return job, err
	}
	r.emit(job, job.StepInfo)
	return job, nil
}

// Complete marks a running job completed. runID is the upstream run the phase produced.
func (r *JobRegistry) Complete(id, runID string) (types.AnalysisJob, error) {
	job, err := r.transition(id, types.JobCompleted, []types.JobStatus{types.JobRunning}, func(j *types.AnalysisJob) {
		j.Progress = 1
		j.ExternalRunID = runID
		if j.ExternalRunID == "" {
			j.ExternalRunID = j.ExternalJobID
		}
	})
	if err != nil {
		return job, err
	}
	r.emit(job, "completed")
	return job, nil
}

// Fail marks a job failed. An idle job may fail when its upstream job could not be created.
func (r *JobRegistry) Fail(id, failureKind string, cause error) (types.AnalysisJob, error) {
	job, err := r.transition(id, types.JobFailed, []types.JobStatus{types.JobIdle, types.JobRunning}, func(j *types.AnalysisJob) {
		j.FailureKind = failureKind
		if cause != nil {
			j.Error = cause.Error()
		}
	})
	if err != nil {
		return job, err
	}
	r.emit(job, job.Error)
	return job, nil
}

// TimeOut marks a running job failed by the watchdog.
func (r *JobRegistry) TimeOut(id string, cause error) (types.AnalysisJob, error) {
	return r.Fail(id, types.FailureTimeout, cause)
}

// Get returns a job by id.
func (r *JobRegistry) Get(id string) (types.AnalysisJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return types.AnalysisJob{}, false
	}
	return *job, true
}

// Current returns the latest job of a phase.
func (r *JobRegistry) Current(kind types.PhaseKind) (types.AnalysisJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.current[kind]
	if !ok {
		return types.AnalysisJob{}, false
	}
	return *r.jobs[id], true
}

// Status returns the status of the latest job of a phase, or JobIdle when there is none.
func (r *JobRegistry) Status(kind types.PhaseKind) types.JobStatus {
	job, ok := r.Current(kind)
	if !ok {
		return types.JobIdle
	}
	return job.Status
}

// LastCompleted returns the most recent completed job of a phase.
func (r *JobRegistry) LastCompleted(kind types.PhaseKind) (types.AnalysisJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		job := r.jobs[r.order[i]]
		if job.Kind == kind && job.Status == types.JobCompleted {
			return *job, true
		}
	}
	return types.AnalysisJob{}, false
}

// List returns every job in creation order.
func (r *JobRegistry) List() []types.AnalysisJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AnalysisJob, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.jobs[id])
	}
	return out
}

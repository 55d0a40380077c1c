package types

import (
	"strings"
	"time"
)

// PhaseKind identifies one of the three analysis phases.
type PhaseKind string

// PhaseKind values
const (
	PhaseSearch   PhaseKind = "search"
	PhaseCitation PhaseKind = "citation"
	PhaseGap      PhaseKind = "gap"
)

// AllPhases lists the phases in launch order.
func AllPhases() []PhaseKind {
	return []PhaseKind{PhaseSearch, PhaseCitation, PhaseGap}
}

// ParsePhaseKind validates a phase name.
func ParsePhaseKind(s string) (PhaseKind, bool) {
	k := PhaseKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case PhaseSearch, PhaseCitation, PhaseGap:
		return k, true
	}
	return "", false
}

// JobStatus is the AnalysisJob state: idle -> running -> completed | failed.
type JobStatus string

// JobStatus values
const (
	JobIdle      JobStatus = "idle"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ParseJobStatus maps the status strings reported by the upstream job API onto JobStatus.
// Anything unrecognized counts as still running.
func ParseJobStatus(s string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "complete", "succeeded", "success", "done", "finished":
		return JobCompleted
	case "failed", "failure", "error", "errored", "cancelled", "canceled":
		return JobFailed
	case "idle", "":
		return JobIdle
	default:
		return JobRunning
	}
}

// Failure kinds recorded on failed jobs
const (
	FailureProvider = "provider"
	FailureTimeout  = "timeout"
	FailureCanceled = "canceled"
	FailureLaunch   = "launch"
)

// AnalysisJob is one launch of one phase. Terminal jobs are final: a re-run creates a new job.
type AnalysisJob struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Kind          PhaseKind  `json:"kind"`
	Status        JobStatus  `json:"status"`
	Progress      float64    `json:"progress"`
	ExternalJobID string     `json:"external_job_id,omitempty"`
	// ExternalRunID is the upstream run the phase produced; the gap phase is launched with the
	// citation phase's run id.
	ExternalRunID string     `json:"external_run_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	FailureKind   string     `json:"failure_kind,omitempty"`
	StepInfo      string     `json:"step_info,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// JobStatusReport is what the upstream status endpoint returns for one job.
type JobStatusReport struct {
	Status string `json:"status"`
	// Progress is a completion fraction in [0, 1]. Out-of-range values are clamped, not rescaled.
	Progress float64 `json:"progress"`
	StepInfo string  `json:"step_info,omitempty"`
	Error    string  `json:"error,omitempty"`
	RunID    string  `json:"run_id,omitempty"`
}

// ClampProgress keeps a progress fraction within [0, 1].
func ClampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

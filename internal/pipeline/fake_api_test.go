package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonathan/visibility-gap/internal/types"
)

// step is one scripted answer of the fake status endpoint.
type step struct {
	report types.JobStatusReport
	err    error
}

func running(progress float64) step {
	return step{report: types.JobStatusReport{Status: "running", Progress: progress, StepInfo: fmt.Sprintf("%.0f%%", progress*100)}}
}

func completed(runID string) step {
	return step{report: types.JobStatusReport{Status: "completed", Progress: 1, RunID: runID}}
}

func failed(msg string) step {
	return step{report: types.JobStatusReport{Status: "failed", Error: msg}}
}

func pollError() step {
	return step{err: errors.New("status endpoint unavailable")}
}

// fakeAPI replays a status script per phase. The last step repeats forever.
type fakeAPI struct {
	mu        sync.Mutex
	scripts   map[types.PhaseKind][]step
	createErr map[types.PhaseKind]error
	created   []types.PhaseKind
	gapRunIDs []string
	queries   [][]string
	jobs      map[string]types.PhaseKind
	polls     map[string]int
	seq       int
}

func newFakeAPI(scripts map[types.PhaseKind][]step) *fakeAPI {
	return &fakeAPI{
		scripts:   scripts,
		createErr: map[types.PhaseKind]error{},
		jobs:      map[string]types.PhaseKind{},
		polls:     map[string]int{},
	}
}

func (f *fakeAPI) create(kind types.PhaseKind) (ExternalJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[kind]; err != nil {
		return ExternalJob{}, err
	}
	f.seq++
	id := fmt.Sprintf("ext-%s-%d", kind, f.seq)
	f.jobs[id] = kind
	f.created = append(f.created, kind)
	return ExternalJob{ID: id}, nil
}

func (f *fakeAPI) CreateSearchJob(_ context.Context, _ string, queries []string) (ExternalJob, error) {
	f.mu.Lock()
	f.queries = append(f.queries, queries)
	f.mu.Unlock()
	return f.create(types.PhaseSearch)
}

func (f *fakeAPI) CreateCitationJob(_ context.Context, _ string, _ string) (ExternalJob, error) {
	return f.create(types.PhaseCitation)
}

func (f *fakeAPI) CreateGapJob(_ context.Context, _ string, citationRunID string) (ExternalJob, error) {
	f.mu.Lock()
	f.gapRunIDs = append(f.gapRunIDs, citationRunID)
	f.mu.Unlock()
	return f.create(types.PhaseGap)
}

func (f *fakeAPI) GetJobStatus(_ context.Context, externalJobID string) (types.JobStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kind, ok := f.jobs[externalJobID]
	if !ok {
		return types.JobStatusReport{}, fmt.Errorf("job %s not found", externalJobID)
	}
	script := f.scripts[kind]
	if len(script) == 0 {
		return types.JobStatusReport{Status: "running"}, nil
	}
	i := f.polls[externalJobID]
	f.polls[externalJobID] = i + 1
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i].report, script[i].err
}

func (f *fakeAPI) createdKinds() []types.PhaseKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.PhaseKind(nil), f.created...)
}

func (f *fakeAPI) count(kind types.PhaseKind) int {
	n := 0
	for _, k := range f.createdKinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type fakePrior struct {
	completed map[types.PhaseKind]bool
	err       error
}

func (f fakePrior) HasCompletedRun(_ context.Context, _ string, kind types.PhaseKind) (bool, error) {
	return f.completed[kind], f.err
}

type recordingSink struct {
	mu   sync.Mutex
	jobs []types.AnalysisJob
	err  error
}

func (s *recordingSink) PhaseCompleted(_ context.Context, job types.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return s.err
}

func (s *recordingSink) kinds() []types.PhaseKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.PhaseKind
	for _, j := range s.jobs {
		out = append(out, j.Kind)
	}
	return out
}

func fastConfig() Config {
	return Config{
		SearchPollInterval:   2 * time.Millisecond,
		CitationPollInterval: 2 * time.Millisecond,
		GapPollInterval:      2 * time.Millisecond,
		PhaseTimeout:         2 * time.Second,
		MaxPollErrors:        3,
	}
}

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/visibility-gap/internal/types"
)

func happyScripts() map[types.PhaseKind][]step {
	return map[types.PhaseKind][]step{
		types.PhaseSearch:   {running(0.5), completed("")},
		types.PhaseCitation: {running(0.2), running(0.6), completed("run-42")},
		types.PhaseGap:      {running(0.1), completed("")},
	}
}

func wait(t *testing.T, res LaunchResult) {
	t.Helper()
	select {
	case <-res.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("phase %s did not finish", res.Kind)
	}
}

func TestLaunchAll_RunsGapWithCitationRun(t *testing.T) {
	api := newFakeAPI(happyScripts())
	sink := &recordingSink{}
	o := New("proj-1", api, WithConfig(fastConfig()), WithResultSink(sink))

	out, err := o.LaunchAll(context.Background(), LaunchParams{Queries: []string{"mejor cuenta online"}, NicheID: "banca"})
	require.NoError(t, err)

	require.NotNil(t, out.Search.Job)
	require.NotNil(t, out.Citation.Job)
	require.NotNil(t, out.Gap.Job)
	assert.Equal(t, types.JobCompleted, out.Search.Job.Status)
	assert.Equal(t, types.JobCompleted, out.Citation.Job.Status)
	assert.Equal(t, types.JobCompleted, out.Gap.Job.Status)
	assert.Equal(t, "run-42", out.Citation.Job.ExternalRunID)
	assert.Equal(t, []string{"run-42"}, api.gapRunIDs)
	assert.Equal(t, [][]string{{"mejor cuenta online"}}, api.queries)

	created := api.createdKinds()
	require.Len(t, created, 3)
	assert.Equal(t, types.PhaseGap, created[2], "gap must be created after both prerequisites")
	assert.ElementsMatch(t, []types.PhaseKind{types.PhaseSearch, types.PhaseCitation}, created[:2])

	assert.Len(t, o.Jobs(), 3)
	assert.ElementsMatch(t, []types.PhaseKind{types.PhaseSearch, types.PhaseCitation, types.PhaseGap}, sink.kinds())
}

func TestLaunchAll_CitationTimeoutNeverLaunchesGap(t *testing.T) {
	cfg := fastConfig()
	cfg.PhaseTimeout = 80 * time.Millisecond
	api := newFakeAPI(map[types.PhaseKind][]step{
		types.PhaseSearch:   {running(0.5), completed("")},
		types.PhaseCitation: {running(0.3)},
	})
	o := New("proj-1", api, WithConfig(cfg))

	out, err := o.LaunchAll(context.Background(), LaunchParams{Queries: []string{"q"}})
	require.Error(t, err)

	var timedOut *PhaseTimedOutError
	require.ErrorAs(t, err, &timedOut)
	assert.Equal(t, types.PhaseCitation, timedOut.Phase)

	assert.Equal(t, 0, api.count(types.PhaseGap))
	assert.Equal(t, SkipPrerequisites, out.Gap.Skipped)
	assert.Equal(t, []types.PhaseKind{types.PhaseCitation}, out.Gap.Missing)
	assert.Nil(t, out.Gap.Job)

	search, ok := o.Registry().Current(types.PhaseSearch)
	require.True(t, ok)
	assert.Equal(t, types.JobCompleted, search.Status)

	citation, ok := o.Registry().Current(types.PhaseCitation)
	require.True(t, ok)
	assert.Equal(t, types.JobFailed, citation.Status)
	assert.Equal(t, types.FailureTimeout, citation.FailureKind)
	assert.NotNil(t, citation.FinishedAt)

	_, ok = o.Registry().Current(types.PhaseGap)
	assert.False(t, ok)
}

func TestLaunchAll_PrerequisiteFailureDoesNotStopSibling(t *testing.T) {
	api := newFakeAPI(map[types.PhaseKind][]step{
		types.PhaseSearch:   {failed("serp quota exceeded")},
		types.PhaseCitation: {running(0.5), running(0.8), completed("run-7")},
	})
	o := New("proj-1", api, WithConfig(fastConfig()))

	out, err := o.LaunchAll(context.Background(), LaunchParams{})
	require.Error(t, err)

	var failedErr *PhaseFailedError
	require.ErrorAs(t, err, &failedErr)
	assert.Equal(t, types.PhaseSearch, failedErr.Phase)

	require.NotNil(t, out.Citation.Job)
	assert.Equal(t, types.JobCompleted, out.Citation.Job.Status)
	assert.Equal(t, SkipPrerequisites, out.Gap.Skipped)
	assert.Equal(t, []types.PhaseKind{types.PhaseSearch}, out.Gap.Missing)
	assert.Equal(t, 0, api.count(types.PhaseGap))
}

func TestLaunchAll_RerunNeedsConfirmation(t *testing.T) {
	api := newFakeAPI(happyScripts())
	o := New("proj-1", api, WithConfig(fastConfig()))

	_, err := o.LaunchAll(context.Background(), LaunchParams{})
	require.NoError(t, err)
	require.Len(t, api.createdKinds(), 3)

	out, err := o.LaunchAll(context.Background(), LaunchParams{})
	require.NoError(t, err)
	assert.Equal(t, SkipRerunNotConfirmed, out.Skipped)
	assert.Len(t, api.createdKinds(), 3)
	assert.Len(t, o.Jobs(), 3)

	out, err = o.LaunchAll(context.Background(), LaunchParams{Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, SkipNone, out.Skipped)
	assert.Len(t, api.createdKinds(), 6)

	jobs := o.Jobs()
	require.Len(t, jobs, 6)
	for _, j := range jobs {
		assert.Equal(t, types.JobCompleted, j.Status, "previous runs keep their terminal state")
	}
}

func TestLaunchSingle_GapWithoutPrerequisitesIsNoop(t *testing.T) {
	api := newFakeAPI(happyScripts())
	o := New("proj-1", api, WithConfig(fastConfig()))

	res, err := o.LaunchSingle(context.Background(), types.PhaseGap, LaunchParams{})
	require.NoError(t, err)
	assert.Equal(t, SkipPrerequisites, res.Skipped)
	assert.Equal(t, []types.PhaseKind{types.PhaseSearch, types.PhaseCitation}, res.Missing)
	assert.Nil(t, res.Job)
	assert.Empty(t, o.Jobs())
	assert.Empty(t, api.createdKinds())
}

func TestLaunchSingle_GapUsesLatestCitationRun(t *testing.T) {
	api := newFakeAPI(happyScripts())
	o := New("proj-1", api, WithConfig(fastConfig()))
	ctx := context.Background()

	_, err := o.LaunchSingle(ctx, types.PhaseSearch, LaunchParams{})
	require.NoError(t, err)
	_, err = o.LaunchSingle(ctx, types.PhaseCitation, LaunchParams{})
	require.NoError(t, err)

	res, err := o.LaunchSingle(ctx, types.PhaseGap, LaunchParams{})
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	assert.Equal(t, types.JobCompleted, res.Job.Status)
	assert.Equal(t, []string{"run-42"}, api.gapRunIDs)
}

func TestLaunchSingle_FailedReportIsNotRetried(t *testing.T) {
	api := newFakeAPI(map[types.PhaseKind][]step{
		types.PhaseSearch: {running(0.4), failed("quota exceeded")},
	})
	o := New("proj-1", api, WithConfig(fastConfig()))

	res, err := o.LaunchSingle(context.Background(), types.PhaseSearch, LaunchParams{})
	require.Error(t, err)

	var failedErr *PhaseFailedError
	require.ErrorAs(t, err, &failedErr)
	assert.Equal(t, "quota exceeded", failedErr.Message)

	require.NotNil(t, res.Job)
	assert.Equal(t, types.JobFailed, res.Job.Status)
	assert.Equal(t, types.FailureProvider, res.Job.FailureKind)
	assert.Contains(t, res.Job.Error, "quota exceeded")
	assert.Equal(t, 1, api.count(types.PhaseSearch))
}

func TestLaunchSingle_CreateFailure(t *testing.T) {
	api := newFakeAPI(happyScripts())
	api.createErr[types.PhaseCitation] = errors.New("upstream returned 503")
	o := New("proj-1", api, WithConfig(fastConfig()))

	res, err := o.LaunchSingle(context.Background(), types.PhaseCitation, LaunchParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream returned 503")

	require.NotNil(t, res.Job)
	assert.Equal(t, types.JobFailed, res.Job.Status)
	assert.Equal(t, types.FailureLaunch, res.Job.FailureKind)
	assert.Empty(t, res.Job.ExternalJobID)

	// The phase is released, so a later launch can try again.
	delete(api.createErr, types.PhaseCitation)
	res, err = o.LaunchSingle(context.Background(), types.PhaseCitation, LaunchParams{})
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, res.Job.Status)
}

func TestLaunchSingle_PollErrors(t *testing.T) {
	t.Run("tolerates transient errors", func(t *testing.T) {
		api := newFakeAPI(map[types.PhaseKind][]step{
			types.PhaseSearch: {pollError(), pollError(), running(0.5), pollError(), completed("")},
		})
		o := New("proj-1", api, WithConfig(fastConfig()))

		res, err := o.LaunchSingle(context.Background(), types.PhaseSearch, LaunchParams{})
		require.NoError(t, err)
		assert.Equal(t, types.JobCompleted, res.Job.Status)
	})

	t.Run("fails after consecutive errors", func(t *testing.T) {
		api := newFakeAPI(map[types.PhaseKind][]step{
			types.PhaseSearch: {running(0.5), pollError()},
		})
		o := New("proj-1", api, WithConfig(fastConfig()))

		res, err := o.LaunchSingle(context.Background(), types.PhaseSearch, LaunchParams{})
		require.Error(t, err)

		var failedErr *PhaseFailedError
		require.ErrorAs(t, err, &failedErr)
		assert.Equal(t, "job status unavailable", failedErr.Message)
		assert.ErrorContains(t, err, "status endpoint unavailable")
		assert.Equal(t, types.FailureProvider, res.Job.FailureKind)
	})
}

func TestStart_AlreadyRunning(t *testing.T) {
	api := newFakeAPI(map[types.PhaseKind][]step{types.PhaseSearch: {running(0.1)}})
	o := New("proj-1", api, WithConfig(fastConfig()))
	ctx := context.Background()

	first, err := o.Start(ctx, types.PhaseSearch, LaunchParams{})
	require.NoError(t, err)
	require.NotNil(t, first.Job)
	assert.Equal(t, types.JobRunning, first.Job.Status)

	second, err := o.Start(ctx, types.PhaseSearch, LaunchParams{Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, SkipAlreadyRunning, second.Skipped)
	assert.Equal(t, 1, api.count(types.PhaseSearch))

	require.NoError(t, o.Cancel(types.PhaseSearch))
	wait(t, first)
}

func TestCancel(t *testing.T) {
	api := newFakeAPI(map[types.PhaseKind][]step{types.PhaseCitation: {running(0.3)}})
	o := New("proj-1", api, WithConfig(fastConfig()))

	assert.ErrorIs(t, o.Cancel(types.PhaseCitation), ErrNotRunning)

	res, err := o.Start(context.Background(), types.PhaseCitation, LaunchParams{})
	require.NoError(t, err)
	require.NoError(t, o.Cancel(types.PhaseCitation))
	wait(t, res)

	assert.ErrorIs(t, res.Err(), ErrPhaseCanceled)
	job, ok := o.Registry().Get(res.Job.ID)
	require.True(t, ok)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Equal(t, types.FailureCanceled, job.FailureKind)

	assert.ErrorIs(t, o.Cancel(types.PhaseCitation), ErrNotRunning)
}

func TestStart_ContextCancelStopsPolling(t *testing.T) {
	api := newFakeAPI(map[types.PhaseKind][]step{types.PhaseSearch: {running(0.3)}})
	o := New("proj-1", api, WithConfig(fastConfig()))
	ctx, cancel := context.WithCancel(context.Background())

	res, err := o.Start(ctx, types.PhaseSearch, LaunchParams{})
	require.NoError(t, err)
	cancel()
	wait(t, res)

	assert.ErrorIs(t, res.Err(), ErrPhaseCanceled)
	assert.Equal(t, types.JobFailed, o.Registry().Status(types.PhaseSearch))
}

func TestStart_UnknownPhase(t *testing.T) {
	o := New("proj-1", newFakeAPI(nil), WithConfig(fastConfig()))
	_, err := o.Start(context.Background(), types.PhaseKind("render"), LaunchParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase")
}

func TestRerunGate_PriorRunsAndConfirm(t *testing.T) {
	prior := fakePrior{completed: map[types.PhaseKind]bool{types.PhaseSearch: true}}

	t.Run("skips without confirmation", func(t *testing.T) {
		api := newFakeAPI(happyScripts())
		o := New("proj-1", api, WithConfig(fastConfig()), WithPriorRuns(prior))

		res, err := o.LaunchSingle(context.Background(), types.PhaseSearch, LaunchParams{})
		require.NoError(t, err)
		assert.Equal(t, SkipRerunNotConfirmed, res.Skipped)
		assert.Empty(t, api.createdKinds())
	})

	t.Run("confirm callback allows rerun", func(t *testing.T) {
		api := newFakeAPI(happyScripts())
		var asked []types.PhaseKind
		confirm := func(_ context.Context, kind types.PhaseKind) bool {
			asked = append(asked, kind)
			return true
		}
		o := New("proj-1", api, WithConfig(fastConfig()), WithPriorRuns(prior), WithConfirm(confirm))

		res, err := o.LaunchSingle(context.Background(), types.PhaseSearch, LaunchParams{})
		require.NoError(t, err)
		assert.Equal(t, types.JobCompleted, res.Job.Status)
		assert.Equal(t, []types.PhaseKind{types.PhaseSearch}, asked)
	})

	t.Run("declined confirmation", func(t *testing.T) {
		api := newFakeAPI(happyScripts())
		confirm := func(context.Context, types.PhaseKind) bool { return false }
		o := New("proj-1", api, WithConfig(fastConfig()), WithPriorRuns(prior), WithConfirm(confirm))

		out, err := o.LaunchAll(context.Background(), LaunchParams{})
		require.NoError(t, err)
		assert.Equal(t, SkipRerunNotConfirmed, out.Skipped)
		assert.Empty(t, api.createdKinds())
	})

	t.Run("phases without prior runs launch freely", func(t *testing.T) {
		api := newFakeAPI(happyScripts())
		o := New("proj-1", api, WithConfig(fastConfig()), WithPriorRuns(prior))

		res, err := o.LaunchSingle(context.Background(), types.PhaseCitation, LaunchParams{})
		require.NoError(t, err)
		assert.Equal(t, SkipNone, res.Skipped)
	})

	t.Run("lookup error", func(t *testing.T) {
		api := newFakeAPI(happyScripts())
		o := New("proj-1", api, WithConfig(fastConfig()), WithPriorRuns(fakePrior{err: errors.New("db down")}))

		_, err := o.LaunchSingle(context.Background(), types.PhaseSearch, LaunchParams{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
	})
}

func TestPollStatus(t *testing.T) {
	api := newFakeAPI(map[types.PhaseKind][]step{types.PhaseSearch: {running(0.4)}})
	api.createErr[types.PhaseCitation] = errors.New("boom")
	o := New("proj-1", api, WithConfig(fastConfig()))
	ctx := context.Background()

	res, err := o.Start(ctx, types.PhaseSearch, LaunchParams{})
	require.NoError(t, err)

	report, err := o.PollStatus(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, "running", report.Status)

	report, err = o.PollStatus(ctx, res.Job.ExternalJobID)
	require.NoError(t, err)
	assert.Equal(t, "running", report.Status)

	failedLaunch, _ := o.Start(ctx, types.PhaseCitation, LaunchParams{})
	require.NotNil(t, failedLaunch.Job)
	report, err = o.PollStatus(ctx, failedLaunch.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(types.JobFailed), report.Status)

	_, err = o.PollStatus(ctx, "missing")
	assert.Error(t, err)

	require.NoError(t, o.Cancel(types.PhaseSearch))
	wait(t, res)
}

func TestSinkErrorDoesNotFailPhase(t *testing.T) {
	api := newFakeAPI(happyScripts())
	sink := &recordingSink{err: errors.New("disk full")}
	o := New("proj-1", api, WithConfig(fastConfig()), WithResultSink(sink))

	res, err := o.LaunchSingle(context.Background(), types.PhaseSearch, LaunchParams{})
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, res.Job.Status)
	assert.Equal(t, []types.PhaseKind{types.PhaseSearch}, sink.kinds())
}

func TestProgressEvents(t *testing.T) {
	api := newFakeAPI(map[types.PhaseKind][]step{
		types.PhaseSearch: {running(0.25), running(0.01), running(1), completed("")},
	})
	o := New("proj-1", api, WithConfig(fastConfig()))

	var mu sync.Mutex
	var statuses []types.JobStatus
	var progress []float64
	unsubscribe := o.Registry().Subscribe(func(e ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, e.Status)
		progress = append(progress, e.Progress)
	})
	defer unsubscribe()

	_, err := o.LaunchSingle(context.Background(), types.PhaseSearch, LaunchParams{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(statuses), 4)
	assert.Equal(t, types.JobIdle, statuses[0])
	assert.Equal(t, types.JobRunning, statuses[1])
	assert.Equal(t, types.JobCompleted, statuses[len(statuses)-1])
	assert.Contains(t, progress, 0.25)
	assert.Contains(t, progress, 0.01, "small fractions are not rescaled")
	assert.Equal(t, 1.0, progress[len(progress)-1])
}

// hangingSink never finishes on its own; it returns once the save context ends.
type hangingSink struct {
	deadline chan bool
}

func (s *hangingSink) PhaseCompleted(ctx context.Context, _ types.AnalysisJob) error {
	_, ok := ctx.Deadline()
	s.deadline <- ok
	<-ctx.Done()
	return ctx.Err()
}

func TestHangingSinkIsBounded(t *testing.T) {
	api := newFakeAPI(happyScripts())
	sink := &hangingSink{deadline: make(chan bool, 1)}
	cfg := fastConfig()
	cfg.SinkTimeout = 20 * time.Millisecond
	o := New("proj-1", api, WithConfig(cfg), WithResultSink(sink))

	type outcome struct {
		res LaunchResult
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := o.LaunchSingle(context.Background(), types.PhaseSearch, LaunchParams{})
		out <- outcome{res, err}
	}()

	select {
	case got := <-out:
		require.NoError(t, got.err)
		assert.Equal(t, types.JobCompleted, got.res.Job.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("launch waited on the sink past its timeout")
	}
	assert.True(t, <-sink.deadline)
}

func TestConfigDefaults(t *testing.T) {
	o := New("proj-1", newFakeAPI(nil), WithConfig(Config{PhaseTimeout: time.Minute}))
	cfg := o.Config()
	assert.Equal(t, time.Minute, cfg.PhaseTimeout)
	assert.Equal(t, DefaultConfig().SearchPollInterval, cfg.SearchPollInterval)
	assert.Equal(t, DefaultConfig().MaxPollErrors, cfg.MaxPollErrors)
	assert.Equal(t, 2*time.Minute, cfg.SinkTimeout)
	assert.Equal(t, "proj-1", o.ProjectID())
}

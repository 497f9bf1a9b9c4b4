package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	delayPerJob map[string]time.Duration
	failJob     string
	failWith    ErrorBehavior
	ran         atomic.Int32
}

func (f *fakeRunner) RunJob(ctx context.Context, job *Job) (*JobResult, *ProcessingError) {
	f.ran.Add(1)
	if d, ok := f.delayPerJob[job.Spec.SourceFiles["Source 1"]]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return &JobResult{Status: StatusFailed}, NewCancelError("test")
		}
	}
	if job.Spec.SourceFiles["Source 1"] == f.failJob {
		return &JobResult{Status: StatusFailed},
			&ProcessingError{Behavior: f.failWith, Stage: "test", Message: "boom"}
	}
	return &JobResult{Status: StatusMerged, OutputPath: job.Spec.SourceFiles["Source 1"]}, nil
}

type silentHandler struct{}

func (silentHandler) ZeroLog() Logger                    { return nil }
func (silentHandler) UpdateProgress(string, int, int, string) {}
func (silentHandler) Cancelled() bool                    { return false }

func jobNamed(name string) *Job {
	return NewJob(JobSpec{SourceFiles: map[string]string{"Source 1": name}}, nil, ToolPaths{}, silentHandler{})
}

func TestWorkerPoolPreservesSubmissionOrder(t *testing.T) {
	runner := &fakeRunner{delayPerJob: map[string]time.Duration{
		"a": 30 * time.Millisecond, // slowest finishes last but stays first
		"b": 1 * time.Millisecond,
		"c": 10 * time.Millisecond,
	}}
	pool := NewWorkerPool(runner, 3, silentHandler{})
	results, errs := pool.ProcessJobs(context.Background(), []*Job{jobNamed("a"), jobNamed("b"), jobNamed("c")})

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].OutputPath)
	assert.Equal(t, "b", results[1].OutputPath)
	assert.Equal(t, "c", results[2].OutputPath)
	for _, err := range errs {
		assert.Nil(t, err)
	}
}

func TestWorkerPoolIsolatesPerJobFailures(t *testing.T) {
	runner := &fakeRunner{failJob: "b", failWith: AbortTask}
	pool := NewWorkerPool(runner, 2, silentHandler{})
	results, errs := pool.ProcessJobs(context.Background(), []*Job{jobNamed("a"), jobNamed("b"), jobNamed("c")})

	assert.Equal(t, StatusMerged, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Equal(t, StatusMerged, results[2].Status)
	assert.Error(t, errs[1])
	assert.Nil(t, errs[0])
	assert.Equal(t, int32(3), runner.ran.Load())
}

func TestWorkerPoolMinimumOneWorker(t *testing.T) {
	runner := &fakeRunner{}
	pool := NewWorkerPool(runner, 0, silentHandler{})
	results, _ := pool.ProcessJobs(context.Background(), []*Job{jobNamed("a")})
	require.Len(t, results, 1)
	assert.Equal(t, StatusMerged, results[0].Status)
}

func TestProgressTrackerWeightsStages(t *testing.T) {
	var lastOverall float64
	var lastStage string
	tr := NewProgressTracker(func(overall float64, stage, _ string) {
		lastOverall = overall
		lastStage = stage
	})

	tr.UpdateProgress("Analysis", 1, 2, "half the sources")
	assert.InDelta(t, 15.0, lastOverall, 1e-9, "half of Analysis's 30%% share")
	assert.Equal(t, "Analysis", lastStage)

	tr.UpdateProgress("Analysis", 2, 2, "done")
	assert.InDelta(t, 30.0, lastOverall, 1e-9)

	tr.UpdateProgress("Mux", 2, 2, "done")
	assert.InDelta(t, 42.0, lastOverall, 1e-9, "Analysis 30 + Mux 12")

	// unknown stages are ignored rather than corrupting the total
	tr.UpdateProgress("Nonsense", 1, 1, "")
	assert.InDelta(t, 42.0, lastOverall, 1e-9)
}

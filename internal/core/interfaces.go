package core

import "context"

// MessageHandler is the logging/progress sink every stage writes through
//. CLIHandler is the only
// production implementation; tests use a recording fake.
type MessageHandler interface {
	ZeroLog() Logger
	ProgressTracker
	// Cancelled reports whether the cooperative cancellation flag is
	// set; stages check it after each external process and between scan
	// iterations.
	Cancelled() bool
}

// ProgressTracker tracks weighted multi-stage progress for a single job.
type ProgressTracker interface {
	UpdateProgress(stage string, completed, total int, description string)
}

// Logger is the subset of zerolog.Logger surface stages need, kept as an
// interface so tests can swap in a recording logger without dragging in
// zerolog's concrete Event type everywhere.
type Logger interface {
	Trace() LogEvent
	Debug() LogEvent
	Info() LogEvent
	Warn() LogEvent
	Error() LogEvent
}

type LogEvent interface {
	Err(err error) LogEvent
	Str(key, val string) LogEvent
	Int(key string, val int) LogEvent
	Float64(key string, val float64) LogEvent
	Bool(key string, val bool) LogEvent
	Msg(msg string)
	Msgf(format string, v ...interface{})
}

// JobRunner is implemented by the pipeline orchestrator; the batch worker
// pool calls RunJob once per queued job.
type JobRunner interface {
	RunJob(ctx context.Context, job *Job) (*JobResult, *ProcessingError)
}

// JobResult is the outer batch entry point's per-job return value.
type JobResult struct {
	Status     JobStatus
	OutputPath string
	Delays     *Delays
	Error      error
}

type JobStatus string

const (
	StatusMerged   JobStatus = "Merged"
	StatusAnalyzed JobStatus = "Analyzed"
	StatusFailed   JobStatus = "Failed"
)

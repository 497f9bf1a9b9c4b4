package core

import (
	"github.com/rs/zerolog"
)

// LogLevel mirrors zerolog's level ladder with a dedicated Cancel rung for
// cooperative cancellation, which is a Failed outcome rather than an error.
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
	LevelCancel
)

func (l LogLevel) String() string {
	return [...]string{
		"TRACE",
		"DEBUG",
		"INFO",
		"WARN",
		"ERROR",
		"FATAL",
		"CANCEL",
	}[l]
}

func (l LogLevel) ZerologLevel() zerolog.Level {
	if l == LevelCancel {
		return zerolog.ErrorLevel
	}
	return zerolog.Level(l) - 1 // zerolog's ladder starts at TraceLevel = -1
}

// ErrorBehavior classifies how the orchestrator should react to a returned
// ProcessingError; stage code never decides this for itself beyond picking
// the behavior, the orchestrator enforces the short-circuit.
type ErrorBehavior int

const (
	ContinueWithWarning ErrorBehavior = iota
	AbortTask
	AbortAllTasks
	Cancelled
)

func (b ErrorBehavior) String() string {
	return [...]string{
		"warning",
		"abort_task",
		"abort_all",
		"cancelled",
	}[b]
}

// ProcessingError is the structured error every stage returns to the
// orchestrator. Context carries the stage name and, where applicable,
// source/track identity so logs are greppable by job.
type ProcessingError struct {
	Behavior ErrorBehavior
	Level    LogLevel
	Stage    string
	Message  string
	Err      error
	Context  map[string]interface{}
}

func (e *ProcessingError) Error() string {
	if e.Stage != "" {
		return "[" + e.Stage + "] " + e.Message
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func NewStageError(stage string, behavior ErrorBehavior, err error, ctx map[string]interface{}) *ProcessingError {
	return &ProcessingError{
		Behavior: behavior,
		Level:    LevelError,
		Stage:    stage,
		Message:  err.Error(),
		Err:      err,
		Context:  ctx,
	}
}

func NewCancelError(stage string) *ProcessingError {
	return &ProcessingError{
		Behavior: Cancelled,
		Level:    LevelCancel,
		Stage:    stage,
		Message:  "job cancelled",
	}
}

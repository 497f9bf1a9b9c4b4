package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/pkg/eta"
)

// CLIHandler is the sole production MessageHandler. It
// writes structured logs to stderr and an in-memory buffer (read back by
// internal/diagnostics on failure), and drives one schollz/progressbar bar
// per handler against the stage-share weights via WeightedProgress; the CLI
// creates a single handler for the whole batch.
type CLIHandler struct {
	ctx       context.Context
	logger    zerolog.Logger
	buffer    bytes.Buffer
	cancelled bool

	bar           *progressbar.ProgressBar
	etaCalculator eta.Provider
	progress      *WeightedProgress
}

func NewCLIHandler(ctx context.Context) *CLIHandler {
	h := &CLIHandler{ctx: ctx}

	multi := io.MultiWriter(os.Stderr, &h.buffer)
	writer := zerolog.ConsoleWriter{Out: multi, TimeFormat: time.TimeOnly}
	h.logger = zerolog.New(writer).With().Timestamp().Logger()

	h.etaCalculator = eta.NewETACalculator(100)
	h.bar = progressbar.NewOptions(100,
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(31),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWriter(os.Stdout),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "#", SaucerPadding: "-", BarStart: "[", BarEnd: "]",
		}),
	)
	h.progress = NewProgressTracker(h.onProgress)

	return h
}

func (h *CLIHandler) onProgress(overall float64, stage, description string) {
	h.etaCalculator.TaskCompleted(int64(overall))
	result := h.etaCalculator.CalculateETAWithConfidence()

	desc := fmt.Sprintf("[%s] %s", stage, description)
	if result.Estimate >= 0 {
		desc = fmt.Sprintf("%s [ETA %s]", desc, result.Estimate.Round(time.Second))
	}
	h.bar.Describe(desc)
	_ = h.bar.Set(int(overall))
}

func (h *CLIHandler) ZeroLog() Logger {
	return zerologAdapter{&h.logger}
}

func (h *CLIHandler) UpdateProgress(stage string, completed, total int, description string) {
	h.progress.UpdateProgress(stage, completed, total, description)
}

func (h *CLIHandler) Cancelled() bool {
	return h.cancelled
}

// Cancel sets the cooperative cancellation flag a stage checks between
// external-process invocations and scan iterations.
func (h *CLIHandler) Cancel() {
	h.cancelled = true
}

func (h *CLIHandler) LogBuffer() []byte {
	return h.buffer.Bytes()
}

// zerologAdapter narrows *zerolog.Logger to the Logger interface so stages
// depend on core.Logger, not zerolog directly.
type zerologAdapter struct {
	l *zerolog.Logger
}

func (z zerologAdapter) Trace() LogEvent { return zerologEvent{z.l.Trace()} }
func (z zerologAdapter) Debug() LogEvent { return zerologEvent{z.l.Debug()} }
func (z zerologAdapter) Info() LogEvent  { return zerologEvent{z.l.Info()} }
func (z zerologAdapter) Warn() LogEvent  { return zerologEvent{z.l.Warn()} }
func (z zerologAdapter) Error() LogEvent { return zerologEvent{z.l.Error()} }

type zerologEvent struct {
	e *zerolog.Event
}

func (z zerologEvent) Err(err error) LogEvent            { z.e = z.e.Err(err); return z }
func (z zerologEvent) Str(key, val string) LogEvent      { z.e = z.e.Str(key, val); return z }
func (z zerologEvent) Int(key string, val int) LogEvent  { z.e = z.e.Int(key, val); return z }
func (z zerologEvent) Float64(key string, val float64) LogEvent {
	z.e = z.e.Float64(key, val)
	return z
}
func (z zerologEvent) Bool(key string, val bool) LogEvent { z.e = z.e.Bool(key, val); return z }
func (z zerologEvent) Msg(msg string)                     { z.e.Msg(msg) }
func (z zerologEvent) Msgf(format string, v ...interface{}) { z.e.Msgf(format, v...) }

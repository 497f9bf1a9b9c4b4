// Package execwrap runs child processes through Run or Capture, wrapped in
// a shared retry policy so a transient
// spawn failure (antivirus file lock, OOM-killed child) does not abort a
// multi-hour batch.
package execwrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/executils"
)

const maxAttempts = 2

// buildRetryPolicy retries any error except context cancellation, which
// aborts immediately so cooperative cancel is never delayed by a
// backoff sleep.
func buildRetryPolicy[R any]() failsafe.Policy[R] {
	return retrypolicy.Builder[R]().
		HandleIf(func(_ R, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}).
		AbortOnErrors(context.Canceled).
		WithMaxAttempts(maxAttempts).
		ReturnLastFailure().
		WithDelay(500 * time.Millisecond).
		Build()
}

// Run executes bin with args, discarding stdout. Stderr is captured and
// folded into the returned error.
func Run(ctx context.Context, bin string, args []string) error {
	return failsafe.Run(func() error {
		cmd := executils.CommandContext(ctx, bin, args...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s: %w: %s", bin, err, truncate(stderr.String(), 2048))
		}
		return nil
	}, buildRetryPolicy[any]())
}

// Capture executes bin with args and returns its stdout bytes.
func Capture(ctx context.Context, bin string, args []string) ([]byte, error) {
	return failsafe.Get(func() ([]byte, error) {
		cmd := executils.CommandContext(ctx, bin, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%s: %w: %s", bin, err, truncate(stderr.String(), 2048))
		}
		return stdout.Bytes(), nil
	}, buildRetryPolicy[[]byte]())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

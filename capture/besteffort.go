// Package capture implements the per-URL pipeline: stabilize the page,
// dismiss interstitials, resolve the score region, extract the payload or
// an image, and hand the result to the normalizer.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/rtcapture/models"
)

// Try runs fn under its own timeout and converts any failure (error,
// timeout or panic) into ok=false. Failures are logged at debug level
// under op. A zero timeout means no extra deadline.
func Try[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (v T, ok bool) {
	if err := ctx.Err(); err != nil {
		return v, false
	}
	tctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Debug("best-effort step panicked", "op", op, "panic", r)
			var zero T
			v, ok = zero, false
		}
	}()

	v, err := fn(tctx)
	if err != nil {
		slog.Debug("best-effort step skipped", "op", op, "error", err)
		var zero T
		return zero, false
	}
	return v, true
}

// BestEffort is Try for actions without a result.
func BestEffort(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) bool {
	_, ok := Try(ctx, timeout, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return ok
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// categorize keeps an existing ScrapeError code and otherwise maps
// context errors to a timeout and everything else to code.
func categorize(err error, code, msg string) error {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "capture canceled", err)
	default:
		return models.NewScrapeError(code, msg, err)
	}
}

// panicError converts a recovered panic value into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return models.NewScrapeError(models.ErrCodeInternal, "panic during capture", err)
	}
	return models.NewScrapeError(models.ErrCodeInternal, fmt.Sprintf("panic during capture: %v", r), nil)
}

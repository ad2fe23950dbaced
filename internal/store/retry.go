package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RetryPolicy controls the inline retries a writer performs before
// deferring an operation to the pending queue. MaxAttempts counts the
// retries after the first attempt, so MaxAttempts=2 means three tries in
// total.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// Delay returns the wait before retry number attempt (zero-based), doubling
// each step.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.InitialDelay << attempt
}

// IsStreamingBufferError reports whether err is BigQuery rejecting a
// mutation because the target rows are still in the streaming buffer. The
// API surfaces this as a generic bad request, so the message text is the
// only signal.
func IsStreamingBufferError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "streaming buffer")
}

type retryRunner struct {
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

// run executes op, retrying streaming-buffer failures per the policy. When
// retries are exhausted the onExhausted hook takes over: writers enqueue a
// pending operation there, while the queue drain surfaces the error so the
// item can be rescheduled. Non-buffer errors abort immediately.
func (r retryRunner) run(ctx context.Context, name string, op func(context.Context) error, onExhausted func(context.Context, error) error) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				slog.InfoContext(ctx, "operation succeeded after retry",
					slog.String("operation", name),
					slog.Int("attempt", attempt))
			}
			return nil
		}
		if !IsStreamingBufferError(err) {
			return err
		}
		if attempt >= r.policy.MaxAttempts {
			slog.WarnContext(ctx, "streaming buffer retries exhausted, deferring",
				slog.String("operation", name),
				slog.Int("attempts", attempt+1))
			return onExhausted(ctx, err)
		}
		delay := r.policy.Delay(attempt)
		slog.WarnContext(ctx, "rows still in streaming buffer, retrying",
			slog.String("operation", name),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay))
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("waiting to retry %s: %w", name, sleepErr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

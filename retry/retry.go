// Package retry wraps operations with bounded retries and a fixed delay between attempts.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/runtime-init/interfaces"
)

// Policy bounds the attempts of a single call site.
type Policy struct {
	// MaxRetries is the total number of attempts. Values below one still yield one attempt.
	MaxRetries int
	// Interval is the delay between attempts.
	Interval time.Duration
	// Log, when set, receives one record per failed attempt.
	Log *slog.Logger
	// Name identifies the operation in log records.
	Name string
}

// FromConfig converts a configured policy into an executor policy.
func FromConfig(p interfaces.RetryPolicy) Policy {
	return Policy{MaxRetries: p.MaxRetries, Interval: p.Interval()}
}

// With returns a copy of the policy that logs to log under name.
func (p Policy) With(log *slog.Logger, name string) Policy {
	p.Log = log
	p.Name = name
	return p
}

// Attempts is the number of times an operation runs before giving up.
func (p Policy) Attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

// ExhaustedError is returned once every attempt failed. It wraps the last cause.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", interfaces.ErrRetryExhausted, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is matches interfaces.ErrRetryExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == interfaces.ErrRetryExhausted
}

// Call runs op(ctx, in) until it succeeds or the policy is exhausted.
// Every error is retryable. Side effects of op may happen once per attempt.
func Call[In, Out any](ctx context.Context, policy Policy, op func(context.Context, In) (Out, error), in In) (Out, error) {
	var zero Out
	var lastErr error

	attempts := policy.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := op(ctx, in)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if policy.Log != nil {
			policy.Log.Debug("Attempt failed",
				slog.String("operation", policy.Name),
				slog.Int("attempt", attempt),
				slog.Int("maxAttempts", attempts),
				"err", err)
		}

		if attempt == attempts {
			break
		}

		if err := sleep(ctx, policy.Interval); err != nil {
			return zero, fmt.Errorf("cancelled after %d attempt(s): %w (last error: %v)", attempt, err, lastErr)
		}
	}

	if policy.Log != nil {
		policy.Log.Warn("Retries exhausted",
			slog.String("operation", policy.Name),
			slog.Int("attempts", attempts),
			"err", lastErr)
	}
	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Do runs op until it succeeds or the policy is exhausted.
func Do[Out any](ctx context.Context, policy Policy, op func(context.Context) (Out, error)) (Out, error) {
	return Call(ctx, policy, func(ctx context.Context, _ struct{}) (Out, error) {
		return op(ctx)
	}, struct{}{})
}

// Run is Do for operations without a result.
func Run(ctx context.Context, policy Policy, op func(context.Context) error) error {
	_, err := Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

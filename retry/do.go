package retry

import (
	"context"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
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

// Attempt describes a failure that is about to be retried.
type Attempt struct {
	FailureCount int
	Delay        time.Duration
	Err          error
}

type Runner struct {
	Policy  Policy
	Sleep   SleepFunc
	OnRetry func(Attempt)
}

// Do runs fn until it succeeds or the policy refuses another attempt. It
// returns the last error and the number of failures observed.
func (r Runner) Do(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, int, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	failures := 0
	for {
		result, err := fn(ctx)
		if err == nil {
			return result, failures, nil
		}

		if !r.Policy.ShouldRetry(failures, err) {
			return nil, failures + 1, err
		}

		delay := r.Policy.DelayFor(failures)
		if r.OnRetry != nil {
			r.OnRetry(Attempt{FailureCount: failures, Delay: delay, Err: err})
		}

		failures++

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return nil, failures, err
		}
	}
}

func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) (any, error)) (any, error) {
	result, _, err := Runner{Policy: policy}.Do(ctx, fn)
	return result, err
}

package retry

import (
	"context"
	"time"

	"github.com/saiset-co/sai-query-cache/types"
)

const (
	DefaultQueryRetries    = 3
	DefaultMutationRetries = 1
	DefaultBaseDelay       = 1000 * time.Millisecond
	DefaultMaxDelay        = 30000 * time.Millisecond
)

// Policy decides whether a failed operation is attempted again and how long to
// wait before doing so. Failure counts are zero-based: the first failure is 0.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func QueryPolicy() Policy {
	return Policy{
		MaxRetries: DefaultQueryRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

func MutationPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMutationRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

func NoRetry() Policy {
	return Policy{}
}

// FromConfig fills zero delays with the defaults. MaxRetries is taken as is.
func FromConfig(config types.RetryConfig) Policy {
	policy := Policy{
		MaxRetries: config.MaxRetries,
		BaseDelay:  config.BaseDelay,
		MaxDelay:   config.MaxDelay,
	}

	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultMaxDelay
	}

	return policy
}

func (p Policy) ShouldRetry(failureCount int, err error) bool {
	if err == nil || failureCount >= p.MaxRetries {
		return false
	}
	return IsRetryableError(err)
}

// DelayFor returns min(BaseDelay * 2^failureCount, MaxDelay).
func (p Policy) DelayFor(failureCount int) time.Duration {
	if failureCount < 0 {
		failureCount = 0
	}

	delay := p.BaseDelay
	for i := 0; i < failureCount; i++ {
		if delay >= p.MaxDelay || delay > p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func IsClientError(err error) bool {
	statusCode, ok := types.StatusCodeOf(err)
	return ok && statusCode >= 400 && statusCode < 500
}

// IsRetryableError treats everything except client errors and caller
// cancellation as transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if types.IsError(err, context.Canceled) || types.IsError(err, context.DeadlineExceeded) {
		return false
	}

	return !IsClientError(err)
}

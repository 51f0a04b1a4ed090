package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-query-cache/retry"
	"github.com/saiset-co/sai-query-cache/types"
)

// Mutate runs a write under the mutation retry policy. On success every
// prefix in invalidate is marked stale.
func (c *QueryCache) Mutate(ctx context.Context, fn types.MutationFunc, invalidate ...types.QueryKey) (any, error) {
	start := time.Now()

	if fn == nil {
		return nil, types.ErrCacheMutationIsNil
	}

	runner := retry.Runner{
		Policy: c.mutationPolicy,
		Sleep:  c.sleep,
		OnRetry: func(a retry.Attempt) {
			c.logger.Debug("Retrying mutation",
				zap.Int("failure_count", a.FailureCount+1),
				zap.Duration("delay", a.Delay),
				zap.Error(a.Err))
		},
	}

	result, failures, err := runner.Do(ctx, fn)
	if err != nil {
		c.logger.Warn("Mutation failed", zap.Int("failures", failures), zap.Error(err))
		c.recordMetric("mutate", "error", time.Since(start))
		return nil, err
	}

	for _, prefix := range invalidate {
		c.Invalidate(prefix)
	}

	c.recordMetric("mutate", "success", time.Since(start))
	return result, nil
}

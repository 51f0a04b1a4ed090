package cache

import (
	"time"

	"github.com/saiset-co/sai-query-cache/retry"
	"github.com/saiset-co/sai-query-cache/types"
)

type Option func(*QueryCache)

// WithClock replaces the wall clock used for staleness and collection.
func WithClock(now func() time.Time) Option {
	return func(c *QueryCache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(c *QueryCache) {
		c.metrics = metrics
	}
}

// WithSleep replaces the wait between retry attempts.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(c *QueryCache) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithHydrationGate makes Ensure block until MarkReady is called.
func WithHydrationGate() Option {
	return func(c *QueryCache) {
		c.gated = true
	}
}

func WithQueryPolicy(policy retry.Policy) Option {
	return func(c *QueryCache) {
		c.queryPolicy = policy
	}
}

func WithMutationPolicy(policy retry.Policy) Option {
	return func(c *QueryCache) {
		c.mutationPolicy = policy
	}
}

type ensureOptions struct {
	policy    retry.Policy
	staleTime *time.Duration
}

type EnsureOption func(*ensureOptions)

// WithPolicy overrides the retry policy for a single query.
func WithPolicy(policy retry.Policy) EnsureOption {
	return func(o *ensureOptions) {
		o.policy = policy
	}
}

// WithStaleTime overrides the category stale time for the entry.
func WithStaleTime(d time.Duration) EnsureOption {
	return func(o *ensureOptions) {
		o.staleTime = &d
	}
}

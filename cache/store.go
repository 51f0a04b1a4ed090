package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-query-cache/metrics"
	"github.com/saiset-co/sai-query-cache/retry"
	"github.com/saiset-co/sai-query-cache/types"
)

const (
	DefaultStaleTime = 1 * time.Minute
	DefaultGCTime    = 5 * time.Minute
)

// QueryCache holds query results keyed by QueryKey hash. Concurrent Ensure
// calls for the same key share one fetch; fetches run on the cache's own
// context so a caller giving up never cancels the work other callers wait on.
type QueryCache struct {
	ctx            context.Context
	logger         types.Logger
	metrics        types.MetricsManager
	config         *types.CacheConfig
	now            func() time.Time
	sleep          retry.SleepFunc
	queryPolicy    retry.Policy
	mutationPolicy retry.Policy
	entries        map[string]*entry
	inflight       map[string]struct{}
	generation     uint64
	group          singleflight.Group
	mu             sync.RWMutex
	gated          bool
	ready          chan struct{}
	readyOnce      sync.Once
	background     sync.WaitGroup
}

func New(ctx context.Context, logger types.Logger, config *types.CacheConfig, opts ...Option) *QueryCache {
	if config == nil {
		config = &types.CacheConfig{
			Default: types.QueryPolicyConfig{StaleTime: DefaultStaleTime, GCTime: DefaultGCTime},
		}
	}

	c := &QueryCache{
		ctx:            context.WithoutCancel(ctx),
		logger:         logger,
		config:         config,
		now:            time.Now,
		sleep:          retry.Sleep,
		queryPolicy:    retry.FromConfig(config.QueryRetry),
		mutationPolicy: retry.FromConfig(config.MutationRetry),
		entries:        make(map[string]*entry),
		inflight:       make(map[string]struct{}),
		ready:          make(chan struct{}),
	}

	if config.QueryRetry == (types.RetryConfig{}) {
		c.queryPolicy = retry.QueryPolicy()
	}
	if config.MutationRetry == (types.RetryConfig{}) {
		c.mutationPolicy = retry.MutationPolicy()
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.metrics == nil {
		c.metrics = metrics.NewDisabled()
	}

	if !c.gated {
		c.MarkReady()
	}

	return c
}

// MarkReady releases Ensure callers blocked on the hydration gate.
func (c *QueryCache) MarkReady() {
	c.readyOnce.Do(func() {
		close(c.ready)
	})
}

func (c *QueryCache) IsReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

func (c *QueryCache) waitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	default:
	}

	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", types.ErrCacheNotReady, ctx.Err())
	}
}

func (c *QueryCache) Get(key types.QueryKey) (types.QueryEntry, bool) {
	hash := key.Hash()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[hash]
	if !exists {
		return types.QueryEntry{}, false
	}

	e.lastAccessedAt = c.now()
	return e.view(), true
}

// Ensure returns fresh cached data for key, or fetches it. Concurrent callers
// for the same key share one fetch and observe the same result.
func (c *QueryCache) Ensure(ctx context.Context, key types.QueryKey, fetch types.FetchFunc, opts ...EnsureOption) (any, error) {
	start := time.Now()

	if len(key) == 0 {
		return nil, types.ErrCacheKeyEmpty
	}
	if fetch == nil {
		return nil, types.ErrCacheFetchIsNil
	}

	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}

	o := ensureOptions{policy: c.queryPolicy}
	for _, opt := range opts {
		opt(&o)
	}

	hash := key.Hash()
	now := c.now()

	c.mu.Lock()
	e := c.entryLocked(key, hash, now)
	e.lastAccessedAt = now
	e.fetch = fetch
	e.policy = o.policy
	if o.staleTime != nil {
		e.staleTime = *o.staleTime
	}

	if e.isFresh(now) {
		data := e.data
		c.mu.Unlock()
		c.recordMetric("ensure", "hit", time.Since(start))
		return data, nil
	}
	c.mu.Unlock()

	data, err := c.join(ctx, hash)

	result := "fetched"
	if err != nil {
		result = "error"
	}
	c.recordMetric("ensure", result, time.Since(start))

	return data, err
}

// Prefetch warms key in the background. The caller does not wait and errors
// are only logged.
func (c *QueryCache) Prefetch(ctx context.Context, key types.QueryKey, fetch types.FetchFunc, opts ...EnsureOption) {
	detached := context.WithoutCancel(ctx)

	c.background.Add(1)
	go func() {
		defer c.background.Done()

		if _, err := c.Ensure(detached, key, fetch, opts...); err != nil {
			c.logger.Warn("Prefetch failed", zap.String("key", key.Hash()), zap.Error(err))
		}
	}()
}

// SetData writes data as if it had been fetched successfully. Writes older
// than the entry's current data are dropped.
func (c *QueryCache) SetData(key types.QueryKey, data any, opts ...types.SetDataOption) {
	start := time.Now()

	if len(key) == 0 {
		return
	}

	o := types.SetDataOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	hash := key.Hash()
	now := c.now()

	updatedAt := o.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	c.mu.Lock()
	e := c.entryLocked(key, hash, now)
	e.lastAccessedAt = now

	if !e.dataUpdatedAt.IsZero() && updatedAt.Before(e.dataUpdatedAt) {
		c.mu.Unlock()
		c.logger.Debug("Dropped out-of-date cache write",
			zap.String("key", hash),
			zap.Time("updated_at", updatedAt))
		c.recordMetric("set_data", "dropped", time.Since(start))
		return
	}

	e.writeSuccess(data, updatedAt)
	c.mu.Unlock()

	c.recordMetric("set_data", "success", time.Since(start))
}

// Invalidate marks every entry under prefix as stale without dropping its
// data. Observed entries are refetched in the background.
func (c *QueryCache) Invalidate(prefix types.QueryKey) int {
	start := time.Now()

	type refetch struct {
		hash string
		key  types.QueryKey
	}

	var active []refetch

	c.mu.Lock()
	marked := 0
	for hash, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		e.invalidated = true
		e.epoch++
		marked++

		if e.observers > 0 && e.fetch != nil && e.fetchStatus == types.FetchIdle {
			active = append(active, refetch{hash: hash, key: e.key})
		}
	}
	c.mu.Unlock()

	for _, r := range active {
		c.refetch(r.hash)
	}

	c.logger.Debug("Cache invalidated",
		zap.String("prefix", prefix.Hash()),
		zap.Int("marked", marked),
		zap.Int("refetching", len(active)))
	c.recordMetric("invalidate", "success", time.Since(start))

	return marked
}

// Subscribe registers a live observer for key. Observed entries are never
// garbage collected. The returned function is safe to call more than once.
func (c *QueryCache) Subscribe(key types.QueryKey) func() {
	hash := key.Hash()
	now := c.now()

	c.mu.Lock()
	e := c.entryLocked(key, hash, now)
	e.observers++
	e.lastAccessedAt = now
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			if current, ok := c.entries[hash]; ok && current == e && e.observers > 0 {
				e.observers--
				e.lastAccessedAt = c.now()
			}
		})
	}
}

// Sweep removes collectible entries and returns how many were removed.
func (c *QueryCache) Sweep() int {
	start := time.Now()
	now := c.now()

	c.mu.Lock()
	removed := 0
	for hash, e := range c.entries {
		if e.isCollectible(now) {
			delete(c.entries, hash)
			removed++
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("Cache sweep completed",
			zap.Int("removed_entries", removed),
			zap.Int("remaining_entries", remaining))
	}

	c.metrics.Gauge("query_cache_entries", nil).Set(float64(remaining))
	c.recordMetric("sweep", "success", time.Since(start))

	return removed
}

// Clear drops every entry and forgets in-flight fetches. Fetches that started
// before Clear still resolve for their waiters but never write to the cache.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	cleared := len(c.entries)
	c.entries = make(map[string]*entry)
	c.generation++
	for hash := range c.inflight {
		c.group.Forget(hash)
	}
	c.inflight = make(map[string]struct{})
	c.mu.Unlock()

	c.logger.Info("Query cache cleared", zap.Int("cleared_entries", cleared))
	c.recordMetric("clear", "success", 0)
}

// Entries returns copies of all entries ordered by key hash.
func (c *QueryCache) Entries() []types.QueryEntry {
	c.mu.RLock()
	out := make([]types.QueryEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.view())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Hash() < out[j].Key.Hash()
	})

	return out
}

func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Wait blocks until background prefetches and refetches finish.
func (c *QueryCache) Wait() {
	c.background.Wait()
}

func (c *QueryCache) entryLocked(key types.QueryKey, hash string, now time.Time) *entry {
	if e, exists := c.entries[hash]; exists {
		return e
	}

	policy := c.config.Policy(key.Category())
	e := &entry{
		key:            key.Clone(),
		hash:           hash,
		status:         types.StatusPending,
		fetchStatus:    types.FetchIdle,
		staleTime:      policy.StaleTime,
		gcTime:         policy.GCTime,
		lastAccessedAt: now,
		policy:         c.queryPolicy,
	}
	c.entries[hash] = e

	return e
}

func (c *QueryCache) refetch(hash string) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()

		if _, err := c.join(c.ctx, hash); err != nil {
			c.logger.Warn("Background refetch failed", zap.String("key", hash), zap.Error(err))
		}
	}()
}

func (c *QueryCache) join(ctx context.Context, hash string) (any, error) {
	ch := c.group.DoChan(hash, func() (any, error) {
		return c.runFetch(hash)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *QueryCache) runFetch(hash string) (any, error) {
	c.mu.Lock()
	e, exists := c.entries[hash]
	if !exists || e.fetch == nil {
		c.mu.Unlock()
		return nil, types.ErrCacheCleared
	}

	generation, epoch := c.generation, e.epoch
	fetch, policy, key := e.fetch, e.policy, e.key
	e.fetchStatus = types.FetchFetching
	c.inflight[hash] = struct{}{}
	c.mu.Unlock()

	category := key.Category()
	runner := retry.Runner{
		Policy: policy,
		Sleep:  c.sleep,
		OnRetry: func(a retry.Attempt) {
			c.logger.Debug("Retrying query fetch",
				zap.String("key", hash),
				zap.Int("failure_count", a.FailureCount+1),
				zap.Duration("delay", a.Delay),
				zap.Error(a.Err))
			c.metrics.Counter("query_retry_total", map[string]string{"category": category}).Inc()
			c.recordFailure(hash, generation, a.FailureCount+1)
		},
	}

	data, failures, err := runner.Do(c.ctx, fetch)

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return data, err
	}
	delete(c.inflight, hash)

	e, exists = c.entries[hash]
	if !exists {
		return data, err
	}

	now := c.now()
	e.fetchStatus = types.FetchIdle
	e.lastAccessedAt = now

	if err != nil {
		e.writeError(err, failures, now)
		c.metrics.Counter("query_fetch_total", map[string]string{"category": category, "result": "error"}).Inc()
		c.logger.Warn("Query fetch failed",
			zap.String("key", hash),
			zap.Int("failures", failures),
			zap.Error(err))
		return nil, err
	}

	e.writeFetched(data, now, epoch)
	c.metrics.Counter("query_fetch_total", map[string]string{"category": category, "result": "success"}).Inc()

	if e.invalidated && e.observers > 0 {
		// this flight still owns the key; forget it so the refetch starts a new one
		c.group.Forget(hash)
		c.refetch(hash)
	}

	return data, nil
}

func (c *QueryCache) recordFailure(hash string, generation uint64, failures int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return
	}
	if e, exists := c.entries[hash]; exists {
		e.failureCount = failures
	}
}

package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-query-cache/cache"
	"github.com/saiset-co/sai-query-cache/cron"
	"github.com/saiset-co/sai-query-cache/keys"
	"github.com/saiset-co/sai-query-cache/logger"
	"github.com/saiset-co/sai-query-cache/metrics"
	"github.com/saiset-co/sai-query-cache/storage"
	"github.com/saiset-co/sai-query-cache/types"
	"github.com/saiset-co/sai-query-cache/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)}
}

func newStorage(t *testing.T, config interface{}) types.Storage {
	t.Helper()

	s, err := storage.NewManager(context.Background(), &types.StorageConfig{Type: "memory", Config: config}, logger.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	return s
}

func newCache(clock *fakeClock) *cache.QueryCache {
	return cache.New(context.Background(), logger.NewNop(), &types.CacheConfig{
		Default: types.QueryPolicyConfig{StaleTime: time.Minute, GCTime: 5 * time.Minute},
	}, cache.WithClock(clock.Now))
}

func newPersistence(t *testing.T, clock *fakeClock, config types.PersistenceConfig, store types.QueryStore, s types.Storage, opts ...Option) *Manager {
	t.Helper()

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	m, err := NewManager(context.Background(), logger.NewNop(), config, store, s, opts...)
	require.NoError(t, err)
	return m
}

func slot(t *testing.T, s types.Storage) (string, bool) {
	t.Helper()

	value, found, err := s.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	return value, found
}

func TestPersistHydrate_RoundTripKeepsTimestamps(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)

	source := newCache(clock)
	aged := clock.Now().Add(-2 * time.Minute)
	source.SetData(keys.Accounts.List(map[string]any{"role": "admin"}), map[string]any{"name": "alice"})
	source.SetData(keys.Posts.Detail(7), "post-7", types.WithUpdatedAt(aged))

	_, err := source.Ensure(context.Background(), keys.Tasks.Detail("missing"), func(ctx context.Context) (any, error) {
		return nil, types.NewStatusError(404, "not found")
	})
	require.Error(t, err)

	writer := newPersistence(t, clock, types.PersistenceConfig{}, source, s)
	assert.Equal(t, ResultWritten, writer.Persist(context.Background(), TriggerManual))
	assert.Equal(t, ResultWritten, writer.LastResult())

	clock.Advance(10 * time.Second)

	target := newCache(clock)
	reader := newPersistence(t, clock, types.PersistenceConfig{}, target, s)
	assert.Equal(t, HydrateRestored, reader.Hydrate(context.Background()))
	assert.Equal(t, 2, target.Len())

	account, ok := target.Get(keys.Accounts.List(map[string]any{"role": "admin"}))
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"name": "alice"}, account.Data)
	assert.WithinDuration(t, clock.Now().Add(-10*time.Second), account.DataUpdatedAt, 0)
	assert.True(t, account.IsFresh(clock.Now()))

	post, ok := target.Get(keys.Posts.Detail(7))
	require.True(t, ok)
	assert.Equal(t, "post-7", post.Data)
	assert.WithinDuration(t, aged, post.DataUpdatedAt, 0)
	assert.False(t, post.IsFresh(clock.Now()))

	_, ok = target.Get(keys.Tasks.Detail("missing"))
	assert.False(t, ok)

	// restored stale data refetches through the normal staleness check
	fetched := false
	data, err := target.Ensure(context.Background(), keys.Posts.Detail(7), func(ctx context.Context) (any, error) {
		fetched = true
		return "post-7-fresh", nil
	})
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Equal(t, "post-7-fresh", data)
}

func TestHydrate_VersionMismatchDiscardsSnapshot(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)

	source := newCache(clock)
	source.SetData(keys.Accounts.Lists(), "accounts")
	source.SetData(keys.Posts.Lists(), "posts")

	writer := newPersistence(t, clock, types.PersistenceConfig{Version: 2}, source, s)
	require.Equal(t, ResultWritten, writer.Persist(context.Background(), TriggerManual))

	target := newCache(clock)
	reader := newPersistence(t, clock, types.PersistenceConfig{Version: 3}, target, s)
	assert.Equal(t, HydrateVersionMismatch, reader.Hydrate(context.Background()))
	assert.Equal(t, 0, target.Len())

	_, found := slot(t, s)
	assert.False(t, found)
}

func TestHydrate_ExpiredSnapshotIsDiscarded(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)

	source := newCache(clock)
	source.SetData(keys.Profile.All(), "me")

	writer := newPersistence(t, clock, types.PersistenceConfig{}, source, s)
	require.Equal(t, ResultWritten, writer.Persist(context.Background(), TriggerManual))

	clock.Advance(24*time.Hour + time.Millisecond)

	target := newCache(clock)
	reader := newPersistence(t, clock, types.PersistenceConfig{}, target, s)
	assert.Equal(t, HydrateExpired, reader.Hydrate(context.Background()))
	assert.Equal(t, 0, target.Len())

	_, found := slot(t, s)
	assert.False(t, found)
}

func TestHydrate_SnapshotAtMaxAgeIsRestored(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)

	source := newCache(clock)
	source.SetData(keys.Profile.All(), "me")

	writer := newPersistence(t, clock, types.PersistenceConfig{}, source, s)
	require.Equal(t, ResultWritten, writer.Persist(context.Background(), TriggerManual))

	clock.Advance(24 * time.Hour)

	target := newCache(clock)
	reader := newPersistence(t, clock, types.PersistenceConfig{}, target, s)
	assert.Equal(t, HydrateRestored, reader.Hydrate(context.Background()))
	assert.Equal(t, 1, target.Len())
}

func TestHydrate_CorruptSnapshotIsCleared(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)
	require.NoError(t, s.Set(context.Background(), DefaultKey, "{not json"))

	target := newCache(clock)
	reader := newPersistence(t, clock, types.PersistenceConfig{}, target, s)
	assert.Equal(t, HydrateCorrupt, reader.Hydrate(context.Background()))

	_, found := slot(t, s)
	assert.False(t, found)
}

type unreadableStorage struct {
	types.Storage
	deleted []string
}

func (s *unreadableStorage) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("read: input/output error")
}

func (s *unreadableStorage) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	return s.Storage.Delete(ctx, key)
}

func TestHydrate_ReadFailureClearsSlot(t *testing.T) {
	clock := newClock()
	s := &unreadableStorage{Storage: newStorage(t, nil)}

	target := newCache(clock)
	reader := newPersistence(t, clock, types.PersistenceConfig{}, target, s)

	assert.Equal(t, HydrateMiss, reader.Hydrate(context.Background()))
	assert.Equal(t, []string{DefaultKey}, s.deleted)
	assert.Zero(t, target.Len())
}

func TestHydrate_RunsOnce(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)

	target := newCache(clock)
	reader := newPersistence(t, clock, types.PersistenceConfig{}, target, s)

	_, done := reader.Hydrated()
	assert.False(t, done)
	assert.Equal(t, HydrateMiss, reader.Hydrate(context.Background()))

	payload, err := utils.MarshalString(&types.Snapshot{
		Version:   DefaultVersion,
		Timestamp: clock.Now().UnixMilli(),
		Queries: []types.PersistedQuery{
			{QueryKey: keys.Posts.Lists(), Data: "posts", DataUpdatedAt: clock.Now().UnixMilli()},
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), DefaultKey, payload))

	assert.Equal(t, HydrateMiss, reader.Hydrate(context.Background()))
	assert.Equal(t, 0, target.Len())

	result, done := reader.Hydrated()
	assert.True(t, done)
	assert.Equal(t, HydrateMiss, result)
}

func TestSnapshot_SkipsExcludedCategories(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)

	source := newCache(clock)
	source.SetData(keys.Accounts.Lists(), "accounts")
	source.SetData(keys.Messages.List(map[string]any{"chat": "c1"}), "messages")

	m := newPersistence(t, clock, types.PersistenceConfig{Exclude: []string{"messages"}}, source, s)

	snapshot, ok := m.Snapshot()
	require.True(t, ok)
	require.Len(t, snapshot.Queries, 1)
	assert.Equal(t, "accounts", snapshot.Queries[0].QueryKey.Category())
	assert.Equal(t, DefaultVersion, snapshot.Version)
	assert.Equal(t, clock.Now().UnixMilli(), snapshot.Timestamp)

	require.Equal(t, ResultWritten, m.Persist(context.Background(), TriggerManual))

	value, found := slot(t, s)
	require.True(t, found)
	assert.NotContains(t, value, "messages")
}

func TestPersist_EmptySnapshotWritesNothing(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)

	m := newPersistence(t, clock, types.PersistenceConfig{}, newCache(clock), s)
	assert.Equal(t, ResultEmpty, m.Persist(context.Background(), TriggerManual))

	_, found := slot(t, s)
	assert.False(t, found)
}

func TestPersist_OversizedSnapshotLeavesSlotUnchanged(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)
	require.NoError(t, s.Set(context.Background(), DefaultKey, "previous"))

	source := newCache(clock)
	source.SetData(keys.Posts.Lists(), "a payload that is far larger than the configured limit")

	m := newPersistence(t, clock, types.PersistenceConfig{MaxSize: 64}, source, s)
	assert.Equal(t, ResultOversized, m.Persist(context.Background(), TriggerManual))

	value, found := slot(t, s)
	require.True(t, found)
	assert.Equal(t, "previous", value)
}

func TestPersist_QuotaFailureClearsSlot(t *testing.T) {
	clock := newClock()
	s := newStorage(t, map[string]interface{}{"max_bytes": 32})
	require.NoError(t, s.Set(context.Background(), DefaultKey, "previous"))

	source := newCache(clock)
	source.SetData(keys.Posts.Lists(), "more than thirty-two bytes once encoded")

	m := newPersistence(t, clock, types.PersistenceConfig{}, source, s)
	assert.Equal(t, ResultFailed, m.Persist(context.Background(), TriggerManual))

	_, found := slot(t, s)
	assert.False(t, found)
}

func TestPersist_EncodeFailureClearsSlot(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)
	require.NoError(t, s.Set(context.Background(), DefaultKey, "previous"))

	source := newCache(clock)
	source.SetData(keys.Chats.Lists(), make(chan int))

	m := newPersistence(t, clock, types.PersistenceConfig{}, source, s)
	assert.Equal(t, ResultFailed, m.Persist(context.Background(), TriggerManual))

	_, found := slot(t, s)
	assert.False(t, found)
}

func TestPersist_SweepsIdleEntriesFirst(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)

	source := newCache(clock)
	source.SetData(keys.Posts.Detail(1), "idle")
	clock.Advance(5*time.Minute + time.Millisecond)
	source.SetData(keys.Posts.Detail(2), "recent")

	m := newPersistence(t, clock, types.PersistenceConfig{}, source, s)
	require.Equal(t, ResultWritten, m.Persist(context.Background(), TriggerManual))
	assert.Equal(t, 1, source.Len())

	snapshot, ok := m.Snapshot()
	require.True(t, ok)
	assert.Len(t, snapshot.Queries, 1)
}

func TestHandleEvent_PersistsAndCountsRuns(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)

	mm, err := metrics.NewManager(context.Background(), &types.MetricsConfig{Enabled: true, Type: "prometheus"}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, mm.Start())
	defer func() { _ = mm.Stop() }()

	source := newCache(clock)
	source.SetData(keys.Tasks.Lists(), "tasks")

	m := newPersistence(t, clock, types.PersistenceConfig{}, source, s, WithMetrics(mm))

	assert.Equal(t, ResultWritten, m.HandleEvent(context.Background(), types.EventPageHidden))
	assert.Equal(t, ResultWritten, m.HandleEvent(context.Background(), types.EventPageUnload))
	assert.Equal(t, ResultNone, m.HandleEvent(context.Background(), types.PageEvent(42)))

	hidden := mm.Counter("persist_runs_total", map[string]string{"trigger": "page_hidden", "result": "written"})
	assert.Equal(t, float64(1), hidden.Get())
	unload := mm.Counter("persist_runs_total", map[string]string{"trigger": "page_unload", "result": "written"})
	assert.Equal(t, float64(1), unload.Get())
	assert.Equal(t, clock.Now(), m.LastRunAt())
}

func TestStartStop_ManagesPersistJob(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)

	scheduler, err := cron.NewManager(context.Background(), nil, logger.NewNop(), nil)
	require.NoError(t, err)

	m := newPersistence(t, clock, types.PersistenceConfig{}, newCache(clock), s, WithScheduler(scheduler))
	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)

	jobs := scheduler.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, JobName, jobs[0].Name)
	assert.Equal(t, DefaultInterval, jobs[0].Spec)

	require.NoError(t, m.Stop())
	assert.Empty(t, scheduler.Jobs())
	assert.False(t, m.IsRunning())
}

func TestClear_DeletesSlot(t *testing.T) {
	clock := newClock()
	s := newStorage(t, nil)

	source := newCache(clock)
	source.SetData(keys.Profile.All(), "me")

	m := newPersistence(t, clock, types.PersistenceConfig{}, source, s)
	require.Equal(t, ResultWritten, m.Persist(context.Background(), TriggerManual))

	require.NoError(t, m.Clear(context.Background()))
	_, found := slot(t, s)
	assert.False(t, found)
}

func TestNewManager_RequiresStoreAndStorage(t *testing.T) {
	_, err := NewManager(context.Background(), logger.NewNop(), types.PersistenceConfig{}, nil, nil)
	assert.ErrorIs(t, err, types.ErrPersistenceIsDisabled)
}

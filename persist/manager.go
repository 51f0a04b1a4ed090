package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-query-cache/metrics"
	"github.com/saiset-co/sai-query-cache/types"
	"github.com/saiset-co/sai-query-cache/utils"
)

const (
	DefaultKey      = "zenchat_query_cache"
	DefaultVersion  = 1
	DefaultMaxAge   = 24 * time.Hour
	DefaultMaxSize  = 2 * 1024 * 1024
	DefaultInterval = "@every 30s"

	JobName = "persist_query_cache"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

// Manager snapshots successful cache entries into a single durable slot and
// restores them once at startup. Failures degrade to a cold cache and are
// never returned to callers.
type Manager struct {
	ctx       context.Context
	logger    types.Logger
	metrics   types.MetricsManager
	scheduler types.CronManager
	config    types.PersistenceConfig
	store     types.QueryStore
	storage   types.Storage
	now       func() time.Time
	exclude   map[string]struct{}
	state     atomic.Value

	// mu serializes persist runs so interval and event triggers never interleave
	mu            sync.Mutex
	lastResult    atomic.Value
	lastRunAt     atomic.Value
	hydrateOnce   sync.Once
	hydrateResult HydrateResult
	hydrated      atomic.Bool
}

func NewManager(ctx context.Context, logger types.Logger, config types.PersistenceConfig, store types.QueryStore, storage types.Storage, opts ...Option) (*Manager, error) {
	if store == nil || storage == nil {
		return nil, types.Errorf(types.ErrPersistenceIsDisabled, "store and storage are required")
	}

	applyDefaults(&config)

	m := &Manager{
		ctx:     context.WithoutCancel(ctx),
		logger:  logger,
		config:  config,
		store:   store,
		storage: storage,
		now:     time.Now,
		exclude: make(map[string]struct{}, len(config.Exclude)),
	}

	for _, category := range config.Exclude {
		m.exclude[category] = struct{}{}
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.metrics == nil {
		m.metrics = metrics.NewDisabled()
	}

	m.state.Store(StateStopped)
	m.lastResult.Store(ResultNone)
	m.lastRunAt.Store(time.Time{})

	return m, nil
}

func applyDefaults(config *types.PersistenceConfig) {
	if config.Key == "" {
		config.Key = DefaultKey
	}
	if config.Version == 0 {
		config.Version = DefaultVersion
	}
	if config.MaxAge == 0 {
		config.MaxAge = DefaultMaxAge
	}
	if config.MaxSize == 0 {
		config.MaxSize = DefaultMaxSize
	}
	if config.Interval == "" {
		config.Interval = DefaultInterval
	}
}

func (m *Manager) Config() types.PersistenceConfig {
	return m.config
}

// Start registers the periodic persist job when a scheduler is configured.
func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	if m.scheduler != nil {
		err := m.scheduler.Add(JobName, m.config.Interval, func() {
			m.Persist(m.ctx, TriggerInterval)
		})
		if err != nil {
			m.state.Store(StateStopped)
			return types.WrapError(err, "failed to schedule persistence")
		}
	}

	m.logger.Info("Persistence started",
		zap.String("key", m.config.Key),
		zap.String("interval", m.config.Interval),
		zap.Int("version", m.config.Version))

	return nil
}

// Stop removes the periodic job and waits for a persist run in progress.
func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	if m.scheduler != nil {
		if err := m.scheduler.Remove(JobName); err != nil && !types.IsError(err, types.ErrCronJobNotFound) {
			m.logger.Warn("Failed to remove persistence job", zap.Error(err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Persistence stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.state.Load().(State) == StateRunning
}

// Snapshot copies every successful entry outside the excluded categories.
// It returns false when there is nothing to persist.
func (m *Manager) Snapshot() (*types.Snapshot, bool) {
	entries := m.store.Entries()

	queries := make([]types.PersistedQuery, 0, len(entries))
	for _, entry := range entries {
		if entry.Status != types.StatusSuccess || m.excluded(entry.Key) {
			continue
		}

		queries = append(queries, types.PersistedQuery{
			QueryKey:      entry.Key,
			Data:          entry.Data,
			DataUpdatedAt: entry.DataUpdatedAt.UnixMilli(),
		})
	}

	if len(queries) == 0 {
		return nil, false
	}

	return &types.Snapshot{
		Version:   m.config.Version,
		Timestamp: m.now().UnixMilli(),
		Queries:   queries,
	}, true
}

// Persist writes the current snapshot to the durable slot.
func (m *Manager) Persist(ctx context.Context, trigger Trigger) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.persist(ctx)

	m.lastResult.Store(result)
	m.lastRunAt.Store(m.now())
	m.metrics.Counter("persist_runs_total", map[string]string{
		"trigger": string(trigger),
		"result":  result.String(),
	}).Inc()

	m.logger.Debug("Persist run finished",
		zap.String("trigger", string(trigger)),
		zap.String("result", result.String()))

	return result
}

func (m *Manager) persist(ctx context.Context) Result {
	if swept := m.store.Sweep(); swept > 0 {
		m.logger.Debug("Swept idle queries before persisting", zap.Int("removed", swept))
	}

	snapshot, ok := m.Snapshot()
	if !ok {
		return ResultEmpty
	}

	payload, err := utils.MarshalString(snapshot)
	if err != nil {
		m.logger.Warn("Failed to encode snapshot, clearing slot", zap.Error(err))
		m.clearSlot(ctx)
		return ResultFailed
	}

	size := len(payload)
	m.metrics.Gauge("persist_snapshot_bytes", nil).Set(float64(size))

	if size > m.config.MaxSize {
		m.logger.Warn("Snapshot too large, skipping write",
			zap.Int("bytes", size),
			zap.Int("max_size", m.config.MaxSize),
			zap.Int("queries", len(snapshot.Queries)))
		return ResultOversized
	}

	if err = m.storage.Set(ctx, m.config.Key, payload); err != nil {
		if types.IsError(err, types.ErrStorageQuotaExceeded) {
			m.logger.Warn("Storage quota exceeded, clearing slot", zap.Int("bytes", size), zap.Error(err))
			m.clearSlot(ctx)
		} else {
			m.logger.Warn("Failed to write snapshot", zap.Error(err))
		}
		return ResultFailed
	}

	return ResultWritten
}

// Hydrate restores the durable slot into the store. Only the first call reads
// storage; later calls return the first result.
func (m *Manager) Hydrate(ctx context.Context) HydrateResult {
	m.hydrateOnce.Do(func() {
		m.hydrateResult = m.hydrate(ctx)
		m.hydrated.Store(true)

		m.metrics.Counter("hydrate_total", map[string]string{
			"result": m.hydrateResult.String(),
		}).Inc()
	})

	return m.hydrateResult
}

// Hydrated reports the hydrate outcome once Hydrate has run.
func (m *Manager) Hydrated() (HydrateResult, bool) {
	if !m.hydrated.Load() {
		return HydrateMiss, false
	}
	return m.hydrateResult, true
}

func (m *Manager) hydrate(ctx context.Context) HydrateResult {
	payload, found, err := m.storage.Get(ctx, m.config.Key)
	if err != nil {
		m.logger.Warn("Failed to read snapshot, clearing slot", zap.Error(err))
		m.clearSlot(ctx)
		return HydrateMiss
	}
	if !found {
		return HydrateMiss
	}

	var snapshot types.Snapshot
	if err = utils.UnmarshalString(payload, &snapshot); err != nil {
		m.logger.Warn("Snapshot is corrupt, clearing slot", zap.Error(err))
		m.clearSlot(ctx)
		return HydrateCorrupt
	}

	if snapshot.Version != m.config.Version {
		m.logger.Info("Snapshot version mismatch, clearing slot",
			zap.Int("snapshot_version", snapshot.Version),
			zap.Int("version", m.config.Version))
		m.clearSlot(ctx)
		return HydrateVersionMismatch
	}

	if age := m.now().Sub(snapshot.CreatedAt()); age > m.config.MaxAge {
		m.logger.Info("Snapshot expired, clearing slot",
			zap.Duration("age", age),
			zap.Duration("max_age", m.config.MaxAge))
		m.clearSlot(ctx)
		return HydrateExpired
	}

	restored := 0
	for _, query := range snapshot.Queries {
		if len(query.QueryKey) == 0 || m.excluded(query.QueryKey) {
			continue
		}
		m.store.SetData(query.QueryKey, query.Data, types.WithUpdatedAt(query.UpdatedAt()))
		restored++
	}

	m.logger.Info("Query cache hydrated",
		zap.Int("restored", restored),
		zap.Time("snapshot_at", snapshot.CreatedAt()))

	return HydrateRestored
}

// HandleEvent persists on page-hidden and page-unload boundaries.
func (m *Manager) HandleEvent(ctx context.Context, event types.PageEvent) Result {
	switch event {
	case types.EventPageHidden:
		return m.Persist(ctx, TriggerPageHidden)
	case types.EventPageUnload:
		return m.Persist(ctx, TriggerPageUnload)
	default:
		m.logger.Debug("Ignoring page event", zap.String("event", event.String()))
		return ResultNone
	}
}

// Clear deletes the durable slot.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storage.Delete(ctx, m.config.Key); err != nil {
		return types.WrapError(err, "failed to clear snapshot slot")
	}

	m.logger.Info("Snapshot slot cleared", zap.String("key", m.config.Key))
	return nil
}

func (m *Manager) LastResult() Result {
	return m.lastResult.Load().(Result)
}

func (m *Manager) LastRunAt() time.Time {
	return m.lastRunAt.Load().(time.Time)
}

func (m *Manager) clearSlot(ctx context.Context) {
	if err := m.storage.Delete(ctx, m.config.Key); err != nil {
		m.logger.Warn("Failed to clear snapshot slot", zap.Error(err))
	}
}

func (m *Manager) excluded(key types.QueryKey) bool {
	_, ok := m.exclude[key.Category()]
	return ok
}

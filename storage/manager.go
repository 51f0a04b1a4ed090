package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-query-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

var customStorageCreators = sync.Map{}

func RegisterStorage(storageType string, creator types.StorageCreator) {
	customStorageCreators.Store(storageType, creator)
}

// NewManager builds the backend named by config.Type and wraps it with
// lifecycle checks and operation metrics.
func NewManager(ctx context.Context, config *types.StorageConfig, logger types.Logger, metrics types.MetricsManager) (types.Storage, error) {
	if config == nil {
		return nil, types.ErrStorageIsDisabled
	}

	storageType := config.Type

	var impl types.Storage
	var err error

	switch storageType {
	case "memory":
		impl, err = NewMemoryStorage(logger, config.Config)
	case "clover":
		impl, err = NewCloverStorage(logger, config.Config)
	case "redis":
		impl, err = NewRedisStorage(ctx, logger, config.Config)
	case "sqlite":
		impl, err = NewSQLiteStorage(logger, config.Config)
	default:
		if creator, exists := customStorageCreators.Load(storageType); exists {
			impl, err = creator.(types.StorageCreator)(config.Config)
		} else {
			return nil, types.Errorf(types.ErrStorageTypeUnknown, "type: %s", storageType)
		}
	}

	if err != nil {
		return nil, types.WrapError(err, "failed to create storage")
	}

	return newInstrumentedStorage(logger, metrics, storageType, impl), nil
}

type instrumentedStorage struct {
	impl    types.Storage
	logger  types.Logger
	metrics types.MetricsManager
	backend string
	state   atomic.Value
}

func newInstrumentedStorage(logger types.Logger, metrics types.MetricsManager, backend string, impl types.Storage) *instrumentedStorage {
	instrumented := &instrumentedStorage{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
		backend: backend,
	}

	instrumented.state.Store(StateStopped)
	return instrumented
}

func (s *instrumentedStorage) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := s.impl.Start(); err != nil {
		s.setState(StateStopped)
		return err
	}

	s.setState(StateRunning)
	s.logger.Info("Storage started", zap.String("backend", s.backend))
	return nil
}

func (s *instrumentedStorage) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer s.setState(StateStopped)

	if err := s.impl.Stop(); err != nil {
		s.logger.Error("Failed to stop storage backend", zap.String("backend", s.backend), zap.Error(err))
		return err
	}

	s.logger.Info("Storage stopped gracefully", zap.String("backend", s.backend))
	return nil
}

func (s *instrumentedStorage) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *instrumentedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.check(key); err != nil {
		return "", false, err
	}

	start := time.Now()
	value, found, err := s.impl.Get(ctx, key)

	result := "hit"
	switch {
	case err != nil:
		result = "error"
	case !found:
		result = "miss"
	}
	s.record("get", result, start)

	return value, found, err
}

func (s *instrumentedStorage) Set(ctx context.Context, key, value string) error {
	if err := s.check(key); err != nil {
		return err
	}

	start := time.Now()
	err := s.impl.Set(ctx, key, value)

	result := "success"
	switch {
	case types.IsError(err, types.ErrStorageQuotaExceeded):
		result = "quota"
	case err != nil:
		result = "error"
	}
	s.record("set", result, start)

	return err
}

func (s *instrumentedStorage) Delete(ctx context.Context, key string) error {
	if err := s.check(key); err != nil {
		return err
	}

	start := time.Now()
	err := s.impl.Delete(ctx, key)

	result := "success"
	if err != nil {
		result = "error"
	}
	s.record("delete", result, start)

	return err
}

func (s *instrumentedStorage) Ping(ctx context.Context) error {
	if !s.IsRunning() {
		return types.ErrStorageNotRunning
	}
	return s.impl.Ping(ctx)
}

func (s *instrumentedStorage) check(key string) error {
	if key == "" {
		return types.ErrStorageKeyEmpty
	}
	if !s.IsRunning() {
		return types.ErrStorageNotRunning
	}
	return nil
}

func (s *instrumentedStorage) record(operation, result string, start time.Time) {
	if s.metrics == nil {
		return
	}

	s.metrics.Counter("storage_operations_total", map[string]string{
		"backend":   s.backend,
		"operation": operation,
		"result":    result,
	}).Inc()

	s.metrics.Histogram("storage_operation_duration_seconds", nil, map[string]string{
		"backend":   s.backend,
		"operation": operation,
	}).ObserveDuration(start)
}

func (s *instrumentedStorage) getState() State {
	return s.state.Load().(State)
}

func (s *instrumentedStorage) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *instrumentedStorage) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

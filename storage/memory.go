package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-query-cache/types"
	"github.com/saiset-co/sai-query-cache/utils"
)

type MemoryConfig struct {
	// MaxBytes caps the total size of stored values. Zero means unlimited.
	MaxBytes int `json:"max_bytes"`
}

// MemoryStorage keeps slots in process memory. Values survive Stop and Start
// on the same instance, which lets tests restart a service against it.
type MemoryStorage struct {
	logger types.Logger
	config *MemoryConfig
	slots  map[string]string
	used   int
	mu     sync.RWMutex
}

func NewMemoryStorage(logger types.Logger, config interface{}) (*MemoryStorage, error) {
	memoryConfig := &MemoryConfig{}

	if config != nil {
		if err := utils.UnmarshalConfig(config, memoryConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory storage config")
		}
	}

	return &MemoryStorage{
		logger: logger,
		config: memoryConfig,
		slots:  make(map[string]string),
	}, nil
}

func (m *MemoryStorage) Start() error {
	m.logger.Debug("Memory storage ready", zap.Int("max_bytes", m.config.MaxBytes))
	return nil
}

func (m *MemoryStorage) Stop() error {
	return nil
}

func (m *MemoryStorage) IsRunning() bool {
	return true
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.slots[key]
	return value, exists, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used - len(m.slots[key]) + len(value)
	if m.config.MaxBytes > 0 && used > m.config.MaxBytes {
		return types.Errorf(types.ErrStorageQuotaExceeded, "need %d bytes, limit %d", used, m.config.MaxBytes)
	}

	m.slots[key] = value
	m.used = used
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used -= len(m.slots[key])
	delete(m.slots, key)
	return nil
}

func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

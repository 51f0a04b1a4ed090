package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-query-cache/types"
)

// Manager holds the loaded service config and a path-addressable view of it.
type Manager struct {
	ctx         context.Context
	configPath  string
	loader      *Loader
	config      atomic.Pointer[types.ServiceConfig]
	parser      atomic.Pointer[Parser]
	loadTimeout time.Duration
}

func NewManager(ctx context.Context, configPath string) (*Manager, error) {
	cm := &Manager{
		ctx:         ctx,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewManagerFromConfig validates an already built config and wraps it.
func NewManagerFromConfig(config *types.ServiceConfig) (*Manager, error) {
	cm := &Manager{
		ctx:         context.Background(),
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.loader.Validate(config); err != nil {
		return nil, err
	}

	cm.store(config)
	return cm, nil
}

// Load rereads the config file. The previous config stays in place on error.
func (cm *Manager) Load() error {
	if cm.configPath == "" {
		return types.ErrConfigNotFound
	}

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return err
	}

	cm.store(config)
	return nil
}

func (cm *Manager) store(config *types.ServiceConfig) {
	cm.parser.Store(NewParser(config))
	cm.config.Store(config)
}

func (cm *Manager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}

func (cm *Manager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *Manager) GetAs(path string, target interface{}) error {
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}

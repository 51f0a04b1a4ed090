package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-query-cache/cache"
	"github.com/saiset-co/sai-query-cache/persist"
	"github.com/saiset-co/sai-query-cache/retry"
	"github.com/saiset-co/sai-query-cache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.Errorf(types.ErrConfigNotFound, "file: %s", configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.Errorf(types.ErrConfigLoadFailed, "%v", err)
	}

	return l.LoadFromBytes(data)
}

// LoadFromBytes decodes YAML over the defaults and validates the result.
func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Logger: &types.LoggerConfig{
			Type:  "default",
			Level: "info",
		},
		Cache: &types.CacheConfig{
			Default: types.QueryPolicyConfig{
				StaleTime: cache.DefaultStaleTime,
				GCTime:    cache.DefaultGCTime,
			},
			QueryRetry: types.RetryConfig{
				MaxRetries: retry.DefaultQueryRetries,
				BaseDelay:  retry.DefaultBaseDelay,
				MaxDelay:   retry.DefaultMaxDelay,
			},
			MutationRetry: types.RetryConfig{
				MaxRetries: retry.DefaultMutationRetries,
				BaseDelay:  retry.DefaultBaseDelay,
				MaxDelay:   retry.DefaultMaxDelay,
			},
		},
		Persistence: &types.PersistenceConfig{
			Enabled:  true,
			Key:      persist.DefaultKey,
			Version:  persist.DefaultVersion,
			MaxAge:   persist.DefaultMaxAge,
			MaxSize:  persist.DefaultMaxSize,
			Interval: persist.DefaultInterval,
			Storage: &types.StorageConfig{
				Type: "memory",
			},
		},
		Cron: &types.CronConfig{
			Timezone: "UTC",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "prometheus",
		},
		Health: &types.HealthConfig{
			Enabled:      true,
			CheckTimeout: 5 * time.Second,
		},
		Client: &types.ClientConfig{
			Timeout: 10 * time.Second,
		},
		Admin: &types.AdminConfig{
			Host:         "127.0.0.1",
			Port:         9090,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

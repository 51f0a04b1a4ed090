package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache" validate:"required"`
	Persistence *PersistenceConfig `yaml:"persistence" json:"persistence"`
	Cron        *CronConfig        `yaml:"cron" json:"cron"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
	Client      *ClientConfig      `yaml:"client" json:"client"`
	Admin       *AdminConfig       `yaml:"admin" json:"admin"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

// QueryPolicyConfig holds staleness and collection windows for one key
// category.
type QueryPolicyConfig struct {
	StaleTime time.Duration `yaml:"stale_time" json:"stale_time" validate:"min=0"`
	GCTime    time.Duration `yaml:"gc_time" json:"gc_time" validate:"min=0"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries" validate:"min=0"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay" validate:"min=0"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay" validate:"min=0"`
}

type CacheConfig struct {
	Default       QueryPolicyConfig            `yaml:"default" json:"default"`
	Categories    map[string]QueryPolicyConfig `yaml:"categories" json:"categories" validate:"dive"`
	QueryRetry    RetryConfig                  `yaml:"query_retry" json:"query_retry"`
	MutationRetry RetryConfig                  `yaml:"mutation_retry" json:"mutation_retry"`
}

// Policy resolves the staleness policy for a key category.
func (c *CacheConfig) Policy(category string) QueryPolicyConfig {
	if c == nil {
		return QueryPolicyConfig{}
	}
	if policy, ok := c.Categories[category]; ok {
		return policy
	}
	return c.Default
}

type PersistenceConfig struct {
	Enabled  bool           `yaml:"enabled" json:"enabled"`
	Key      string         `yaml:"key" json:"key" validate:"required_if=Enabled true"`
	Version  int            `yaml:"version" json:"version" validate:"min=0"`
	MaxAge   time.Duration  `yaml:"max_age" json:"max_age" validate:"min=0"`
	MaxSize  int            `yaml:"max_size" json:"max_size" validate:"min=0"`
	Interval string         `yaml:"interval" json:"interval"`
	Exclude  []string       `yaml:"exclude" json:"exclude"`
	Storage  *StorageConfig `yaml:"storage" json:"storage"`
}

type StorageConfig struct {
	Type   string      `yaml:"type" json:"type" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type CronConfig struct {
	Timezone string `yaml:"timezone" json:"timezone"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{}       `yaml:"config" json:"config"`
	Prefix  string            `yaml:"prefix" json:"prefix"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
}

type HealthConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	CheckTimeout time.Duration `yaml:"check_timeout" json:"check_timeout"`
}

type ClientConfig struct {
	BaseURL string            `yaml:"base_url" json:"base_url"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AdminConfig configures the optional HTTP listener serving health, version
// and metrics.
type AdminConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port" validate:"min=0,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

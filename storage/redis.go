package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-query-cache/types"
	"github.com/saiset-co/sai-query-cache/utils"
)

type RedisConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Password           string `json:"password"`
	DB                 int    `json:"db"`
	PoolSize           int    `json:"pool_size"`
	MinIdleConnections int    `json:"min_idle_connections"`
	DialTimeout        string `json:"dial_timeout"`
	ReadTimeout        string `json:"read_timeout"`
	WriteTimeout       string `json:"write_timeout"`
	KeyPrefix          string `json:"key_prefix"`
}

type RedisStorage struct {
	ctx    context.Context
	logger types.Logger
	config *RedisConfig
	client *redis.Client
}

func NewRedisStorage(ctx context.Context, logger types.Logger, config interface{}) (*RedisStorage, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           4,
		MinIdleConnections: 1,
		DialTimeout:        "5s",
		ReadTimeout:        "3s",
		WriteTimeout:       "3s",
		KeyPrefix:          "query-cache",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis storage config")
		}
	}

	options := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
	}

	var err error
	if options.DialTimeout, err = parseDuration(redisConfig.DialTimeout); err != nil {
		return nil, types.WrapError(err, "invalid dial_timeout")
	}
	if options.ReadTimeout, err = parseDuration(redisConfig.ReadTimeout); err != nil {
		return nil, types.WrapError(err, "invalid read_timeout")
	}
	if options.WriteTimeout, err = parseDuration(redisConfig.WriteTimeout); err != nil {
		return nil, types.WrapError(err, "invalid write_timeout")
	}

	return &RedisStorage{
		ctx:    ctx,
		logger: logger,
		config: redisConfig,
		client: redis.NewClient(options),
	}, nil
}

func (r *RedisStorage) Start() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return types.WrapError(err, "failed to connect to redis")
	}

	r.logger.Info("Redis storage connected",
		zap.String("addr", r.client.Options().Addr),
		zap.String("key_prefix", r.config.KeyPrefix))

	return nil
}

func (r *RedisStorage) Stop() error {
	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}
	return nil
}

func (r *RedisStorage) IsRunning() bool {
	return true
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, types.WrapError(err, "failed to get slot")
	}

	return value, true, nil
}

func (r *RedisStorage) Set(ctx context.Context, key, value string) error {
	err := r.client.Set(ctx, r.buildFullKey(key), value, 0).Err()
	if err != nil {
		if isOutOfMemory(err) {
			return types.Errorf(types.ErrStorageQuotaExceeded, "redis: %v", err)
		}
		return types.WrapError(err, "failed to set slot")
	}

	return nil
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.buildFullKey(key)).Err(); err != nil {
		return types.WrapError(err, "failed to delete slot")
	}
	return nil
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStorage) buildFullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, key)
	}
	return key
}

// isOutOfMemory matches the reply redis sends when maxmemory is reached and
// the eviction policy refuses writes.
func isOutOfMemory(err error) bool {
	return strings.HasPrefix(err.Error(), "OOM ")
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

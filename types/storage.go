package types

import "context"

// Storage is a durable string-keyed slot store. Set must replace the value
// atomically: readers observe either the old or the new value, never a mix.
type Storage interface {
	LifecycleManager
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

type StorageCreator func(config interface{}) (Storage, error)

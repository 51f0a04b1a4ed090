package service

import (
	"github.com/saiset-co/sai-query-cache/cache"
	"github.com/saiset-co/sai-query-cache/persist"
	"github.com/saiset-co/sai-query-cache/types"
)

type Option func(*Service)

// WithLogger replaces the logger built from config.
func WithLogger(logger types.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithStorage supplies a pre-built snapshot backend instead of the one named in
// persistence.storage.
func WithStorage(storage types.Storage) Option {
	return func(s *Service) {
		s.storage = storage
	}
}

// WithoutSignals disables SIGINT/SIGTERM handling, for embedding applications
// that own process signals.
func WithoutSignals() Option {
	return func(s *Service) {
		s.handleSignals = false
	}
}

func WithCacheOptions(opts ...cache.Option) Option {
	return func(s *Service) {
		s.cacheOpts = append(s.cacheOpts, opts...)
	}
}

func WithPersistOptions(opts ...persist.Option) Option {
	return func(s *Service) {
		s.persistOpts = append(s.persistOpts, opts...)
	}
}

package service

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-query-cache/cache"
	"github.com/saiset-co/sai-query-cache/client"
	"github.com/saiset-co/sai-query-cache/config"
	"github.com/saiset-co/sai-query-cache/cron"
	"github.com/saiset-co/sai-query-cache/health"
	"github.com/saiset-co/sai-query-cache/logger"
	"github.com/saiset-co/sai-query-cache/metrics"
	"github.com/saiset-co/sai-query-cache/persist"
	"github.com/saiset-co/sai-query-cache/server"
	"github.com/saiset-co/sai-query-cache/storage"
	"github.com/saiset-co/sai-query-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const defaultShutdownTimeout = 30 * time.Second

// Service owns one query cache and its snapshot slot for the lifetime of a
// client session. Nothing is shared between instances.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *types.ServiceConfig
	instanceID      string
	logger          types.Logger
	metrics         *metrics.Manager
	cache           *cache.QueryCache
	storage         types.Storage
	scheduler       *cron.Manager
	persistence     *persist.Manager
	health          *health.Manager
	client          *client.HTTPClient
	admin           *server.AdminServer
	cacheOpts       []cache.Option
	persistOpts     []persist.Option
	handleSignals   bool
	signals         chan os.Signal
	stopSignals     chan struct{}
	done            chan struct{}
	state           atomic.Value
	stopMu          sync.Mutex
	shutdownTimeout time.Duration
}

func NewFromFile(ctx context.Context, configPath string, opts ...Option) (*Service, error) {
	configManager, err := config.NewManager(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to load config")
	}

	return New(ctx, configManager.GetConfig(), opts...)
}

func New(ctx context.Context, cfg *types.ServiceConfig, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, types.ErrConfigIsNil
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		config:          cfg,
		instanceID:      uuid.NewString(),
		handleSignals:   true,
		done:            make(chan struct{}),
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.state.Store(StateStopped)

	if err := s.registerComponents(); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) registerComponents() error {
	var err error

	if s.logger == nil {
		s.logger, err = logger.NewLogger(s.config.Logger)
		if err != nil {
			return types.WrapError(err, "failed to register logger")
		}
	}
	s.logger = s.logger.With(zap.String("instance_id", s.instanceID))

	s.metrics, err = metrics.NewManager(s.ctx, s.config.Metrics, s.logger)
	if err != nil {
		return types.WrapError(err, "failed to register metrics manager")
	}

	persistenceEnabled := s.config.Persistence != nil && s.config.Persistence.Enabled

	cacheOpts := []cache.Option{cache.WithMetrics(s.metrics)}
	if persistenceEnabled {
		cacheOpts = append(cacheOpts, cache.WithHydrationGate())
	}
	s.cache = cache.New(s.ctx, s.logger, s.config.Cache, append(cacheOpts, s.cacheOpts...)...)

	if persistenceEnabled {
		if s.storage == nil {
			s.storage, err = storage.NewManager(s.ctx, s.config.Persistence.Storage, s.logger, s.metrics)
			if err != nil {
				return types.WrapError(err, "failed to register snapshot storage")
			}
		}

		s.scheduler, err = cron.NewManager(s.ctx, s.config.Cron, s.logger, s.metrics)
		if err != nil {
			return types.WrapError(err, "failed to register cron manager")
		}

		persistOpts := []persist.Option{persist.WithMetrics(s.metrics), persist.WithScheduler(s.scheduler)}
		s.persistence, err = persist.NewManager(s.ctx, s.logger, *s.config.Persistence, s.cache, s.storage,
			append(persistOpts, s.persistOpts...)...)
		if err != nil {
			return types.WrapError(err, "failed to register persistence")
		}
	}

	if s.config.Health != nil && s.config.Health.Enabled {
		s.health = health.NewManager(s.ctx, s.config.Health, types.InstanceInfo{
			Name:    s.config.Name,
			Version: s.config.Version,
			ID:      s.instanceID,
		}, s.logger)

		s.health.RegisterChecker("cache", health.CacheChecker(s.cache.IsReady, s.cache.Len))
		if s.storage != nil {
			s.health.RegisterChecker("storage", health.StorageChecker(s.storage))
		}
		if s.persistence != nil {
			s.health.RegisterChecker("persistence", health.PersistenceChecker(s.persistence))
		}
	}

	if s.config.Client != nil && s.config.Client.BaseURL != "" {
		s.client = client.NewHTTPClient(s.ctx, s.logger, s.config.Client)
	}

	if s.config.Admin != nil && s.config.Admin.Enabled {
		s.admin = server.NewAdminServer(s.config.Admin, s.logger)
		s.admin.HandleHTTP("/metrics", s.metrics.Handler())
		if s.health != nil {
			s.admin.Fallback(s.health.Handler())
		}
	}

	return nil
}

// Start hydrates the cache from its snapshot slot, opens it for reads and
// schedules periodic persistence. Storage failures degrade to a cold cache.
func (s *Service) Start() error {
	select {
	case <-s.done:
		return types.Errorf(types.ErrInvalidState, "service was stopped, create a new one")
	default:
	}

	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServiceIsRunning
	}

	if s.config.Metrics != nil && s.config.Metrics.Enabled {
		if err := s.metrics.Start(); err != nil {
			s.logger.Error("Failed to start metrics manager", zap.Error(err))
		}
	}

	if s.persistence != nil {
		s.startPersistence()
	}

	s.cache.MarkReady()

	if s.health != nil {
		if err := s.health.Start(); err != nil {
			s.logger.Error("Failed to start health manager", zap.Error(err))
		}
	}

	if s.admin != nil {
		if err := s.admin.Start(); err != nil {
			s.logger.Error("Failed to start admin server", zap.Error(err))
		}
	}

	s.setState(StateRunning)

	if s.handleSignals {
		s.setupSignalHandling()
	}

	s.logger.Info("Query cache service started",
		zap.String("name", s.config.Name),
		zap.String("version", s.config.Version),
		zap.Bool("persistence", s.persistence != nil))

	return nil
}

func (s *Service) startPersistence() {
	if err := s.storage.Start(); err != nil {
		s.logger.Warn("Snapshot storage unavailable, starting cold", zap.Error(err))
		return
	}

	result := s.persistence.Hydrate(s.ctx)
	s.logger.Debug("Hydration finished", zap.String("result", result.String()))

	if err := s.scheduler.Start(); err != nil {
		s.logger.Error("Failed to start cron manager", zap.Error(err))
		return
	}

	if err := s.persistence.Start(); err != nil {
		s.logger.Error("Failed to start persistence", zap.Error(err))
	}
}

// Stop writes a final snapshot and releases every component. Calls after the
// first return ErrServiceIsNotRunning.
func (s *Service) Stop() error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping query cache service")

	if s.stopSignals != nil {
		signal.Stop(s.signals)
		close(s.stopSignals)
	}

	if s.admin != nil && s.admin.IsRunning() {
		if err := s.admin.Stop(); err != nil {
			s.logger.Error("Failed to stop admin server", zap.Error(err))
		}
	}

	if s.health != nil && s.health.IsRunning() {
		if err := s.health.Stop(); err != nil {
			s.logger.Error("Failed to stop health manager", zap.Error(err))
		}
	}

	if s.persistence != nil && s.persistence.IsRunning() {
		if err := s.persistence.Stop(); err != nil {
			s.logger.Error("Failed to stop persistence", zap.Error(err))
		}

		result := s.persistence.HandleEvent(context.Background(), types.EventPageUnload)
		s.logger.Debug("Final snapshot written", zap.String("result", result.String()))
	}

	err := s.stopComponents()

	s.cancel()
	s.setState(StateStopped)
	close(s.done)

	s.logger.Info("Query cache service stopped")
	logger.Sync(s.logger)

	return err
}

func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	stop := func(name string, manager types.LifecycleManager) {
		g.Go(func() error {
			done := make(chan error, 1)
			go func() {
				done <- manager.Stop()
			}()

			select {
			case err := <-done:
				if err != nil {
					s.logger.Error("Failed to stop component", zap.String("component", name), zap.Error(err))
					return types.Errorf(types.ErrComponentStopFailed, "%s: %v", name, err)
				}
				return nil
			case <-gCtx.Done():
				return gCtx.Err()
			}
		})
	}

	if s.scheduler != nil && s.scheduler.IsRunning() {
		stop("cron", s.scheduler)
	}
	if s.storage != nil && s.storage.IsRunning() {
		stop("storage", s.storage)
	}
	if s.metrics.IsRunning() {
		stop("metrics", s.metrics)
	}
	if s.client != nil {
		g.Go(func() error {
			s.client.Close()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			s.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		}
		return err
	}

	return nil
}

func (s *Service) setupSignalHandling() {
	s.signals = make(chan os.Signal, 1)
	s.stopSignals = make(chan struct{})
	signal.Notify(s.signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-s.signals:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if err := s.Stop(); err != nil && !types.IsError(err, types.ErrServiceIsNotRunning) {
				s.logger.Error("Error during service shutdown", zap.Error(err))
			}
		case <-s.stopSignals:
		}
	}()
}

// Dispatch forwards a page lifecycle event to persistence.
func (s *Service) Dispatch(ctx context.Context, event types.PageEvent) (persist.Result, error) {
	if !s.IsRunning() {
		return persist.ResultNone, types.ErrServiceIsNotRunning
	}
	if s.persistence == nil {
		return persist.ResultNone, nil
	}

	return s.persistence.HandleEvent(ctx, event), nil
}

// Reset drops every cached query and the durable snapshot, as on sign-out.
func (s *Service) Reset(ctx context.Context) error {
	s.cache.Clear()

	if s.persistence == nil || s.storage == nil || !s.storage.IsRunning() {
		return nil
	}

	return s.persistence.Clear(ctx)
}

func (s *Service) Health(ctx context.Context) (types.HealthReport, error) {
	if s.health == nil || !s.health.IsRunning() {
		return types.HealthReport{}, types.ErrHealthIsNotRunning
	}
	return s.health.Check(ctx), nil
}

func (s *Service) Cache() *cache.QueryCache {
	return s.cache
}

// Persistence returns nil when persistence is disabled.
func (s *Service) Persistence() *persist.Manager {
	return s.persistence
}

// Client returns nil when no client base_url is configured.
func (s *Service) Client() *client.HTTPClient {
	return s.client
}

// Admin returns nil unless admin.enabled is set.
func (s *Service) Admin() *server.AdminServer {
	return s.admin
}

func (s *Service) HealthManager() *health.Manager {
	return s.health
}

func (s *Service) Metrics() *metrics.Manager {
	return s.metrics
}

func (s *Service) Logger() types.Logger {
	return s.logger
}

func (s *Service) InstanceID() string {
	return s.instanceID
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

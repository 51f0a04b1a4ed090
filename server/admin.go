package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
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

// AdminServer exposes operational endpoints of the cache service over
// fasthttp: /health and /version from the health manager, /metrics from the
// metrics manager.
type AdminServer struct {
	logger          types.Logger
	config          *types.AdminConfig
	routes          map[string]fasthttp.RequestHandler
	fallback        fasthttp.RequestHandler
	server          *fasthttp.Server
	listener        net.Listener
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewAdminServer(config *types.AdminConfig, logger types.Logger) *AdminServer {
	if config == nil {
		config = &types.AdminConfig{Host: "127.0.0.1"}
	}

	s := &AdminServer{
		logger:          logger,
		config:          config,
		routes:          make(map[string]fasthttp.RequestHandler),
		fallback:        notFound,
		shutdownTimeout: 5 * time.Second,
	}

	s.state.Store(StateStopped)

	return s
}

// Handle registers handler for an exact path. Must be called before Start.
func (s *AdminServer) Handle(path string, handler fasthttp.RequestHandler) {
	s.routes[path] = handler
}

// HandleHTTP registers a net/http handler, such as the prometheus exporter.
func (s *AdminServer) HandleHTTP(path string, handler http.Handler) {
	s.routes[path] = fasthttpadaptor.NewFastHTTPHandler(handler)
}

// Fallback serves every path without an exact route.
func (s *AdminServer) Fallback(handler fasthttp.RequestHandler) {
	s.fallback = handler
}

func (s *AdminServer) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "admin listener failed")
	}

	s.listener = listener
	s.server = &fasthttp.Server{
		Handler:         s.handler,
		ReadTimeout:     s.config.ReadTimeout,
		WriteTimeout:    s.config.WriteTimeout,
		CloseOnShutdown: true,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("Admin server failed", zap.Error(err))
			s.setState(StateStopped)
		}
	}()

	s.setState(StateRunning)

	s.logger.Info("Admin server started", zap.String("address", listener.Addr().String()))
	return nil
}

func (s *AdminServer) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer s.setState(StateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("Admin server stop timeout", zap.Error(err))
		return err
	}

	s.logger.Info("Admin server stopped gracefully")
	return nil
}

func (s *AdminServer) IsRunning() bool {
	return s.getState() == StateRunning
}

// Addr returns the bound address, which differs from the configured one when
// port 0 was requested.
func (s *AdminServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *AdminServer) handler(ctx *fasthttp.RequestCtx) {
	if handler, ok := s.routes[string(ctx.Path())]; ok {
		handler(ctx)
		return
	}
	s.fallback(ctx)
}

func (s *AdminServer) getState() State {
	return s.state.Load().(State)
}

func (s *AdminServer) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *AdminServer) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func notFound(ctx *fasthttp.RequestCtx) {
	ctx.Error("not found", fasthttp.StatusNotFound)
}

package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-query-cache/cache"
	"github.com/saiset-co/sai-query-cache/keys"
	"github.com/saiset-co/sai-query-cache/logger"
	"github.com/saiset-co/sai-query-cache/persist"
	"github.com/saiset-co/sai-query-cache/storage"
	"github.com/saiset-co/sai-query-cache/types"
	"github.com/saiset-co/sai-query-cache/utils"
)

func newTestManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()

	m := NewManager(context.Background(), &types.HealthConfig{Enabled: true, CheckTimeout: timeout},
		types.InstanceInfo{Name: "query-cache", Version: "test", ID: "instance-1"}, logger.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func healthy(ctx context.Context) types.HealthCheck {
	return types.HealthCheck{Status: types.StatusHealthy}
}

func TestCheck_AggregatesStatuses(t *testing.T) {
	m := newTestManager(t, time.Second)

	m.RegisterChecker("a", healthy)
	m.RegisterChecker("b", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnknown}
	})

	report := m.Check(context.Background())
	assert.Equal(t, types.StatusUnknown, report.Status)
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Healthy)
	assert.Equal(t, 1, report.Summary.Unknown)
	assert.Equal(t, "a", report.Checks["a"].Name)
	assert.NotEmpty(t, report.Instance.Build)

	m.RegisterChecker("c", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "down"}
	})

	report = m.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Len(t, m.LastResults(), 3)
}

func TestCheck_PanicAndTimeoutAreUnhealthy(t *testing.T) {
	m := newTestManager(t, 20*time.Millisecond)

	m.RegisterChecker("panics", func(ctx context.Context) types.HealthCheck {
		panic("boom")
	})
	m.RegisterChecker("hangs", func(ctx context.Context) types.HealthCheck {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := m.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Contains(t, report.Checks["panics"].Message, "boom")
	assert.Equal(t, "Health check timeout", report.Checks["hangs"].Message)
}

func TestLifecycle(t *testing.T) {
	m := NewManager(context.Background(), nil, types.InstanceInfo{Name: "query-cache"}, logger.NewNop())

	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Stop(), types.ErrServerNotRunning)
	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)
	assert.True(t, m.IsRunning())
	require.NoError(t, m.Stop())
}

func serve(handler fasthttp.RequestHandler, method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	handler(&ctx)
	return &ctx
}

func TestHandler(t *testing.T) {
	m := newTestManager(t, time.Second)
	m.RegisterChecker("a", healthy)

	handler := m.Handler()

	ctx := serve(handler, fasthttp.MethodGet, "/health")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))

	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &report))
	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Equal(t, "instance-1", report.Instance.ID)

	ctx = serve(handler, fasthttp.MethodGet, "/version")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var instance types.InstanceInfo
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &instance))
	assert.Equal(t, "query-cache", instance.Name)

	assert.Equal(t, fasthttp.StatusNotFound, serve(handler, fasthttp.MethodGet, "/nope").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, serve(handler, fasthttp.MethodPost, "/health").Response.StatusCode())

	m.RegisterChecker("b", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy}
	})
	assert.Equal(t, fasthttp.StatusServiceUnavailable, serve(handler, fasthttp.MethodGet, "/health").Response.StatusCode())

	require.NoError(t, m.Stop())
	assert.Equal(t, fasthttp.StatusServiceUnavailable, serve(handler, fasthttp.MethodGet, "/version").Response.StatusCode())
}

func TestStorageChecker(t *testing.T) {
	s, err := storage.NewManager(context.Background(), &types.StorageConfig{Type: "memory"}, logger.NewNop(), nil)
	require.NoError(t, err)

	check := StorageChecker(s)
	assert.Equal(t, types.StatusUnhealthy, check(context.Background()).Status)

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, types.StatusHealthy, check(context.Background()).Status)
}

func TestPersistenceChecker(t *testing.T) {
	ctx := context.Background()

	s, err := storage.NewManager(ctx, &types.StorageConfig{Type: "memory", Config: map[string]interface{}{"max_bytes": 200}}, logger.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	c := cache.New(ctx, logger.NewNop(), nil)
	p, err := persist.NewManager(ctx, logger.NewNop(), types.PersistenceConfig{Enabled: true}, c, s)
	require.NoError(t, err)

	check := PersistenceChecker(p)
	assert.Equal(t, types.StatusUnknown, check(ctx).Status)

	p.Hydrate(ctx)
	c.SetData(keys.Chats.List(nil), []string{"alice"})
	require.Equal(t, persist.ResultWritten, p.Persist(ctx, persist.TriggerManual))

	result := check(ctx)
	assert.Equal(t, types.StatusHealthy, result.Status)
	assert.Equal(t, "miss", result.Details["hydrate"])
	assert.Equal(t, "written", result.Details["last_result"])

	c.SetData(keys.Accounts.Detail("bob"), map[string]string{"name": "a display name long enough to push the snapshot past the quota"})
	require.Equal(t, persist.ResultFailed, p.Persist(ctx, persist.TriggerManual))
	assert.Equal(t, types.StatusUnhealthy, check(ctx).Status)
}

func TestCacheChecker(t *testing.T) {
	c := cache.New(context.Background(), logger.NewNop(), nil, cache.WithHydrationGate())

	check := CacheChecker(c.IsReady, c.Len)
	assert.Equal(t, types.StatusUnknown, check(context.Background()).Status)

	c.MarkReady()
	result := check(context.Background())
	assert.Equal(t, types.StatusHealthy, result.Status)
	assert.Equal(t, 0, result.Details["entries"])
}

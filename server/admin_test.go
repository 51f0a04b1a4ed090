package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-query-cache/logger"
	"github.com/saiset-co/sai-query-cache/types"
)

func TestAdminServer_Routes(t *testing.T) {
	s := NewAdminServer(&types.AdminConfig{Host: "127.0.0.1", Port: 0}, logger.NewNop())

	s.Handle("/ping", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("pong")
	})
	s.HandleHTTP("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("query_cache_entries 3\n"))
	}))

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.ErrorIs(t, s.Start(), types.ErrServerAlreadyRunning)

	base := "http://" + s.Addr()

	status, body, err := fasthttp.Get(nil, base+"/ping")
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Equal(t, "pong", string(body))

	status, body, err = fasthttp.Get(nil, base+"/metrics")
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, string(body), "query_cache_entries")

	status, _, err = fasthttp.Get(nil, base+"/missing")
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusNotFound, status)
}

func TestAdminServer_Lifecycle(t *testing.T) {
	s := NewAdminServer(&types.AdminConfig{Host: "127.0.0.1"}, logger.NewNop())

	assert.ErrorIs(t, s.Stop(), types.ErrServerNotRunning)
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

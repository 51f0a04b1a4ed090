package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-query-cache/logger"
	"github.com/saiset-co/sai-query-cache/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(context.Background(), &types.CronConfig{Timezone: "UTC"}, logger.NewNop(), nil)
	require.NoError(t, err)
	return m
}

func TestManager_AddRemoveJobs(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add("persist_query_cache", "@every 30s", func() {}))
	require.NoError(t, m.Add("another", "*/10 * * * * *", func() {}))

	assert.ErrorIs(t, m.Add("persist_query_cache", "@every 30s", func() {}), types.ErrCronJobExists)
	assert.ErrorIs(t, m.Add("", "@every 1s", func() {}), types.ErrCronJobNameIsEmpty)
	assert.ErrorIs(t, m.Add("bad", "not a spec", func() {}), types.ErrCronExpressionInvalid)
	assert.ErrorIs(t, m.Add("nil", "@every 1s", nil), types.ErrCronJobIsNil)

	jobs := m.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "another", jobs[0].Name)
	assert.Equal(t, "persist_query_cache", jobs[1].Name)

	require.NoError(t, m.Remove("another"))
	assert.ErrorIs(t, m.Remove("another"), types.ErrCronJobNotFound)
	assert.Len(t, m.Jobs(), 1)
}

func TestManager_RunsJobsWhileStarted(t *testing.T) {
	m := newTestManager(t)

	var runs int32
	require.NoError(t, m.Add("tick", "* * * * * *", func() {
		atomic.AddInt32(&runs, 1)
	}))

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), types.ErrCronIsRunning)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) > 0
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Stop(), types.ErrServerNotRunning)

	jobs := m.Jobs()
	require.Len(t, jobs, 1)
	assert.GreaterOrEqual(t, jobs[0].RunCount, int64(1))
}

func TestManager_RecoversPanickingJob(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add("boom", "* * * * * *", func() {
		panic("boom")
	}))
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	var jobErr error
	require.Eventually(t, func() bool {
		jobs := m.Jobs()
		if len(jobs) == 1 && jobs[0].Error != nil {
			jobErr = jobs[0].Error
			return true
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	assert.ErrorIs(t, jobErr, types.ErrCronJobFailed)
}

func TestNewManager_RejectsUnknownTimezone(t *testing.T) {
	_, err := NewManager(context.Background(), &types.CronConfig{Timezone: "Mars/Olympus"}, logger.NewNop(), nil)
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-query-cache/types"
)

func TestPolicy_DelayFor(t *testing.T) {
	policy := QueryPolicy()

	assert.Equal(t, 1000*time.Millisecond, policy.DelayFor(0))
	assert.Equal(t, 2000*time.Millisecond, policy.DelayFor(1))
	assert.Equal(t, 4000*time.Millisecond, policy.DelayFor(2))
	assert.Equal(t, 16000*time.Millisecond, policy.DelayFor(4))
	assert.Equal(t, 30000*time.Millisecond, policy.DelayFor(5))
	assert.Equal(t, 30000*time.Millisecond, policy.DelayFor(62))
	assert.Equal(t, 30000*time.Millisecond, policy.DelayFor(1000))
}

func TestPolicy_ClientErrorsAreNotRetried(t *testing.T) {
	policy := QueryPolicy()

	notFound := types.NewStatusError(404, "not found")
	assert.False(t, policy.ShouldRetry(0, notFound))
	assert.False(t, policy.ShouldRetry(0, types.WrapError(notFound, "fetch accounts")))
	assert.False(t, policy.ShouldRetry(0, types.NewStatusError(400, "bad request")))
	assert.False(t, policy.ShouldRetry(0, types.NewStatusError(499, "closed")))

	assert.True(t, policy.ShouldRetry(0, types.NewStatusError(500, "boom")))
	assert.True(t, policy.ShouldRetry(0, types.NewStatusError(503, "unavailable")))
	assert.True(t, policy.ShouldRetry(0, &net.OpError{Op: "dial", Err: errors.New("connection refused")}))
}

func TestPolicy_AttemptLimits(t *testing.T) {
	networkErr := errors.New("network down")

	query := QueryPolicy()
	assert.True(t, query.ShouldRetry(0, networkErr))
	assert.True(t, query.ShouldRetry(2, networkErr))
	assert.False(t, query.ShouldRetry(3, networkErr))

	mutation := MutationPolicy()
	assert.True(t, mutation.ShouldRetry(0, networkErr))
	assert.False(t, mutation.ShouldRetry(1, networkErr))
	assert.False(t, mutation.ShouldRetry(0, types.NewStatusError(409, "conflict")))
}

func TestPolicy_ContextErrorsAreNotRetried(t *testing.T) {
	policy := QueryPolicy()
	assert.False(t, policy.ShouldRetry(0, context.Canceled))
	assert.False(t, policy.ShouldRetry(0, types.WrapError(context.DeadlineExceeded, "fetch")))
}

func TestPolicy_StatusFoundInWrappedErrorTrees(t *testing.T) {
	policy := QueryPolicy()
	notFound := types.NewStatusError(404, "missing")

	multi := fmt.Errorf("%w: %w", types.ErrClientRequestFailed, notFound)
	joined := errors.Join(errors.New("fetch chats"), notFound)

	for _, err := range []error{multi, joined} {
		code, ok := types.StatusCodeOf(err)
		require.True(t, ok, err.Error())
		assert.Equal(t, 404, code)
		assert.False(t, policy.ShouldRetry(0, err), err.Error())
	}

	unavailable := errors.Join(errors.New("fetch chats"), types.NewStatusError(503, "unavailable"))
	assert.True(t, policy.ShouldRetry(0, unavailable))

	_, ok := types.StatusCodeOf(errors.Join(errors.New("a"), errors.New("b")))
	assert.False(t, ok)
}

func TestFromConfig_FillsDefaults(t *testing.T) {
	policy := FromConfig(types.RetryConfig{MaxRetries: 2})
	assert.Equal(t, 2, policy.MaxRetries)
	assert.Equal(t, DefaultBaseDelay, policy.BaseDelay)
	assert.Equal(t, DefaultMaxDelay, policy.MaxDelay)
}

type recordedSleep struct {
	delays []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestRunner_NetworkErrorRetriedThreeTimes(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0

	runner := Runner{Policy: QueryPolicy(), Sleep: rec.sleep}
	_, failures, err := runner.Do(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, failures)
	assert.Equal(t, []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond, 4000 * time.Millisecond}, rec.delays)
}

func TestRunner_NotFoundIsNotRetried(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0

	runner := Runner{Policy: QueryPolicy(), Sleep: rec.sleep}
	_, failures, err := runner.Do(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, types.NewStatusError(404, "missing")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, failures)
	assert.Empty(t, rec.delays)

	code, ok := types.StatusCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, 404, code)
}

func TestRunner_SucceedsAfterTransientFailure(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	var retries []Attempt

	runner := Runner{
		Policy:  QueryPolicy(),
		Sleep:   rec.sleep,
		OnRetry: func(a Attempt) { retries = append(retries, a) },
	}
	result, failures, err := runner.Do(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, types.NewStatusError(502, "bad gateway")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, failures)
	require.Len(t, retries, 2)
	assert.Equal(t, 0, retries[0].FailureCount)
	assert.Equal(t, 2000*time.Millisecond, retries[1].Delay)
}

func TestRunner_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, QueryPolicy(), func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("flaky")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

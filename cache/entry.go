package cache

import (
	"time"

	"github.com/saiset-co/sai-query-cache/retry"
	"github.com/saiset-co/sai-query-cache/types"
)

type entry struct {
	key            types.QueryKey
	hash           string
	status         types.QueryStatus
	fetchStatus    types.FetchStatus
	data           any
	err            error
	dataUpdatedAt  time.Time
	errorUpdatedAt time.Time
	lastAccessedAt time.Time
	staleTime      time.Duration
	gcTime         time.Duration
	invalidated    bool
	// bumped by every Invalidate; a fetch that started under an older epoch
	// cannot clear the invalidated flag
	epoch        uint64
	observers    int
	failureCount int

	// last fetch function and policy seen by Ensure, used for active refetch
	fetch  types.FetchFunc
	policy retry.Policy
}

func (e *entry) view() types.QueryEntry {
	return types.QueryEntry{
		Key:            e.key.Clone(),
		Status:         e.status,
		FetchStatus:    e.fetchStatus,
		Data:           e.data,
		Err:            e.err,
		DataUpdatedAt:  e.dataUpdatedAt,
		ErrorUpdatedAt: e.errorUpdatedAt,
		StaleTime:      e.staleTime,
		GCTime:         e.gcTime,
		LastAccessedAt: e.lastAccessedAt,
		Invalidated:    e.invalidated,
		Observers:      e.observers,
		FailureCount:   e.failureCount,
	}
}

func (e *entry) isFresh(now time.Time) bool {
	return e.view().IsFresh(now)
}

func (e *entry) isCollectible(now time.Time) bool {
	return e.view().IsCollectible(now)
}

func (e *entry) writeSuccess(data any, updatedAt time.Time) {
	e.writeFetched(data, updatedAt, e.epoch)
}

// writeFetched stores a fetch result that started at epoch. The entry stays
// invalidated when Invalidate ran while the fetch was in flight.
func (e *entry) writeFetched(data any, updatedAt time.Time, epoch uint64) {
	e.status = types.StatusSuccess
	e.data = data
	e.err = nil
	e.failureCount = 0
	if epoch == e.epoch {
		e.invalidated = false
	}
	if updatedAt.After(e.dataUpdatedAt) {
		e.dataUpdatedAt = updatedAt
	}
}

func (e *entry) writeError(err error, failures int, at time.Time) {
	e.status = types.StatusFailed
	e.data = nil
	e.err = err
	e.failureCount = failures
	e.errorUpdatedAt = at
}

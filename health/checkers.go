package health

import (
	"context"
	"time"

	"github.com/saiset-co/sai-query-cache/persist"
	"github.com/saiset-co/sai-query-cache/types"
)

// StorageChecker pings the snapshot backend.
func StorageChecker(storage types.Storage) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		if !storage.IsRunning() {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: types.ErrStorageNotRunning.Error(),
			}
		}

		if err := storage.Ping(ctx); err != nil {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: err.Error(),
			}
		}

		return types.HealthCheck{Status: types.StatusHealthy}
	}
}

// PersistenceChecker reports the outcome of the latest persist run. A failed
// write leaves the cache usable, so it only degrades the report.
func PersistenceChecker(manager *persist.Manager) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		details := map[string]interface{}{
			"key": manager.Config().Key,
		}

		if result, ok := manager.Hydrated(); ok {
			details["hydrate"] = result.String()
		}

		last := manager.LastResult()
		details["last_result"] = last.String()

		if runAt := manager.LastRunAt(); !runAt.IsZero() {
			details["last_run_at"] = runAt.Format(time.RFC3339)
		}

		switch last {
		case persist.ResultNone:
			return types.HealthCheck{
				Status:  types.StatusUnknown,
				Message: "No persist run yet",
				Details: details,
			}
		case persist.ResultFailed:
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: "Last persist run failed",
				Details: details,
			}
		default:
			return types.HealthCheck{
				Status:  types.StatusHealthy,
				Details: details,
			}
		}
	}
}

// CacheChecker reports the number of live entries and whether the cache
// accepts reads yet.
func CacheChecker(ready func() bool, size func() int) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		details := map[string]interface{}{
			"entries": size(),
		}

		if !ready() {
			return types.HealthCheck{
				Status:  types.StatusUnknown,
				Message: "Waiting for hydration",
				Details: details,
			}
		}

		return types.HealthCheck{Status: types.StatusHealthy, Details: details}
	}
}

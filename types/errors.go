package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrCacheKeyEmpty       = errors.New("cache key empty")
	ErrCacheFetchIsNil     = errors.New("cache fetch function is nil")
	ErrCacheCleared        = errors.New("cache cleared while fetch was in flight")
	ErrCacheEntryNotFound  = errors.New("cache entry not found")
	ErrCacheMutationIsNil  = errors.New("cache mutation function is nil")
	ErrCacheInvalidPolicy  = errors.New("cache invalid policy")
	ErrCacheNotReady       = errors.New("cache is waiting for hydration")
	ErrRetryAttemptsFailed = errors.New("retry attempts exhausted")
)

var (
	ErrStorageTypeUnknown   = errors.New("storage type unknown")
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")
	ErrStorageNotRunning    = errors.New("storage not running")
	ErrStorageKeyEmpty      = errors.New("storage key empty")
	ErrStorageIsDisabled    = errors.New("storage is disabled")
)

var (
	ErrSnapshotTooLarge       = errors.New("snapshot too large")
	ErrSnapshotVersion        = errors.New("snapshot version mismatch")
	ErrSnapshotExpired        = errors.New("snapshot expired")
	ErrSnapshotCorrupt        = errors.New("snapshot corrupt")
	ErrPersistenceIsDisabled  = errors.New("persistence is disabled")
	ErrPersistenceNotHydrated = errors.New("persistence not hydrated")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
)

var (
	ErrMetricsTypeUnknown   = errors.New("metrics type unknown")
	ErrMetricsStartFailed   = errors.New("metrics start failed")
	ErrMetricsConfigInvalid = errors.New("metrics config invalid")
	ErrMetricsIsDisabled    = errors.New("metrics manager is disabled")
	ErrMetricsNotRunning    = errors.New("metrics manager is not running")
)

var (
	ErrHealthIsNotRunning = errors.New("health manager is not running")
)

var (
	ErrClientRequestFailed   = errors.New("client request failed")
	ErrClientResponseInvalid = errors.New("client response invalid")
	ErrClientTimeout         = errors.New("client timeout")
	ErrClientNotRunning      = errors.New("client not running")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServiceIsRunning     = errors.New("service is running")
	ErrServiceIsNotRunning  = errors.New("service is not running")
	ErrComponentStartFailed = errors.New("component start failed")
	ErrComponentStopFailed  = errors.New("component stop failed")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrOperationFailed  = errors.New("operation failed")
	ErrNotImplemented   = errors.New("not implemented")
	ErrInternalError    = errors.New("internal error")
	ErrInvalidState     = errors.New("invalid state")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewError(message string) error {
	return errors.New(message)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// StatusCoder is implemented by errors that carry a transport status code.
type StatusCoder interface {
	Status() int
}

// StatusError is a fetch failure annotated with the status code returned by the
// backend. A zero StatusCode means the request never produced a response.
type StatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func NewStatusError(statusCode int, message string) *StatusError {
	return &StatusError{StatusCode: statusCode, Message: message}
}

func (e *StatusError) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("status %d: %s: %v", e.StatusCode, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) Status() int {
	return e.StatusCode
}

// StatusCodeOf returns the status code carried by err's tree, including
// errors joined with errors.Join or wrapped with several %w verbs.
func StatusCodeOf(err error) (int, bool) {
	var coder StatusCoder
	if errors.As(err, &coder) && coder.Status() != 0 {
		return coder.Status(), true
	}
	return 0, false
}

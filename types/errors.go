package types

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
	ErrConfigNotLoaded      = errors.New("config not loaded")
)

var (
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrStoreKeyEmpty     = errors.New("store key empty")
	ErrStoreTypeUnknown  = errors.New("store type unknown")
	ErrStoreScriptFailed = errors.New("store script failed")
	ErrStoreWrongType    = errors.New("store value has wrong type")
	ErrStoreClosed       = errors.New("store closed")
)

var (
	ErrLockUnavailable = errors.New("lock unavailable")
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockKeyEmpty    = errors.New("lock key empty")
)

var (
	ErrCacheKeyEmpty      = errors.New("cache key empty")
	ErrCacheLoaderIsNil   = errors.New("cache loader is nil")
	ErrCacheDecodeFailed  = errors.New("cache decode failed")
	ErrCacheEncodeFailed  = errors.New("cache encode failed")
	ErrCacheExtractorNil  = errors.New("cache id extractor is nil")
	ErrCacheInvalidConfig = errors.New("cache config invalid")
)

var (
	ErrRankingNameEmpty    = errors.New("ranking name empty")
	ErrRankingScoreInvalid = errors.New("ranking score invalid")
	ErrRankingMemberEmpty  = errors.New("ranking member empty")
	ErrRankingLimitInvalid = errors.New("ranking limit invalid")
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
	ErrCronIsDisabled        = errors.New("cron manager is disabled")
)

var (
	ErrMetricsTypeUnknown   = errors.New("metrics type unknown")
	ErrMetricsStartFailed   = errors.New("metrics start failed")
	ErrMetricsConfigInvalid = errors.New("metrics config invalid")
)

var (
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrHealthCheckTimeout = errors.New("health check timeout")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrAlreadyRunning       = errors.New("already running")
	ErrNotRunning           = errors.New("not running")
	ErrComponentNotFound    = errors.New("component not found")
	ErrComponentStartFailed = errors.New("component start failed")
	ErrComponentStopFailed  = errors.New("component stop failed")
)

// StoreError is the only shape of infrastructure failure returned by a StoreClient.
// It matches ErrStoreUnavailable through errors.Is and unwraps to the driver error.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func NewStoreError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrStoreUnavailable, e.Op, e.Key, e.Err)
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// LockError reports a lock operation that could not reach the store. It
// matches ErrLockUnavailable and unwraps to the underlying StoreError.
type LockError struct {
	Op  string
	Key string
	Err error
}

func NewLockError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &LockError{Op: op, Key: key, Err: err}
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrLockUnavailable, e.Op, e.Key, e.Err)
}

func (e *LockError) Is(target error) bool {
	return target == ErrLockUnavailable
}

func (e *LockError) Unwrap() error {
	return e.Err
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

// WrapError annotates err with message and a stack trace; nil stays nil.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, message)
}

func NewErrorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

package loader

import "errors"

var (
	// ErrTooFewWorkers is returned when the worker count is below two.
	// A single worker deadlocks when a load callback schedules another
	// load, so two is the floor.
	ErrTooFewWorkers = errors.New("loader: at least two workers required")

	// ErrAlreadyStarted is returned when a setting can only change before
	// the worker pool starts.
	ErrAlreadyStarted = errors.New("loader: workers already started")

	// ErrNegativeQuota is returned for a negative per-tick upload quota.
	ErrNegativeQuota = errors.New("loader: uploads per tick cannot be negative")

	// ErrBlankKey is returned on handles created for empty resource keys.
	ErrBlankKey = errors.New("loader: blank resource key")

	// ErrClosed is returned on handles created after the engine closed.
	ErrClosed = errors.New("loader: engine closed")
)

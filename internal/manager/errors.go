package manager

import (
	"errors"
	"strconv"
)

// invalidIDError reports an unknown or already retired task id.
type invalidIDError struct{ id int64 }

func (e invalidIDError) Error() string { return "invalid task id " + strconv.FormatInt(e.id, 10) }

func ErrInvalidID(id int64) error { return invalidIDError{id: id} }

// IsInvalidID reports whether err refers to an unknown or retired task.
func IsInvalidID(err error) bool {
	var e invalidIDError
	return errors.As(err, &e)
}

// notQueuedError rejects reconfiguration of a task that already left the queue.
type notQueuedError struct {
	id     int64
	status Status
}

func (e notQueuedError) Error() string {
	return "task " + strconv.FormatInt(e.id, 10) + " is " + string(e.status) + ", configuration is only accepted while queued"
}

// IsNotQueued reports whether err is a rejected reconfiguration.
func IsNotQueued(err error) bool {
	var e notQueuedError
	return errors.As(err, &e)
}

var (
	// ErrClosed is returned by Submit and Start once Shutdown has begun.
	ErrClosed = errors.New("manager: closed")
	// ErrInvalidMaxTokens rejects submissions without a positive token budget.
	ErrInvalidMaxTokens = errors.New("max tokens must be positive")
	// ErrNoEngine is returned by New when no engine is configured.
	ErrNoEngine = errors.New("manager: engine is required")
)

package engine

import (
	"errors"
	"fmt"
)

// modelNotFoundError reports a missing model file.
type modelNotFoundError struct{ path string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.path }

func ErrModelNotFound(path string) error { return modelNotFoundError{path: path} }

// IsModelNotFound reports whether err indicates a missing model file.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// initFailedError wraps a backend failure while loading the model.
type initFailedError struct {
	path string
	err  error
}

func (e initFailedError) Error() string {
	return "load model " + e.path + ": " + e.err.Error()
}

func (e initFailedError) Unwrap() error { return e.err }

func ErrInitFailed(path string, err error) error { return initFailedError{path: path, err: err} }

// IsInitFailed reports whether err came from the backend refusing to load a model.
func IsInitFailed(err error) bool {
	var e initFailedError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a backend that was not compiled in.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// ErrClosed is returned by operations on a closed engine or context.
var ErrClosed = errors.New("engine: closed")

// decodeStatus turns a llama_decode return code into an error. 1 means no KV
// cache slot was free for the batch; negative values are hard failures.
func decodeStatus(rc int32, err error) error {
	if err != nil {
		return err
	}
	switch {
	case rc == 0:
		return nil
	case rc == 1:
		return fmt.Errorf("llama_decode returned %d: context full", rc)
	default:
		return fmt.Errorf("llama_decode returned %d", rc)
	}
}

//go:build !llama

package engine

// This file is compiled when the 'llama' build tag is NOT set, keeping default
// builds and CI free of the native llama.cpp libraries. The real engine lives
// in llama.go.

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = false

func loadLlama(opts Options) (Engine, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

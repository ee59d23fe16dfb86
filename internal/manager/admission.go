package manager

import (
	"context"
)

// beginGeneration waits for a decoding slot when MaxConcurrent is set.
// Returns a release func to be deferred. A cancelled ctx aborts the wait.
func (m *Manager) beginGeneration(ctx context.Context) (func(), error) {
	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	if m.sem == nil {
		return func() {}, nil
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return func() {}, err
	}
	return func() { m.sem.Release(1) }, nil
}

package manager

import (
	"context"
	"testing"
	"time"

	"taskd/internal/engine"
	"taskd/pkg/types"
)

const bigCapacity = 1 << 20

// newTestManager builds a manager over a scripted engine and shuts it down
// when the test ends.
func newTestManager(t *testing.T, opts engine.ScriptedOptions, mutate ...func(*ManagerConfig)) (*Manager, *engine.Scripted, *MemoryPublisher) {
	t.Helper()
	eng := engine.NewScripted(opts)
	pub := NewMemoryPublisher()
	cfg := ManagerConfig{Engine: eng, ContextSize: 512, Publisher: pub}
	for _, f := range mutate {
		f(&cfg)
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, eng, pub
}

// peek reads status and token count without retiring the task.
func peek(m *Manager, id int64) (Status, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return StatusInvalidID, 0
	}
	return t.status, t.generated
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// waitTerminal waits for a terminal status and then retires the task with a
// single poll.
func waitTerminal(t *testing.T, m *Manager, id int64) types.TaskSnapshot {
	t.Helper()
	waitFor(t, "terminal status", func() bool {
		st, _ := peek(m, id)
		return st.Terminal()
	})
	snap, err := m.Poll(id, bigCapacity)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	return snap
}

// run submits, starts and waits for a task.
func run(t *testing.T, m *Manager, prompt string, maxTokens int) types.TaskSnapshot {
	t.Helper()
	id, err := m.Submit(prompt, maxTokens)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if st, err := m.Start(id); err != nil || st != StatusRunning {
		t.Fatalf("Start: %v %v", st, err)
	}
	return waitTerminal(t, m, id)
}

func words(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "w"
	}
	return out
}

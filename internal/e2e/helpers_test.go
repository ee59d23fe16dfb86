package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskd/internal/engine"
	"taskd/internal/manager"
	"taskd/pkg/types"
)

// createTempModelsDir creates a temporary directory populated with empty .gguf
// files and returns its path.
func createTempModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

func newManager(t *testing.T, eng engine.Engine, cfg manager.ManagerConfig) *manager.Manager {
	t.Helper()
	cfg.Engine = eng
	m, err := manager.New(cfg)
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
			return
		}
		_ = eng.Close()
	})
	return m
}

// progress is what a host displays between polls.
type progress struct {
	status    string
	text      string
	generated int
}

// pollUntilRetired drives a task the way an interactive host does: poll on a
// fixed cadence, record every observation, stop at the retiring poll.
func pollUntilRetired(t *testing.T, m *manager.Manager, id int64, capacity int) (types.TaskSnapshot, []progress) {
	t.Helper()
	var seen []progress
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.Poll(id, capacity)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		seen = append(seen, progress{status: snap.Status, text: snap.Text, generated: snap.GeneratedTokens})
		if snap.Retired {
			return snap, seen
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %d did not finish", id)
	return types.TaskSnapshot{}, nil
}

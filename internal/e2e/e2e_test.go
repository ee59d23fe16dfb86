package e2e

import (
	"strings"
	"testing"
	"time"

	"taskd/internal/config"
	"taskd/internal/engine"
	"taskd/internal/manager"
	"taskd/internal/registry"
	"taskd/internal/sampling"
)

// TestE2E_ConfigToFinishedTask wires config defaults, engine selection and
// the manager together and follows one task to retirement.
func TestE2E_ConfigToFinishedTask(t *testing.T) {
	cfg := config.Default()
	eng, err := engine.Open(engine.Options{Kind: cfg.Engine})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	def, err := cfg.Sampler.Sampling()
	if err != nil {
		t.Fatalf("Sampling: %v", err)
	}
	m := newManager(t, eng, manager.ManagerConfig{ContextSize: cfg.ContextSize, DefaultSampler: &def})

	id, err := m.Submit("the quick brown fox", 16)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if st, _ := m.Start(id); st != manager.StatusRunning {
		t.Fatalf("Start: %s", st)
	}
	snap, seen := pollUntilRetired(t, m, id, 1024)
	if snap.Status != "finished" || snap.Text != "the quick brown fox " {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
	// Progress never goes backwards.
	for i := 1; i < len(seen); i++ {
		if seen[i].generated < seen[i-1].generated || !strings.HasPrefix(seen[i].text, seen[i-1].text) {
			t.Fatalf("progress went backwards: %+v then %+v", seen[i-1], seen[i])
		}
	}
}

// TestE2E_ModelsDirResolution checks the registry naming used to pick a
// model: the filename without extension.
func TestE2E_ModelsDirResolution(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf", "beta.GGUF", "notes.txt")
	models, err := registry.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(models) != 2 || models[0].ID != "alpha" || models[1].ID != "beta" {
		t.Fatalf("unexpected models: %+v", models)
	}
	m, err := registry.Resolve(models, "beta.gguf")
	if err != nil || m.Name != "beta.GGUF" {
		t.Fatalf("Resolve: %+v %v", m, err)
	}
	_, err = engine.Open(engine.Options{Kind: engine.KindLlama, ModelPath: dir + "/missing.gguf"})
	if engine.InitStatusOf(err) == engine.InitOK {
		t.Fatalf("expected a load failure for a missing model")
	}
}

// TestE2E_ManyTasksMixedOutcomes runs finished, interrupted and reconfigured
// tasks side by side through one bounded manager.
func TestE2E_ManyTasksMixedOutcomes(t *testing.T) {
	eng := engine.NewScripted(engine.ScriptedOptions{StepDelay: 500 * time.Microsecond})
	m := newManager(t, eng, manager.ManagerConfig{MaxConcurrent: 3, ContextSize: 512})

	long := strings.Repeat("tick ", 150)
	type task struct {
		id     int64
		want   string
		cancel bool
	}
	var tasks []task
	for i := 0; i < 4; i++ {
		id, _ := m.Submit("a b c d", 10)
		tasks = append(tasks, task{id: id, want: "finished"})
	}
	for i := 0; i < 2; i++ {
		id, _ := m.Submit(long, 150)
		tasks = append(tasks, task{id: id, want: "interrupted", cancel: true})
	}
	stopAt, _ := m.Submit("x y STOP z", 10)
	if _, err := m.SetTerminator(stopAt, "STOP"); err != nil {
		t.Fatalf("SetTerminator: %v", err)
	}
	if _, err := m.SetSampler(stopAt, sampling.Config{Mode: sampling.TemperatureTopP, Temperature: 1e-4, TopP: 0.9, Seed: 1}); err != nil {
		t.Fatalf("SetSampler: %v", err)
	}
	tasks = append(tasks, task{id: stopAt, want: "finished"})

	for _, tk := range tasks {
		m.Start(tk.id)
	}
	for _, tk := range tasks {
		if tk.cancel {
			m.Cancel(tk.id)
		}
	}
	for _, tk := range tasks {
		snap, _ := pollUntilRetired(t, m, tk.id, 4096)
		if snap.Status != tk.want {
			t.Fatalf("task %d: status %s want %s (%s)", tk.id, snap.Status, tk.want, snap.Error)
		}
		if tk.id == stopAt && snap.Text != "x y STOP" {
			t.Fatalf("terminator task text %q", snap.Text)
		}
	}
	if st := m.Status(); st.Running+st.Queued+st.Finished+st.Interrupted+st.Errored != 0 {
		t.Fatalf("registry not empty after retiring every task: %+v", st)
	}
	if n := eng.LiveContexts(); n != 0 {
		t.Fatalf("leaked %d contexts", n)
	}
}

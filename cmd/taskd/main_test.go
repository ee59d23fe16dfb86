package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"taskd/internal/engine"
	"taskd/internal/manager"
	"taskd/pkg/types"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(append([]string{"--log-level", "off"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunEchoStreamsText(t *testing.T) {
	code, out, errOut := runCLI(t, "run", "hello brave world")
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "hello brave world \n" {
		t.Fatalf("stdout %q", out)
	}
	if !strings.Contains(errOut, "finished (3/128 tokens)") {
		t.Fatalf("stderr %q", errOut)
	}
}

func TestRunJSONSnapshot(t *testing.T) {
	code, out, errOut := runCLI(t, "run", "--json", "--max-tokens", "2", "--terminator", "zzz", "a b c")
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	var snap types.TaskSnapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if snap.Status != "finished" || snap.Text != "a b " || snap.GeneratedTokens != 2 || !snap.Retired {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestRunReportsSamplerAdjustments(t *testing.T) {
	code, _, errOut := runCLI(t, "run", "--sampler", "temperature_top_p", "--temperature", "0", "--seed", "3", "x")
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(errOut, "adjusted temperature") {
		t.Fatalf("stderr %q", errOut)
	}
}

func TestRunMetricsAndEvents(t *testing.T) {
	code, _, errOut := runCLI(t, "run", "--metrics", "--events", "one two")
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{"taskd_tasks_completed_total", "taskd_tasks_tokens_generated_total", "event task_submitted", "event task_retired"} {
		if !strings.Contains(errOut, want) {
			t.Fatalf("stderr missing %q:\n%s", want, errOut)
		}
	}
}

func TestRunMissingModelExitsWithModelNotFound(t *testing.T) {
	dir := t.TempDir()
	code, _, errOut := runCLI(t, "run", "--engine", "llama", "--models-dir", dir, "--model", "ghost", "hi")
	if code != exitModelNotFound {
		t.Fatalf("exit %d: %s", code, errOut)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	if code, _, _ := runCLI(t, "run", "--engine", "onnx", "hi"); code != exitError {
		t.Fatalf("exit %d", code)
	}
	t.Setenv("TASKD_MAX_CONCURRENT", "-1")
	if code, _, errOut := runCLI(t, "run", "hi"); code != exitError || !strings.Contains(errOut, "invalid config") {
		t.Fatalf("exit %d: %s", code, errOut)
	}
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "taskd.yaml")
	if err := os.WriteFile(p, []byte("engine: echo\nsampler:\n  mode: greedy\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	code, out, errOut := runCLI(t, "--config", p, "run", "--max-tokens", "1", "first second")
	if code != exitOK || out != "first \n" {
		t.Fatalf("exit %d stdout %q stderr %q", code, out, errOut)
	}
}

func TestBatchRunsJobsConcurrently(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "jobs.yaml")
	body := `jobs:
  - name: alpha
    prompt: one two three
  - name: beta
    prompt: four five six
    max_tokens: 1
  - prompt: seven eight
    terminator: "ei"
    sampler:
      mode: greedy
`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	code, out, errOut := runCLI(t, "batch", "--json", "--max-concurrent", "2", p)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	var got []batchResult
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var r batchResult
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		got = append(got, r)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d: %s", len(got), out)
	}
	want := []struct{ name, text string }{
		{"alpha", "one two three "},
		{"beta", "four "},
		{"job-3", "seven ei"},
	}
	for i, w := range want {
		if got[i].Name != w.name || got[i].Text != w.text || got[i].Status != "finished" {
			t.Fatalf("result %d: %+v", i, got[i])
		}
	}
}

func TestBatchRejectsEmptyFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(p, []byte("jobs: []\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code, _, _ := runCLI(t, "batch", p); code != exitError {
		t.Fatalf("exit %d", code)
	}
}

func TestModelsListsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tiny.gguf"), make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	code, out, errOut := runCLI(t, "models", "--models-dir", dir)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "tiny") || !strings.Contains(out, "2.0 KiB") {
		t.Fatalf("stdout %q", out)
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	if code != exitOK || !strings.Contains(out, "engines: echo") {
		t.Fatalf("exit %d stdout %q", code, out)
	}
}

func TestFollowTaskInterruptCancels(t *testing.T) {
	eng := engine.NewScripted(engine.ScriptedOptions{Script: strings.Fields(strings.Repeat("w ", 500)), StepDelay: time.Millisecond})
	m, err := manager.New(manager.ManagerConfig{Engine: eng})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id, _ := m.Submit("x", 500)
	m.Start(id)

	interrupt := make(chan struct{})
	time.AfterFunc(20*time.Millisecond, func() { close(interrupt) })
	var out bytes.Buffer
	called := 0
	snap, err := followTask(m, id, followOptions{
		interval:    2 * time.Millisecond,
		capacity:    1 << 16,
		stream:      &out,
		interrupt:   interrupt,
		onInterrupt: func() { called++ },
	})
	if err != nil {
		t.Fatalf("followTask: %v", err)
	}
	if snap.Status != "interrupted" || called != 1 {
		t.Fatalf("unexpected snapshot %+v (onInterrupt called %d)", snap, called)
	}
	if out.String() != snap.Text {
		t.Fatalf("streamed %q, final %q", out.String(), snap.Text)
	}
	if exitCodeFor(snap.Status) != exitInterrupted {
		t.Fatalf("exit code %d", exitCodeFor(snap.Status))
	}
}

func TestHumanSize(t *testing.T) {
	cases := map[int64]string{0: "0 B", 1023: "1023 B", 1024: "1.0 KiB", 3 << 20: "3.0 MiB"}
	for in, want := range cases {
		if got := humanSize(in); got != want {
			t.Fatalf("%d -> %q, want %q", in, got, want)
		}
	}
}

func TestFollowBatchStartFailureWaitsForRunningJobs(t *testing.T) {
	eng := engine.NewScripted(engine.ScriptedOptions{Script: strings.Fields(strings.Repeat("w ", 500)), StepDelay: time.Millisecond})
	m, err := manager.New(manager.ManagerConfig{Engine: eng})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first, _ := m.Submit("x", 500)
	jobs := []batchJob{{Name: "first"}, {Name: "missing"}}

	_, err = followBatch(context.Background(), m, jobs, []int64{first, 999}, 2*time.Millisecond)
	if !manager.IsInvalidID(err) || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected invalid id for the second job, got %v", err)
	}
	// The follower of the first job retired it before followBatch returned.
	if _, err := m.Poll(first, 16); !manager.IsInvalidID(err) {
		t.Fatalf("first job still registered: %v", err)
	}
	if eng.LiveContexts() != 0 {
		t.Fatalf("leaked %d contexts", eng.LiveContexts())
	}
}

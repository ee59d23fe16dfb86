package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGGUFScanner_ScanFiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"b.gguf",
		"a.GGUF", // case-insensitive
		"not-model.txt",
		"model.bin",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("abc"), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "dir.gguf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	models, err := NewGGUFScanner().Scan(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	// sorted, extension stripped
	if models[0].ID != "a" || models[1].ID != "b" {
		t.Fatalf("unexpected ids: %+v", models)
	}
	if models[1].Path != filepath.Join(dir, "b.gguf") || models[1].SizeBytes != 3 {
		t.Fatalf("unexpected model: %+v", models[1])
	}
}

func TestGGUFScannerResolvesHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	if err := os.MkdirAll(filepath.Join(home, "models"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "models", "x.gguf"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	models, err := NewGGUFScanner().Scan("~/models")
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 1 || models[0].ID != "x" || models[0].Path != filepath.Join(home, "models", "x.gguf") {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestLoadDirMissing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "m.gguf"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, name := range []string{"m", "m.gguf", " m.GGUF "} {
		got, err := Resolve(models, name)
		if err != nil || got.ID != "m" {
			t.Fatalf("Resolve(%q) = %+v, %v", name, got, err)
		}
	}
	if _, err := Resolve(models, "other"); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
}

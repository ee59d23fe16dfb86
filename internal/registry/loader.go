package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"taskd/internal/common/fsutil"
	"taskd/pkg/types"
)

const modelExt = ".gguf"

// ErrNoModel is returned by Resolve when no model matches.
var ErrNoModel = errors.New("no matching model")

// GGUFScanner discovers model files in a directory.
type GGUFScanner struct{}

func NewGGUFScanner() GGUFScanner { return GGUFScanner{} }

// Scan lists *.gguf files (case-insensitive) directly inside dir, sorted by
// ID. ID is the filename without extension, Name the full filename and
// Path is absolute.
func (GGUFScanner) Scan(dir string) ([]types.Model, error) {
	abs, err := fsutil.ResolvePath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.EqualFold(filepath.Ext(name), modelExt) {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		m := types.Model{ID: id, Name: name, Path: filepath.Join(abs, name)}
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// LoadDir scans dir with the default scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

// Resolve finds a model by ID, accepting the name with or without its
// extension.
func Resolve(models []types.Model, name string) (types.Model, error) {
	want := strings.TrimSpace(name)
	if strings.EqualFold(filepath.Ext(want), modelExt) {
		want = strings.TrimSuffix(want, filepath.Ext(want))
	}
	for _, m := range models {
		if m.ID == want {
			return m, nil
		}
	}
	return types.Model{}, fmt.Errorf("%w: %q", ErrNoModel, name)
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/viniciushammett/go-log-relearn/internal/model"
)

const (
	modelsDir  = "models"
	latestFile = "latest.json"
	bufferFile = "pattern_buffer.json"
)

// File keeps one JSON document per model version under <dir>/models, a copy
// of the newest as latest.json, and the buffer in <dir>/pattern_buffer.json.
type File struct {
	dir string
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(filepath.Join(dir, modelsDir), 0o755); err != nil {
		return nil, err
	}
	return &File{dir: dir}, nil
}

func (f *File) Close() error { return nil }

func (f *File) modelPath(version string) string {
	return filepath.Join(f.dir, modelsDir, "model_"+version+".json")
}

func (f *File) SaveSnapshot(s model.Snapshot) error {
	if err := writeJSON(f.modelPath(s.Version), s); err != nil {
		return err
	}
	return writeJSON(filepath.Join(f.dir, modelsDir, latestFile), s)
}

func (f *File) LoadLatest() (model.Snapshot, error) {
	var s model.Snapshot
	err := readJSON(filepath.Join(f.dir, modelsDir, latestFile), &s)
	return s, err
}

// LoadVersion reads a specific stored version.
func (f *File) LoadVersion(version string) (model.Snapshot, error) {
	var s model.Snapshot
	err := readJSON(f.modelPath(version), &s)
	return s, err
}

func (f *File) Versions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.dir, modelsDir))
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "model_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(strings.TrimPrefix(name, "model_"), ".json"))
	}
	sort.Strings(out)
	return out, nil
}

func (f *File) LoadBuffer() (model.BufferState, error) {
	var s model.BufferState
	err := readJSON(filepath.Join(f.dir, bufferFile), &s)
	return s, err
}

func (f *File) SaveBuffer(s model.BufferState) error {
	return writeJSON(filepath.Join(f.dir, bufferFile), s)
}

// Watch calls fn whenever latest.json is replaced, until ctx is done.
// Another process publishing a model shows up here.
func (f *File) Watch(ctx context.Context, fn func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	if err := w.Add(filepath.Join(f.dir, modelsDir)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", modelsDir, err)
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) == latestFile && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					fn()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// writeJSON goes through a temp file in the same directory and a rename, so
// readers see either the old or the new document.
func writeJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

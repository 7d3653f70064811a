package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniciushammett/go-log-relearn/internal/model"
)

func snapshot(version string) model.Snapshot {
	return model.Snapshot{
		Version:   version,
		TrainedAt: time.Unix(1700000000, 0).UTC(),
		Terms:     []string{"build", "build finished", "finished"},
		IDF:       []float64{1, 1.5, 1},
		Centroids: [][]float64{{0.5, 0.5, 0.5}},
		Threshold: 0.3,
		Quantile:  0.95,
		Corpus:    []string{"Build finished"},
	}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	f, err := Open(Config{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	b, err := Open(Config{Backend: "bolt", Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return map[string]Backend{"file": f, "bolt": b}
}

func TestEmptyBackendsReportNotFound(t *testing.T) {
	for name, be := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := be.LoadLatest()
			assert.ErrorIs(t, err, model.ErrNotFound)
			_, err = be.LoadBuffer()
			assert.ErrorIs(t, err, model.ErrNotFound)
			v, err := be.Versions()
			require.NoError(t, err)
			assert.Empty(t, v)
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	for name, be := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, be.SaveSnapshot(snapshot("v100")))
			require.NoError(t, be.SaveSnapshot(snapshot("v200")))

			got, err := be.LoadLatest()
			require.NoError(t, err)
			assert.Equal(t, snapshot("v200"), got)
			assert.True(t, got.Valid())

			v, err := be.Versions()
			require.NoError(t, err)
			assert.Equal(t, []string{"v100", "v200"}, v)
		})
	}
}

func TestBufferRoundTrip(t *testing.T) {
	st := model.BufferState{
		Counts:          map[string]int{"abc123def456": 4},
		Examples:        map[string]string{"abc123def456": "disk full"},
		LastPersistedAt: 1700000000,
	}
	for name, be := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, be.SaveBuffer(st))
			got, err := be.LoadBuffer()
			require.NoError(t, err)
			assert.Equal(t, st, got)
		})
	}
}

func TestFileLayout(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, f.SaveSnapshot(snapshot("v1")))
	require.NoError(t, f.SaveBuffer(model.BufferState{Counts: map[string]int{}}))

	for _, p := range []string{"models/model_v1.json", "models/latest.json", "pattern_buffer.json"} {
		_, err := os.Stat(filepath.Join(dir, p))
		assert.NoError(t, err, p)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "models", ".*"))
	assert.Empty(t, leftovers, "temp files are renamed away")

	old, err := f.LoadVersion("v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", old.Version)
}

func TestFileCorruptLatest(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models", "latest.json"), []byte("{not json"), 0o644))

	_, err = f.LoadLatest()
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrNotFound)
}

func TestFileWatchSeesNewLatest(t *testing.T) {
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seen := make(chan struct{}, 8)
	require.NoError(t, f.Watch(ctx, func() { seen <- struct{}{} }))

	require.NoError(t, f.SaveSnapshot(snapshot("v7")))
	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("no event for latest.json")
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(Config{Backend: "s3"})
	assert.Error(t, err)
}

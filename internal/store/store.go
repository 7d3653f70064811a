// Package store persists model snapshots and the pattern buffer, either as
// JSON documents in a directory or inside a single bbolt file.
package store

import (
	"fmt"
	"path/filepath"

	"github.com/viniciushammett/go-log-relearn/internal/model"
)

type Config struct {
	Backend  string `yaml:"backend"` // file | bolt
	Dir      string `yaml:"dir"`
	BoltPath string `yaml:"boltPath"`
	Watch    bool   `yaml:"watch"`
}

// Backend satisfies detector.Store and buffer.Store.
type Backend interface {
	SaveSnapshot(s model.Snapshot) error
	LoadLatest() (model.Snapshot, error)
	LoadBuffer() (model.BufferState, error)
	SaveBuffer(s model.BufferState) error
	Versions() ([]string, error)
	Close() error
}

func Open(cfg Config) (Backend, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "data"
	}
	switch cfg.Backend {
	case "", "file":
		return NewFile(dir)
	case "bolt":
		path := cfg.BoltPath
		if path == "" {
			path = filepath.Join(dir, "relearn.db")
		}
		return OpenBolt(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/viniciushammett/go-log-relearn/internal/model"
)

var (
	bModels = []byte("models") // versao -> snapshot json
	bMeta   = []byte("meta")
	bBuffer = []byte("buffer")

	kLatest = []byte("latest")
	kState  = []byte("state")
)

type Bolt struct{ db *bolt.DB }

func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bModels, bMeta, bBuffer} {
			if _, e := tx.CreateBucketIfNotExists(b); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (s *Bolt) Close() error { return s.db.Close() }

// SaveSnapshot writes the version and moves the latest pointer in one
// transaction.
func (s *Bolt) SaveSnapshot(snap model.Snapshot) error {
	j, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bModels).Put([]byte(snap.Version), j); err != nil {
			return err
		}
		return tx.Bucket(bMeta).Put(kLatest, []byte(snap.Version))
	})
}

func (s *Bolt) LoadLatest() (model.Snapshot, error) {
	var snap model.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bMeta).Get(kLatest)
		if v == nil {
			return model.ErrNotFound
		}
		raw := tx.Bucket(bModels).Get(v)
		if raw == nil {
			return fmt.Errorf("latest points to missing version %s", v)
		}
		return json.Unmarshal(raw, &snap)
	})
	return snap, err
}

func (s *Bolt) Versions() ([]string, error) {
	out := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bModels).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

func (s *Bolt) LoadBuffer() (model.BufferState, error) {
	var st model.BufferState
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bBuffer).Get(kState)
		if raw == nil {
			return model.ErrNotFound
		}
		return json.Unmarshal(raw, &st)
	})
	return st, err
}

func (s *Bolt) SaveBuffer(st model.BufferState) error {
	j, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bBuffer).Put(kState, j)
	})
}

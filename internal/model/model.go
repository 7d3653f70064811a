package model

import (
	"errors"
	"time"
)

// ErrNotFound is returned by storage backends when nothing was persisted yet.
var ErrNotFound = errors.New("not found")

const (
	LabelNormal  = "normal"
	LabelUnknown = "unknown"
)

type DetectionResult struct {
	Label          string  `json:"label"`
	Distance       float64 `json:"distance"`
	NearestCluster *int    `json:"nearest_cluster"`
	Signature      string  `json:"signature"`
	Version        string  `json:"version"`
}

// Snapshot is a fitted model. Never mutated after it is published.
type Snapshot struct {
	Version   string      `json:"version"`
	TrainedAt time.Time   `json:"trained_at"`
	Terms     []string    `json:"terms"` // index i -> n-gram
	IDF       []float64   `json:"idf"`
	Centroids [][]float64 `json:"centroids"`
	Threshold float64     `json:"threshold"`
	Quantile  float64     `json:"quantile"`
	Corpus    []string    `json:"corpus,omitempty"`
}

// Valid reports whether the snapshot is usable for prediction.
func (s Snapshot) Valid() bool {
	if len(s.Terms) == 0 || len(s.Terms) != len(s.IDF) || len(s.Centroids) == 0 {
		return false
	}
	for _, c := range s.Centroids {
		if len(c) != len(s.Terms) {
			return false
		}
	}
	return true
}

// BufferState is the persisted form of the pattern buffer.
type BufferState struct {
	Counts          map[string]int    `json:"counts"`
	Examples        map[string]string `json:"examples"`
	LastPersistedAt int64             `json:"last_persisted_at"`
}

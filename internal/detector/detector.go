// Package detector classifies normalised log messages as normal or unknown
// by their cosine distance to the nearest k-means centroid of a tf-idf
// space learned from historical messages.
//
// The fitted model is published as an immutable snapshot behind an atomic
// pointer: Predict never blocks, and Fit/SaveNew build the next snapshot on
// the side before swapping it in.
package detector

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viniciushammett/go-log-relearn/internal/logger"
	"github.com/viniciushammett/go-log-relearn/internal/metrics"
	"github.com/viniciushammett/go-log-relearn/internal/model"
	"github.com/viniciushammett/go-log-relearn/internal/normalize"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotReady     = errors.New("detector has no fitted model")
)

// InitialVersion is reported until a snapshot has been saved or loaded.
const InitialVersion = "v0"

// thresholdSlack absorbs rounding so a training message sitting exactly on
// the quantile is not flagged.
const thresholdSlack = 1e-9

// Store persists snapshots. store.File and store.Bolt implement it.
type Store interface {
	SaveSnapshot(s model.Snapshot) error
	LoadLatest() (model.Snapshot, error)
}

type Options struct {
	Quantile    float64 // threshold quantile of training distances
	MaxFeatures int
	Restarts    int
	Seed        int64
	MaxCorpus   int
	Now         func() time.Time
}

func (o *Options) defaults() {
	if o.Quantile <= 0 || o.Quantile > 1 {
		o.Quantile = 0.95
	}
	if o.MaxFeatures <= 0 {
		o.MaxFeatures = 5000
	}
	if o.Restarts <= 0 {
		o.Restarts = 10
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	if o.MaxCorpus <= 0 {
		o.MaxCorpus = 20000
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// state is a published snapshot plus its compiled vocabulary index.
type state struct {
	snap  model.Snapshot
	vocab *vocabulary
}

type Detector struct {
	log   *logger.Logger
	store Store
	opts  Options

	mu      sync.Mutex // serializa Fit/SaveNew/LoadLatest
	cur     atomic.Pointer[state]
	version atomic.Value // string
}

func New(log *logger.Logger, st Store, opts Options) *Detector {
	opts.defaults()
	d := &Detector{log: log, store: st, opts: opts}
	d.version.Store(InitialVersion)
	return d
}

// Ready reports whether a fitted model is loaded.
func (d *Detector) Ready() bool { return d.cur.Load() != nil }

// Version of the loaded model, InitialVersion when none was saved yet.
func (d *Detector) Version() string { return d.version.Load().(string) }

// Threshold of the loaded model, 0 when untrained.
func (d *Detector) Threshold() float64 {
	if st := d.cur.Load(); st != nil {
		return st.snap.Threshold
	}
	return 0
}

// Corpus returns a copy of the messages the loaded model was fitted on.
func (d *Detector) Corpus() []string {
	st := d.cur.Load()
	if st == nil {
		return nil
	}
	return append([]string(nil), st.snap.Corpus...)
}

// EffectiveK clamps the requested cluster count for small samples so a
// handful of messages is not split into singletons, and never exceeds n.
func EffectiveK(n, k int) int {
	if n < 10 {
		k = max(2, min(4, max(2, n/2)))
	}
	return min(k, n)
}

// Fit replaces the model with one trained on messages. The new model keeps
// the current version label until SaveNew stamps a new one.
func (d *Detector) Fit(messages []string, k int) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: no training messages", ErrInvalidInput)
	}
	if len(messages) >= 10 && k < 1 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidInput, k)
	}

	// linhas sem termos (ex. "-----") ficam fora do ajuste e do limiar
	docs := make([][]string, 0, len(messages))
	for _, m := range messages {
		if g := ngrams(m); len(g) > 0 {
			docs = append(docs, g)
		}
	}
	if len(docs) == 0 {
		return fmt.Errorf("%w: training messages contain no terms", ErrInvalidInput)
	}
	vocab := fitVocabulary(docs, d.opts.MaxFeatures)
	X := make([][]float64, 0, len(docs))
	for _, g := range docs {
		if x := vocab.transform(g); norm(x) > 0 {
			X = append(X, x)
		}
	}
	if len(vocab.terms) == 0 || len(X) == 0 {
		return fmt.Errorf("%w: training messages contain no terms", ErrInvalidInput)
	}

	kEff := EffectiveK(len(X), k)
	cl := kmeans(X, kEff, d.opts.Restarts, d.opts.Seed)

	dists := make([]float64, len(X))
	for i, x := range X {
		dists[i] = cosineDistance(x, cl.centroids[cl.labels[i]])
	}
	threshold := 0.5
	if len(dists) > 0 {
		threshold = quantile(dists, d.opts.Quantile)
	}

	corpus := messages
	if len(corpus) > d.opts.MaxCorpus {
		corpus = corpus[len(corpus)-d.opts.MaxCorpus:]
	}
	snap := model.Snapshot{
		TrainedAt: d.opts.Now().UTC(),
		Terms:     vocab.terms,
		IDF:       vocab.idf,
		Centroids: cl.centroids,
		Threshold: threshold,
		Quantile:  d.opts.Quantile,
		Corpus:    append([]string(nil), corpus...),
	}

	d.mu.Lock()
	snap.Version = d.Version()
	d.cur.Store(&state{snap: snap, vocab: vocab})
	d.mu.Unlock()

	metrics.ModelFits.Inc()
	d.log.Info().
		Int("messages", len(messages)).
		Int("k", kEff).
		Int("terms", len(vocab.terms)).
		Float64("threshold", threshold).
		Msg("model fitted")
	return nil
}

// Predict labels a normalised message. Without a model every message is
// unknown at distance 1.
func (d *Detector) Predict(msg string) model.DetectionResult {
	res := model.DetectionResult{
		Label:     model.LabelUnknown,
		Distance:  1.0,
		Signature: normalize.Signature(msg),
	}
	st := d.cur.Load()
	if st == nil {
		res.Version = d.Version()
		return res
	}
	res.Version = st.snap.Version

	x := st.vocab.transform(ngrams(msg))
	nearest, best := 0, cosineDistance(x, st.snap.Centroids[0])
	for c := 1; c < len(st.snap.Centroids); c++ {
		if dist := cosineDistance(x, st.snap.Centroids[c]); dist < best {
			nearest, best = c, dist
		}
	}
	res.Distance = best
	res.NearestCluster = &nearest
	if best <= st.snap.Threshold+thresholdSlack {
		res.Label = model.LabelNormal
	}
	return res
}

// SaveNew stamps a version derived from the current second, persists the
// snapshot under it and as latest, then publishes it. Two saves within one
// second share a version; the later one wins.
func (d *Detector) SaveNew() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.cur.Load()
	if st == nil {
		return "", ErrNotReady
	}
	snap := st.snap
	snap.Version = fmt.Sprintf("v%d", d.opts.Now().Unix())
	if d.store != nil {
		if err := d.store.SaveSnapshot(snap); err != nil {
			return "", fmt.Errorf("save snapshot %s: %w", snap.Version, err)
		}
	}
	d.cur.Store(&state{snap: snap, vocab: st.vocab})
	d.version.Store(snap.Version)
	d.log.Info().Str("version", snap.Version).Msg("model saved")
	return snap.Version, nil
}

// LoadLatest loads the latest persisted snapshot. Missing or corrupt state
// is logged and reported as false; the current model, if any, is kept.
func (d *Detector) LoadLatest() bool {
	if d.store == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	snap, err := d.store.LoadLatest()
	switch {
	case errors.Is(err, model.ErrNotFound):
		d.log.Info().Msg("no persisted model, detector untrained")
		return false
	case err != nil:
		d.log.Warn().Err(err).Msg("load latest model failed")
		return false
	case !snap.Valid():
		d.log.Warn().Str("version", snap.Version).Msg("persisted model is corrupt, ignoring")
		return false
	}
	d.cur.Store(&state{snap: snap, vocab: newVocabulary(snap.Terms, snap.IDF)})
	d.version.Store(snap.Version)
	d.log.Info().Str("version", snap.Version).Int("clusters", len(snap.Centroids)).Msg("model loaded")
	return true
}

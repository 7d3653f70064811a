// Package ingest wires normalisation, detection and the pattern buffer into
// the operations the HTTP layer, the CLI and the scheduler call.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/viniciushammett/go-log-relearn/internal/buffer"
	"github.com/viniciushammett/go-log-relearn/internal/detector"
	"github.com/viniciushammett/go-log-relearn/internal/logger"
	"github.com/viniciushammett/go-log-relearn/internal/metrics"
	"github.com/viniciushammett/go-log-relearn/internal/model"
	"github.com/viniciushammett/go-log-relearn/internal/normalize"
	"github.com/viniciushammett/go-log-relearn/internal/notify"
)

const (
	ReasonNoPatternsReady = "no_patterns_ready"
	ReasonRefitFailed     = "refit_failed"

	maxLine = 1 << 20
)

type Event struct {
	Source  string            `json:"source"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
	TS      *time.Time        `json:"ts,omitempty"`
}

type RetrainResult struct {
	OK        bool     `json:"ok"`
	Reason    string   `json:"reason,omitempty"`
	Triggered []string `json:"triggered_signatures,omitempty"`
	Version   string   `json:"version,omitempty"`
}

type Health struct {
	Status       string       `json:"status"`
	ModelLoaded  bool         `json:"model_loaded"`
	ModelVersion string       `json:"model_version"`
	Buffer       buffer.Stats `json:"buffer"`
}

type Config struct {
	DefaultK int
	Refit    bool // retrain refits the detector over corpus + ready examples
}

type Service struct {
	log   *logger.Logger
	det   *detector.Detector
	buf   *buffer.Buffer
	slack *notify.Slack
	cfg   Config

	fitMu sync.Mutex // fit + save como uma unidade
}

func New(log *logger.Logger, det *detector.Detector, buf *buffer.Buffer, slack *notify.Slack, cfg Config) *Service {
	if cfg.DefaultK < 1 {
		cfg.DefaultK = 8
	}
	return &Service{log: log, det: det, buf: buf, slack: slack, cfg: cfg}
}

// Ingest classifies one log line. Unknown lines are counted in the pattern
// buffer under the signature of their normalised text, keeping the raw
// message as example.
func (s *Service) Ingest(ctx context.Context, ev Event) model.DetectionResult {
	res := s.det.Predict(normalize.Quick(ev.Message))

	source := ev.Source
	if source == "" {
		source = "unknown"
	}
	metrics.LogsIngested.WithLabelValues(source, res.Label).Inc()
	metrics.DetectionDistance.Observe(res.Distance)

	if res.Label != model.LabelUnknown {
		return res
	}
	count := s.buf.Add(res.Signature, ev.Message)
	if count == s.buf.Trigger() {
		s.log.Info().Str("signature", res.Signature).Int("count", count).Msg("pattern ready for retrain")
		if s.slack.Enabled() {
			text := notify.FormatPattern(res.Signature, count, res.Version, ev.Message)
			go func() {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				if err := s.slack.Send(ctx, text); err != nil {
					s.log.Warn().Err(err).Str("signature", res.Signature).Msg("slack notify failed")
				}
			}()
		}
	}
	return res
}

// IngestReader ingests r line by line until EOF or ctx is done. fn, when
// set, sees every classified line. Returns the number of lines ingested.
func (s *Service) IngestReader(ctx context.Context, r io.Reader, source string, fn func(line string, res model.DetectionResult)) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	n := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		res := s.Ingest(ctx, Event{Source: source, Message: line})
		n++
		if fn != nil {
			fn(line, res)
		}
	}
	return n, sc.Err()
}

// Fit trains a new model on messages and saves it as a new version. k <= 0
// uses the configured default.
func (s *Service) Fit(messages []string, k int) (string, error) {
	norm := make([]string, 0, len(messages))
	for _, m := range messages {
		if m = normalize.Quick(m); m != "" {
			norm = append(norm, m)
		}
	}
	return s.fit(norm, k)
}

func (s *Service) fit(messages []string, k int) (string, error) {
	if k <= 0 {
		k = s.cfg.DefaultK
	}
	s.fitMu.Lock()
	defer s.fitMu.Unlock()
	if err := s.det.Fit(messages, k); err != nil {
		return "", err
	}
	return s.det.SaveNew()
}

// Retrain pops every ready pattern and, when refitting is on, refits the
// detector over its corpus plus one example per popped pattern. The popped
// evidence is not restored if the refit fails.
func (s *Service) Retrain(ctx context.Context) RetrainResult {
	entries := s.buf.PopReadyEntries()
	if len(entries) == 0 {
		metrics.Retrains.WithLabelValues(ReasonNoPatternsReady).Inc()
		return RetrainResult{OK: false, Reason: ReasonNoPatternsReady}
	}
	sigs := make([]string, len(entries))
	for i, e := range entries {
		sigs[i] = e.Signature
	}
	if !s.cfg.Refit {
		metrics.Retrains.WithLabelValues("popped").Inc()
		s.log.Info().Strs("signatures", sigs).Msg("retrain triggered")
		return RetrainResult{OK: true, Triggered: sigs}
	}

	msgs := s.det.Corpus()
	for _, e := range entries {
		if ex := normalize.Quick(e.Example); ex != "" {
			msgs = append(msgs, ex)
		}
	}
	version, err := s.fit(msgs, s.cfg.DefaultK)
	if err != nil {
		metrics.Retrains.WithLabelValues(ReasonRefitFailed).Inc()
		s.log.Error().Err(err).Strs("signatures", sigs).Msg("retrain refit failed")
		return RetrainResult{OK: false, Reason: ReasonRefitFailed, Triggered: sigs}
	}
	metrics.Retrains.WithLabelValues("ok").Inc()
	s.log.Info().Strs("signatures", sigs).Str("version", version).Int("messages", len(msgs)).Msg("retrained")
	if s.slack.Enabled() {
		if err := s.slack.Send(ctx, notify.FormatRetrain(sigs, version)); err != nil {
			s.log.Warn().Err(err).Msg("slack notify failed")
		}
	}
	return RetrainResult{OK: true, Triggered: sigs, Version: version}
}

func (s *Service) Patterns(limit int) buffer.Stats { return s.buf.Stats(limit) }

func (s *Service) Health() Health {
	return Health{
		Status:       "ok",
		ModelLoaded:  s.det.Ready(),
		ModelVersion: s.det.Version(),
		Buffer:       s.buf.Stats(10),
	}
}

func (r RetrainResult) String() string {
	if !r.OK {
		return fmt.Sprintf("retrain: %s (%d signatures)", r.Reason, len(r.Triggered))
	}
	return fmt.Sprintf("retrain: %d signatures, version %s", len(r.Triggered), r.Version)
}

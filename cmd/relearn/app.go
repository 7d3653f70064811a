package main

import (
	"context"
	"fmt"

	"github.com/viniciushammett/go-log-relearn/internal/actions"
	"github.com/viniciushammett/go-log-relearn/internal/buffer"
	"github.com/viniciushammett/go-log-relearn/internal/config"
	"github.com/viniciushammett/go-log-relearn/internal/detector"
	"github.com/viniciushammett/go-log-relearn/internal/ingest"
	"github.com/viniciushammett/go-log-relearn/internal/logger"
	"github.com/viniciushammett/go-log-relearn/internal/normalize"
	"github.com/viniciushammett/go-log-relearn/internal/notify"
	"github.com/viniciushammett/go-log-relearn/internal/scheduler"
	"github.com/viniciushammett/go-log-relearn/internal/store"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	store      store.Backend
	det        *detector.Detector
	buf        *buffer.Buffer
	actions    *actions.Dispatcher
	svc        *ingest.Service
	normalizer *normalize.Normalizer
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Retrain.Schedule != "" {
		if err := scheduler.Validate(cfg.Retrain.Schedule); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	st, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	det := detector.New(log, st, detector.Options{
		Quantile:    cfg.Detector.DistanceQuantile,
		MaxFeatures: cfg.Detector.MaxFeatures,
		Restarts:    cfg.Detector.Restarts,
		Seed:        cfg.Detector.Seed,
		MaxCorpus:   cfg.Detector.MaxCorpus,
	})
	det.LoadLatest()

	buf := buffer.New(log, st, cfg.Thresholds.PatternTriggerCount)
	disp := actions.New(log, actions.Config{
		Providers:      cfg.Providers,
		MaxPerHostHour: cfg.Thresholds.MaxActionsPerHostHour,
		Timeout:        cfg.Actions.Timeout,
		MaxTrackedKeys: cfg.Actions.MaxTrackedKeys,
	})
	slack := notify.NewSlack(cfg.Slack.Enabled, cfg.Slack.Webhook)
	svc := ingest.New(log, det, buf, slack, ingest.Config{
		DefaultK: cfg.Detector.DefaultK,
		Refit:    cfg.RefitOnRetrain(),
	})

	norm, bad := normalize.New(cfg.Normalizer.Rules)
	for _, name := range bad {
		log.Warn().Str("rule", name).Msg("normalizer rule skipped: invalid pattern")
	}

	return &app{
		cfg: cfg, log: log, store: st, det: det, buf: buf,
		actions: disp, svc: svc, normalizer: norm,
	}, nil
}

// watchModels reloads the detector when another process publishes a new
// latest snapshot. Only the file backend can be watched.
func (a *app) watchModels(ctx context.Context) {
	f, ok := a.store.(*store.File)
	if !ok || !a.cfg.Storage.Watch {
		return
	}
	err := f.Watch(ctx, func() {
		if a.det.LoadLatest() {
			a.log.Info().Str("version", a.det.Version()).Msg("model reloaded from disk")
		}
	})
	if err != nil {
		a.log.Error().Err(err).Msg("model watch disabled")
	}
}

func (a *app) Close() error { return a.store.Close() }

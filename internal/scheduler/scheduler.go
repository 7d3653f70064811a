package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/viniciushammett/go-log-relearn/internal/ingest"
	"github.com/viniciushammett/go-log-relearn/internal/logger"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Retrainer is satisfied by *ingest.Service.
type Retrainer interface {
	Retrain(ctx context.Context) ingest.RetrainResult
}

// Validate reports whether schedule is a usable cron expression.
func Validate(schedule string) error {
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("retrain.schedule %q: %w", schedule, err)
	}
	return nil
}

// Run triggers a retrain on every tick of schedule until ctx is done.
// Ticks never overlap: a retrain still running when the next tick fires
// makes that tick a no-op.
func Run(ctx context.Context, log *logger.Logger, schedule string, r Retrainer) error {
	if err := Validate(schedule); err != nil {
		return err
	}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := c.AddFunc(schedule, func() {
		res := r.Retrain(ctx)
		log.Info().
			Bool("ok", res.OK).
			Str("reason", res.Reason).
			Int("signatures", len(res.Triggered)).
			Str("version", res.Version).
			Msg("scheduled retrain")
	})
	if err != nil {
		return err
	}
	log.Info().Str("schedule", schedule).Msg("retrain scheduler started")
	c.Start()
	<-ctx.Done()

	select {
	case <-c.Stop().Done():
	case <-time.After(5 * time.Second):
		log.Warn().Msg("scheduled retrain still running at shutdown")
	}
	return nil
}

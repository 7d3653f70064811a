package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniciushammett/go-log-relearn/internal/ingest"
	"github.com/viniciushammett/go-log-relearn/internal/logger"
)

type countingRetrainer struct{ n int32 }

func (c *countingRetrainer) Retrain(context.Context) ingest.RetrainResult {
	atomic.AddInt32(&c.n, 1)
	return ingest.RetrainResult{Reason: ingest.ReasonNoPatternsReady}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.NoError(t, Validate("@every 1s"))
	assert.NoError(t, Validate("@hourly"))
	assert.Error(t, Validate("every five minutes"))
	assert.Error(t, Validate("* * * * * *"), "seconds field is not accepted")
}

func TestRunRejectsBadSchedule(t *testing.T) {
	err := Run(context.Background(), logger.Nop(), "nope", &countingRetrainer{})
	assert.Error(t, err)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	r := &countingRetrainer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, logger.Nop(), "@every 1s", r) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.n) >= 1 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

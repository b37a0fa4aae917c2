package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"listingsync/config"
	"listingsync/models"
	"listingsync/services"
)

type fakeRunner struct {
	runs        atomic.Int32
	block       chan struct{}
	incremental atomic.Bool
}

func (r *fakeRunner) SyncAll(ctx context.Context, opts services.SyncOptions) ([]*models.SyncResult, error) {
	r.runs.Add(1)
	r.incremental.Store(opts.Incremental)
	if r.block != nil {
		<-r.block
	}
	return []*models.SyncResult{{AccountID: "a", Status: models.SyncStatusSuccess}}, nil
}

type fakeTrigger struct{ n atomic.Int32 }

func (f *fakeTrigger) Trigger() { f.n.Add(1) }

func TestIntervalSchedule(t *testing.T) {
	runner := &fakeRunner{}
	sweeper := &fakeTrigger{}
	s := New(config.SchedulerConfig{Interval: 10 * time.Millisecond}, runner, services.SyncOptions{Incremental: true}, zap.NewNop())
	s.SetWorkers(sweeper)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	assert.True(t, runner.incremental.Load())
	assert.GreaterOrEqual(t, sweeper.n.Load(), int32(1))
}

func TestInvalidCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "not a cron"}, &fakeRunner{}, services.SyncOptions{}, nil)
	assert.Error(t, s.Start(context.Background()))
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := New(config.SchedulerConfig{}, runner, services.SyncOptions{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		s.runOnce(context.Background())
		close(done)
	}()
	assert.Eventually(t, func() bool { return runner.runs.Load() == 1 }, time.Second, time.Millisecond)

	s.runOnce(context.Background())
	assert.Equal(t, int32(1), runner.runs.Load())

	close(runner.block)
	<-done
	results, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(2), runner.runs.Load())
}

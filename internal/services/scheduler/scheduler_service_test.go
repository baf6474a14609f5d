package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestRegisterJob_Validation(t *testing.T) {
	service := NewService(arbor.NewLogger())
	noop := func(ctx context.Context) error { return nil }

	assert.Error(t, service.RegisterJob("batch", "every day", false, noop))
	require.NoError(t, service.RegisterJob("batch", "0 3 * * *", false, noop))
	assert.Error(t, service.RegisterJob("batch", "0 4 * * *", false, noop))
}

func TestStart_AutoStartRunsImmediately(t *testing.T) {
	service := NewService(arbor.NewLogger())
	var runs int32
	require.NoError(t, service.RegisterJob("batch", "0 3 * * *", true, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("partial batch")
	}))

	require.NoError(t, service.Start())
	assert.Error(t, service.Start())

	require.Eventually(t, func() bool {
		status, err := service.GetJobStatus("batch")
		return err == nil && status.Runs == 1
	}, time.Second, 5*time.Millisecond)

	status, err := service.GetJobStatus("batch")
	require.NoError(t, err)
	assert.Equal(t, "partial batch", status.LastError)
	assert.NotNil(t, status.LastRun)
	assert.NotNil(t, status.NextRun)

	require.NoError(t, service.Stop())
	assert.False(t, service.IsRunning())
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestTriggerJob_SkipsOverlap(t *testing.T) {
	service := NewService(arbor.NewLogger())
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, service.RegisterJob("batch", "0 3 * * *", false, func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))
	require.NoError(t, service.Start())

	service.TriggerJob("batch")
	<-started
	service.TriggerJob("batch")

	require.Eventually(t, func() bool {
		status, _ := service.GetJobStatus("batch")
		return status.Skipped == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, service.Stop())

	status, err := service.GetJobStatus("batch")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Runs)
	assert.False(t, status.IsRunning)
}

func TestStop_CancelsRunningJob(t *testing.T) {
	service := NewService(arbor.NewLogger())
	started := make(chan struct{})
	require.NoError(t, service.RegisterJob("batch", "0 3 * * *", true, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, service.Start())
	<-started

	require.NoError(t, service.Stop())
	status, err := service.GetJobStatus("batch")
	require.NoError(t, err)
	assert.Contains(t, status.LastError, "context canceled")
}

func TestExecuteJob_RecoversPanic(t *testing.T) {
	service := NewService(arbor.NewLogger())
	require.NoError(t, service.RegisterJob("batch", "0 3 * * *", false, func(ctx context.Context) error {
		panic("boom")
	}))

	service.executeJob("batch")

	status, err := service.GetJobStatus("batch")
	require.NoError(t, err)
	assert.Equal(t, "panic: boom", status.LastError)
	assert.False(t, status.IsRunning)
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls atomic.Int32
	block bool
	err   error
}

func (r *countingRunner) RunPending(ctx context.Context) (int, error) {
	r.calls.Add(1)
	if r.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return 1, r.err
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(nil, "* * * * * *")
	assert.Error(t, err)
	_, err = NewScheduler(&countingRunner{}, "every now and then")
	assert.Error(t, err)
}

func TestScheduler_RunsPipelineJob(t *testing.T) {
	r := &countingRunner{}
	s, err := NewScheduler(r, "* * * * * *")
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	r := &countingRunner{block: true}
	s, err := NewScheduler(r, "* * * * * *")
	require.NoError(t, err)
	s.Start()
	require.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	start := time.Now()
	assert.True(t, s.Stop())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPipelineJob_RunLogsErrors(t *testing.T) {
	r := &countingRunner{err: errors.New("one video failed")}
	job := NewPipelineJob(r)
	job.Run()
	assert.Equal(t, int32(1), r.calls.Load())

	job.abort()
	job.Run()
	assert.Equal(t, int32(1), r.calls.Load(), "aborted job must not start a new sweep")
}

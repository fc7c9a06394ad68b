package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInvokesCycles(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	err := s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		if calls.Add(1) == 3 {
			cancel()
		}
		return errors.New("cycle errors are logged, not fatal")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCancellationLetsCycleFinish(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Bool
	var cycleCtxErr atomic.Value
	err := s.Run(ctx, func(cycleCtx context.Context, bucket time.Time) error {
		cancel()
		time.Sleep(20 * time.Millisecond)
		if e := cycleCtx.Err(); e != nil {
			cycleCtxErr.Store(e)
		}
		finished.Store(true)
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, finished.Load())
	assert.Nil(t, cycleCtxErr.Load(), "in-flight cycle must not observe cancellation")
}

func TestCycleTimeoutBoundsCycle(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond, CycleTimeout: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var deadline atomic.Bool
	_ = s.Run(ctx, func(cycleCtx context.Context, bucket time.Time) error {
		defer cancel()
		_, ok := cycleCtx.Deadline()
		deadline.Store(ok)
		return nil
	})
	assert.True(t, deadline.Load())
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, func(context.Context, time.Time) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAlignedBuckets(t *testing.T) {
	s := New(Options{Interval: 15 * time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2025, 3, 3, 10, 7, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 3, 10, 15, 0, 0, time.UTC), s.nextTick(now))
	assert.Equal(t, time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), s.bucketStart(now))

	onBoundary := time.Date(2025, 3, 3, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC), s.nextTick(onBoundary))
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}

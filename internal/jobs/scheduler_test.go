package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_RunsJobsUntilCancelled(t *testing.T) {
	var fast, disabled atomic.Int32
	s := NewScheduler(zap.NewNop(),
		Job{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			fast.Add(1)
			return nil
		}},
		Job{Name: "disabled", Run: func(context.Context) error {
			disabled.Add(1)
			return nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return fast.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Zero(t, disabled.Load())
}

func TestScheduler_RunOnceReturnsJobError(t *testing.T) {
	boom := errors.New("boom")
	s := NewScheduler(zap.NewNop())

	err := s.RunOnce(context.Background(), Job{Name: "failing", Run: func(context.Context) error { return boom }})
	require.ErrorIs(t, err, boom)
}

package schedule

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

func TestLoop_FirstTickFiresImmediately(t *testing.T) {
	ticked := make(chan struct{}, 1)
	l := New(&Config{
		Name:     "test",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			select {
			case ticked <- struct{}{}:
			default:
			}
			return nil
		},
		Logger: zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not fire before the interval")
	}

	cancel()
	l.Wait()
}

func TestLoop_TickFailureDoesNotStopTheLoop(t *testing.T) {
	var ticks atomic.Int32
	done := make(chan struct{})
	l := New(&Config{
		Name:     "flaky",
		Interval: 5 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			if ticks.Add(1) == 3 {
				close(done)
			}
			return errors.New("boom")
		},
		Logger: zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped after a failed tick")
	}

	cancel()
	l.Wait()
	assert.GreaterOrEqual(t, ticks.Load(), int32(3))
}

func TestLoop_TickContextCarriesBudgetDeadline(t *testing.T) {
	deadlines := make(chan bool, 1)
	l := New(&Config{
		Name:     "budgeted",
		Interval: time.Hour,
		Budget:   50 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			deadlines <- ok
			return nil
		},
		Logger: zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)

	select {
	case ok := <-deadlines:
		require.True(t, ok, "tick context should carry the budget deadline")
	case <-time.After(2 * time.Second):
		t.Fatal("tick never ran")
	}

	cancel()
	l.Wait()
}

func TestLoop_DefaultBudgetIsTwiceTheInterval(t *testing.T) {
	l := New(&Config{
		Name:     "defaulted",
		Interval: time.Minute,
		Fn:       func(ctx context.Context) error { return nil },
		Logger:   zap.NewNop(),
	})
	assert.Equal(t, 2*time.Minute, l.budget)
}

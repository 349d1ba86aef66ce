// Package schedule runs the periodic pipelines. A tick never overlaps its
// predecessor: if a tick is still running when the timer fires, the new
// tick is skipped and counted, and each tick runs under a deadline derived
// from the interval so a stuck tick cannot wedge the loop forever.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickFunc is one logical task of a pipeline. The context carries the tick
// deadline; implementations should return partial results on expiry.
type TickFunc func(ctx context.Context) error

// Loop is a named periodic pipeline.
type Loop struct {
	name     string
	interval time.Duration
	budget   time.Duration
	fn       TickFunc
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// Config holds loop configuration.
type Config struct {
	Name     string
	Interval time.Duration
	// Budget bounds a single tick. Zero means twice the interval.
	Budget time.Duration
	Fn     TickFunc
	Logger *zap.Logger
}

// New creates a new loop.
func New(cfg *Config) *Loop {
	budget := cfg.Budget
	if budget == 0 {
		budget = 2 * cfg.Interval
	}
	return &Loop{
		name:     cfg.Name,
		interval: cfg.Interval,
		budget:   budget,
		fn:       cfg.Fn,
		logger:   cfg.Logger,
	}
}

// Start runs the loop until ctx is cancelled. The first tick fires
// immediately.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	l.logger.Info("loop-starting",
		zap.String("loop", l.name),
		zap.Duration("interval", l.interval))

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("loop-stopping", zap.String("loop", l.name))
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		TicksSkippedTotal.WithLabelValues(l.name).Inc()
		l.logger.Warn("tick-skipped-previous-still-running", zap.String("loop", l.name))
		return
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	tickCtx, cancel := context.WithTimeout(ctx, l.budget)
	defer cancel()

	start := time.Now()
	err := l.fn(tickCtx)
	elapsed := time.Since(start)

	TickDurationSeconds.WithLabelValues(l.name).Observe(elapsed.Seconds())

	if err != nil {
		// A failed tick never prevents the next one.
		TickErrorsTotal.WithLabelValues(l.name).Inc()
		l.logger.Error("tick-failed",
			zap.String("loop", l.name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}

	l.logger.Debug("tick-complete",
		zap.String("loop", l.name),
		zap.Duration("elapsed", elapsed))
}

// Wait blocks until the loop goroutine has exited.
func (l *Loop) Wait() {
	l.wg.Wait()
}

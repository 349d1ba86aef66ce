package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nmoreira/weatheredge/pkg/schedule"
	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("trading-mode", string(a.cfg.TradingMode)),
		zap.String("evaluator-mode", a.cfg.EvaluatorMode),
		zap.Int("cities", len(a.registry.All())),
		zap.String("log-level", a.cfg.LogLevel))

	err := a.startComponents()
	if err != nil {
		return err
	}

	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.Duration("scan-interval", a.cfg.ScanInterval()))

	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	err := a.bankroll.Seed(a.ctx, a.store, a.logger)
	if err != nil {
		return fmt.Errorf("seed bankroll: %w", err)
	}

	if a.cfg.DynamicPeakHour {
		a.peaks.Refresh(a.ctx, a.cityKeys())
	}

	a.wg.Add(1)
	go a.runHTTPServer()

	if a.feed != nil {
		a.refreshFeedSubscriptions(a.ctx)
		a.feed.Start(a.ctx)
	}

	a.startLoops()

	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) startLoops() {
	a.loops = []*schedule.Loop{
		schedule.New(&schedule.Config{
			Name:     "scanner",
			Interval: a.cfg.ScanInterval(),
			Fn:       a.scanner.Scan,
			Logger:   a.logger,
		}),
		schedule.New(&schedule.Config{
			Name:     "monitor",
			Interval: a.cfg.ScanInterval(),
			Fn:       a.monitor.Tick,
			Logger:   a.logger,
		}),
		schedule.New(&schedule.Config{
			Name:     "observer-fast",
			Interval: a.cfg.FastPollInterval(),
			Fn: func(ctx context.Context) error {
				_, _, err := a.observer.FastTick(ctx)
				return err
			},
			Logger: a.logger,
		}),
		schedule.New(&schedule.Config{
			Name:     "observer-slow",
			Interval: a.cfg.SlowPollInterval(),
			Fn:       a.observer.SlowTick,
			Logger:   a.logger,
		}),
		schedule.New(&schedule.Config{
			Name:     "resolver",
			Interval: a.cfg.ResolverInterval(),
			Fn:       a.resolver.Tick,
			Logger:   a.logger,
		}),
		schedule.New(&schedule.Config{
			Name:     "alert-digest",
			Interval: a.cfg.SlowPollInterval(),
			Fn: func(ctx context.Context) error {
				a.alerts.Flush(ctx)
				return nil
			},
			Logger: a.logger,
		}),
	}

	if a.cfg.GWEnabled {
		a.loops = append(a.loops, schedule.New(&schedule.Config{
			Name:     "guaranteed-win",
			Interval: a.cfg.ScanInterval(),
			Fn:       a.gw.Scan,
			Logger:   a.logger,
		}))
	}

	if a.cfg.DynamicPeakHour {
		a.loops = append(a.loops, schedule.New(&schedule.Config{
			Name:     "peak-hours",
			Interval: 6 * time.Hour,
			Fn: func(ctx context.Context) error {
				a.peaks.Refresh(ctx, a.cityKeys())
				return nil
			},
			Logger: a.logger,
		}))
	}

	if a.feed != nil {
		a.loops = append(a.loops, schedule.New(&schedule.Config{
			Name:     "ws-subscriptions",
			Interval: a.cfg.ScanInterval(),
			Fn: func(ctx context.Context) error {
				a.refreshFeedSubscriptions(ctx)
				return nil
			},
			Logger: a.logger,
		}))
	}

	for _, l := range a.loops {
		l.Start(a.ctx)
	}
}

// refreshFeedSubscriptions points the websocket feed at the structured
// venue's current-day markets so the monitor can read sub-second quotes.
func (a *App) refreshFeedSubscriptions(ctx context.Context) {
	now := time.Now()
	var tickers []string
	for _, city := range a.registry.All() {
		for _, spec := range a.markets.ListOutcomes(ctx, city, city.LocalDate(now)) {
			if spec.Venue == types.VenueKalshi {
				tickers = append(tickers, spec.MarketID)
			}
		}
	}
	a.feed.Subscribe(tickers)
	a.logger.Debug("ws-subscriptions-refreshed", zap.Int("markets", len(tickers)))
}

func (a *App) cityKeys() []string {
	cities := a.registry.All()
	keys := make([]string, 0, len(cities))
	for _, c := range cities {
		keys = append(keys, c.Key)
	}
	return keys
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}

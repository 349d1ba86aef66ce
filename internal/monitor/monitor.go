// Package monitor is the exit evaluator: per open trade, per cycle, it
// refreshes prices and the forecast, recomputes the hold-vs-sell edge,
// overlays observation and market signals, and dispatches the configured
// actions. Every decision lands in the trade's bounded evaluator log,
// whether or not the verdict is acted on.
package monitor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nmoreira/weatheredge/internal/forecast"
	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/internal/storage"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/nmoreira/weatheredge/pkg/units"
	"github.com/nmoreira/weatheredge/pkg/wsfeed"
	"go.uber.org/zap"
)

// Markets refreshes quotes and prices fees.
type Markets interface {
	ListOutcomes(ctx context.Context, city *registry.City, targetDate string) []*types.RangeSpec
	FeePerContract(v types.Venue, price float64) float64
}

// Forecaster delivers fused forecasts.
type Forecaster interface {
	Fetch(ctx context.Context, city *registry.City, targetDate string) (*types.Forecast, error)
}

// Storage is the persistence surface the evaluator needs.
type Storage interface {
	OpenTrades(ctx context.Context) ([]*types.Trade, error)
	UpdateTradeLive(ctx context.Context, t *types.Trade) error
	ExitTrade(ctx context.Context, t *types.Trade) error
	ResolveTrade(ctx context.Context, t *types.Trade) error
	GetCalibration(ctx context.Context, venue types.Venue, rangeType types.RangeType, leadBucket, priceBucket string) (*types.Calibration, error)
	RunningHighs(ctx context.Context, targetDates []string) (map[string]*storage.RunningHigh, error)
}

// Releaser credits closed trades back to the bankroll.
type Releaser interface {
	Release(side types.Side, targetDate string, cost float64)
}

// Feed is the optional websocket quote source for the structured venue.
type Feed interface {
	Latest(marketTicker string) (wsfeed.Tick, bool)
}

// Alerter reports exits and resolutions.
type Alerter interface {
	Critical(ctx context.Context, text string)
	Queue(text string)
}

// PeakHours estimates each city's local hour of peak temperature.
type PeakHours interface {
	PeakHour(city string) int
}

// Config holds evaluator parameters.
type Config struct {
	// Mode is "log_only" or "active".
	Mode string
	// ActiveSignals names the signals that act even in log_only mode.
	ActiveSignals     []string
	CalConfirmsMinN   int
	TakeProfitTrigger float64

	Registry  *registry.Registry
	Markets   Markets
	Forecasts Forecaster
	Storage   Storage
	Releaser  Releaser
	Feed      Feed      // nil disables the websocket fast path
	Peaks     PeakHours // nil treats every hour as pre-peak
	Alerts    Alerter
	Logger    *zap.Logger
}

// Monitor runs the exit evaluator.
type Monitor struct {
	cfg    *Config
	logger *zap.Logger
	active map[string]bool
}

// New creates a monitor.
func New(cfg *Config) *Monitor {
	active := make(map[string]bool, len(cfg.ActiveSignals))
	for _, s := range cfg.ActiveSignals {
		active[strings.TrimSpace(s)] = true
	}
	return &Monitor{cfg: cfg, logger: cfg.Logger, active: active}
}

// Tick evaluates every open trade once.
func (m *Monitor) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { TickDurationSeconds.Observe(time.Since(start).Seconds()) }()

	trades, err := m.cfg.Storage.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("open trades: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	dateSet := make(map[string]bool)
	for _, t := range trades {
		dateSet[t.TargetDate] = true
	}
	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	highs, err := m.cfg.Storage.RunningHighs(ctx, dates)
	if err != nil {
		return fmt.Errorf("running highs: %w", err)
	}

	for _, t := range trades {
		if err := m.evaluate(ctx, t, highs); err != nil {
			m.logger.Error("trade-evaluation-failed",
				zap.Int64("trade_id", t.ID), zap.Error(err))
		}
	}
	return nil
}

// verdict is the outcome of one evaluation pass over a trade.
type verdict struct {
	recommendation string // hold | exit | resolve
	signal         string
	prob           float64
	bid            float64
	ask            float64
	evAdvantage    float64
	note           string
	observedHigh   *float64
}

func (m *Monitor) evaluate(ctx context.Context, t *types.Trade, highs map[string]*storage.RunningHigh) error {
	city, ok := m.cfg.Registry.Get(t.City)
	if !ok {
		return fmt.Errorf("unknown city %s", t.City)
	}

	live := m.refreshQuote(ctx, city, t)
	if live == nil {
		// No quote this cycle: hold with the last known prices.
		t.AppendEvaluatorEntry(types.EvaluatorEntry{
			At:             time.Now(),
			Recommendation: "hold",
			Signal:         "price_unavailable",
			Probability:    t.CurrentProbability,
			Bid:            t.CurrentBid,
			Ask:            t.CurrentAsk,
		})
		return m.cfg.Storage.UpdateTradeLive(ctx, t)
	}

	bid, ask := sideQuote(live, t.Side)
	t.CurrentBid = bid
	t.CurrentAsk = ask
	if bid > t.MaxPriceSeen {
		t.MaxPriceSeen = bid
	}

	v := &verdict{recommendation: "hold", bid: bid, ask: ask, prob: t.CurrentProbability}

	var hours float64
	f, err := m.cfg.Forecasts.Fetch(ctx, city, t.TargetDate)
	if err != nil {
		v.note = "forecast_unavailable"
		hours = units.HoursUntilEndOfLocalDay(time.Now(), t.TargetDate, city.Location())
	} else {
		spec := t.Spec()
		v.prob = forecast.SideProbability(f, spec, t.Side)
		hours = f.HoursToResolution
		t.CurrentProbability = v.prob
		if v.prob < t.MinProbabilitySeen {
			t.MinProbabilitySeen = v.prob
		}
	}
	v.evAdvantage = v.prob - bid

	if v.evAdvantage < -0.05 {
		v.recommendation = "exit"
		v.signal = "edge_gone"
		m.applyCalibrationOverride(ctx, t, v, hours, bid)
	}

	m.applyObservationSignals(city, t, v, highs)

	// Holding to settlement dominates selling into a 15% discount this
	// close to resolution, unless the observation already settled it.
	guaranteed := v.signal == "guaranteed_win" || v.signal == "guaranteed_loss"
	if !guaranteed && bid >= 0.85 && hours <= 12 {
		v.recommendation = "hold"
		v.signal = "near_resolution_hold"
	}

	if !guaranteed && v.signal != "near_resolution_hold" {
		m.applyTakeProfitSignals(city, t, v, highs, hours)
	}

	t.AppendEvaluatorEntry(types.EvaluatorEntry{
		At:             time.Now(),
		Recommendation: v.recommendation,
		Signal:         v.signal,
		Probability:    v.prob,
		Bid:            bid,
		Ask:            ask,
		EVAdvantage:    v.evAdvantage,
		Note:           v.note,
	})
	SignalsTotal.WithLabelValues(orNone(v.signal), v.recommendation).Inc()

	return m.dispatch(ctx, t, v, live)
}

// refreshQuote finds the live outcome matching this trade and returns its
// YES-side quote, preferring the websocket feed for the structured venue.
func (m *Monitor) refreshQuote(ctx context.Context, city *registry.City, t *types.Trade) *types.RangeSpec {
	specs := m.cfg.Markets.ListOutcomes(ctx, city, t.TargetDate)
	var live *types.RangeSpec
	for _, s := range specs {
		if s.Venue == t.Venue && s.RangeName == t.RangeName {
			live = s
			break
		}
	}
	if live == nil {
		return nil
	}
	if m.cfg.Feed != nil && t.Venue == types.VenueKalshi {
		if tick, ok := m.cfg.Feed.Latest(live.MarketID); ok {
			fresh := *live
			fresh.Bid = tick.YesBid
			fresh.Ask = tick.YesAsk
			fresh.Spread = tick.YesAsk - tick.YesBid
			return &fresh
		}
	}
	return live
}

// applyCalibrationOverride cancels an edge_gone exit when the market's
// own track record at this bucket says held YES positions at this price
// win more often than the bid implies. YES only; the NO book is too thin
// to trust the same way.
func (m *Monitor) applyCalibrationOverride(ctx context.Context, t *types.Trade, v *verdict, hours, bid float64) {
	if t.Side != types.SideYes {
		return
	}
	cal, err := m.cfg.Storage.GetCalibration(ctx, t.Venue, t.RangeType,
		types.LeadTimeBucket(hours), types.PriceBucket(bid))
	if err != nil {
		m.logger.Warn("calibration-lookup-failed", zap.Error(err))
		return
	}
	if cal == nil || cal.N < m.cfg.CalConfirmsMinN {
		return
	}
	if cal.EmpiricalWinRate > bid {
		v.recommendation = "hold"
		v.signal = "cal_confirms_hold"
		v.note = fmt.Sprintf("win_rate=%.3f n=%d", cal.EmpiricalWinRate, cal.N)
		CalibrationOverridesTotal.Inc()
	}
}

// applyObservationSignals checks whether the venue's declared resolution
// source has already settled the trade. A crossing seen only at the
// airport never flags a guaranteed outcome on a crowd-resolving venue.
func (m *Monitor) applyObservationSignals(city *registry.City, t *types.Trade, v *verdict, highs map[string]*storage.RunningHigh) {
	high, ok := m.declaredHigh(city, t, highs)
	if !ok {
		return
	}
	v.observedHigh = &high

	switch t.Side {
	case types.SideYes:
		if t.RangeMin != nil && t.RangeMax == nil && high >= *t.RangeMin {
			v.recommendation = "resolve"
			v.signal = "guaranteed_win"
		} else if t.RangeMax != nil && high > *t.RangeMax {
			v.recommendation = "exit"
			v.signal = "guaranteed_loss"
		}
	case types.SideNo:
		if t.RangeMax != nil && high > *t.RangeMax {
			v.recommendation = "resolve"
			v.signal = "guaranteed_win"
		} else if t.RangeMin != nil && t.RangeMax == nil && high >= *t.RangeMin {
			v.recommendation = "exit"
			v.signal = "guaranteed_loss"
		}
	}
}

// declaredHigh returns the running high from the venue's declared
// resolution source, in the trade's unit.
func (m *Monitor) declaredHigh(city *registry.City, t *types.Trade, highs map[string]*storage.RunningHigh) (float64, bool) {
	station := city.Station(t.Venue)
	h := highs[storage.RunningHighKey(t.City, t.TargetDate, station)]
	if h == nil {
		return 0, false
	}
	if city.ResolutionSource[t.Venue] == "wu" {
		if h.WUHighF == nil {
			return 0, false
		}
		return units.Convert(*h.WUHighF, types.UnitF, t.Unit), true
	}
	if t.Unit == types.UnitC {
		return h.HighC, true
	}
	return h.HighF, true
}

// applyTakeProfitSignals overlays the profit-taking heuristics. They never
// override a guaranteed outcome; when both an observation-based and a
// market-only signal fire, the entry is labeled as combined.
func (m *Monitor) applyTakeProfitSignals(city *registry.City, t *types.Trade, v *verdict, highs map[string]*storage.RunningHigh, hours float64) {
	var obsSignal, mktSignal string

	if v.observedHigh != nil {
		high := *v.observedHigh
		switch {
		case t.Side == types.SideYes && t.RangeMin != nil && t.RangeMax == nil && high >= *t.RangeMin:
			obsSignal = "obs_threshold_crossed"
		case t.RangeMin != nil && t.RangeMax != nil && high >= *t.RangeMin && high <= *t.RangeMax &&
			hours < 4 && v.bid > 2*t.EntryAsk:
			obsSignal = "obs_in_range_strong"
		case nearBoundary(t, high, 1.0) && m.stillClimbing(city):
			obsSignal = "obs_near_boundary_risk"
		}
		if obsSignal == "" && t.Side == types.SideYes && t.RangeMin != nil && t.RangeMax == nil &&
			v.bid >= m.cfg.TakeProfitTrigger && high < *t.RangeMin {
			obsSignal = "observation_unconfirmed_spike"
		}
	}

	switch {
	case v.bid > 3*t.EntryAsk:
		mktSignal = "bid_3x_entry"
	case t.MaxPriceSeen > 1.5*t.EntryAsk && v.bid < 0.8*t.MaxPriceSeen:
		mktSignal = "bid_declining_from_peak"
	case v.bid > 0.50 && t.EntryAsk < 0.20:
		mktSignal = "bid_high_value"
	}

	switch {
	case obsSignal != "" && mktSignal != "":
		v.signal = "combined_obs_market"
		v.recommendation = "exit"
		v.note = obsSignal + "+" + mktSignal
	case obsSignal != "":
		v.signal = obsSignal
		if obsSignal != "obs_threshold_crossed" {
			v.recommendation = "exit"
		}
	case mktSignal != "":
		v.signal = mktSignal
		v.recommendation = "exit"
	}
}

// stillClimbing reports whether the city's temperature can still move the
// running high: true until the estimated local peak hour has passed. A
// boundary scrape after the peak is a settled outcome, not a risk.
func (m *Monitor) stillClimbing(city *registry.City) bool {
	if m.cfg.Peaks == nil {
		return true
	}
	return city.LocalHour(time.Now()) <= m.cfg.Peaks.PeakHour(city.Key)
}

// nearBoundary reports a running high within tol of either bound.
func nearBoundary(t *types.Trade, high, tol float64) bool {
	if t.RangeMin != nil && math.Abs(high-*t.RangeMin) <= tol {
		return true
	}
	if t.RangeMax != nil && math.Abs(high-*t.RangeMax) <= tol {
		return true
	}
	return false
}

// dispatch acts on the verdict. Active mode acts on every signal;
// log_only mode still acts on the allow-listed signals and records the
// rest without touching the trade.
func (m *Monitor) dispatch(ctx context.Context, t *types.Trade, v *verdict, live *types.RangeSpec) error {
	act := v.signal != "" && (m.cfg.Mode == "active" || m.active[v.signal])

	if act && v.recommendation == "resolve" && v.signal == "guaranteed_win" {
		return m.resolveInPlace(ctx, t, v)
	}
	if act && v.recommendation == "exit" {
		return m.exitAtBid(ctx, t, v, live)
	}
	return m.cfg.Storage.UpdateTradeLive(ctx, t)
}

// resolveInPlace settles a guaranteed winner without selling: payout $1
// per share, minus cost and the fees incurred so far.
func (m *Monitor) resolveInPlace(ctx context.Context, t *types.Trade, v *verdict) error {
	now := time.Now()
	fees := float64(t.Shares) * m.cfg.Markets.FeePerContract(t.Venue, t.EntryAsk)
	pnl := float64(t.Shares) - t.Cost - fees
	won := true

	t.Won = &won
	t.PnL = &pnl
	t.Fees = &fees
	t.ActualTemp = v.observedHigh
	t.ResolvedAt = &now
	if city, ok := m.cfg.Registry.Get(t.City); ok {
		t.ResolutionStation = city.Station(t.Venue)
	}

	if err := m.cfg.Storage.ResolveTrade(ctx, t); err != nil {
		return fmt.Errorf("resolve guaranteed win: %w", err)
	}
	t.Status = types.TradeResolved
	m.cfg.Releaser.Release(t.Side, t.TargetDate, t.Cost)
	ExitsTotal.WithLabelValues("guaranteed_win").Inc()

	m.logger.Info("trade-resolved-guaranteed",
		zap.Int64("trade_id", t.ID),
		zap.String("key", t.Spec().Key(t.Side)),
		zap.Float64("pnl", pnl))
	if m.cfg.Alerts != nil {
		m.cfg.Alerts.Critical(ctx, fmt.Sprintf(
			"Guaranteed win resolved: trade %d %s %s %q %s, pnl $%.2f",
			t.ID, t.City, t.TargetDate, t.RangeName, t.Side, pnl))
	}
	return nil
}

// exitAtBid sells at the current bid. Guaranteed losses dump regardless
// of spread; the P&L nets out entry and exit fees.
func (m *Monitor) exitAtBid(ctx context.Context, t *types.Trade, v *verdict, live *types.RangeSpec) error {
	now := time.Now()
	fees := float64(t.Shares) * (m.cfg.Markets.FeePerContract(t.Venue, t.EntryAsk) +
		m.cfg.Markets.FeePerContract(t.Venue, v.bid))
	pnl := float64(t.Shares)*v.bid - t.Cost - fees

	t.ExitReason = v.signal
	t.ExitPrice = v.bid
	t.ExitBid = v.bid
	t.ExitAsk = v.ask
	t.ExitSpread = live.Spread
	t.ExitVolume = live.Volume
	t.ExitProbability = v.prob
	t.ExitedAt = &now
	t.PnL = &pnl
	t.Fees = &fees

	// A guaranteed loss is a settled outcome sold early: record the loss
	// and the observed high alongside the exit.
	if v.signal == "guaranteed_loss" {
		won := false
		t.Won = &won
		t.ActualTemp = v.observedHigh
	}

	if err := m.cfg.Storage.ExitTrade(ctx, t); err != nil {
		return fmt.Errorf("exit trade: %w", err)
	}
	t.Status = types.TradeExited
	m.cfg.Releaser.Release(t.Side, t.TargetDate, t.Cost)
	ExitsTotal.WithLabelValues(v.signal).Inc()

	m.logger.Info("trade-exited",
		zap.Int64("trade_id", t.ID),
		zap.String("key", t.Spec().Key(t.Side)),
		zap.String("signal", v.signal),
		zap.Float64("exit_bid", v.bid),
		zap.Float64("pnl", pnl))
	if m.cfg.Alerts != nil {
		m.cfg.Alerts.Queue(fmt.Sprintf(
			"Exit (%s): trade %d %s %q %s at %.2f, pnl $%.2f",
			v.signal, t.ID, t.City, t.RangeName, t.Side, v.bid, pnl))
	}
	return nil
}

// sideQuote maps the YES book to the trade side's effective quote.
func sideQuote(spec *types.RangeSpec, side types.Side) (bid, ask float64) {
	if side == types.SideNo {
		return 1 - spec.Ask, 1 - spec.Bid
	}
	return spec.Bid, spec.Ask
}

func orNone(signal string) string {
	if signal == "" {
		return "none"
	}
	return signal
}

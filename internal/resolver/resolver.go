// Package resolver settles finished days: it fetches each venue's
// authoritative daily high through that venue's fallback chain, marks open
// trades won or lost, backfills unresolved opportunities, writes per-source
// forecast accuracy rows, and rebuilds the market calibration table.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/internal/storage"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/nmoreira/weatheredge/pkg/units"
	"go.uber.org/zap"
)

// Markets prices venue fees.
type Markets interface {
	FeePerContract(v types.Venue, price float64) float64
}

// Storage is the persistence surface the resolver needs.
type Storage interface {
	OpenTrades(ctx context.Context) ([]*types.Trade, error)
	ResolveTrade(ctx context.Context, t *types.Trade) error
	ResolvedActualTemp(ctx context.Context, city, targetDate string, venue types.Venue) (*float64, error)
	UnresolvedOpportunitiesBefore(ctx context.Context, beforeDate string, limit int) ([]*storage.UnresolvedOpportunity, error)
	BackfillOpportunity(ctx context.Context, id string, actualTemp float64, wouldHaveWon bool) error
	InsertForecastAccuracy(ctx context.Context, city, targetDate, source string, forecastTemp, actualTemp float64, unit string, hoursBefore float64) error
	RecomputeCalibration(ctx context.Context) error
	UpsertWUAudit(ctx context.Context, r *storage.AuditRow) error
	UpsertCLIAudit(ctx context.Context, r *storage.AuditRow) error
	UnconfirmedWULeads(ctx context.Context, targetDate string) ([]*types.WULeadsEvent, error)
}

// Releaser credits settled trades back to the bankroll.
type Releaser interface {
	Release(side types.Side, targetDate string, cost float64)
}

// Alerter receives settlement summaries.
type Alerter interface {
	Queue(text string)
}

// Config holds resolver parameters.
type Config struct {
	// BackfillLimit caps opportunity backfills per cycle.
	BackfillLimit int

	Registry *registry.Registry
	Markets  Markets
	Storage  Storage
	// Chains maps each venue to its settlement fallback chain, tried in
	// order. See DefaultChains.
	Chains   map[types.Venue][]HighSource
	Releaser Releaser
	Alerts   Alerter
	Logger   *zap.Logger
}

// Resolver settles past-due trades and opportunities.
type Resolver struct {
	cfg    *Config
	logger *zap.Logger
}

// New creates a resolver.
func New(cfg *Config) *Resolver {
	if cfg.BackfillLimit <= 0 {
		cfg.BackfillLimit = 200
	}
	return &Resolver{cfg: cfg, logger: cfg.Logger}
}

// settlement is one fetched authoritative high, in the city's unit and in
// Fahrenheit for the audit tables.
type settlement struct {
	temp   float64
	tempF  float64
	source string
}

// Tick runs one settlement cycle.
func (r *Resolver) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { TickDurationSeconds.Observe(time.Since(start).Seconds()) }()

	trades, err := r.cfg.Storage.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("open trades: %w", err)
	}

	now := time.Now()
	cache := make(map[string]*settlement)
	accuracyDone := make(map[string]bool)
	settledDates := make(map[string]bool)
	resolved := 0

	for _, t := range trades {
		city, ok := r.cfg.Registry.Get(t.City)
		if !ok {
			r.logger.Warn("resolver-unknown-city", zap.String("city", t.City))
			continue
		}
		if t.TargetDate >= city.LocalDate(now) {
			continue // day still running in the city's timezone
		}
		if err := r.resolveTrade(ctx, city, t, cache, accuracyDone); err != nil {
			r.logger.Warn("trade-resolution-failed",
				zap.Int64("trade_id", t.ID),
				zap.String("city", t.City),
				zap.String("target_date", t.TargetDate),
				zap.Error(err))
			continue
		}
		settledDates[t.TargetDate] = true
		resolved++
	}

	r.reportUnconfirmedLeads(ctx, settledDates)

	backfilled := r.backfill(ctx, now, cache)

	if resolved > 0 || backfilled > 0 {
		if err := r.cfg.Storage.RecomputeCalibration(ctx); err != nil {
			r.logger.Error("calibration-recompute-failed", zap.Error(err))
		}
	}

	r.logger.Debug("resolver-tick-complete",
		zap.Int("resolved", resolved),
		zap.Int("backfilled", backfilled),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (r *Resolver) resolveTrade(ctx context.Context, city *registry.City, t *types.Trade, cache map[string]*settlement, accuracyDone map[string]bool) error {
	s, err := r.settlementFor(ctx, city, t.TargetDate, t.Venue, cache)
	if err != nil {
		return err
	}

	won := sideWins(t.Side, t.RangeMin, t.RangeMax, s.temp)
	fees := float64(t.Shares) * r.cfg.Markets.FeePerContract(t.Venue, t.EntryAsk)
	pnl := -t.Cost - fees
	if won {
		pnl += float64(t.Shares)
	}

	now := time.Now()
	temp := s.temp
	t.ActualTemp = &temp
	t.Won = &won
	t.PnL = &pnl
	t.Fees = &fees
	t.ResolvedAt = &now
	t.ResolutionStation = city.Station(t.Venue)

	if err := r.cfg.Storage.ResolveTrade(ctx, t); err != nil {
		return err
	}
	t.Status = types.TradeResolved
	r.cfg.Releaser.Release(t.Side, t.TargetDate, t.Cost)
	TradesResolvedTotal.WithLabelValues(string(t.Venue), outcome(won)).Inc()

	r.logger.Info("trade-settled",
		zap.Int64("trade_id", t.ID),
		zap.String("city", t.City),
		zap.String("target_date", t.TargetDate),
		zap.String("venue", string(t.Venue)),
		zap.String("source", s.source),
		zap.Float64("actual_temp", s.temp),
		zap.Bool("won", won),
		zap.Float64("pnl", pnl))
	if r.cfg.Alerts != nil {
		verdict := "LOST"
		if won {
			verdict = "WON"
		}
		r.cfg.Alerts.Queue(fmt.Sprintf("%s: %s %s %q %s resolved at %.1f°%s (%s), pnl $%.2f",
			verdict, t.City, t.TargetDate, t.RangeName, t.Side,
			s.temp, t.Unit, s.source, pnl))
	}

	r.writeAccuracy(ctx, city, t, s, accuracyDone)
	return nil
}

// reportUnconfirmedLeads queues a data-quality note for each freshly
// settled date where the crowd provider led the airport and the airport
// never caught up. Those days are where the two resolution sources can
// disagree about the settled outcome.
func (r *Resolver) reportUnconfirmedLeads(ctx context.Context, dates map[string]bool) {
	if r.cfg.Alerts == nil {
		return
	}
	for date := range dates {
		leads, err := r.cfg.Storage.UnconfirmedWULeads(ctx, date)
		if err != nil {
			r.logger.Warn("unconfirmed-wu-leads-query-failed",
				zap.String("target_date", date), zap.Error(err))
			continue
		}
		for _, l := range leads {
			r.cfg.Alerts.Queue(fmt.Sprintf(
				"Unconfirmed WU lead: %s %s (%s) WU %.1f°F vs METAR %.1f°F",
				l.City, l.TargetDate, l.StationID, l.WUHighF, l.MetarHighF))
		}
	}
}

// settlementFor fetches the authoritative high once per (city, date, venue)
// per cycle. A value recorded by an earlier cycle is reused so every trade
// on the same market settles against the same temperature.
func (r *Resolver) settlementFor(ctx context.Context, city *registry.City, targetDate string, venue types.Venue, cache map[string]*settlement) (*settlement, error) {
	key := city.Key + "|" + targetDate + "|" + string(venue)
	if s, ok := cache[key]; ok {
		return s, nil
	}

	if prev, err := r.cfg.Storage.ResolvedActualTemp(ctx, city.Key, targetDate, venue); err != nil {
		r.logger.Warn("prior-settlement-lookup-failed", zap.Error(err))
	} else if prev != nil {
		s := &settlement{
			temp:   *prev,
			tempF:  units.Convert(*prev, city.Unit, types.UnitF),
			source: "prior",
		}
		cache[key] = s
		return s, nil
	}

	station := city.Station(venue)
	for _, leg := range r.cfg.Chains[venue] {
		highF, err := leg.DailyHigh(ctx, city, station, targetDate)
		if err != nil {
			r.logger.Debug("settlement-leg-miss",
				zap.String("leg", leg.Name()),
				zap.String("station", station),
				zap.String("target_date", targetDate),
				zap.Error(err))
			continue
		}
		HighFetchesTotal.WithLabelValues(leg.Name()).Inc()
		s := &settlement{
			temp:   units.Convert(highF, types.UnitF, city.Unit),
			tempF:  highF,
			source: leg.Name(),
		}
		r.audit(ctx, city, station, targetDate, s)
		cache[key] = s
		return s, nil
	}
	return nil, fmt.Errorf("%w: settlement chain exhausted for %s %s %s",
		types.ErrDataAbsent, city.Key, targetDate, venue)
}

// audit mirrors the fetched high into the audit table matching its source,
// so later mismatch analysis can compare provider values per station day.
func (r *Resolver) audit(ctx context.Context, city *registry.City, station, targetDate string, s *settlement) {
	row := &storage.AuditRow{
		City:       city.Key,
		StationID:  station,
		TargetDate: targetDate,
		HighF:      s.tempF,
		SourceTag:  s.source,
	}
	var err error
	switch s.source {
	case "cli":
		err = r.cfg.Storage.UpsertCLIAudit(ctx, row)
	case "wu":
		err = r.cfg.Storage.UpsertWUAudit(ctx, row)
	default:
		return
	}
	if err != nil {
		r.logger.Warn("settlement-audit-write-failed",
			zap.String("source", s.source), zap.Error(err))
	}
}

// writeAccuracy inserts one forecast_accuracy row per entry-ensemble source
// plus the blended estimate, once per settled (city, date). The table's
// conflict clause makes re-runs no-ops.
func (r *Resolver) writeAccuracy(ctx context.Context, city *registry.City, t *types.Trade, s *settlement, done map[string]bool) {
	key := city.Key + "|" + t.TargetDate
	if done[key] {
		return
	}
	done[key] = true

	for source, forecastTemp := range t.EntryEnsemble {
		err := r.cfg.Storage.InsertForecastAccuracy(ctx, city.Key, t.TargetDate,
			source, forecastTemp, s.temp, string(t.Unit), t.HoursToResolution)
		if err != nil {
			r.logger.Warn("accuracy-write-failed",
				zap.String("source", source), zap.Error(err))
		}
	}
	err := r.cfg.Storage.InsertForecastAccuracy(ctx, city.Key, t.TargetDate,
		storage.BlendedSource(), t.EntryForecastTemp, s.temp, string(t.Unit),
		t.HoursToResolution)
	if err != nil {
		r.logger.Warn("accuracy-write-failed",
			zap.String("source", storage.BlendedSource()), zap.Error(err))
	}
}

// backfill settles opportunities on days already past everywhere, writing
// the counterfactual outcome the scanner's candidate would have had.
func (r *Resolver) backfill(ctx context.Context, now time.Time, cache map[string]*settlement) int {
	before := ""
	for _, city := range r.cfg.Registry.All() {
		if d := city.LocalDate(now); before == "" || d < before {
			before = d
		}
	}
	if before == "" {
		return 0
	}

	opps, err := r.cfg.Storage.UnresolvedOpportunitiesBefore(ctx, before, r.cfg.BackfillLimit)
	if err != nil {
		r.logger.Error("unresolved-opportunities-query-failed", zap.Error(err))
		return 0
	}

	backfilled := 0
	for _, o := range opps {
		city, ok := r.cfg.Registry.Get(o.City)
		if !ok {
			continue
		}
		s, err := r.settlementFor(ctx, city, o.TargetDate, o.Venue, cache)
		if err != nil {
			r.logger.Debug("backfill-settlement-unavailable",
				zap.String("city", o.City),
				zap.String("target_date", o.TargetDate),
				zap.Error(err))
			continue
		}
		wouldHaveWon := sideWins(o.Side, o.RangeMin, o.RangeMax, s.temp)
		if err := r.cfg.Storage.BackfillOpportunity(ctx, o.ID, s.temp, wouldHaveWon); err != nil {
			r.logger.Warn("opportunity-backfill-failed",
				zap.String("opportunity_id", o.ID), zap.Error(err))
			continue
		}
		backfilled++
	}
	if backfilled > 0 {
		OpportunitiesBackfilledTotal.Add(float64(backfilled))
	}
	return backfilled
}

// sideWins settles a side against the actual high: YES pays when the high
// lands inside the range, bounds inclusive; NO is its complement.
func sideWins(side types.Side, min, max *float64, temp float64) bool {
	yes := (min == nil || temp >= *min) && (max == nil || temp <= *max)
	if side == types.SideNo {
		return !yes
	}
	return yes
}

func outcome(won bool) string {
	if won {
		return "won"
	}
	return "lost"
}

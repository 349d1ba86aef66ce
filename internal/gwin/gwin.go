// Package gwin finds outcomes whose settlement is already determined by
// the day's running high and enters them. Unlike the model scanner it
// does not care about forecast edge: once the high is past the boundary,
// the only questions left are price, fees, and whether the observation
// can be trusted.
package gwin

import (
	"context"
	"fmt"
	"time"

	"github.com/nmoreira/weatheredge/internal/executor"
	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/internal/storage"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/nmoreira/weatheredge/pkg/units"
	"go.uber.org/zap"
)

// Markets enumerates outcomes and prices fees.
type Markets interface {
	ListOutcomes(ctx context.Context, city *registry.City, targetDate string) []*types.RangeSpec
	FeePerContract(v types.Venue, price float64) float64
}

// Storage reads the day's running highs.
type Storage interface {
	RunningHighs(ctx context.Context, targetDates []string) (map[string]*storage.RunningHigh, error)
}

// Entering is the executor surface.
type Entering interface {
	Execute(ctx context.Context, req *executor.Request) (*executor.Result, error)
}

// Alerter reports entries and missed candidates.
type Alerter interface {
	Critical(ctx context.Context, text string)
	Queue(text string)
}

// Config holds guaranteed-entry parameters.
type Config struct {
	Enabled            bool
	MinMarginCents     float64
	MinAsk             float64
	MaxAsk             float64
	MaxBankrollPct     float64
	RequireDualConfirm bool

	Registry *registry.Registry
	Markets  Markets
	Storage  Storage
	Executor Entering
	Alerts   Alerter
	Logger   *zap.Logger
}

// Scanner runs the guaranteed-win pass.
type Scanner struct {
	cfg    *Config
	logger *zap.Logger
}

// New creates a guaranteed-win scanner.
func New(cfg *Config) *Scanner {
	return &Scanner{cfg: cfg, logger: cfg.Logger}
}

// Scan runs one full pass over every city's current day.
func (s *Scanner) Scan(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	now := time.Now()
	dateSet := make(map[string]bool)
	for _, city := range s.cfg.Registry.All() {
		dateSet[city.LocalDate(now)] = true
	}
	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}

	highs, err := s.cfg.Storage.RunningHighs(ctx, dates)
	if err != nil {
		return fmt.Errorf("running highs: %w", err)
	}
	for _, city := range s.cfg.Registry.All() {
		s.scanCity(ctx, city, city.LocalDate(now), highs)
	}
	return nil
}

// Trigger runs the pass for one city immediately. The observer calls this
// synchronously on a first detection, bypassing the timer.
func (s *Scanner) Trigger(ctx context.Context, city *registry.City, targetDate string) {
	if !s.cfg.Enabled {
		return
	}
	highs, err := s.cfg.Storage.RunningHighs(ctx, []string{targetDate})
	if err != nil {
		s.logger.Error("gw-trigger-highs-failed",
			zap.String("city", city.Key), zap.Error(err))
		return
	}
	s.scanCity(ctx, city, targetDate, highs)
}

// determination is the settled view of one venue's observation sources.
type determination struct {
	metarHigh float64
	wuHigh    *float64 // city unit; only for crowd-resolving venues
	haveMetar bool
}

func (s *Scanner) scanCity(ctx context.Context, city *registry.City, targetDate string, highs map[string]*storage.RunningHigh) {
	specs := s.cfg.Markets.ListOutcomes(ctx, city, targetDate)
	if len(specs) == 0 {
		return
	}

	dets := make(map[types.Venue]*determination)
	for v, station := range city.Stations {
		h := highs[storage.RunningHighKey(city.Key, targetDate, station)]
		if h == nil {
			continue
		}
		d := &determination{haveMetar: true}
		if city.Unit == types.UnitC {
			d.metarHigh = h.HighC
		} else {
			d.metarHigh = h.HighF
		}
		if h.WUHighF != nil && city.ResolutionSource[v] == "wu" {
			wu := units.Convert(*h.WUHighF, types.UnitF, city.Unit)
			d.wuHigh = &wu
		}
		dets[v] = d
	}

	for _, spec := range specs {
		d, ok := dets[spec.Venue]
		if !ok {
			continue
		}
		s.evaluate(ctx, city, spec, d)
	}
}

// settles reports whether a given high determines a winning side for the
// outcome, and which side.
func settles(spec *types.RangeSpec, high float64) (types.Side, bool) {
	if spec.IsUnboundedUpper() && high >= *spec.RangeMin {
		return types.SideYes, true
	}
	if spec.RangeMax != nil && high > *spec.RangeMax {
		return types.SideNo, true
	}
	return "", false
}

func (s *Scanner) evaluate(ctx context.Context, city *registry.City, spec *types.RangeSpec, d *determination) {
	metarSide, metarWins := settles(spec, d.metarHigh)
	var wuSide types.Side
	wuWins := false
	if d.wuHigh != nil {
		wuSide, wuWins = settles(spec, *d.wuHigh)
	}
	if !metarWins && !wuWins {
		return
	}

	side := metarSide
	if !metarWins {
		side = wuSide
	}

	// Source trust: the venue's declared resolution source must agree,
	// or dual confirmation must hold.
	declared := city.ResolutionSource[spec.Venue]
	dualConfirmed := metarWins && wuWins && metarSide == wuSide
	declaredWins := (declared == "wu" && wuWins) || (declared != "wu" && metarWins)
	if !declaredWins && !dualConfirmed {
		if s.cfg.RequireDualConfirm {
			s.miss(ctx, city, spec, side, "awaiting_dual_confirmation")
			return
		}
	}

	ask := spec.Ask
	if side == types.SideNo {
		ask = 1 - spec.Bid
	}
	fee := s.cfg.Markets.FeePerContract(spec.Venue, ask)
	margin := 1 - ask - fee
	switch {
	case margin < s.cfg.MinMarginCents/100:
		s.miss(ctx, city, spec, side, "margin_too_thin")
		return
	case ask < s.cfg.MinAsk:
		s.miss(ctx, city, spec, side, "ask_below_floor")
		return
	case ask > s.cfg.MaxAsk:
		s.miss(ctx, city, spec, side, "market_already_repriced")
		return
	}

	reason := types.EntryGuaranteedWin
	if !metarWins && wuWins {
		reason = types.EntryGuaranteedWinPWS
	}

	obsHigh := d.metarHigh
	req := &executor.Request{
		Spec:                   spec,
		Side:                   side,
		Probability:            1.0,
		EdgePct:                (1 - ask) * 100,
		Reason:                 reason,
		MaxBankrollPctOverride: s.cfg.MaxBankrollPct,
		WUTriggered:            !metarWins && wuWins,
		DualConfirmed:          dualConfirmed,
		ObservationHigh:        &obsHigh,
		WUHigh:                 d.wuHigh,
	}

	res, err := s.cfg.Executor.Execute(ctx, req)
	if err != nil {
		s.logger.Error("gw-entry-failed",
			zap.String("key", spec.Key(side)), zap.Error(err))
		return
	}
	if res.Rejected() {
		if res.RejectReason != "duplicate_open_trade" {
			s.miss(ctx, city, spec, side, res.RejectReason)
		}
		return
	}

	EntriesTotal.WithLabelValues(string(spec.Venue), string(reason)).Inc()
	if s.cfg.Alerts != nil {
		s.cfg.Alerts.Critical(ctx, fmt.Sprintf(
			"Guaranteed-win entry: %s %s [%s] %q %s at %.2f, %d shares ($%.2f), margin %.2f",
			city.Name, spec.TargetDate, spec.Venue, spec.RangeName, side,
			res.Trade.EntryAsk, res.Trade.Shares, res.Trade.Cost, margin))
	}
}

func (s *Scanner) miss(ctx context.Context, city *registry.City, spec *types.RangeSpec, side types.Side, reason string) {
	MissedCandidatesTotal.WithLabelValues(reason).Inc()
	s.logger.Info("gw-candidate-missed",
		zap.String("key", spec.Key(side)),
		zap.String("reason", reason))
	if s.cfg.Alerts != nil {
		s.cfg.Alerts.Queue(fmt.Sprintf(
			"GW candidate missed: %s [%s] %q %s (%s, ask %.2f)",
			city.Name, spec.Venue, spec.RangeName, side, reason, spec.Ask))
	}
}

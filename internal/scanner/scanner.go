// Package scanner is the top of the entry pipeline: it enumerates market
// outcomes per city day, prices them against the forecast, applies the
// entry filters, records every scored candidate, and forwards approved
// candidates to the executor.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nmoreira/weatheredge/internal/executor"
	"github.com/nmoreira/weatheredge/internal/forecast"
	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MarketSource enumerates outcomes; the venue adapter satisfies it.
type MarketSource interface {
	ListOutcomes(ctx context.Context, city *registry.City, targetDate string) []*types.RangeSpec
}

// Forecaster delivers fused forecasts.
type Forecaster interface {
	Fetch(ctx context.Context, city *registry.City, targetDate string) (*types.Forecast, error)
}

// Eligibility gates model entries per city and range type.
type Eligibility interface {
	Eligible(ctx context.Context, city *registry.City, rangeType types.RangeType) bool
}

// Entering is the executor surface the scanner forwards to.
type Entering interface {
	Execute(ctx context.Context, req *executor.Request) (*executor.Result, error)
}

// Storage records scored candidates.
type Storage interface {
	InsertOpportunity(ctx context.Context, o *types.Opportunity) error
}

// Config holds entry-filter parameters.
type Config struct {
	DaysAhead            int
	MinEdgePct           float64
	MaxSpread            float64
	MaxSpreadPct         float64
	MinAskPrice          float64
	MinNoAskPrice        float64
	MinHoursToResolution float64
	MaxModelMarketRatio  float64
	CityConcurrency      int

	Registry    *registry.Registry
	Markets     MarketSource
	Forecasts   Forecaster
	Eligibility Eligibility
	Executor    Entering
	Storage     Storage
	Logger      *zap.Logger
}

// Scanner runs the entry pipeline.
type Scanner struct {
	cfg    *Config
	logger *zap.Logger
}

// New creates a scanner.
func New(cfg *Config) *Scanner {
	if cfg.CityConcurrency <= 0 {
		cfg.CityConcurrency = 4
	}
	return &Scanner{cfg: cfg, logger: cfg.Logger}
}

// Scan runs one full cycle: cities in parallel with bounded concurrency,
// outcomes per city serially.
func (s *Scanner) Scan(ctx context.Context) error {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.CityConcurrency)
	for _, city := range s.cfg.Registry.All() {
		city := city
		g.Go(func() error {
			s.scanCity(gctx, city)
			return nil
		})
	}
	err := g.Wait()

	ScanDurationSeconds.Observe(time.Since(start).Seconds())
	return err
}

func (s *Scanner) scanCity(ctx context.Context, city *registry.City) {
	now := time.Now().In(city.Location())
	for d := 0; d <= s.cfg.DaysAhead; d++ {
		targetDate := now.AddDate(0, 0, d).Format("2006-01-02")
		s.scanCityDate(ctx, city, targetDate)
	}
}

func (s *Scanner) scanCityDate(ctx context.Context, city *registry.City, targetDate string) {
	specs := s.cfg.Markets.ListOutcomes(ctx, city, targetDate)
	if len(specs) == 0 {
		return
	}

	f, err := s.cfg.Forecasts.Fetch(ctx, city, targetDate)
	if err != nil {
		s.logger.Warn("scan-forecast-unavailable",
			zap.String("city", city.Key),
			zap.String("target_date", targetDate),
			zap.Error(err))
		return
	}

	var candidates []*candidate
	for _, spec := range specs {
		for _, side := range []types.Side{types.SideYes, types.SideNo} {
			c := s.evaluate(ctx, city, spec, side, f)
			candidates = append(candidates, c)
		}
	}

	// Ties within a city day break by descending edge so the bankroll
	// goes to the strongest candidates first.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].opp.EdgePct > candidates[j].opp.EdgePct
	})

	for _, c := range candidates {
		s.commit(ctx, city, c, f)
	}
}

type candidate struct {
	spec *types.RangeSpec
	side types.Side
	opp  *types.Opportunity
}

// evaluate runs the pre-executor filters and builds the opportunity row.
// An empty RejectReason with Accepted=false means "not yet decided" and is
// resolved by the executor at commit time.
func (s *Scanner) evaluate(ctx context.Context, city *registry.City, spec *types.RangeSpec, side types.Side, f *types.Forecast) *candidate {
	prob := forecast.SideProbability(f, spec, side)

	ask := spec.Ask
	bid := spec.Bid
	if side == types.SideNo {
		ask = 1 - spec.Bid
		bid = 1 - spec.Ask
	}

	opp := &types.Opportunity{
		ID:                uuid.NewString(),
		City:              city.Key,
		TargetDate:        spec.TargetDate,
		Venue:             spec.Venue,
		RangeName:         spec.RangeName,
		RangeMin:          spec.RangeMin,
		RangeMax:          spec.RangeMax,
		RangeType:         spec.RangeType,
		Unit:              spec.Unit,
		Side:              side,
		Bid:               bid,
		Ask:               ask,
		Spread:            spec.Spread,
		Volume:            spec.Volume,
		Probability:       prob,
		EdgePct:           (prob - ask) * 100,
		ForecastTemp:      f.Temp,
		ForecastStdDev:    f.StdDev,
		Confidence:        f.Confidence,
		ForecastSources:   f.Sources,
		HoursToResolution: f.HoursToResolution,
		CreatedAt:         time.Now(),
	}
	c := &candidate{spec: spec, side: side, opp: opp}

	// Entry floor is strict: exactly MIN_EDGE_PCT of edge rejects.
	if !(prob > ask+s.cfg.MinEdgePct/100) {
		opp.RejectReason = "insufficient_edge"
		return c
	}
	if spec.Spread > s.cfg.MaxSpread || (ask > 0 && spec.Spread/ask > s.cfg.MaxSpreadPct) {
		opp.RejectReason = "spread_too_wide"
		return c
	}
	minAsk := s.cfg.MinAskPrice
	if side == types.SideNo {
		minAsk = s.cfg.MinNoAskPrice
	}
	if ask < minAsk {
		opp.RejectReason = "ask_below_floor"
		return c
	}
	if f.HoursToResolution < s.cfg.MinHoursToResolution {
		opp.RejectReason = "too_close_to_resolution"
		return c
	}
	if prob > s.cfg.MaxModelMarketRatio*ask {
		opp.RejectReason = "model_overconfident"
		return c
	}
	if !s.cfg.Eligibility.Eligible(ctx, city, spec.RangeType) {
		opp.RejectReason = "city_ineligible"
		return c
	}

	opp.Accepted = true
	return c
}

// commit forwards accepted candidates to the executor and persists the
// opportunity row either way.
func (s *Scanner) commit(ctx context.Context, city *registry.City, c *candidate, f *types.Forecast) {
	if c.opp.Accepted {
		res, err := s.cfg.Executor.Execute(ctx, &executor.Request{
			Spec:        c.spec,
			Side:        c.side,
			Probability: c.opp.Probability,
			EdgePct:     c.opp.EdgePct,
			Forecast:    f,
			Reason:      types.EntryModel,
		})
		if err != nil {
			s.logger.Error("entry-execution-failed",
				zap.String("key", c.spec.Key(c.side)),
				zap.Error(err))
			c.opp.Accepted = false
			c.opp.RejectReason = "execution_error"
		} else if res.Rejected() {
			c.opp.Accepted = false
			c.opp.RejectReason = res.RejectReason
		} else {
			c.opp.TradeID = &res.Trade.ID
		}
	}

	OpportunitiesScoredTotal.WithLabelValues(
		string(c.opp.Venue), string(c.side), fmt.Sprintf("%t", c.opp.Accepted)).Inc()

	if err := s.cfg.Storage.InsertOpportunity(ctx, c.opp); err != nil {
		s.logger.Error("opportunity-persist-failed",
			zap.String("key", c.spec.Key(c.side)),
			zap.Error(err))
	}
}

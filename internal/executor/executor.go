// Package executor sizes, gates, and records entries. It owns the paper
// bankroll and is the single writer of new trade rows.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

// OpenTradeLister is the subset of storage the bankroll seed needs.
type OpenTradeLister interface {
	OpenTrades(ctx context.Context) ([]*types.Trade, error)
}

// Storage is the persistence surface the executor writes through.
type Storage interface {
	OpenTradeLister
	InsertTrade(ctx context.Context, t *types.Trade) (int64, error)
	OpenTradeExists(ctx context.Context, city, targetDate string, venue types.Venue, rangeName string, side types.Side) (bool, error)
	OpenNoCostForDate(ctx context.Context, targetDate string) (float64, error)
}

// Market simulates fills and prices fees.
type Market interface {
	SimulateBuy(spec *types.RangeSpec, shares int) *types.Fill
	FeePerContract(v types.Venue, price float64) float64
}

// Config holds sizing and gating parameters.
type Config struct {
	KellyFraction       float64
	MaxBankrollPct      float64
	MinBet              float64
	NoMaxPerDate        float64
	HardRejectVolumePct float64
	WarnVolumePct       float64
	MaxVolumePct        float64
	Storage             Storage
	Market              Market
	Bankroll            *Bankroll
	Logger              *zap.Logger
}

// Executor gates and records entries.
type Executor struct {
	cfg      *Config
	storage  Storage
	market   Market
	bankroll *Bankroll
	logger   *zap.Logger
}

// New creates an executor.
func New(cfg *Config) *Executor {
	return &Executor{
		cfg:      cfg,
		storage:  cfg.Storage,
		market:   cfg.Market,
		bankroll: cfg.Bankroll,
		logger:   cfg.Logger,
	}
}

// Request is one approved candidate handed to the executor.
type Request struct {
	Spec        *types.RangeSpec
	Side        types.Side
	Probability float64
	EdgePct     float64
	Forecast    *types.Forecast
	Reason      types.EntryReason
	// MaxBankrollPctOverride replaces the model cap when positive;
	// guaranteed-win entries run with their own tighter cap.
	MaxBankrollPctOverride float64
	WUTriggered            bool
	DualConfirmed          bool
	ObservationHigh        *float64
	WUHigh                 *float64
}

// Result reports what happened to a request.
type Result struct {
	Trade        *types.Trade
	RejectReason string
}

// Rejected reports whether the request was turned away.
func (r *Result) Rejected() bool { return r.Trade == nil }

// Execute runs the entry gate and, on acceptance, persists the trade and
// charges the bankroll. The reject reason is a stable snake_case token
// recorded on the opportunity row.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Result, error) {
	spec := req.Spec
	side := req.Side

	balance := e.bankroll.Available(side)
	if balance <= e.cfg.MinBet {
		return e.reject(spec, side, "bankroll_exhausted"), nil
	}
	if spec.Volume == 0 {
		return e.reject(spec, side, "zero_volume"), nil
	}

	// NO exposure per target date is capped across venues.
	var noCost float64
	if side == types.SideNo {
		dbCost, err := e.storage.OpenNoCostForDate(ctx, spec.TargetDate)
		if err != nil {
			return nil, fmt.Errorf("no-cost lookup: %w", err)
		}
		noCost = math.Max(dbCost, e.bankroll.NoCostForDate(spec.TargetDate))
		if noCost >= e.cfg.NoMaxPerDate {
			return e.reject(spec, side, "no_date_cap"), nil
		}
	}

	exists, err := e.storage.OpenTradeExists(ctx, spec.City, spec.TargetDate, spec.Venue, spec.RangeName, side)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		return e.reject(spec, side, "duplicate_open_trade"), nil
	}

	ask := e.askFor(spec, side)
	fee := e.market.FeePerContract(spec.Venue, ask)
	kelly := fullKelly(req.Probability, fee)
	if kelly <= 0 {
		return e.reject(spec, side, "negative_kelly"), nil
	}

	fraction := kelly * e.cfg.KellyFraction
	maxPct := e.cfg.MaxBankrollPct
	if req.MaxBankrollPctOverride > 0 {
		maxPct = req.MaxBankrollPctOverride
	}
	if fraction > maxPct {
		fraction = maxPct
	}

	dollars := fraction * balance
	if side == types.SideNo {
		if remainder := e.cfg.NoMaxPerDate - noCost; dollars > remainder {
			dollars = remainder
		}
	}
	if dollars > balance {
		dollars = balance
	}
	if dollars < e.cfg.MinBet {
		return e.reject(spec, side, "below_min_bet"), nil
	}

	shares := int(math.Floor(dollars / ask))
	if shares <= 0 {
		return e.reject(spec, side, "zero_shares"), nil
	}

	pctOfVolume := float64(shares) / spec.Volume * 100
	if pctOfVolume > e.cfg.HardRejectVolumePct {
		return e.reject(spec, side, "volume_pct_exceeded"), nil
	}
	if pctOfVolume >= e.cfg.WarnVolumePct {
		e.logger.Warn("entry-large-vs-volume",
			zap.String("key", spec.Key(side)),
			zap.Float64("pct_of_volume", pctOfVolume))
	}
	if e.cfg.MaxVolumePct > 0 {
		if clipped := int(math.Floor(e.cfg.MaxVolumePct / 100 * spec.Volume)); shares > clipped {
			shares = clipped
			if shares <= 0 {
				return e.reject(spec, side, "zero_shares"), nil
			}
			pctOfVolume = float64(shares) / spec.Volume * 100
		}
	}

	fill := e.simulate(spec, side, shares)
	trade := e.buildTrade(req, ask, kelly, shares, fill, pctOfVolume)

	id, err := e.storage.InsertTrade(ctx, trade)
	if err != nil {
		// Persistence failure must not charge the bankroll.
		return nil, fmt.Errorf("%w: persist entry: %v", types.ErrPersistence, err)
	}
	trade.ID = id
	e.bankroll.Charge(side, spec.TargetDate, trade.Cost)

	TradesEnteredTotal.WithLabelValues(string(spec.Venue), string(side), string(req.Reason)).Inc()
	e.logger.Info("entry-executed",
		zap.Int64("trade_id", id),
		zap.String("key", spec.Key(side)),
		zap.String("reason", string(req.Reason)),
		zap.Int("shares", shares),
		zap.Float64("cost", trade.Cost),
		zap.Float64("probability", req.Probability))

	return &Result{Trade: trade}, nil
}

// Release credits a closed trade's cost back to its side.
func (e *Executor) Release(side types.Side, targetDate string, cost float64) {
	e.bankroll.Release(side, targetDate, cost)
}

// BankrollSnapshot exposes balances for the HTTP API.
func (e *Executor) BankrollSnapshot() (yes, no float64) {
	return e.bankroll.Snapshot()
}

func (e *Executor) reject(spec *types.RangeSpec, side types.Side, reason string) *Result {
	EntriesRejectedTotal.WithLabelValues(reason).Inc()
	e.logger.Debug("entry-rejected",
		zap.String("key", spec.Key(side)),
		zap.String("reason", reason))
	return &Result{RejectReason: reason}
}

// askFor returns the effective ask for the requested side. NO executes
// against the complement of the YES book.
func (e *Executor) askFor(spec *types.RangeSpec, side types.Side) float64 {
	if side == types.SideNo {
		return 1 - spec.Bid
	}
	return spec.Ask
}

func (e *Executor) simulate(spec *types.RangeSpec, side types.Side, shares int) *types.Fill {
	if side == types.SideNo {
		flipped := *spec
		flipped.Ask = 1 - spec.Bid
		flipped.Bid = 1 - spec.Ask
		return e.market.SimulateBuy(&flipped, shares)
	}
	return e.market.SimulateBuy(spec, shares)
}

func (e *Executor) buildTrade(req *Request, ask, kelly float64, shares int, fill *types.Fill, pctOfVolume float64) *types.Trade {
	spec := req.Spec
	bid := spec.Bid
	if req.Side == types.SideNo {
		bid = 1 - spec.Ask
	}
	t := &types.Trade{
		City:              spec.City,
		TargetDate:        spec.TargetDate,
		Venue:             spec.Venue,
		RangeName:         spec.RangeName,
		RangeMin:          spec.RangeMin,
		RangeMax:          spec.RangeMax,
		RangeType:         spec.RangeType,
		Unit:              spec.Unit,
		Side:              req.Side,
		Status:            types.TradeOpen,
		EntryAsk:          fill.Price,
		EntryBid:          bid,
		EntrySpread:       spec.Spread,
		EntryVolume:       spec.Volume,
		Shares:            shares,
		Cost:              fill.Cost,
		EntryProbability:  req.Probability,
		EntryEdgePct:      req.EdgePct,
		EntryKelly:        kelly,
		PctOfVolume:       pctOfVolume,
		EntryReason:       req.Reason,
		WUTriggered:       req.WUTriggered,
		DualConfirmed:     req.DualConfirmed,
		ObservationHigh:   req.ObservationHigh,
		WUHigh:            req.WUHigh,
		EnteredAt:         fill.Timestamp,
		MaxPriceSeen:      fill.Price,
		MinProbabilitySeen: req.Probability,
	}
	if req.Forecast != nil {
		t.EntryForecastTemp = req.Forecast.Temp
		t.EntryForecastConfidence = req.Forecast.Confidence
		t.EntryEnsemble = req.Forecast.Sources
		t.HoursToResolution = req.Forecast.HoursToResolution
	}
	if t.EnteredAt.IsZero() {
		t.EnteredAt = time.Now()
	}
	return t
}

// fullKelly is the optimal bet fraction for a binary contract at fair
// payout 1 with a per-contract fee: (p(1-fee) - (1-p)) / (1-fee).
func fullKelly(p, fee float64) float64 {
	if fee >= 1 {
		return 0
	}
	return (p*(1-fee) - (1-p)) / (1 - fee)
}

package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

const tradeColumns = `
	id, city, target_date, venue, range_name, range_min, range_max,
	range_type, range_unit, side, status,
	entry_ask, entry_bid, entry_spread, entry_volume, shares, cost,
	entry_probability, entry_edge_pct, entry_kelly, entry_forecast_temp,
	entry_forecast_confidence, entry_ensemble, pct_of_volume,
	hours_to_resolution, entry_reason, wu_triggered, dual_confirmed,
	observation_high, wu_high, entered_at,
	current_bid, current_ask, current_probability, max_price_seen,
	min_probability_seen, evaluator_log,
	exit_reason, exit_price, exit_bid, exit_ask, exit_spread, exit_volume,
	exit_probability, exit_forecast_temp, exited_at,
	actual_temp, won, pnl, fees, resolved_at, resolution_station`

// InsertTrade persists a new open trade and returns its id. The partial
// unique index on open trades makes duplicate entries a hard error, which
// is the dedup backstop behind the executor's own check.
func (p *Postgres) InsertTrade(ctx context.Context, t *types.Trade) (int64, error) {
	ensemble, err := json.Marshal(t.EntryEnsemble)
	if err != nil {
		return 0, fmt.Errorf("marshal ensemble: %w", err)
	}

	var id int64
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO trades (
			city, target_date, venue, range_name, range_min, range_max,
			range_type, range_unit, side, status,
			entry_ask, entry_bid, entry_spread, entry_volume, shares, cost,
			entry_probability, entry_edge_pct, entry_kelly, entry_forecast_temp,
			entry_forecast_confidence, entry_ensemble, pct_of_volume,
			hours_to_resolution, entry_reason, wu_triggered, dual_confirmed,
			observation_high, wu_high, entered_at,
			current_bid, current_ask, current_probability, max_price_seen,
			min_probability_seen
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35
		) RETURNING id`,
		t.City, t.TargetDate, t.Venue, t.RangeName, t.RangeMin, t.RangeMax,
		t.RangeType, t.Unit, t.Side, types.TradeOpen,
		t.EntryAsk, t.EntryBid, t.EntrySpread, t.EntryVolume, t.Shares, t.Cost,
		t.EntryProbability, t.EntryEdgePct, t.EntryKelly, t.EntryForecastTemp,
		t.EntryForecastConfidence, ensemble, t.PctOfVolume,
		t.HoursToResolution, t.EntryReason, t.WUTriggered, t.DualConfirmed,
		t.ObservationHigh, t.WUHigh, t.EnteredAt,
		t.EntryBid, t.EntryAsk, t.EntryProbability, t.EntryAsk,
		t.EntryProbability,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}

	p.logger.Info("trade-persisted",
		zap.Int64("trade_id", id),
		zap.String("city", t.City),
		zap.String("venue", string(t.Venue)),
		zap.String("range", t.RangeName),
		zap.String("side", string(t.Side)),
		zap.Float64("cost", t.Cost))
	return id, nil
}

// OpenTrades returns all trades with status open.
func (p *Postgres) OpenTrades(ctx context.Context) ([]*types.Trade, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = $1 ORDER BY id`,
		types.TradeOpen)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// OpenPositions satisfies the HTTP API's PositionReader.
func (p *Postgres) OpenPositions(ctx context.Context) ([]*types.Trade, error) {
	return p.OpenTrades(ctx)
}

// OpenTradeExists reports whether an open trade already covers the key.
func (p *Postgres) OpenTradeExists(ctx context.Context, city, targetDate string, venue types.Venue, rangeName string, side types.Side) (bool, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades
		WHERE city = $1 AND target_date = $2 AND venue = $3
		  AND range_name = $4 AND side = $5 AND status = $6`,
		city, targetDate, venue, rangeName, side, types.TradeOpen).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query trade exists: %w", err)
	}
	return n > 0, nil
}

// OpenNoCostForDate returns the summed cost of open NO trades for a target
// date, which caps further NO exposure on that date.
func (p *Postgres) OpenNoCostForDate(ctx context.Context, targetDate string) (float64, error) {
	var total float64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0) FROM trades
		WHERE target_date = $1 AND side = $2 AND status = $3`,
		targetDate, types.SideNo, types.TradeOpen).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query open no cost: %w", err)
	}
	return total, nil
}

// UpdateTradeLive writes the evaluator's per-tick live state.
func (p *Postgres) UpdateTradeLive(ctx context.Context, t *types.Trade) error {
	evalLog, err := json.Marshal(t.EvaluatorLog)
	if err != nil {
		return fmt.Errorf("marshal evaluator log: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		UPDATE trades SET
			current_bid = $2,
			current_ask = $3,
			current_probability = $4,
			max_price_seen = GREATEST(max_price_seen, $5),
			min_probability_seen = LEAST(min_probability_seen, $6),
			evaluator_log = $7
		WHERE id = $1`,
		t.ID, t.CurrentBid, t.CurrentAsk, t.CurrentProbability,
		t.MaxPriceSeen, t.MinProbabilitySeen, evalLog)
	if err != nil {
		return fmt.Errorf("update trade live state: %w", err)
	}
	return nil
}

// ExitTrade marks a trade exited with its exit snapshot and realized pnl.
func (p *Postgres) ExitTrade(ctx context.Context, t *types.Trade) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE trades SET
			status = $2, exit_reason = $3, exit_price = $4,
			exit_bid = $5, exit_ask = $6, exit_spread = $7, exit_volume = $8,
			exit_probability = $9, exit_forecast_temp = $10, exited_at = $11,
			pnl = $12, fees = $13, won = $14, actual_temp = $15
		WHERE id = $1 AND status = $16`,
		t.ID, types.TradeExited, t.ExitReason, t.ExitPrice,
		t.ExitBid, t.ExitAsk, t.ExitSpread, t.ExitVolume,
		t.ExitProbability, t.ExitForecastTemp, t.ExitedAt,
		t.PnL, t.Fees, t.Won, t.ActualTemp, types.TradeOpen)
	if err != nil {
		return fmt.Errorf("exit trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("exit trade rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: trade %d not open", types.ErrValidation, t.ID)
	}

	p.logger.Info("trade-exited",
		zap.Int64("trade_id", t.ID),
		zap.String("reason", t.ExitReason),
		zap.Float64("exit_price", t.ExitPrice))
	return nil
}

// ResolveTrade marks a trade resolved with the settlement outcome.
func (p *Postgres) ResolveTrade(ctx context.Context, t *types.Trade) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE trades SET
			status = $2, actual_temp = $3, won = $4,
			pnl = $5, fees = $6, resolved_at = $7, resolution_station = $8
		WHERE id = $1 AND status = $9`,
		t.ID, types.TradeResolved, t.ActualTemp, t.Won,
		t.PnL, t.Fees, t.ResolvedAt, t.ResolutionStation, types.TradeOpen)
	if err != nil {
		return fmt.Errorf("resolve trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve trade rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: trade %d not open", types.ErrValidation, t.ID)
	}

	won := t.Won != nil && *t.Won
	var pnl float64
	if t.PnL != nil {
		pnl = *t.PnL
	}
	p.logger.Info("trade-resolved",
		zap.Int64("trade_id", t.ID),
		zap.Bool("won", won),
		zap.Float64("pnl", pnl),
		zap.String("station", t.ResolutionStation))
	return nil
}

// ResolvedActualTemp returns the settlement temperature an earlier cycle
// recorded for this city, date and venue, or nil when none exists. Reusing
// it keeps every trade on the same settlement value even if the upstream
// source drifts between cycles.
func (p *Postgres) ResolvedActualTemp(ctx context.Context, city, targetDate string, venue types.Venue) (*float64, error) {
	var temp *float64
	err := p.db.QueryRowContext(ctx, `
		SELECT actual_temp FROM trades
		WHERE city = $1 AND target_date = $2 AND venue = $3
		  AND status = $4 AND actual_temp IS NOT NULL
		ORDER BY resolved_at DESC
		LIMIT 1`,
		city, targetDate, venue, types.TradeResolved).Scan(&temp)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query resolved actual temp: %w", err)
	}
	return temp, nil
}

func scanTrades(rows *sql.Rows) ([]*types.Trade, error) {
	var out []*types.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return out, nil
}

func scanTrade(rows *sql.Rows) (*types.Trade, error) {
	var t types.Trade
	var ensemble, evalLog []byte
	err := rows.Scan(
		&t.ID, &t.City, &t.TargetDate, &t.Venue, &t.RangeName,
		&t.RangeMin, &t.RangeMax, &t.RangeType, &t.Unit, &t.Side, &t.Status,
		&t.EntryAsk, &t.EntryBid, &t.EntrySpread, &t.EntryVolume,
		&t.Shares, &t.Cost,
		&t.EntryProbability, &t.EntryEdgePct, &t.EntryKelly,
		&t.EntryForecastTemp, &t.EntryForecastConfidence, &ensemble,
		&t.PctOfVolume, &t.HoursToResolution, &t.EntryReason,
		&t.WUTriggered, &t.DualConfirmed,
		&t.ObservationHigh, &t.WUHigh, &t.EnteredAt,
		&t.CurrentBid, &t.CurrentAsk, &t.CurrentProbability,
		&t.MaxPriceSeen, &t.MinProbabilitySeen, &evalLog,
		&t.ExitReason, &t.ExitPrice, &t.ExitBid, &t.ExitAsk,
		&t.ExitSpread, &t.ExitVolume, &t.ExitProbability,
		&t.ExitForecastTemp, &t.ExitedAt,
		&t.ActualTemp, &t.Won, &t.PnL, &t.Fees,
		&t.ResolvedAt, &t.ResolutionStation,
	)
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	if len(ensemble) > 0 {
		if err := json.Unmarshal(ensemble, &t.EntryEnsemble); err != nil {
			return nil, fmt.Errorf("unmarshal ensemble: %w", err)
		}
	}
	if len(evalLog) > 0 {
		if err := json.Unmarshal(evalLog, &t.EvaluatorLog); err != nil {
			return nil, fmt.Errorf("unmarshal evaluator log: %w", err)
		}
	}
	return &t, nil
}

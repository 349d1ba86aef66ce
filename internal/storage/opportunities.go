package storage

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

// InsertOpportunity records one scored candidate. Every candidate that
// passes the edge threshold lands here whether or not a trade followed.
func (p *Postgres) InsertOpportunity(ctx context.Context, o *types.Opportunity) error {
	sources, err := json.Marshal(o.ForecastSources)
	if err != nil {
		return fmt.Errorf("marshal forecast sources: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO opportunities (
			id, city, target_date, venue, range_name, range_min, range_max,
			range_type, range_unit, side, bid, ask, spread, volume,
			probability, edge_pct, kelly, forecast_temp, forecast_std_dev,
			confidence, forecast_sources, hours_to_resolution,
			lead_time_bucket, price_bucket, accepted, reject_reason,
			trade_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28
		)`,
		o.ID, o.City, o.TargetDate, o.Venue, o.RangeName, o.RangeMin, o.RangeMax,
		o.RangeType, o.Unit, o.Side, o.Bid, o.Ask, o.Spread, o.Volume,
		o.Probability, o.EdgePct, o.Kelly, o.ForecastTemp, o.ForecastStdDev,
		o.Confidence, sources, o.HoursToResolution,
		types.LeadTimeBucket(o.HoursToResolution), types.PriceBucket(o.Ask),
		o.Accepted, o.RejectReason, o.TradeID, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}
	return nil
}

// UnresolvedOpportunity is the slim view the resolver backfills.
type UnresolvedOpportunity struct {
	ID         string
	City       string
	TargetDate string
	RangeMin   *float64
	RangeMax   *float64
	RangeType  types.RangeType
	Unit       types.Unit
	Side       types.Side
	Venue      types.Venue
}

// UnresolvedOpportunitiesBefore returns opportunities on past target dates
// that have no actual temperature yet, capped at limit per cycle.
func (p *Postgres) UnresolvedOpportunitiesBefore(ctx context.Context, beforeDate string, limit int) ([]*UnresolvedOpportunity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, city, target_date, range_min, range_max, range_type,
			range_unit, side, venue
		FROM opportunities
		WHERE target_date < $1 AND actual_temp IS NULL
		ORDER BY target_date, created_at
		LIMIT $2`,
		beforeDate, limit)
	if err != nil {
		return nil, fmt.Errorf("query unresolved opportunities: %w", err)
	}
	defer rows.Close()

	var out []*UnresolvedOpportunity
	for rows.Next() {
		var o UnresolvedOpportunity
		err := rows.Scan(&o.ID, &o.City, &o.TargetDate, &o.RangeMin, &o.RangeMax,
			&o.RangeType, &o.Unit, &o.Side, &o.Venue)
		if err != nil {
			return nil, fmt.Errorf("scan unresolved opportunity: %w", err)
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unresolved opportunities: %w", err)
	}
	return out, nil
}

// BackfillOpportunity writes the settled temperature and outcome.
func (p *Postgres) BackfillOpportunity(ctx context.Context, id string, actualTemp float64, wouldHaveWon bool) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE opportunities SET actual_temp = $2, would_have_won = $3
		WHERE id = $1`,
		id, actualTemp, wouldHaveWon)
	if err != nil {
		return fmt.Errorf("backfill opportunity: %w", err)
	}
	p.logger.Debug("opportunity-backfilled",
		zap.String("opportunity_id", id),
		zap.Bool("would_have_won", wouldHaveWon))
	return nil
}

// CalibrationCount is one resolved-YES bucket aggregate.
type CalibrationCount struct {
	Venue          types.Venue
	RangeType      types.RangeType
	LeadTimeBucket string
	PriceBucket    string
	Wins           int
	N              int
}

// CalibrationCounts aggregates resolved YES opportunities per bucket.
// Calibration is built from YES rows only; a NO candidate is the complement
// of a YES at one minus the price and would double count.
func (p *Postgres) CalibrationCounts(ctx context.Context) ([]*CalibrationCount, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT venue, range_type, lead_time_bucket, price_bucket,
			COUNT(*) FILTER (WHERE would_have_won), COUNT(*)
		FROM opportunities
		WHERE side = $1 AND would_have_won IS NOT NULL
		GROUP BY venue, range_type, lead_time_bucket, price_bucket`,
		types.SideYes)
	if err != nil {
		return nil, fmt.Errorf("query calibration counts: %w", err)
	}
	defer rows.Close()

	var out []*CalibrationCount
	for rows.Next() {
		var c CalibrationCount
		err := rows.Scan(&c.Venue, &c.RangeType, &c.LeadTimeBucket,
			&c.PriceBucket, &c.Wins, &c.N)
		if err != nil {
			return nil, fmt.Errorf("scan calibration count: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calibration counts: %w", err)
	}
	return out, nil
}

package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

// RecomputeCalibration rebuilds the market_calibration table from resolved
// YES opportunities. Wilson score bounds at 95 percent.
func (p *Postgres) RecomputeCalibration(ctx context.Context) error {
	counts, err := p.CalibrationCounts(ctx)
	if err != nil {
		return fmt.Errorf("recompute calibration: %w", err)
	}

	for _, c := range counts {
		rate := float64(c.Wins) / float64(c.N)
		lower, upper := wilsonInterval(c.Wins, c.N)

		_, err := p.db.ExecContext(ctx, `
			INSERT INTO market_calibration (
				venue, range_type, lead_time_bucket, price_bucket,
				wins, n, empirical_win_rate, lower_bound, upper_bound, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (venue, range_type, lead_time_bucket, price_bucket) DO UPDATE SET
				wins = EXCLUDED.wins,
				n = EXCLUDED.n,
				empirical_win_rate = EXCLUDED.empirical_win_rate,
				lower_bound = EXCLUDED.lower_bound,
				upper_bound = EXCLUDED.upper_bound,
				updated_at = EXCLUDED.updated_at`,
			c.Venue, c.RangeType, c.LeadTimeBucket, c.PriceBucket,
			c.Wins, c.N, rate, lower, upper, time.Now())
		if err != nil {
			return fmt.Errorf("upsert calibration bucket: %w", err)
		}
	}

	p.logger.Info("calibration-recomputed", zap.Int("buckets", len(counts)))
	return nil
}

// GetCalibration returns the bucket for a candidate, or nil when the
// bucket has never been populated.
func (p *Postgres) GetCalibration(ctx context.Context, venue types.Venue, rangeType types.RangeType, leadBucket, priceBucket string) (*types.Calibration, error) {
	var c types.Calibration
	err := p.db.QueryRowContext(ctx, `
		SELECT venue, range_type, lead_time_bucket, price_bucket,
			wins, n, empirical_win_rate, lower_bound, upper_bound, updated_at
		FROM market_calibration
		WHERE venue = $1 AND range_type = $2
		  AND lead_time_bucket = $3 AND price_bucket = $4`,
		venue, rangeType, leadBucket, priceBucket).Scan(
		&c.Venue, &c.RangeType, &c.LeadTimeBucket, &c.PriceBucket,
		&c.Wins, &c.N, &c.EmpiricalWinRate, &c.LowerBound, &c.UpperBound,
		&c.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query calibration: %w", err)
	}
	return &c, nil
}

// wilsonInterval returns the 95 percent Wilson score interval for wins/n.
func wilsonInterval(wins, n int) (lower, upper float64) {
	if n == 0 {
		return 0, 1
	}
	const z = 1.96
	nf := float64(n)
	phat := float64(wins) / nf
	denom := 1 + z*z/nf
	center := (phat + z*z/(2*nf)) / denom
	margin := z * math.Sqrt(phat*(1-phat)/nf+z*z/(4*nf*nf)) / denom
	lower = center - margin
	upper = center + margin
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}
	return lower, upper
}

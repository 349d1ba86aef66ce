package storage

import (
	"context"
	"fmt"
	"math"
)

// InsertForecastAccuracy records one source's error for a settled day.
// One row per (city, date, source); resolver re-runs are no-ops.
func (p *Postgres) InsertForecastAccuracy(ctx context.Context, city, targetDate, source string, forecastTemp, actualTemp float64, unit string, hoursBefore float64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO forecast_accuracy (
			city, target_date, source, forecast_temp, actual_temp,
			error, abs_error, unit, hours_before_resolution
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (city, target_date, source) DO NOTHING`,
		city, targetDate, source, forecastTemp, actualTemp,
		forecastTemp-actualTemp, math.Abs(forecastTemp-actualTemp),
		unit, hoursBefore)
	if err != nil {
		return fmt.Errorf("insert forecast accuracy: %w", err)
	}
	return nil
}

// SourceBias returns the mean signed error of a source for a city over the
// lookback window, with the sample count.
func (p *Postgres) SourceBias(ctx context.Context, city, source string, windowDays int) (float64, int, error) {
	var bias float64
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(error), 0), COUNT(*)
		FROM forecast_accuracy
		WHERE city = $1 AND source = $2
		  AND created_at >= now() - ($3 || ' days')::interval`,
		city, source, windowDays).Scan(&bias, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("query source bias: %w", err)
	}
	return bias, n, nil
}

// CityResidualStdDev returns the standard deviation of the blended
// forecast error for a city, with the sample count. Callers fall back to
// lead-time defaults below their minimum sample size.
func (p *Postgres) CityResidualStdDev(ctx context.Context, city string, windowDays int) (float64, int, error) {
	var stddev float64
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(STDDEV_SAMP(error), 0), COUNT(*)
		FROM forecast_accuracy
		WHERE city = $1 AND source = $2
		  AND created_at >= now() - ($3 || ' days')::interval`,
		city, blendedSource, windowDays).Scan(&stddev, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("query residual stddev: %w", err)
	}
	return stddev, n, nil
}

// CityMAE returns the mean absolute error of the blended forecast for a
// city, with the sample count. Gates city eligibility for model entries.
func (p *Postgres) CityMAE(ctx context.Context, city string, windowDays int) (float64, int, error) {
	var mae float64
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(abs_error), 0), COUNT(*)
		FROM forecast_accuracy
		WHERE city = $1 AND source = $2
		  AND created_at >= now() - ($3 || ' days')::interval`,
		city, blendedSource, windowDays).Scan(&mae, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("query city mae: %w", err)
	}
	return mae, n, nil
}

// blendedSource is the pseudo-source name under which the ensemble's
// bias-corrected blend is tracked alongside the individual providers.
const blendedSource = "blended"

// BlendedSource exposes the pseudo-source name for writers.
func BlendedSource() string { return blendedSource }

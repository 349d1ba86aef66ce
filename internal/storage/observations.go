package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/nmoreira/weatheredge/pkg/types"
)

// UpsertObservation inserts one station poll row. Re-polls of the same
// observation timestamp only ever raise the running highs; a stale or
// lower reading can never shrink them.
func (p *Postgres) UpsertObservation(ctx context.Context, o *types.Observation) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO metar_observations (
			city, target_date, station_id, observed_at, local_hour,
			temp_c, temp_f, running_high_c, running_high_f,
			wu_high_f, wu_high_c, observation_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (city, target_date, station_id, observed_at) DO UPDATE SET
			running_high_c = GREATEST(metar_observations.running_high_c, EXCLUDED.running_high_c),
			running_high_f = GREATEST(metar_observations.running_high_f, EXCLUDED.running_high_f),
			wu_high_f = CASE
				WHEN EXCLUDED.wu_high_f IS NULL THEN metar_observations.wu_high_f
				ELSE GREATEST(COALESCE(metar_observations.wu_high_f, EXCLUDED.wu_high_f), EXCLUDED.wu_high_f)
			END,
			wu_high_c = CASE
				WHEN EXCLUDED.wu_high_c IS NULL THEN metar_observations.wu_high_c
				ELSE GREATEST(COALESCE(metar_observations.wu_high_c, EXCLUDED.wu_high_c), EXCLUDED.wu_high_c)
			END,
			observation_count = metar_observations.observation_count + 1`,
		o.City, o.TargetDate, o.StationID, o.ObservedAt, o.LocalHour,
		o.TempC, o.TempF, o.RunningHighC, o.RunningHighF,
		o.WUHighF, o.WUHighC, o.ObservationCount)
	if err != nil {
		return fmt.Errorf("upsert observation: %w", err)
	}
	return nil
}

// RunningHigh is the day-high summary per (city, date, station).
type RunningHigh struct {
	City       string
	TargetDate string
	StationID  string
	HighC      float64
	HighF      float64
	WUHighF    *float64
	Count      int
}

// RunningHighKey keys the map returned by RunningHighs.
func RunningHighKey(city, targetDate, stationID string) string {
	return city + "|" + targetDate + "|" + stationID
}

// RunningHighs returns the maximum observed temperatures per station for
// the given target dates in one query, keyed by RunningHighKey.
func (p *Postgres) RunningHighs(ctx context.Context, targetDates []string) (map[string]*RunningHigh, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT city, target_date, station_id,
			MAX(running_high_c), MAX(running_high_f), MAX(wu_high_f),
			SUM(observation_count)
		FROM metar_observations
		WHERE target_date = ANY($1)
		GROUP BY city, target_date, station_id`,
		pq.Array(targetDates))
	if err != nil {
		return nil, fmt.Errorf("query running highs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*RunningHigh)
	for rows.Next() {
		var h RunningHigh
		err := rows.Scan(&h.City, &h.TargetDate, &h.StationID,
			&h.HighC, &h.HighF, &h.WUHighF, &h.Count)
		if err != nil {
			return nil, fmt.Errorf("scan running high: %w", err)
		}
		out[RunningHighKey(h.City, h.TargetDate, h.StationID)] = &h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate running highs: %w", err)
	}
	return out, nil
}

// StationHigh returns the final observed high for one station and date.
// A day with no observation rows returns (nil, nil) so settlement chains
// can fall through to the next source.
func (p *Postgres) StationHigh(ctx context.Context, city, targetDate, stationID string) (*RunningHigh, error) {
	var h RunningHigh
	err := p.db.QueryRowContext(ctx, `
		SELECT city, target_date, station_id,
			MAX(running_high_c), MAX(running_high_f), MAX(wu_high_f),
			SUM(observation_count)
		FROM metar_observations
		WHERE city = $1 AND target_date = $2 AND station_id = $3
		GROUP BY city, target_date, station_id`,
		city, targetDate, stationID).Scan(
		&h.City, &h.TargetDate, &h.StationID,
		&h.HighC, &h.HighF, &h.WUHighF, &h.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query station high: %w", err)
	}
	return &h, nil
}

// PeakHours returns the local hours at which each day's high was first
// reached for a city over the lookback window. Feeds the peak-hour
// estimator used by intraday probability conditioning.
func (p *Postgres) PeakHours(ctx context.Context, city string, since time.Time) ([]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT MIN(o.local_hour)
		FROM metar_observations o
		JOIN (
			SELECT city, target_date, station_id, MAX(running_high_f) AS high_f
			FROM metar_observations
			WHERE city = $1 AND observed_at >= $2
			GROUP BY city, target_date, station_id
		) d ON d.city = o.city AND d.target_date = o.target_date
			AND d.station_id = o.station_id AND o.temp_f >= d.high_f
		GROUP BY o.target_date, o.station_id`,
		city, since)
	if err != nil {
		return nil, fmt.Errorf("query peak hours: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var hour int
		if err := rows.Scan(&hour); err != nil {
			return nil, fmt.Errorf("scan peak hour: %w", err)
		}
		out = append(out, hour)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peak hours: %w", err)
	}
	return out, nil
}

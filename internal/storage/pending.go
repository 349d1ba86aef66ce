package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

// InsertPendingEvent records a threshold-crossing detection. The unique
// key makes re-detections no-ops; the return value reports whether this
// call was the first detection.
func (p *Postgres) InsertPendingEvent(ctx context.Context, e *types.PendingEvent) (bool, error) {
	books, err := json.Marshal(e.Orderbooks)
	if err != nil {
		return false, fmt.Errorf("marshal orderbooks: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO metar_pending_events (
			city, target_date, venue, range_name, side,
			metar_high, wu_high, metar_gap, ask_at_detection,
			orderbooks, poll_source, wu_triggered, detected_at,
			wu_confirmed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (city, target_date, venue, range_name, side) DO NOTHING`,
		e.City, e.TargetDate, e.Venue, e.RangeName, e.Side,
		e.MetarHigh, e.WUHigh, e.MetarGap, e.AskAtDetection,
		books, e.PollSource, e.WUTriggered, e.DetectedAt,
		e.WUConfirmedAt)
	if err != nil {
		return false, fmt.Errorf("insert pending event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert pending event rows affected: %w", err)
	}
	if n > 0 {
		p.logger.Info("pending-event-recorded",
			zap.String("city", e.City),
			zap.String("target_date", e.TargetDate),
			zap.String("venue", string(e.Venue)),
			zap.String("range", e.RangeName),
			zap.String("side", string(e.Side)),
			zap.Float64("metar_high", e.MetarHigh),
			zap.String("poll_source", string(e.PollSource)))
	}
	return n > 0, nil
}

// PendingEvents returns the pending events for one city and date.
func (p *Postgres) PendingEvents(ctx context.Context, city, targetDate string) ([]*types.PendingEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT city, target_date, venue, range_name, side,
			metar_high, wu_high, metar_gap, ask_at_detection,
			orderbooks, poll_source, wu_triggered, detected_at,
			wu_confirmed_at, market_repriced_at, kalshi_market_repriced_at
		FROM metar_pending_events
		WHERE city = $1 AND target_date = $2`,
		city, targetDate)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	var out []*types.PendingEvent
	for rows.Next() {
		var e types.PendingEvent
		var books []byte
		err := rows.Scan(&e.City, &e.TargetDate, &e.Venue, &e.RangeName, &e.Side,
			&e.MetarHigh, &e.WUHigh, &e.MetarGap, &e.AskAtDetection,
			&books, &e.PollSource, &e.WUTriggered, &e.DetectedAt,
			&e.WUConfirmedAt, &e.MarketRepricedAt, &e.KalshiMarketRepricedAt)
		if err != nil {
			return nil, fmt.Errorf("scan pending event: %w", err)
		}
		if len(books) > 0 {
			if err := json.Unmarshal(books, &e.Orderbooks); err != nil {
				return nil, fmt.Errorf("unmarshal orderbooks: %w", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending events: %w", err)
	}
	return out, nil
}

// PendingEventKey keys the map returned by PendingEventsForDates.
func PendingEventKey(city, targetDate string) string {
	return city + "|" + targetDate
}

// PendingEventsForDates returns all pending events for the given target
// dates in one query, grouped by PendingEventKey. The fast loop calls this
// once per tick instead of once per city.
func (p *Postgres) PendingEventsForDates(ctx context.Context, targetDates []string) (map[string][]*types.PendingEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT city, target_date, venue, range_name, side,
			metar_high, wu_high, metar_gap, ask_at_detection,
			orderbooks, poll_source, wu_triggered, detected_at,
			wu_confirmed_at, market_repriced_at, kalshi_market_repriced_at
		FROM metar_pending_events
		WHERE target_date = ANY($1)`,
		pq.Array(targetDates))
	if err != nil {
		return nil, fmt.Errorf("query pending events batch: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]*types.PendingEvent)
	for rows.Next() {
		var e types.PendingEvent
		var books []byte
		err := rows.Scan(&e.City, &e.TargetDate, &e.Venue, &e.RangeName, &e.Side,
			&e.MetarHigh, &e.WUHigh, &e.MetarGap, &e.AskAtDetection,
			&books, &e.PollSource, &e.WUTriggered, &e.DetectedAt,
			&e.WUConfirmedAt, &e.MarketRepricedAt, &e.KalshiMarketRepricedAt)
		if err != nil {
			return nil, fmt.Errorf("scan pending event: %w", err)
		}
		if len(books) > 0 {
			if err := json.Unmarshal(books, &e.Orderbooks); err != nil {
				return nil, fmt.Errorf("unmarshal orderbooks: %w", err)
			}
		}
		k := PendingEventKey(e.City, e.TargetDate)
		out[k] = append(out[k], &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending events batch: %w", err)
	}
	return out, nil
}

// LatchWUConfirmed stamps the crowd-provider confirmation time once.
// Later calls never move an already latched timestamp.
func (p *Postgres) LatchWUConfirmed(ctx context.Context, city, targetDate string, venue types.Venue, rangeName string, side types.Side, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE metar_pending_events SET wu_confirmed_at = $6
		WHERE city = $1 AND target_date = $2 AND venue = $3
		  AND range_name = $4 AND side = $5 AND wu_confirmed_at IS NULL`,
		city, targetDate, venue, rangeName, side, at)
	if err != nil {
		return fmt.Errorf("latch wu confirmed: %w", err)
	}
	return nil
}

// LatchMarketRepriced stamps the first time the named venue's ask crossed
// the repricing threshold after detection. Latched once per venue column.
func (p *Postgres) LatchMarketRepriced(ctx context.Context, city, targetDate string, venue types.Venue, rangeName string, side types.Side, repricedVenue types.Venue, at time.Time) error {
	col := "market_repriced_at"
	if repricedVenue == types.VenueKalshi {
		col = "kalshi_market_repriced_at"
	}
	// col is one of two fixed identifiers, never caller input.
	q := fmt.Sprintf(`
		UPDATE metar_pending_events SET %s = $6
		WHERE city = $1 AND target_date = $2 AND venue = $3
		  AND range_name = $4 AND side = $5 AND %s IS NULL`, col, col)

	_, err := p.db.ExecContext(ctx, q, city, targetDate, venue, rangeName, side, at)
	if err != nil {
		return fmt.Errorf("latch market repriced: %w", err)
	}
	return nil
}

// UpdatePendingHighs refreshes the latest observed highs on a pending row.
func (p *Postgres) UpdatePendingHighs(ctx context.Context, city, targetDate string, venue types.Venue, rangeName string, side types.Side, metarHigh float64, wuHigh *float64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE metar_pending_events SET
			metar_high = GREATEST(metar_high, $6),
			wu_high = CASE
				WHEN $7::double precision IS NULL THEN wu_high
				ELSE GREATEST(COALESCE(wu_high, $7), $7)
			END
		WHERE city = $1 AND target_date = $2 AND venue = $3
		  AND range_name = $4 AND side = $5`,
		city, targetDate, venue, rangeName, side, metarHigh, wuHigh)
	if err != nil {
		return fmt.Errorf("update pending highs: %w", err)
	}
	return nil
}

// InsertWULeadsEvent records the crowd provider leading the airport by the
// configured gap. First detection only; repeats are no-ops.
func (p *Postgres) InsertWULeadsEvent(ctx context.Context, e *types.WULeadsEvent) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO wu_leads_events (
			city, target_date, station_id, wu_high_f, metar_high_f,
			gap_f, local_hour, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (city, target_date, station_id) DO NOTHING`,
		e.City, e.TargetDate, e.StationID, e.WUHighF, e.MetarHighF,
		e.GapF, e.LocalHour, e.DetectedAt)
	if err != nil {
		return false, fmt.Errorf("insert wu leads event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert wu leads rows affected: %w", err)
	}
	return n > 0, nil
}

// LatchWULeadMetarConfirmed stamps when the airport reading caught up to a
// previously recorded crowd lead.
func (p *Postgres) LatchWULeadMetarConfirmed(ctx context.Context, city, targetDate, stationID string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE wu_leads_events SET metar_confirmed_at = $4
		WHERE city = $1 AND target_date = $2 AND station_id = $3
		  AND metar_confirmed_at IS NULL`,
		city, targetDate, stationID, at)
	if err != nil {
		return fmt.Errorf("latch wu lead metar confirmed: %w", err)
	}
	return nil
}

// UnconfirmedWULeads returns crowd leads for a date that the airport never
// confirmed, for the observer's end-of-day summary.
func (p *Postgres) UnconfirmedWULeads(ctx context.Context, targetDate string) ([]*types.WULeadsEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT city, target_date, station_id, wu_high_f, metar_high_f,
			gap_f, local_hour, detected_at, metar_confirmed_at
		FROM wu_leads_events
		WHERE target_date = $1 AND metar_confirmed_at IS NULL`,
		targetDate)
	if err != nil {
		return nil, fmt.Errorf("query unconfirmed wu leads: %w", err)
	}
	defer rows.Close()

	var out []*types.WULeadsEvent
	for rows.Next() {
		var e types.WULeadsEvent
		err := rows.Scan(&e.City, &e.TargetDate, &e.StationID, &e.WUHighF,
			&e.MetarHighF, &e.GapF, &e.LocalHour, &e.DetectedAt,
			&e.MetarConfirmedAt)
		if err != nil {
			return nil, fmt.Errorf("scan wu leads event: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wu leads events: %w", err)
	}
	return out, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AuditRow is one daily-high audit record from an independent source.
type AuditRow struct {
	City       string
	StationID  string
	TargetDate string
	HighF      float64
	Count      int
	SourceTag  string
}

// UpsertWUAudit records the crowd provider's daily high for later
// comparison against the settlement value.
func (p *Postgres) UpsertWUAudit(ctx context.Context, r *AuditRow) error {
	return p.upsertAudit(ctx, "wu_audit", r)
}

// UpsertCLIAudit records the climate-report daily high.
func (p *Postgres) UpsertCLIAudit(ctx context.Context, r *AuditRow) error {
	return p.upsertAudit(ctx, "cli_audit", r)
}

func (p *Postgres) upsertAudit(ctx context.Context, table string, r *AuditRow) error {
	// table is one of two fixed identifiers, never caller input.
	q := fmt.Sprintf(`
		INSERT INTO %s (city, station_id, target_date, high_f, observation_count, source_tag)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (city, station_id, target_date) DO UPDATE SET
			high_f = EXCLUDED.high_f,
			observation_count = EXCLUDED.observation_count,
			source_tag = EXCLUDED.source_tag,
			fetched_at = now()`, table)

	_, err := p.db.ExecContext(ctx, q,
		r.City, r.StationID, r.TargetDate, r.HighF, r.Count, r.SourceTag)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// GetCLIAudit returns the climate-report high for a station day, or nil.
func (p *Postgres) GetCLIAudit(ctx context.Context, city, stationID, targetDate string) (*AuditRow, error) {
	var r AuditRow
	err := p.db.QueryRowContext(ctx, `
		SELECT city, station_id, target_date, high_f, observation_count, source_tag
		FROM cli_audit
		WHERE city = $1 AND station_id = $2 AND target_date = $3`,
		city, stationID, targetDate).Scan(
		&r.City, &r.StationID, &r.TargetDate, &r.HighF, &r.Count, &r.SourceTag)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query cli audit: %w", err)
	}
	return &r, nil
}

// GetWUAudit returns the crowd provider's recorded high for a station day,
// or nil.
func (p *Postgres) GetWUAudit(ctx context.Context, city, stationID, targetDate string) (*AuditRow, error) {
	var r AuditRow
	err := p.db.QueryRowContext(ctx, `
		SELECT city, station_id, target_date, high_f, observation_count, source_tag
		FROM wu_audit
		WHERE city = $1 AND station_id = $2 AND target_date = $3`,
		city, stationID, targetDate).Scan(
		&r.City, &r.StationID, &r.TargetDate, &r.HighF, &r.Count, &r.SourceTag)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query wu audit: %w", err)
	}
	return &r, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clawbuds/backend/internal/domain"
)

// CreateBriefing stores a generated briefing.
func (s *Store) CreateBriefing(ctx context.Context, b *domain.Briefing) error {
	_, err := s.exec(ctx, `INSERT INTO briefings (id, claw_id, briefing_type, content, raw_data, generated_at, acknowledged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.ClawID, string(b.Type), b.Content, encodeRaw(b.RawData, "{}"),
		msec(b.GeneratedAt), nullMsec(b.AcknowledgedAt))
	return err
}

// GetBriefing fetches one briefing.
func (s *Store) GetBriefing(ctx context.Context, id string) (*domain.Briefing, error) {
	row := s.queryRow(ctx, `SELECT id, claw_id, briefing_type, content, raw_data, generated_at, acknowledged_at
		FROM briefings WHERE id = $1`, id)
	return scanBriefing(row.Scan)
}

// ListBriefings returns the claw's briefings, newest first, optionally
// filtered by type.
func (s *Store) ListBriefings(ctx context.Context, clawID string, briefingType domain.BriefingType, limit int) ([]*domain.Briefing, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, claw_id, briefing_type, content, raw_data, generated_at, acknowledged_at
		FROM briefings WHERE claw_id = $1`
	args := []interface{}{clawID}
	if briefingType != "" {
		q += ` AND briefing_type = $2`
		args = append(args, string(briefingType))
	}
	q += fmt.Sprintf(` ORDER BY generated_at DESC LIMIT %d`, limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Briefing
	for rows.Next() {
		b, err := scanBriefing(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestBriefing returns the claw's most recent briefing of a type.
func (s *Store) LatestBriefing(ctx context.Context, clawID string, briefingType domain.BriefingType) (*domain.Briefing, error) {
	row := s.queryRow(ctx, `SELECT id, claw_id, briefing_type, content, raw_data, generated_at, acknowledged_at
		FROM briefings WHERE claw_id = $1 AND briefing_type = $2
		ORDER BY generated_at DESC LIMIT 1`, clawID, string(briefingType))
	return scanBriefing(row.Scan)
}

// AcknowledgeBriefing stamps the acknowledgement time. Re-acknowledging
// keeps the original stamp.
func (s *Store) AcknowledgeBriefing(ctx context.Context, id, clawID string, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE briefings SET acknowledged_at = $1
		WHERE id = $2 AND claw_id = $3 AND acknowledged_at IS NULL`, msec(at), id, clawID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing briefing from an already-acknowledged one.
		var exists int
		if err := s.queryRow(ctx, `SELECT COUNT(*) FROM briefings WHERE id = $1 AND claw_id = $2`,
			id, clawID).Scan(&exists); err != nil {
			return mapErr(err)
		}
		if exists == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// ListRecentDailyBriefings returns the claw's last n daily briefings, newest
// first. The reading-pattern sweep inspects their acknowledgement times.
func (s *Store) ListRecentDailyBriefings(ctx context.Context, clawID string, n int) ([]*domain.Briefing, error) {
	return s.ListBriefings(ctx, clawID, domain.BriefingDaily, n)
}

func scanBriefing(scan func(...interface{}) error) (*domain.Briefing, error) {
	var (
		b            domain.Briefing
		briefingType string
		rawData      string
		generated    int64
		acked        sql.NullInt64
	)
	err := scan(&b.ID, &b.ClawID, &briefingType, &b.Content, &rawData, &generated, &acked)
	if err != nil {
		return nil, mapErr(err)
	}
	b.Type = domain.BriefingType(briefingType)
	b.RawData = decodeRaw(rawData)
	b.GeneratedAt = fromMsec(generated)
	b.AcknowledgedAt = timePtr(acked)
	return &b, nil
}

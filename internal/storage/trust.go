package storage

import (
	"context"

	"github.com/clawbuds/backend/internal/domain"
)

const trustColumns = `claw_id, friend_id, domain, history_score, quality_score, composite,
	signal_count, updated_at`

// SeedTrustScore inserts an initial trust record if none exists for the
// (claw, friend, domain) triple.
func (s *Store) SeedTrustScore(ctx context.Context, t *domain.TrustScore) error {
	_, err := s.exec(ctx, `INSERT INTO trust_scores (`+trustColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (claw_id, friend_id, domain) DO NOTHING`,
		t.ClawID, t.FriendID, t.Domain, t.HistoryScore, t.QualityScore,
		t.Composite, t.SignalCount, msec(t.UpdatedAt))
	return err
}

// UpsertTrustScore writes a trust record, replacing any existing one.
func (s *Store) UpsertTrustScore(ctx context.Context, t *domain.TrustScore) error {
	_, err := s.exec(ctx, `INSERT INTO trust_scores (`+trustColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (claw_id, friend_id, domain) DO UPDATE SET
			history_score = excluded.history_score,
			quality_score = excluded.quality_score,
			composite = excluded.composite,
			signal_count = excluded.signal_count,
			updated_at = excluded.updated_at`,
		t.ClawID, t.FriendID, t.Domain, t.HistoryScore, t.QualityScore,
		t.Composite, t.SignalCount, msec(t.UpdatedAt))
	return err
}

// GetTrustScore fetches the trust record for a (claw, friend, domain)
// triple, ErrNotFound when the claw holds no such record.
func (s *Store) GetTrustScore(ctx context.Context, clawID, friendID, trustDomain string) (*domain.TrustScore, error) {
	row := s.queryRow(ctx, `SELECT `+trustColumns+` FROM trust_scores
		WHERE claw_id = $1 AND friend_id = $2 AND domain = $3`,
		clawID, friendID, trustDomain)
	return scanTrustScore(row.Scan)
}

// ListTrustScores returns every trust record the claw holds, grouped by
// friend then domain.
func (s *Store) ListTrustScores(ctx context.Context, clawID string) ([]*domain.TrustScore, error) {
	rows, err := s.query(ctx, `SELECT `+trustColumns+` FROM trust_scores
		WHERE claw_id = $1 ORDER BY friend_id, domain`, clawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TrustScore
	for rows.Next() {
		t, err := scanTrustScore(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTrustForFriend returns the claw's trust records about one friend.
func (s *Store) ListTrustForFriend(ctx context.Context, clawID, friendID string) ([]*domain.TrustScore, error) {
	rows, err := s.query(ctx, `SELECT `+trustColumns+` FROM trust_scores
		WHERE claw_id = $1 AND friend_id = $2 ORDER BY domain`, clawID, friendID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TrustScore
	for rows.Next() {
		t, err := scanTrustScore(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrustScore(scan func(...interface{}) error) (*domain.TrustScore, error) {
	var (
		t       domain.TrustScore
		updated int64
	)
	err := scan(&t.ClawID, &t.FriendID, &t.Domain, &t.HistoryScore, &t.QualityScore,
		&t.Composite, &t.SignalCount, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	t.UpdatedAt = fromMsec(updated)
	return &t, nil
}

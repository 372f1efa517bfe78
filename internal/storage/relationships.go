package storage

import (
	"context"
	"database/sql"

	"github.com/clawbuds/backend/internal/domain"
)

const relationshipColumns = `claw_id, friend_id, strength, layer, manual_override, last_interaction_at, updated_at`

// SeedRelationship inserts a relationship record if the pair has none yet.
// Re-accepting a friendship never resets an existing strength.
func (s *Store) SeedRelationship(ctx context.Context, r *domain.RelationshipStrength) error {
	_, err := s.exec(ctx, `INSERT INTO relationships (`+relationshipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (claw_id, friend_id) DO NOTHING`,
		r.ClawID, r.FriendID, r.Strength, string(r.DunbarLayer), r.ManualOverride,
		nullMsec(r.LastInteractionAt), msec(r.UpdatedAt))
	return err
}

// SaveRelationship persists strength, layer, override flag and interaction
// time for an existing record.
func (s *Store) SaveRelationship(ctx context.Context, r *domain.RelationshipStrength) error {
	res, err := s.exec(ctx, `UPDATE relationships SET strength = $1, layer = $2,
		manual_override = $3, last_interaction_at = $4, updated_at = $5
		WHERE claw_id = $6 AND friend_id = $7`,
		r.Strength, string(r.DunbarLayer), r.ManualOverride, nullMsec(r.LastInteractionAt),
		msec(r.UpdatedAt), r.ClawID, r.FriendID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetRelationship fetches one directional relationship record.
func (s *Store) GetRelationship(ctx context.Context, clawID, friendID string) (*domain.RelationshipStrength, error) {
	row := s.queryRow(ctx, `SELECT `+relationshipColumns+` FROM relationships
		WHERE claw_id = $1 AND friend_id = $2`, clawID, friendID)
	return scanRelationship(row.Scan)
}

// ListRelationships returns the claw's relationship records ordered by
// strength, strongest first. Layer assignment walks this order.
func (s *Store) ListRelationships(ctx context.Context, clawID string) ([]*domain.RelationshipStrength, error) {
	rows, err := s.query(ctx, `SELECT `+relationshipColumns+` FROM relationships
		WHERE claw_id = $1 ORDER BY strength DESC, friend_id`, clawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RelationshipStrength
	for rows.Next() {
		r, err := scanRelationship(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRelationshipOwners returns the distinct claw IDs holding at least one
// relationship record. The nightly decay sweep iterates these.
func (s *Store) ListRelationshipOwners(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT claw_id FROM relationships ORDER BY claw_id`)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}

func scanRelationship(scan func(...interface{}) error) (*domain.RelationshipStrength, error) {
	var (
		r        domain.RelationshipStrength
		layer    string
		lastSeen sql.NullInt64
		updated  int64
	)
	err := scan(&r.ClawID, &r.FriendID, &r.Strength, &layer, &r.ManualOverride, &lastSeen, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	r.DunbarLayer = domain.DunbarLayer(layer)
	r.LastInteractionAt = timePtr(lastSeen)
	r.UpdatedAt = fromMsec(updated)
	return &r, nil
}

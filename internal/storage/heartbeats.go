package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clawbuds/backend/internal/domain"
)

// CreateHeartbeat appends a heartbeat row.
func (s *Store) CreateHeartbeat(ctx context.Context, h *domain.Heartbeat) error {
	_, err := s.exec(ctx, `INSERT INTO heartbeats
		(id, from_claw_id, to_claw_id, keepalive, interests, availability, recent_topics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID, h.FromClawID, h.ToClawID, h.IsKeepalive,
		encodeStrings(h.Interests), h.Availability,
		encodeStrings(h.RecentTopics), msec(h.CreatedAt))
	return err
}

// LastSentState returns the state carried by the most recent full heartbeat
// from one claw to another. Keepalives carry no state and are skipped.
// ok is false when no full heartbeat exists for the pair.
func (s *Store) LastSentState(ctx context.Context, fromClawID, toClawID string) (state domain.HeartbeatState, ok bool, err error) {
	var (
		interests    string
		availability string
		topics       string
	)
	scanErr := s.queryRow(ctx, `SELECT interests, availability, recent_topics FROM heartbeats
		WHERE from_claw_id = $1 AND to_claw_id = $2 AND keepalive = FALSE
		ORDER BY created_at DESC LIMIT 1`, fromClawID, toClawID).
		Scan(&interests, &availability, &topics)
	if scanErr == sql.ErrNoRows {
		return domain.HeartbeatState{}, false, nil
	}
	if scanErr != nil {
		return domain.HeartbeatState{}, false, mapErr(scanErr)
	}
	return domain.HeartbeatState{
		Interests:    decodeStrings(interests),
		Availability: availability,
		RecentTopics: decodeStrings(topics),
	}, true, nil
}

// ListReceivedHeartbeats returns heartbeats addressed to a claw, newest
// first, optionally filtered by sender.
func (s *Store) ListReceivedHeartbeats(ctx context.Context, toClawID, fromClawID string, limit int) ([]*domain.Heartbeat, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, from_claw_id, to_claw_id, keepalive, interests, availability, recent_topics, created_at
		FROM heartbeats WHERE to_claw_id = $1`
	args := []interface{}{toClawID}
	if fromClawID != "" {
		q += ` AND from_claw_id = $2`
		args = append(args, fromClawID)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Heartbeat
	for rows.Next() {
		var (
			h            domain.Heartbeat
			interests    string
			availability string
			topics       string
			created      int64
		)
		if err := rows.Scan(&h.ID, &h.FromClawID, &h.ToClawID, &h.IsKeepalive,
			&interests, &availability, &topics, &created); err != nil {
			return nil, err
		}
		h.Interests = decodeStrings(interests)
		h.Availability = availability
		h.RecentTopics = decodeStrings(topics)
		h.CreatedAt = fromMsec(created)
		out = append(out, &h)
	}
	return out, rows.Err()
}

// DeleteHeartbeatsBefore drops heartbeats older than the cutoff and reports
// how many were removed. The retention sweep calls this hourly.
func (s *Store) DeleteHeartbeatsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM heartbeats WHERE created_at < $1`, msec(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ===== FRIEND MODELS =====

const friendModelColumns = `claw_id, friend_id, last_known_state, inferred_interests, availability,
	expertise_tags, last_heartbeat_at, last_interaction_at, emotional_tone, inferred_needs,
	knowledge_gaps, updated_at`

// UpsertFriendModel writes the observer's model of a friend.
func (s *Store) UpsertFriendModel(ctx context.Context, fm *domain.FriendModel) error {
	expertise, err := encodeJSON(fm.ExpertiseTags)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO friend_models (`+friendModelColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (claw_id, friend_id) DO UPDATE SET
			last_known_state = excluded.last_known_state,
			inferred_interests = excluded.inferred_interests,
			availability = excluded.availability,
			expertise_tags = excluded.expertise_tags,
			last_heartbeat_at = excluded.last_heartbeat_at,
			last_interaction_at = excluded.last_interaction_at,
			emotional_tone = excluded.emotional_tone,
			inferred_needs = excluded.inferred_needs,
			knowledge_gaps = excluded.knowledge_gaps,
			updated_at = excluded.updated_at`,
		fm.ClawID, fm.FriendID, fm.LastKnownState, encodeStrings(fm.InferredInterests),
		fm.Availability, expertise, nullMsec(fm.LastHeartbeatAt), nullMsec(fm.LastInteractionAt),
		fm.EmotionalTone, encodeStrings(fm.InferredNeeds), encodeStrings(fm.KnowledgeGaps),
		msec(fm.UpdatedAt))
	return err
}

// GetFriendModel fetches one observer's model of one friend.
func (s *Store) GetFriendModel(ctx context.Context, clawID, friendID string) (*domain.FriendModel, error) {
	row := s.queryRow(ctx, `SELECT `+friendModelColumns+` FROM friend_models
		WHERE claw_id = $1 AND friend_id = $2`, clawID, friendID)
	return scanFriendModel(row.Scan)
}

// ListFriendModels returns every model the claw holds, most recently
// updated first.
func (s *Store) ListFriendModels(ctx context.Context, clawID string) ([]*domain.FriendModel, error) {
	rows, err := s.query(ctx, `SELECT `+friendModelColumns+` FROM friend_models
		WHERE claw_id = $1 ORDER BY updated_at DESC`, clawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.FriendModel
	for rows.Next() {
		fm, err := scanFriendModel(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, fm)
	}
	return out, rows.Err()
}

func scanFriendModel(scan func(...interface{}) error) (*domain.FriendModel, error) {
	var (
		fm                 domain.FriendModel
		interests          string
		expertise          string
		needs, gaps        string
		lastBeat, lastSeen sql.NullInt64
		updated            int64
	)
	err := scan(&fm.ClawID, &fm.FriendID, &fm.LastKnownState, &interests, &fm.Availability,
		&expertise, &lastBeat, &lastSeen, &fm.EmotionalTone, &needs, &gaps, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	fm.InferredInterests = decodeStrings(interests)
	fm.ExpertiseTags = decodeFloatMap(expertise)
	fm.LastHeartbeatAt = timePtr(lastBeat)
	fm.LastInteractionAt = timePtr(lastSeen)
	fm.InferredNeeds = decodeStrings(needs)
	fm.KnowledgeGaps = decodeStrings(gaps)
	fm.UpdatedAt = fromMsec(updated)
	return &fm, nil
}

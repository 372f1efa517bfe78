package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/clawbuds/backend/internal/domain"
)

const friendshipColumns = `id, requester_id, accepter_id, status, created_at, updated_at`

// CreateFriendship inserts a friend request row.
func (s *Store) CreateFriendship(ctx context.Context, f *domain.Friendship) error {
	_, err := s.exec(ctx, `INSERT INTO friendships (`+friendshipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.RequesterID, f.AccepterID, string(f.Status), msec(f.CreatedAt), msec(f.UpdatedAt))
	return err
}

// GetFriendship fetches one friendship by ID.
func (s *Store) GetFriendship(ctx context.Context, id string) (*domain.Friendship, error) {
	row := s.queryRow(ctx, `SELECT `+friendshipColumns+` FROM friendships WHERE id = $1`, id)
	return scanFriendship(row.Scan)
}

// GetActiveFriendshipBetween returns the live friendship record for an
// unordered pair, in either direction. Rejected records are terminal and do
// not count; a later request may create a fresh row.
func (s *Store) GetActiveFriendshipBetween(ctx context.Context, a, b string) (*domain.Friendship, error) {
	row := s.queryRow(ctx, `SELECT `+friendshipColumns+` FROM friendships
		WHERE ((requester_id = $1 AND accepter_id = $2) OR (requester_id = $3 AND accepter_id = $4))
		AND status IN ('pending', 'accepted', 'blocked')
		ORDER BY created_at DESC LIMIT 1`, a, b, b, a)
	return scanFriendship(row.Scan)
}

// UpdateFriendshipStatus transitions a friendship to a new status.
func (s *Store) UpdateFriendshipStatus(ctx context.Context, id string, status domain.FriendshipStatus, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE friendships SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), msec(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteFriendshipCascade removes a friendship together with everything that
// only exists because the two claws were friends: circle memberships in each
// other's circles, both directional friend models and both directional
// relationship records. Trust scores survive unfriending.
func (s *Store) DeleteFriendshipCascade(ctx context.Context, id, a, b string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		res, err := s.txExec(ctx, tx, `DELETE FROM friendships WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if err := requireRow(res); err != nil {
			return err
		}
		if _, err := s.txExec(ctx, tx, `DELETE FROM circle_members WHERE
			(claw_id = $1 AND circle_id IN (SELECT id FROM circles WHERE owner_id = $2)) OR
			(claw_id = $3 AND circle_id IN (SELECT id FROM circles WHERE owner_id = $4))`,
			b, a, a, b); err != nil {
			return err
		}
		if _, err := s.txExec(ctx, tx, `DELETE FROM friend_models WHERE
			(claw_id = $1 AND friend_id = $2) OR (claw_id = $3 AND friend_id = $4)`,
			a, b, b, a); err != nil {
			return err
		}
		_, err = s.txExec(ctx, tx, `DELETE FROM relationships WHERE
			(claw_id = $1 AND friend_id = $2) OR (claw_id = $3 AND friend_id = $4)`,
			a, b, b, a)
		return err
	})
}

// ListFriendIDs returns the IDs of every claw the given claw has an accepted
// friendship with, in either direction.
func (s *Store) ListFriendIDs(ctx context.Context, clawID string) ([]string, error) {
	rows, err := s.query(ctx, `SELECT CASE WHEN requester_id = $1 THEN accepter_id ELSE requester_id END
		FROM friendships
		WHERE (requester_id = $2 OR accepter_id = $3) AND status = 'accepted'
		ORDER BY updated_at DESC`, clawID, clawID, clawID)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}

// ListFriendships returns accepted friendships involving the claw.
func (s *Store) ListFriendships(ctx context.Context, clawID string) ([]*domain.Friendship, error) {
	rows, err := s.query(ctx, `SELECT `+friendshipColumns+` FROM friendships
		WHERE (requester_id = $1 OR accepter_id = $2) AND status = 'accepted'
		ORDER BY updated_at DESC`, clawID, clawID)
	if err != nil {
		return nil, err
	}
	return collectFriendships(rows)
}

// ListIncomingRequests returns pending requests addressed to the claw.
func (s *Store) ListIncomingRequests(ctx context.Context, clawID string) ([]*domain.Friendship, error) {
	rows, err := s.query(ctx, `SELECT `+friendshipColumns+` FROM friendships
		WHERE accepter_id = $1 AND status = 'pending' ORDER BY created_at DESC`, clawID)
	if err != nil {
		return nil, err
	}
	return collectFriendships(rows)
}

// ListOutgoingRequests returns pending requests the claw has sent.
func (s *Store) ListOutgoingRequests(ctx context.Context, clawID string) ([]*domain.Friendship, error) {
	rows, err := s.query(ctx, `SELECT `+friendshipColumns+` FROM friendships
		WHERE requester_id = $1 AND status = 'pending' ORDER BY created_at DESC`, clawID)
	if err != nil {
		return nil, err
	}
	return collectFriendships(rows)
}

// CountFriends counts accepted friendships involving the claw.
func (s *Store) CountFriends(ctx context.Context, clawID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM friendships
		WHERE (requester_id = $1 OR accepter_id = $2) AND status = 'accepted'`,
		clawID, clawID).Scan(&n)
	return n, mapErr(err)
}

// CountRecentRequestAttempts counts requests sent by requester to accepter
// since the cutoff, regardless of outcome. Feeds the rejection-pattern sweep.
func (s *Store) CountRecentRequestAttempts(ctx context.Context, requester, accepter string, since time.Time) (total, blocked int, err error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(*) FROM friendships
		WHERE requester_id = $1 AND accepter_id = $2 AND created_at >= $3
		GROUP BY status`, requester, accepter, msec(since))
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, err
		}
		total += n
		if status == string(domain.FriendshipBlocked) || status == string(domain.FriendshipRejected) {
			blocked += n
		}
	}
	return total, blocked, rows.Err()
}

func scanFriendship(scan func(...interface{}) error) (*domain.Friendship, error) {
	var (
		f                  domain.Friendship
		status             string
		createdAt, updated int64
	)
	err := scan(&f.ID, &f.RequesterID, &f.AccepterID, &status, &createdAt, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	f.Status = domain.FriendshipStatus(status)
	f.CreatedAt = fromMsec(createdAt)
	f.UpdatedAt = fromMsec(updated)
	return &f, nil
}

func collectFriendships(rows *sql.Rows) ([]*domain.Friendship, error) {
	defer rows.Close()
	var out []*domain.Friendship
	for rows.Next() {
		f, err := scanFriendship(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

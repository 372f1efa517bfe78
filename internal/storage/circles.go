package storage

import (
	"context"
	"time"

	"github.com/clawbuds/backend/internal/domain"
)

// CreateCircle inserts a circle. Returns ErrDuplicate when the owner already
// has a circle with that name and ErrCapacity at the per-owner limit.
func (s *Store) CreateCircle(ctx context.Context, c *domain.Circle) error {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM circles WHERE owner_id = $1`, c.OwnerID).Scan(&n); err != nil {
		return mapErr(err)
	}
	if n >= domain.MaxCirclesPerOwner {
		return ErrCapacity
	}
	_, err := s.exec(ctx, `INSERT INTO circles (id, owner_id, name, created_at)
		VALUES ($1, $2, $3, $4)`, c.ID, c.OwnerID, c.Name, msec(c.CreatedAt))
	return err
}

// GetCircle fetches a circle by ID with its members populated.
func (s *Store) GetCircle(ctx context.Context, id string) (*domain.Circle, error) {
	var (
		c         domain.Circle
		createdAt int64
	)
	err := s.queryRow(ctx, `SELECT id, owner_id, name, created_at FROM circles WHERE id = $1`, id).
		Scan(&c.ID, &c.OwnerID, &c.Name, &createdAt)
	if err != nil {
		return nil, mapErr(err)
	}
	c.CreatedAt = fromMsec(createdAt)
	c.Members, err = s.ListCircleMemberIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCircles returns the owner's circles with their members populated,
// newest circle first.
func (s *Store) ListCircles(ctx context.Context, ownerID string) ([]*domain.Circle, error) {
	rows, err := s.query(ctx, `SELECT id, owner_id, name, created_at
		FROM circles WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Circle
	for rows.Next() {
		var (
			c         domain.Circle
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = fromMsec(createdAt)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range out {
		members, err := s.ListCircleMemberIDs(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Members = members
	}
	return out, nil
}

// DeleteCircle removes a circle and its memberships.
func (s *Store) DeleteCircle(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM circles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AddCircleMember adds a claw to a circle. Re-adding is a no-op duplicate.
func (s *Store) AddCircleMember(ctx context.Context, circleID, clawID string, at time.Time) error {
	_, err := s.exec(ctx, `INSERT INTO circle_members (circle_id, claw_id, added_at)
		VALUES ($1, $2, $3)`, circleID, clawID, msec(at))
	return err
}

// RemoveCircleMember removes a claw from a circle.
func (s *Store) RemoveCircleMember(ctx context.Context, circleID, clawID string) error {
	res, err := s.exec(ctx, `DELETE FROM circle_members WHERE circle_id = $1 AND claw_id = $2`,
		circleID, clawID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListCircleMemberIDs returns the members of one circle.
func (s *Store) ListCircleMemberIDs(ctx context.Context, circleID string) ([]string, error) {
	rows, err := s.query(ctx, `SELECT claw_id FROM circle_members WHERE circle_id = $1
		ORDER BY added_at`, circleID)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}

// ResolveCircleMembers returns the distinct members of the named circles
// owned by ownerID. Unknown names resolve to nothing; the service validates
// names before fan-out.
func (s *Store) ResolveCircleMembers(ctx context.Context, ownerID string, names []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, name := range names {
		rows, err := s.query(ctx, `SELECT m.claw_id FROM circle_members m
			JOIN circles c ON c.id = m.circle_id
			WHERE c.owner_id = $1 AND c.name = $2`, ownerID, name)
		if err != nil {
			return nil, err
		}
		ids, err := scanStringRows(rows)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

// CircleNamesExist verifies that every named circle exists for the owner,
// returning the first missing name.
func (s *Store) CircleNamesExist(ctx context.Context, ownerID string, names []string) (missing string, err error) {
	for _, name := range names {
		var n int
		if err := s.queryRow(ctx, `SELECT COUNT(*) FROM circles WHERE owner_id = $1 AND name = $2`,
			ownerID, name).Scan(&n); err != nil {
			return "", mapErr(err)
		}
		if n == 0 {
			return name, nil
		}
	}
	return "", nil
}

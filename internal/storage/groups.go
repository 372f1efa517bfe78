package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/clawbuds/backend/internal/domain"
)

const groupColumns = `id, name, description, group_type, owner_id, max_members, encrypted, created_at`

// CreateGroup inserts the group and its owner membership in one transaction.
func (s *Store) CreateGroup(ctx context.Context, g *domain.Group) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := s.txExec(ctx, tx, `INSERT INTO claw_groups (`+groupColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			g.ID, g.Name, g.Description, string(g.Type), g.OwnerID, g.MaxMembers,
			g.Encrypted, msec(g.CreatedAt)); err != nil {
			return err
		}
		_, err := s.txExec(ctx, tx, `INSERT INTO group_members (group_id, claw_id, role, joined_at)
			VALUES ($1, $2, $3, $4)`, g.ID, g.OwnerID, string(domain.RoleOwner), msec(g.CreatedAt))
		return err
	})
}

// GetGroup fetches a group with its current member count.
func (s *Store) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	row := s.queryRow(ctx, `SELECT `+groupColumns+`,
		(SELECT COUNT(*) FROM group_members m WHERE m.group_id = claw_groups.id)
		FROM claw_groups WHERE id = $1`, id)
	return scanGroup(row.Scan)
}

// ListGroupsForClaw returns every group the claw belongs to.
func (s *Store) ListGroupsForClaw(ctx context.Context, clawID string) ([]*domain.Group, error) {
	rows, err := s.query(ctx, `SELECT g.id, g.name, g.description, g.group_type, g.owner_id,
		g.max_members, g.encrypted, g.created_at,
		(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id)
		FROM claw_groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.claw_id = $1 ORDER BY g.created_at DESC`, clawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Group
	for rows.Next() {
		g, err := scanGroup(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateGroup persists name, description and max member changes.
func (s *Store) UpdateGroup(ctx context.Context, g *domain.Group) error {
	res, err := s.exec(ctx, `UPDATE claw_groups SET name = $1, description = $2, max_members = $3
		WHERE id = $4`, g.Name, g.Description, g.MaxMembers, g.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteGroup removes a group; memberships and invitations cascade.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM claw_groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetGroupMember fetches one membership, ErrNotFound for non-members.
func (s *Store) GetGroupMember(ctx context.Context, groupID, clawID string) (*domain.GroupMember, error) {
	var (
		m        domain.GroupMember
		role     string
		joinedAt int64
	)
	err := s.queryRow(ctx, `SELECT group_id, claw_id, role, joined_at FROM group_members
		WHERE group_id = $1 AND claw_id = $2`, groupID, clawID).
		Scan(&m.GroupID, &m.ClawID, &role, &joinedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	m.Role = domain.GroupRole(role)
	m.JoinedAt = fromMsec(joinedAt)
	return &m, nil
}

// ListGroupMembers returns the memberships of a group, owner first.
func (s *Store) ListGroupMembers(ctx context.Context, groupID string) ([]*domain.GroupMember, error) {
	rows, err := s.query(ctx, `SELECT group_id, claw_id, role, joined_at FROM group_members
		WHERE group_id = $1 ORDER BY joined_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.GroupMember
	for rows.Next() {
		var (
			m        domain.GroupMember
			role     string
			joinedAt int64
		)
		if err := rows.Scan(&m.GroupID, &m.ClawID, &role, &joinedAt); err != nil {
			return nil, err
		}
		m.Role = domain.GroupRole(role)
		m.JoinedAt = fromMsec(joinedAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ListGroupMemberIDs returns member claw IDs for fan-out.
func (s *Store) ListGroupMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.query(ctx, `SELECT claw_id FROM group_members WHERE group_id = $1
		ORDER BY joined_at`, groupID)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}

// AddGroupMember inserts a membership after re-checking capacity inside the
// transaction, so the member count can never pass maxMembers.
func (s *Store) AddGroupMember(ctx context.Context, m *domain.GroupMember) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		return s.insertMemberChecked(ctx, tx, m)
	})
}

// ConsumeInvitationAndJoin deletes the invitation and inserts the membership
// atomically. ErrNotFound means no invitation exists for this claw.
func (s *Store) ConsumeInvitationAndJoin(ctx context.Context, groupID, clawID string, at time.Time) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		res, err := s.txExec(ctx, tx, `DELETE FROM group_invitations
			WHERE group_id = $1 AND invitee_id = $2`, groupID, clawID)
		if err != nil {
			return err
		}
		if err := requireRow(res); err != nil {
			return err
		}
		return s.insertMemberChecked(ctx, tx, &domain.GroupMember{
			GroupID:  groupID,
			ClawID:   clawID,
			Role:     domain.RoleMember,
			JoinedAt: at,
		})
	})
}

func (s *Store) insertMemberChecked(ctx context.Context, tx *sql.Tx, m *domain.GroupMember) error {
	var maxMembers, current int
	err := s.txQueryRow(ctx, tx, `SELECT max_members,
		(SELECT COUNT(*) FROM group_members WHERE group_id = claw_groups.id)
		FROM claw_groups WHERE id = $1`, m.GroupID).Scan(&maxMembers, &current)
	if err != nil {
		return mapErr(err)
	}
	if current >= maxMembers {
		return ErrCapacity
	}
	_, err = s.txExec(ctx, tx, `INSERT INTO group_members (group_id, claw_id, role, joined_at)
		VALUES ($1, $2, $3, $4)`, m.GroupID, m.ClawID, string(m.Role), msec(m.JoinedAt))
	return err
}

// UpdateGroupMemberRole changes a member's role.
func (s *Store) UpdateGroupMemberRole(ctx context.Context, groupID, clawID string, role domain.GroupRole) error {
	res, err := s.exec(ctx, `UPDATE group_members SET role = $1 WHERE group_id = $2 AND claw_id = $3`,
		string(role), groupID, clawID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RemoveGroupMember deletes a membership.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, clawID string) error {
	res, err := s.exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND claw_id = $2`,
		groupID, clawID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CreateGroupInvitation records a single-use invitation. ErrDuplicate when
// the claw is already invited.
func (s *Store) CreateGroupInvitation(ctx context.Context, inv *domain.GroupInvitation) error {
	_, err := s.exec(ctx, `INSERT INTO group_invitations (id, group_id, inviter_id, invitee_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		inv.ID, inv.GroupID, inv.InviterID, inv.InviteeID, msec(inv.CreatedAt))
	return err
}

// DeleteGroupInvitation removes an invitation without joining. ErrNotFound
// when none is outstanding for this claw.
func (s *Store) DeleteGroupInvitation(ctx context.Context, groupID, inviteeID string) error {
	res, err := s.exec(ctx, `DELETE FROM group_invitations
		WHERE group_id = $1 AND invitee_id = $2`, groupID, inviteeID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListInvitationsForClaw returns outstanding invitations addressed to a claw.
func (s *Store) ListInvitationsForClaw(ctx context.Context, clawID string) ([]*domain.GroupInvitation, error) {
	rows, err := s.query(ctx, `SELECT id, group_id, inviter_id, invitee_id, created_at
		FROM group_invitations WHERE invitee_id = $1 ORDER BY created_at DESC`, clawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.GroupInvitation
	for rows.Next() {
		var (
			inv       domain.GroupInvitation
			createdAt int64
		)
		if err := rows.Scan(&inv.ID, &inv.GroupID, &inv.InviterID, &inv.InviteeID, &createdAt); err != nil {
			return nil, err
		}
		inv.CreatedAt = fromMsec(createdAt)
		out = append(out, &inv)
	}
	return out, rows.Err()
}

func scanGroup(scan func(...interface{}) error) (*domain.Group, error) {
	var (
		g         domain.Group
		groupType string
		createdAt int64
	)
	err := scan(&g.ID, &g.Name, &g.Description, &groupType, &g.OwnerID, &g.MaxMembers,
		&g.Encrypted, &createdAt, &g.MemberCount)
	if err != nil {
		return nil, mapErr(err)
	}
	g.Type = domain.GroupType(groupType)
	g.CreatedAt = fromMsec(createdAt)
	return &g, nil
}

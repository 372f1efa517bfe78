package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/storage"
)

// GroupService owns group membership and its role lattice. Every change to
// membership emits a group.* event addressed to the claws who can currently
// see the group.
type GroupService struct {
	store *storage.Store
	bus   *events.Bus
	log   zerolog.Logger
}

func NewGroupService(store *storage.Store, bus *events.Bus, log zerolog.Logger) *GroupService {
	return &GroupService{store: store, bus: bus, log: log.With().Str("component", "groups").Logger()}
}

// CreateGroupInput is the group creation payload.
type CreateGroupInput struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Type        domain.GroupType `json:"type"`
	MaxMembers  int              `json:"maxMembers"`
	Encrypted   bool             `json:"encrypted"`
}

// Create makes a group with the caller as sole owner-member.
func (s *GroupService) Create(ctx context.Context, ownerID string, in CreateGroupInput) (*domain.Group, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Invalid(domain.CodeValidation, "group name is required")
	}
	if in.Type != domain.GroupPrivate && in.Type != domain.GroupPublic {
		return nil, domain.Invalid(domain.CodeValidation, "type must be private or public")
	}
	if in.MaxMembers == 0 {
		in.MaxMembers = 50
	}
	if in.MaxMembers < 2 || in.MaxMembers > 500 {
		return nil, domain.Invalid(domain.CodeValidation, "maxMembers must be between 2 and 500")
	}
	g := &domain.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: in.Description,
		Type:        in.Type,
		OwnerID:     ownerID,
		MaxMembers:  in.MaxMembers,
		Encrypted:   in.Encrypted,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	g.MemberCount = 1
	s.log.Info().Str("group_id", g.ID).Str("owner_id", ownerID).Msg("group created")
	return g, nil
}

// Get returns group metadata. Public groups are visible to everyone;
// private groups only to members and invitees.
func (s *GroupService) Get(ctx context.Context, clawID, groupID string) (*domain.Group, error) {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.Type == domain.GroupPublic {
		return g, nil
	}
	if _, err := s.store.GetGroupMember(ctx, groupID, clawID); err == nil {
		return g, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	invs, err := s.store.ListInvitationsForClaw(ctx, clawID)
	if err != nil {
		return nil, err
	}
	for _, inv := range invs {
		if inv.GroupID == groupID {
			return g, nil
		}
	}
	return nil, domain.NotFound(domain.CodeNotFound, "group not found")
}

// List returns the groups the claw belongs to.
func (s *GroupService) List(ctx context.Context, clawID string) ([]*domain.Group, error) {
	return s.store.ListGroupsForClaw(ctx, clawID)
}

// GroupUpdate carries optional settings; nil means keep.
type GroupUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	MaxMembers  *int    `json:"maxMembers"`
}

// Update changes group settings. Owner or admin only; capacity can never
// shrink below the current member count.
func (s *GroupService) Update(ctx context.Context, actorID, groupID string, in GroupUpdate) (*domain.Group, error) {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, groupID, actorID, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, domain.Invalid(domain.CodeValidation, "group name cannot be empty")
		}
		g.Name = name
	}
	if in.Description != nil {
		g.Description = *in.Description
	}
	if in.MaxMembers != nil {
		if *in.MaxMembers < g.MemberCount {
			return nil, domain.Invalid(domain.CodeValidation, "maxMembers cannot be below the current member count")
		}
		if *in.MaxMembers < 2 || *in.MaxMembers > 500 {
			return nil, domain.Invalid(domain.CodeValidation, "maxMembers must be between 2 and 500")
		}
		g.MaxMembers = *in.MaxMembers
	}
	if err := s.store.UpdateGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Delete removes the group entirely. Owner only.
func (s *GroupService) Delete(ctx context.Context, actorID, groupID string) error {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}
	if g.OwnerID != actorID {
		return domain.Forbidden(domain.CodeInsufficient, "only the owner can delete a group")
	}
	return s.store.DeleteGroup(ctx, groupID)
}

// Members lists memberships. Members only.
func (s *GroupService) Members(ctx context.Context, clawID, groupID string) ([]*domain.GroupMember, error) {
	if _, err := s.requireRole(ctx, groupID, clawID, domain.RoleMember); err != nil {
		return nil, err
	}
	return s.store.ListGroupMembers(ctx, groupID)
}

// Invite records a single-use invitation. Owner or admin only.
func (s *GroupService) Invite(ctx context.Context, inviterID, groupID, inviteeID string) (*domain.GroupInvitation, error) {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, groupID, inviterID, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if _, err := s.store.GetClaw(ctx, inviteeID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeClawNotFound, "claw not found")
		}
		return nil, err
	}
	if _, err := s.store.GetGroupMember(ctx, groupID, inviteeID); err == nil {
		return nil, domain.Conflict(domain.CodeDuplicate, "claw is already a member")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	inv := &domain.GroupInvitation{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		InviterID: inviterID,
		InviteeID: inviteeID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateGroupInvitation(ctx, inv); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, domain.Conflict(domain.CodeDuplicate, "claw is already invited")
		}
		return nil, err
	}
	s.bus.Publish(ctx, events.New(events.GroupInvited, inviterID, []string{inviteeID}, events.GroupPayload{
		GroupID:   groupID,
		GroupName: g.Name,
		ActorID:   inviterID,
		TargetID:  inviteeID,
	}))
	return inv, nil
}

// Join adds the caller to the group. Public groups admit anyone with a free
// slot; private groups consume a pending invitation.
func (s *GroupService) Join(ctx context.Context, clawID, groupID string) error {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}
	if _, err := s.store.GetGroupMember(ctx, groupID, clawID); err == nil {
		return domain.Conflict(domain.CodeDuplicate, "already a member")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	if g.Type == domain.GroupPublic {
		err = s.store.AddGroupMember(ctx, &domain.GroupMember{
			GroupID: groupID, ClawID: clawID, Role: domain.RoleMember, JoinedAt: now,
		})
	} else {
		err = s.store.ConsumeInvitationAndJoin(ctx, groupID, clawID, now)
	}
	switch {
	case errors.Is(err, storage.ErrCapacity):
		return domain.Conflict(domain.CodeGroupFull, "group is full")
	case errors.Is(err, storage.ErrNotFound):
		return domain.NotFound(domain.CodeNoInvitation, "no pending invitation for this group")
	case err != nil:
		return err
	}

	s.emitMembership(ctx, events.GroupJoined, g, clawID, clawID)
	return nil
}

// RejectInvitation declines and consumes a pending invitation.
func (s *GroupService) RejectInvitation(ctx context.Context, clawID, groupID string) error {
	if err := s.store.DeleteGroupInvitation(ctx, groupID, clawID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NotFound(domain.CodeNoInvitation, "no pending invitation for this group")
		}
		return err
	}
	return nil
}

// Leave removes the caller from the group. The owner cannot leave.
func (s *GroupService) Leave(ctx context.Context, clawID, groupID string) error {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}
	if g.OwnerID == clawID {
		return domain.Forbidden(domain.CodeInsufficient, "the owner cannot leave the group")
	}
	if err := s.store.RemoveGroupMember(ctx, groupID, clawID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NotFound(domain.CodeNotMember, "not a member of this group")
		}
		return err
	}
	s.emitMembership(ctx, events.GroupLeft, g, clawID, clawID)
	return nil
}

// UpdateRole changes a member's role. Only the owner promotes or demotes,
// and the owner's own role is immutable.
func (s *GroupService) UpdateRole(ctx context.Context, actorID, groupID, targetID string, role domain.GroupRole) error {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}
	if role != domain.RoleAdmin && role != domain.RoleMember {
		return domain.Invalid(domain.CodeValidation, "role must be admin or member")
	}
	if g.OwnerID != actorID {
		return domain.Forbidden(domain.CodeInsufficient, "only the owner can change roles")
	}
	if targetID == g.OwnerID {
		return domain.Forbidden(domain.CodeInsufficient, "the owner's role cannot be changed")
	}
	if err := s.store.UpdateGroupMemberRole(ctx, groupID, targetID, role); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NotFound(domain.CodeNotMember, "not a member of this group")
		}
		return err
	}
	return nil
}

// RemoveMember kicks a member. Removal requires strictly greater privilege,
// so admins remove members and only the owner removes admins. The owner
// cannot be removed.
func (s *GroupService) RemoveMember(ctx context.Context, actorID, groupID, targetID string) error {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}
	if targetID == g.OwnerID {
		return domain.Forbidden(domain.CodeInsufficient, "the owner cannot be removed")
	}
	actor, err := s.requireRole(ctx, groupID, actorID, domain.RoleAdmin)
	if err != nil {
		return err
	}
	target, err := s.store.GetGroupMember(ctx, groupID, targetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NotFound(domain.CodeNotMember, "not a member of this group")
		}
		return err
	}
	if actor.Role.Rank() <= target.Role.Rank() {
		return domain.Forbidden(domain.CodeInsufficient, "removal requires a higher role than the target")
	}
	if err := s.store.RemoveGroupMember(ctx, groupID, targetID); err != nil {
		return err
	}
	s.emitMembership(ctx, events.GroupRemoved, g, actorID, targetID)
	return nil
}

// Invitations lists pending invitations addressed to the claw.
func (s *GroupService) Invitations(ctx context.Context, clawID string) ([]*domain.GroupInvitation, error) {
	return s.store.ListInvitationsForClaw(ctx, clawID)
}

func (s *GroupService) group(ctx context.Context, groupID string) (*domain.Group, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "group not found")
		}
		return nil, err
	}
	return g, nil
}

// requireRole loads the actor's membership and checks it reaches min.
// Non-members get NOT_MEMBER.
func (s *GroupService) requireRole(ctx context.Context, groupID, clawID string, min domain.GroupRole) (*domain.GroupMember, error) {
	m, err := s.store.GetGroupMember(ctx, groupID, clawID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.Forbidden(domain.CodeNotMember, "not a member of this group")
		}
		return nil, err
	}
	if m.Role.Rank() < min.Rank() {
		return nil, domain.Forbidden(domain.CodeInsufficient, "insufficient role for this action")
	}
	return m, nil
}

// emitMembership publishes a group.* event to everyone who is currently a
// member, plus the affected claw when they just left the roster.
func (s *GroupService) emitMembership(ctx context.Context, t events.Type, g *domain.Group, actorID, targetID string) {
	ids, err := s.store.ListGroupMemberIDs(ctx, g.ID)
	if err != nil {
		s.log.Error().Err(err).Str("group_id", g.ID).Msg("member lookup for event failed")
		ids = nil
	}
	if !containsString(ids, targetID) {
		ids = append(ids, targetID)
	}
	s.bus.Publish(ctx, events.New(t, actorID, ids, events.GroupPayload{
		GroupID:   g.ID,
		GroupName: g.Name,
		ActorID:   actorID,
		TargetID:  targetID,
	}))
}

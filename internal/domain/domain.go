// Package domain holds the entity types shared by storage, services, and
// handlers. Wire names are camelCase to match the client protocol.
package domain

import (
	"encoding/json"
	"time"
)

// ClawStatus is the lifecycle state of a claw account.
type ClawStatus string

const (
	ClawActive      ClawStatus = "active"
	ClawSuspended   ClawStatus = "suspended"
	ClawDeactivated ClawStatus = "deactivated"
)

// Claw is the identity root. Its ID is derived from the Ed25519 public key
// at registration and never changes; accounts are deactivated, not deleted.
type Claw struct {
	ClawID                  string          `json:"clawId"`
	PublicKey               string          `json:"publicKey"` // base64 Ed25519
	DisplayName             string          `json:"displayName"`
	Bio                     string          `json:"bio,omitempty"`
	Status                  ClawStatus      `json:"status"`
	Tags                    []string        `json:"tags,omitempty"`
	Discoverable            bool            `json:"discoverable"`
	AvatarURL               string          `json:"avatarUrl,omitempty"`
	AutonomyLevel           string          `json:"autonomyLevel,omitempty"`
	AutonomyConfig          json.RawMessage `json:"autonomyConfig,omitempty"`
	NotificationPreferences json.RawMessage `json:"notificationPreferences,omitempty"`
	CreatedAt               time.Time       `json:"createdAt"`
	LastSeenAt              *time.Time      `json:"lastSeenAt,omitempty"`
}

// PublicProfile strips fields other claws should not see.
func (c *Claw) PublicProfile() *Claw {
	return &Claw{
		ClawID:       c.ClawID,
		PublicKey:    c.PublicKey,
		DisplayName:  c.DisplayName,
		Bio:          c.Bio,
		Status:       c.Status,
		Tags:         c.Tags,
		Discoverable: c.Discoverable,
		AvatarURL:    c.AvatarURL,
		CreatedAt:    c.CreatedAt,
	}
}

// FriendshipStatus tracks the request lifecycle.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship is the ordered pair (requester, accepter). At most one
// non-terminal record exists per unordered pair.
type Friendship struct {
	ID          string           `json:"id"`
	RequesterID string           `json:"requesterId"`
	AccepterID  string           `json:"accepterId"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// OtherSide returns the peer of clawID in this friendship.
func (f *Friendship) OtherSide(clawID string) string {
	if f.RequesterID == clawID {
		return f.AccepterID
	}
	return f.RequesterID
}

// Circle is a personal friend list. Unique per (owner, name), capped at
// MaxCirclesPerOwner.
type Circle struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Members   []string  `json:"members,omitempty"`
}

// MaxCirclesPerOwner bounds how many circles one claw may own.
const MaxCirclesPerOwner = 50

// GroupType distinguishes join semantics.
type GroupType string

const (
	GroupPrivate GroupType = "private"
	GroupPublic  GroupType = "public"
)

// GroupRole orders member privileges. Owner > admin > member.
type GroupRole string

const (
	RoleOwner  GroupRole = "owner"
	RoleAdmin  GroupRole = "admin"
	RoleMember GroupRole = "member"
)

// Rank returns a comparable privilege level.
func (r GroupRole) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// Group is a multi-member conversation. Exactly one owner at all times.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        GroupType `json:"type"`
	OwnerID     string    `json:"ownerId"`
	MaxMembers  int       `json:"maxMembers"`
	Encrypted   bool      `json:"encrypted"`
	CreatedAt   time.Time `json:"createdAt"`
	MemberCount int       `json:"memberCount,omitempty"`
}

// GroupMember binds a claw to a group with a role.
type GroupMember struct {
	GroupID  string    `json:"groupId"`
	ClawID   string    `json:"clawId"`
	Role     GroupRole `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// GroupInvitation is single-use: accepting or rejecting consumes it.
type GroupInvitation struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"groupId"`
	InviterID string    `json:"inviterId"`
	InviteeID string    `json:"inviteeId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Package events is the in-process typed pub/sub backbone. Domain services
// publish; the realtime pusher, webhook dispatcher, reflex engine, and the
// relationship/trust updaters subscribe. No durability: restarts drop
// in-flight events.
package events

import (
	"time"

	"github.com/rs/xid"

	"github.com/clawbuds/backend/internal/domain"
)

// Type enumerates every recognized event name.
type Type string

const (
	MessageNew     Type = "message.new"
	MessageEdited  Type = "message.edited"
	MessageDeleted Type = "message.deleted"

	ReactionAdded   Type = "reaction.added"
	ReactionRemoved Type = "reaction.removed"
	PollVoted       Type = "poll.voted"

	FriendRequest  Type = "friend.request"
	FriendAccepted Type = "friend.accepted"

	GroupInvited Type = "group.invited"
	GroupJoined  Type = "group.joined"
	GroupLeft    Type = "group.left"
	GroupRemoved Type = "group.removed"

	E2EEKeyUpdated Type = "e2ee.key_updated"

	HeartbeatReceived Type = "heartbeat.received"
	LayerChanged      Type = "relationship.layer_changed"

	PearlEndorsed Type = "pearl.endorsed"
	PearlShared   Type = "pearl.shared"

	ThreadContributionAdded Type = "thread.contribution_added"
)

// AllTypes lists every event type, for webhook subscription validation.
var AllTypes = []Type{
	MessageNew, MessageEdited, MessageDeleted,
	ReactionAdded, ReactionRemoved, PollVoted,
	FriendRequest, FriendAccepted,
	GroupInvited, GroupJoined, GroupLeft, GroupRemoved,
	E2EEKeyUpdated,
	HeartbeatReceived, LayerChanged,
	PearlEndorsed, PearlShared,
	ThreadContributionAdded,
}

// Known reports whether name is a recognized event type.
func Known(name string) bool {
	for _, t := range AllTypes {
		if string(t) == name {
			return true
		}
	}
	return false
}

// Event is the bus envelope. Data holds one of the typed payload structs
// below; it is what webhook bodies and realtime pushes serialize.
type Event struct {
	ID         string      `json:"id"`
	Type       Type        `json:"type"`
	Actor      string      `json:"actor"`
	Recipients []string    `json:"recipients,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data"`
}

// New builds an event with a fresh id and timestamp.
func New(t Type, actor string, recipients []string, data interface{}) Event {
	return Event{
		ID:         xid.New().String(),
		Type:       t,
		Actor:      actor,
		Recipients: recipients,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// MessagePayload rides message.new / message.edited / message.deleted.
// Message is nil for deletions.
type MessagePayload struct {
	MessageID    string          `json:"messageId"`
	SenderID     string          `json:"senderId"`
	RecipientIDs []string        `json:"recipientIds"`
	Message      *domain.Message `json:"message,omitempty"`
}

// ReactionPayload rides reaction.added / reaction.removed.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	OwnerID   string `json:"ownerId"` // message author
	ClawID    string `json:"clawId"`  // reacting claw
	Emoji     string `json:"emoji"`
}

// PollVotePayload rides poll.voted.
type PollVotePayload struct {
	MessageID   string `json:"messageId"`
	OwnerID     string `json:"ownerId"`
	VoterID     string `json:"voterId"`
	OptionIndex int    `json:"optionIndex"`
}

// FriendPayload rides friend.request and friend.accepted.
type FriendPayload struct {
	FriendshipID string `json:"friendshipId"`
	RequesterID  string `json:"requesterId"`
	AccepterID   string `json:"accepterId"`
}

// GroupPayload rides the group.* events. Target is the affected member
// (invitee, joiner, leaver, or removed claw).
type GroupPayload struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName,omitempty"`
	ActorID   string `json:"actorId"`
	TargetID  string `json:"targetId,omitempty"`
}

// KeyUpdatePayload rides e2ee.key_updated.
type KeyUpdatePayload struct {
	ClawID string `json:"clawId"`
}

// HeartbeatPayload rides heartbeat.received.
type HeartbeatPayload struct {
	FromClawID string            `json:"fromClawId"`
	ToClawID   string            `json:"toClawId"`
	Heartbeat  *domain.Heartbeat `json:"heartbeat"`
}

// LayerChangePayload rides relationship.layer_changed.
type LayerChangePayload struct {
	ClawID   string             `json:"clawId"`
	FriendID string             `json:"friendId"`
	OldLayer domain.DunbarLayer `json:"oldLayer"`
	NewLayer domain.DunbarLayer `json:"newLayer"`
	Strength float64            `json:"strength"`
}

// PearlEndorsedPayload rides pearl.endorsed.
type PearlEndorsedPayload struct {
	PearlID    string   `json:"pearlId"`
	OwnerID    string   `json:"ownerId"`
	EndorserID string   `json:"endorserId"`
	Score      float64  `json:"score"`
	DomainTags []string `json:"domainTags,omitempty"`
}

// PearlSharedPayload rides pearl.shared.
type PearlSharedPayload struct {
	PearlID    string `json:"pearlId"`
	FromClawID string `json:"fromClawId"`
	ToClawID   string `json:"toClawId"`
}

// ThreadContributionPayload rides thread.contribution_added.
type ThreadContributionPayload struct {
	ThreadID       string `json:"threadId"`
	ContributionID string `json:"contributionId"`
	ClawID         string `json:"clawId"`
	ContentType    string `json:"contentType"`
	PearlRefID     string `json:"pearlRefId,omitempty"`
}

package domain

import "time"

// BlockType tags a content block. The core treats block bodies as opaque
// beyond these recognized tags.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockLink  BlockType = "link"
	BlockImage BlockType = "image"
	BlockCode  BlockType = "code"
	BlockPoll  BlockType = "poll"
)

// Block is one element of a message body. Exactly the fields matching the
// Type are populated; the rest stay zero.
type Block struct {
	Type     BlockType `json:"type"`
	Text     string    `json:"text,omitempty"`
	URL      string    `json:"url,omitempty"`
	Alt      string    `json:"alt,omitempty"`
	UploadID string    `json:"uploadId,omitempty"`
	Language string    `json:"language,omitempty"`
	Code     string    `json:"code,omitempty"`
	Question string    `json:"question,omitempty"`
	Options  []string  `json:"options,omitempty"`
}

// Visibility selects the recipient resolution rule for a message.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityDirect  Visibility = "direct"
	VisibilityCircles Visibility = "circles"
	VisibilityGroup   Visibility = "group"
)

// Message is the canonical stored message. Edits are bounded by the service
// window; deletion is a soft tombstone so inbox references stay resolvable.
type Message struct {
	ID             string     `json:"id"`
	FromClawID     string     `json:"fromClawId"`
	Blocks         []Block    `json:"blocks"`
	Visibility     Visibility `json:"visibility"`
	GroupID        string     `json:"groupId,omitempty"`
	ReplyTo        string     `json:"replyTo,omitempty"`
	ContentWarning string     `json:"contentWarning,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// PollBlock returns the first poll block, if any.
func (m *Message) PollBlock() *Block {
	for i := range m.Blocks {
		if m.Blocks[i].Type == BlockPoll {
			return &m.Blocks[i]
		}
	}
	return nil
}

// InboxStatus is the per-recipient read state.
type InboxStatus string

const (
	InboxUnread InboxStatus = "unread"
	InboxRead   InboxStatus = "read"
	InboxAcked  InboxStatus = "acked"
)

// InboxEntry projects a message into one recipient's inbox. Seq is strictly
// increasing per recipient; a message appears at most once per recipient.
type InboxEntry struct {
	ID          string      `json:"id"`
	RecipientID string      `json:"recipientId"`
	MessageID   string      `json:"messageId"`
	Seq         int64       `json:"seq"`
	Status      InboxStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	Message     *Message    `json:"message,omitempty"`
}

// Reaction is one claw's emoji on one message. Unique per
// (message, claw, emoji).
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	ClawID    string    `json:"clawId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// PollVote is one claw's vote on a message's poll block. Re-voting
// overwrites (unique per message+claw).
type PollVote struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"messageId"`
	ClawID      string    `json:"clawId"`
	OptionIndex int       `json:"optionIndex"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Draft is an unsent message kept server-side. No events, no fan-out.
type Draft struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"ownerId"`
	Blocks         []Block    `json:"blocks"`
	Visibility     Visibility `json:"visibility,omitempty"`
	ToClawIDs      []string   `json:"toClawIds,omitempty"`
	CircleNames    []string   `json:"circleNames,omitempty"`
	GroupID        string     `json:"groupId,omitempty"`
	ContentWarning string     `json:"contentWarning,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Upload is a bounded binary blob (avatars, image blocks). Data is omitted
// from listings and only loaded on direct fetch.
type Upload struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

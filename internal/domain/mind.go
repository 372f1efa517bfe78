package domain

import (
	"encoding/json"
	"time"
)

// Heartbeat is a directional state datagram between friends. A keepalive
// carries no payload and means "nothing changed since last time".
type Heartbeat struct {
	ID           string    `json:"id"`
	FromClawID   string    `json:"fromClawId"`
	ToClawID     string    `json:"toClawId"`
	Interests    []string  `json:"interests,omitempty"`
	Availability string    `json:"availability,omitempty"`
	RecentTopics []string  `json:"recentTopics,omitempty"`
	IsKeepalive  bool      `json:"isKeepalive"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HeartbeatState is the folded view of everything a claw has sent to one
// friend, used to diff the next outgoing heartbeat.
type HeartbeatState struct {
	Interests    []string `json:"interests,omitempty"`
	Availability string   `json:"availability,omitempty"`
	RecentTopics []string `json:"recentTopics,omitempty"`
}

// Equal reports whether both states carry the same three semantic fields.
func (s HeartbeatState) Equal(o HeartbeatState) bool {
	return s.Availability == o.Availability &&
		stringSlicesEqual(s.Interests, o.Interests) &&
		stringSlicesEqual(s.RecentTopics, o.RecentTopics)
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FriendModel is the Proxy ToM record: what clawID currently believes about
// friendID. Created with the friendship, dropped with it.
type FriendModel struct {
	ClawID            string             `json:"clawId"`
	FriendID          string             `json:"friendId"`
	LastKnownState    string             `json:"lastKnownState,omitempty"`
	InferredInterests []string           `json:"inferredInterests,omitempty"`
	Availability      string             `json:"availability,omitempty"`
	ExpertiseTags     map[string]float64 `json:"expertiseTags,omitempty"`
	LastHeartbeatAt   *time.Time         `json:"lastHeartbeatAt,omitempty"`
	LastInteractionAt *time.Time         `json:"lastInteractionAt,omitempty"`
	EmotionalTone     string             `json:"emotionalTone,omitempty"`
	InferredNeeds     []string           `json:"inferredNeeds,omitempty"`
	KnowledgeGaps     []string           `json:"knowledgeGaps,omitempty"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// DunbarLayer tiers social closeness with capacity caps.
type DunbarLayer string

const (
	LayerCore     DunbarLayer = "core"
	LayerSympathy DunbarLayer = "sympathy"
	LayerActive   DunbarLayer = "active"
	LayerCasual   DunbarLayer = "casual"
)

// RelationshipStrength is the directional closeness record. Initial strength
// is 0.5 in layer casual.
type RelationshipStrength struct {
	ClawID            string      `json:"clawId"`
	FriendID          string      `json:"friendId"`
	Strength          float64     `json:"strength"`
	DunbarLayer       DunbarLayer `json:"dunbarLayer"`
	ManualOverride    bool        `json:"manualOverride"`
	LastInteractionAt *time.Time  `json:"lastInteractionAt,omitempty"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// InitialStrength seeds new relationships.
const InitialStrength = 0.5

// InteractionType names the boost sources for relationship strength.
type InteractionType string

const (
	InteractionMessage    InteractionType = "message"
	InteractionReaction   InteractionType = "reaction"
	InteractionHeartbeat  InteractionType = "heartbeat"
	InteractionPearlShare InteractionType = "pearl_share"
	InteractionPollVote   InteractionType = "poll_vote"
)

// TrustDomainOverall is the sentinel domain when a pearl lists none.
const TrustDomainOverall = "_overall"

// TrustScore is per (claw, friend, domain). Composite is a bounded monotone
// blend of the manual component H and the inferred component Q.
type TrustScore struct {
	ClawID       string    `json:"clawId"`
	FriendID     string    `json:"friendId"`
	Domain       string    `json:"domain"`
	HistoryScore float64   `json:"historyScore"`
	QualityScore float64   `json:"qualityScore"`
	Composite    float64   `json:"composite"`
	SignalCount  int       `json:"signalCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PearlType classifies crystallized content.
type PearlType string

const (
	PearlInsight    PearlType = "insight"
	PearlFramework  PearlType = "framework"
	PearlExperience PearlType = "experience"
)

// Shareability gates who may see a pearl.
type Shareability string

const (
	SharePrivate     Shareability = "private"
	ShareFriendsOnly Shareability = "friends_only"
	SharePublic      Shareability = "public"
)

// Pearl is a crystallized cognitive artifact. Luster starts at 0.5 and is
// recomputed from endorsements and thread references.
type Pearl struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"ownerId"`
	Type         PearlType    `json:"type"`
	TriggerText  string       `json:"triggerText"`
	Body         string       `json:"body,omitempty"`
	Context      string       `json:"context,omitempty"`
	DomainTags   []string     `json:"domainTags,omitempty"`
	Luster       float64      `json:"luster"`
	Shareability Shareability `json:"shareability"`
	OriginType   string       `json:"originType,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// DefaultLuster is the prior for new pearls.
const DefaultLuster = 0.5

// PearlEndorsement is unique per (pearl, endorser); re-endorsing overwrites.
type PearlEndorsement struct {
	ID         string    `json:"id"`
	PearlID    string    `json:"pearlId"`
	EndorserID string    `json:"endorserId"`
	Score      float64   `json:"score"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PearlShare records a pearl sent to a friend.
type PearlShare struct {
	ID         string    `json:"id"`
	PearlID    string    `json:"pearlId"`
	FromClawID string    `json:"fromClawId"`
	ToClawID   string    `json:"toClawId"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ReflexSource records where a reflex came from.
type ReflexSource string

const (
	ReflexBuiltin   ReflexSource = "builtin"
	ReflexUser      ReflexSource = "user"
	ReflexMicroMolt ReflexSource = "micro_molt"
)

// Reflex is a per-claw trigger → behavior rule. TriggerLayer 0 runs
// deterministically; layer 1 defers to an external assistant.
type Reflex struct {
	ID            string          `json:"id"`
	ClawID        string          `json:"clawId"`
	Name          string          `json:"name"`
	ValueLayer    string          `json:"valueLayer,omitempty"`
	Behavior      string          `json:"behavior"`
	TriggerLayer  int             `json:"triggerLayer"`
	TriggerConfig json.RawMessage `json:"triggerConfig,omitempty"`
	Enabled       bool            `json:"enabled"`
	Confidence    float64         `json:"confidence"`
	Source        ReflexSource    `json:"source"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TriggerEvent extracts the event name from TriggerConfig, empty when the
// config carries none.
func (r *Reflex) TriggerEvent() string {
	if len(r.TriggerConfig) == 0 {
		return ""
	}
	var cfg struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(r.TriggerConfig, &cfg); err != nil {
		return ""
	}
	return cfg.Event
}

// ExecutionResult is the outcome of one reflex firing.
type ExecutionResult string

const (
	ResultExecuted    ExecutionResult = "executed"
	ResultRecommended ExecutionResult = "recommended"
	ResultBlocked     ExecutionResult = "blocked"
	ResultQueuedForL1 ExecutionResult = "queued_for_l1"
)

// ReflexExecution is one entry in the execution log.
type ReflexExecution struct {
	ID        string          `json:"id"`
	ReflexID  string          `json:"reflexId"`
	ClawID    string          `json:"clawId"`
	EventType string          `json:"eventType"`
	EventID   string          `json:"eventId"`
	Result    ExecutionResult `json:"executionResult"`
	Detail    string          `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ReflexStats aggregates the execution log per reflex.
type ReflexStats struct {
	ReflexID    string `json:"reflexId"`
	Name        string `json:"name"`
	Total       int    `json:"total"`
	Executed    int    `json:"executed"`
	Recommended int    `json:"recommended"`
	Blocked     int    `json:"blocked"`
	QueuedForL1 int    `json:"queuedForL1"`
}

// BriefingType is daily or weekly.
type BriefingType string

const (
	BriefingDaily  BriefingType = "daily"
	BriefingWeekly BriefingType = "weekly"
)

// Briefing is an append-only generated document per claw.
type Briefing struct {
	ID             string          `json:"id"`
	ClawID         string          `json:"clawId"`
	Type           BriefingType    `json:"type"`
	Content        string          `json:"content"`
	RawData        json.RawMessage `json:"rawData,omitempty"`
	GeneratedAt    time.Time       `json:"generatedAt"`
	AcknowledgedAt *time.Time      `json:"acknowledgedAt,omitempty"`
}

// SuggestionAction is what a micro-molt suggestion proposes.
type SuggestionAction string

const (
	SuggestDisable  SuggestionAction = "disable"
	SuggestTiming   SuggestionAction = "timing"
	SuggestEscalate SuggestionAction = "escalate"
	SuggestAllow    SuggestionAction = "allow"
)

// MoltSuggestion is one proposed carapace adjustment.
type MoltSuggestion struct {
	Action     SuggestionAction `json:"action"`
	Target     string           `json:"target"`
	Reason     string           `json:"reason"`
	Confidence float64          `json:"confidence"`
}

// CarapaceVersion is one snapshot of the behavioural rule document. Version
// is strictly increasing per claw.
type CarapaceVersion struct {
	ID        string          `json:"id"`
	ClawID    string          `json:"clawId"`
	Version   int             `json:"version"`
	Document  json.RawMessage `json:"document"`
	CreatedAt time.Time       `json:"createdAt"`
}

// KeyBundle is the published E2EE key material for a claw. The server only
// validates shape; all cryptography happens client-side.
type KeyBundle struct {
	ClawID          string    `json:"clawId"`
	IdentityKey     string    `json:"identityKey"` // base64 X25519
	SignedPrekey    string    `json:"signedPrekey"`
	PrekeySignature string    `json:"prekeySignature,omitempty"`
	OneTimePrekeys  []string  `json:"oneTimePrekeys,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Thread is a collaborative topic that collects contributions; pearl_ref
// contributions feed luster.
type Thread struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"ownerId"`
	Title             string    `json:"title"`
	CreatedAt         time.Time `json:"createdAt"`
	ContributionCount int       `json:"contributionCount,omitempty"`
}

// ContributionType tags thread contributions.
type ContributionType string

const (
	ContributionText     ContributionType = "text"
	ContributionPearlRef ContributionType = "pearl_ref"
)

// ThreadContribution is one entry in a thread.
type ThreadContribution struct {
	ID          string           `json:"id"`
	ThreadID    string           `json:"threadId"`
	ClawID      string           `json:"clawId"`
	ContentType ContributionType `json:"contentType"`
	Text        string           `json:"text,omitempty"`
	PearlRefID  string           `json:"pearlRefId,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// WebhookType separates outgoing deliveries from inbound receivers.
type WebhookType string

const (
	WebhookOutgoing WebhookType = "outgoing"
	WebhookIncoming WebhookType = "incoming"
)

// Webhook is a per-claw endpoint registration. Names are unique per claw.
// Events lists subscribed event names, or the single element "*".
type Webhook struct {
	ID              string      `json:"id"`
	ClawID          string      `json:"clawId"`
	Type            WebhookType `json:"type"`
	Name            string      `json:"name"`
	URL             string      `json:"url,omitempty"`
	Secret          string      `json:"-"`
	Events          []string    `json:"events"`
	Active          bool        `json:"active"`
	FailureCount    int         `json:"failureCount"`
	LastStatusCode  *int        `json:"lastStatusCode,omitempty"`
	LastTriggeredAt *time.Time  `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Matches reports whether the webhook subscribes to the given event name.
func (w *Webhook) Matches(event string) bool {
	for _, e := range w.Events {
		if e == "*" || e == event {
			return true
		}
	}
	return false
}

// WebhookDelivery logs one delivery attempt. ResponseBody is truncated to
// 1 KiB before persisting.
type WebhookDelivery struct {
	ID           string          `json:"id"`
	WebhookID    string          `json:"webhookId"`
	EventType    string          `json:"eventType"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Attempt      int             `json:"attempt"`
	StatusCode   *int            `json:"statusCode,omitempty"`
	ResponseBody string          `json:"responseBody,omitempty"`
	Error        string          `json:"error,omitempty"`
	Success      bool            `json:"success"`
	DeliveredAt  time.Time       `json:"deliveredAt"`
}

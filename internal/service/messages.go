package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/storage"
)

// maxBlocks caps the block list of messages and drafts.
const maxBlocks = 50

// MessageService runs the fan-out pipeline: validate visibility, resolve
// recipients, persist message plus inbox entries in one transaction, then
// emit message.new. It also owns reactions, poll votes and the inbox.
type MessageService struct {
	store      *storage.Store
	bus        *events.Bus
	editWindow time.Duration
	log        zerolog.Logger
}

func NewMessageService(store *storage.Store, bus *events.Bus, editWindow time.Duration, log zerolog.Logger) *MessageService {
	return &MessageService{
		store:      store,
		bus:        bus,
		editWindow: editWindow,
		log:        log.With().Str("component", "messages").Logger(),
	}
}

// SendInput is the send-message payload.
type SendInput struct {
	Blocks         []domain.Block    `json:"blocks"`
	Visibility     domain.Visibility `json:"visibility"`
	ToClawIDs      []string          `json:"toClawIds"`
	CircleNames    []string          `json:"circleNames"`
	GroupID        string            `json:"groupId"`
	ReplyTo        string            `json:"replyTo"`
	ContentWarning string            `json:"contentWarning"`
}

// SendResult is the authoritative answer to the sender. RecipientCount
// equals the number of inbox entries written.
type SendResult struct {
	MessageID      string   `json:"messageId"`
	RecipientCount int      `json:"recipientCount"`
	Recipients     []string `json:"recipients"`
}

// Send validates, resolves recipients, persists atomically and emits
// message.new. A failure in any step leaves no partial fan-out behind.
func (s *MessageService) Send(ctx context.Context, senderID string, in SendInput) (*SendResult, error) {
	if err := validateBlocks(in.Blocks); err != nil {
		return nil, err
	}
	recipients, err := s.resolveRecipients(ctx, senderID, &in)
	if err != nil {
		return nil, err
	}

	m := &domain.Message{
		ID:             uuid.NewString(),
		FromClawID:     senderID,
		Blocks:         in.Blocks,
		Visibility:     in.Visibility,
		GroupID:        in.GroupID,
		ReplyTo:        in.ReplyTo,
		ContentWarning: in.ContentWarning,
		CreatedAt:      time.Now().UTC(),
	}
	entries, err := s.store.CreateMessageWithInbox(ctx, m, recipients)
	if err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.New(events.MessageNew, senderID, recipients, events.MessagePayload{
		MessageID:    m.ID,
		SenderID:     senderID,
		RecipientIDs: recipients,
		Message:      m,
	}))
	s.log.Debug().Str("message_id", m.ID).Int("recipients", len(entries)).
		Str("visibility", string(in.Visibility)).Msg("message fanned out")

	return &SendResult{MessageID: m.ID, RecipientCount: len(entries), Recipients: recipients}, nil
}

// resolveRecipients applies the per-visibility rules and returns a sorted,
// deduplicated recipient list that never contains the sender.
func (s *MessageService) resolveRecipients(ctx context.Context, senderID string, in *SendInput) ([]string, error) {
	var recipients []string
	switch in.Visibility {
	case domain.VisibilityDirect:
		if len(in.ToClawIDs) == 0 {
			return nil, domain.Invalid(domain.CodeValidation, "direct messages require toClawIds")
		}
		friends, err := s.friendSet(ctx, senderID)
		if err != nil {
			return nil, err
		}
		for _, id := range in.ToClawIDs {
			if id == senderID {
				continue
			}
			if !friends[id] {
				return nil, domain.InvalidDetails(domain.CodeValidation,
					"direct recipients must be accepted friends", map[string]string{"clawId": id})
			}
			recipients = append(recipients, id)
		}
		if len(recipients) == 0 {
			return nil, domain.Invalid(domain.CodeValidation, "direct messages require at least one recipient besides the sender")
		}

	case domain.VisibilityCircles:
		if len(in.CircleNames) == 0 {
			return nil, domain.Invalid(domain.CodeValidation, "circle messages require circleNames")
		}
		missing, err := s.store.CircleNamesExist(ctx, senderID, in.CircleNames)
		if err != nil {
			return nil, err
		}
		if missing != "" {
			return nil, domain.InvalidDetails(domain.CodeValidation,
				"unknown circle", map[string]string{"name": missing})
		}
		members, err := s.store.ResolveCircleMembers(ctx, senderID, in.CircleNames)
		if err != nil {
			return nil, err
		}
		friends, err := s.friendSet(ctx, senderID)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			if id != senderID && friends[id] {
				recipients = append(recipients, id)
			}
		}

	case domain.VisibilityGroup:
		if in.GroupID == "" {
			return nil, domain.Invalid(domain.CodeValidation, "group messages require groupId")
		}
		if _, err := s.store.GetGroupMember(ctx, in.GroupID, senderID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, domain.Forbidden(domain.CodeNotMember, "not a member of this group")
			}
			return nil, err
		}
		ids, err := s.store.ListGroupMemberIDs(ctx, in.GroupID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if id != senderID {
				recipients = append(recipients, id)
			}
		}

	case domain.VisibilityPublic:
		ids, err := s.store.ListFriendIDs(ctx, senderID)
		if err != nil {
			return nil, err
		}
		recipients = ids

	default:
		return nil, domain.Invalid(domain.CodeValidation, "visibility must be direct, circles, group or public")
	}

	if in.Visibility != domain.VisibilityGroup {
		in.GroupID = ""
	}
	recipients = dedupeStrings(recipients)
	sort.Strings(recipients)
	return recipients, nil
}

// Get returns a message the claw is allowed to see. Deleted messages come
// back as tombstones with the body removed.
func (s *MessageService) Get(ctx context.Context, clawID, messageID string) (*domain.Message, error) {
	m, err := s.readable(ctx, clawID, messageID)
	if err != nil {
		return nil, err
	}
	return redacted(m), nil
}

// Edit replaces the block list. Author only, inside the edit window, and
// poll blocks are frozen at creation so existing votes stay valid.
func (s *MessageService) Edit(ctx context.Context, clawID, messageID string, blocks []domain.Block) (*domain.Message, error) {
	m, err := s.fetch(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.FromClawID != clawID {
		return nil, domain.Forbidden(domain.CodeInsufficient, "only the author can edit a message")
	}
	if m.DeletedAt != nil {
		return nil, domain.NotFound(domain.CodeNotFound, "message not found")
	}
	if time.Since(m.CreatedAt) > s.editWindow {
		return nil, domain.Forbidden(domain.CodeEditWindow, "edit window has closed")
	}
	if err := validateBlocks(blocks); err != nil {
		return nil, err
	}
	if err := pollsCompatible(m.Blocks, blocks); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.store.UpdateMessageBlocks(ctx, messageID, blocks, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "message not found")
		}
		return nil, err
	}
	m.Blocks = blocks
	m.EditedAt = &now

	recipients, err := s.store.ListRecipientIDs(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, events.New(events.MessageEdited, clawID, recipients, events.MessagePayload{
		MessageID:    m.ID,
		SenderID:     m.FromClawID,
		RecipientIDs: recipients,
		Message:      m,
	}))
	return m, nil
}

// Delete soft-deletes a message. Author only; inbox references keep
// resolving to a tombstone.
func (s *MessageService) Delete(ctx context.Context, clawID, messageID string) error {
	m, err := s.fetch(ctx, messageID)
	if err != nil {
		return err
	}
	if m.FromClawID != clawID {
		return domain.Forbidden(domain.CodeInsufficient, "only the author can delete a message")
	}
	if m.DeletedAt != nil {
		return nil
	}
	if err := s.store.SoftDeleteMessage(ctx, messageID, time.Now().UTC()); err != nil {
		return err
	}
	recipients, err := s.store.ListRecipientIDs(ctx, messageID)
	if err != nil {
		return err
	}
	s.bus.Publish(ctx, events.New(events.MessageDeleted, clawID, recipients, events.MessagePayload{
		MessageID:    messageID,
		SenderID:     m.FromClawID,
		RecipientIDs: recipients,
	}))
	return nil
}

// Inbox lists entries after sinceSeq in ascending sequence order,
// optionally filtered by status.
func (s *MessageService) Inbox(ctx context.Context, clawID string, sinceSeq int64, status domain.InboxStatus, limit int) ([]*domain.InboxEntry, error) {
	if status != "" {
		switch status {
		case domain.InboxUnread, domain.InboxRead, domain.InboxAcked:
		default:
			return nil, domain.Invalid(domain.CodeValidation, "status must be unread, read or acked")
		}
	}
	entries, err := s.store.ListInbox(ctx, clawID, sinceSeq, status, limit)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		e.Message = redacted(e.Message)
	}
	return entries, nil
}

// MarkRead advances the given inbox entries to read. Acked entries are left
// alone; the transition only moves forward.
func (s *MessageService) MarkRead(ctx context.Context, clawID string, messageIDs []string) (int64, error) {
	return s.setStatus(ctx, clawID, messageIDs, domain.InboxRead)
}

// MarkAcked advances the given inbox entries to acked.
func (s *MessageService) MarkAcked(ctx context.Context, clawID string, messageIDs []string) (int64, error) {
	return s.setStatus(ctx, clawID, messageIDs, domain.InboxAcked)
}

func (s *MessageService) setStatus(ctx context.Context, clawID string, messageIDs []string, to domain.InboxStatus) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, domain.Invalid(domain.CodeValidation, "ids are required")
	}
	return s.store.SetInboxStatus(ctx, clawID, messageIDs, to)
}

// UnreadCount counts unread inbox entries.
func (s *MessageService) UnreadCount(ctx context.Context, clawID string) (int, error) {
	return s.store.UnreadCount(ctx, clawID)
}

// React adds an emoji reaction and notifies the author.
func (s *MessageService) React(ctx context.Context, clawID, messageID, emoji string) (*domain.Reaction, error) {
	if emoji == "" || len(emoji) > 32 {
		return nil, domain.Invalid(domain.CodeValidation, "emoji is required")
	}
	m, err := s.readable(ctx, clawID, messageID)
	if err != nil {
		return nil, err
	}
	if m.DeletedAt != nil {
		return nil, domain.NotFound(domain.CodeNotFound, "message not found")
	}
	r := &domain.Reaction{
		ID:        uuid.NewString(),
		MessageID: messageID,
		ClawID:    clawID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AddReaction(ctx, r); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, domain.Conflict(domain.CodeDuplicate, "already reacted with this emoji")
		}
		return nil, err
	}
	s.bus.Publish(ctx, events.New(events.ReactionAdded, clawID, []string{m.FromClawID}, events.ReactionPayload{
		MessageID: messageID,
		OwnerID:   m.FromClawID,
		ClawID:    clawID,
		Emoji:     emoji,
	}))
	return r, nil
}

// Unreact removes the claw's reaction.
func (s *MessageService) Unreact(ctx context.Context, clawID, messageID, emoji string) error {
	m, err := s.readable(ctx, clawID, messageID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveReaction(ctx, messageID, clawID, emoji); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NotFound(domain.CodeNotFound, "reaction not found")
		}
		return err
	}
	s.bus.Publish(ctx, events.New(events.ReactionRemoved, clawID, []string{m.FromClawID}, events.ReactionPayload{
		MessageID: messageID,
		OwnerID:   m.FromClawID,
		ClawID:    clawID,
		Emoji:     emoji,
	}))
	return nil
}

// Reactions lists reactions on a readable message.
func (s *MessageService) Reactions(ctx context.Context, clawID, messageID string) ([]*domain.Reaction, error) {
	if _, err := s.readable(ctx, clawID, messageID); err != nil {
		return nil, err
	}
	return s.store.ListReactions(ctx, messageID)
}

// Vote records a poll vote. One vote per claw; re-votes overwrite.
func (s *MessageService) Vote(ctx context.Context, clawID, messageID string, optionIndex int) error {
	m, err := s.readable(ctx, clawID, messageID)
	if err != nil {
		return err
	}
	if m.DeletedAt != nil {
		return domain.NotFound(domain.CodeNotFound, "message not found")
	}
	poll := m.PollBlock()
	if poll == nil {
		return domain.Invalid(domain.CodeValidation, "message carries no poll")
	}
	if optionIndex < 0 || optionIndex >= len(poll.Options) {
		return domain.Invalid(domain.CodeValidation, "optionIndex is out of range")
	}
	v := &domain.PollVote{
		ID:          uuid.NewString(),
		MessageID:   messageID,
		ClawID:      clawID,
		OptionIndex: optionIndex,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.UpsertPollVote(ctx, v); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.New(events.PollVoted, clawID, []string{m.FromClawID}, events.PollVotePayload{
		MessageID:   messageID,
		OwnerID:     m.FromClawID,
		VoterID:     clawID,
		OptionIndex: optionIndex,
	}))
	return nil
}

// PollResults tallies a poll for a readable message.
type PollResults struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Counts   []int    `json:"counts"`
	Total    int      `json:"total"`
	MyVote   *int     `json:"myVote,omitempty"`
}

// Poll returns the tally and the caller's own vote, if any.
func (s *MessageService) Poll(ctx context.Context, clawID, messageID string) (*PollResults, error) {
	m, err := s.readable(ctx, clawID, messageID)
	if err != nil {
		return nil, err
	}
	poll := m.PollBlock()
	if poll == nil {
		return nil, domain.Invalid(domain.CodeValidation, "message carries no poll")
	}
	votes, err := s.store.ListPollVotes(ctx, messageID)
	if err != nil {
		return nil, err
	}
	res := &PollResults{
		Question: poll.Question,
		Options:  poll.Options,
		Counts:   make([]int, len(poll.Options)),
	}
	for _, v := range votes {
		if v.OptionIndex >= 0 && v.OptionIndex < len(res.Counts) {
			res.Counts[v.OptionIndex]++
			res.Total++
		}
		if v.ClawID == clawID {
			idx := v.OptionIndex
			res.MyVote = &idx
		}
	}
	return res, nil
}

// GroupHistory pages a group's messages, newest first. Members only.
func (s *MessageService) GroupHistory(ctx context.Context, clawID, groupID string, before time.Time, limit int) ([]*domain.Message, error) {
	if _, err := s.store.GetGroupMember(ctx, groupID, clawID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.Forbidden(domain.CodeNotMember, "not a member of this group")
		}
		return nil, err
	}
	msgs, err := s.store.ListGroupMessages(ctx, groupID, before, limit)
	if err != nil {
		return nil, err
	}
	for i, m := range msgs {
		msgs[i] = redacted(m)
	}
	return msgs, nil
}

func (s *MessageService) fetch(ctx context.Context, messageID string) (*domain.Message, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "message not found")
		}
		return nil, err
	}
	return m, nil
}

// readable loads the message and checks the caller may see it: the author,
// an inbox recipient, or a current member of the message's group.
func (s *MessageService) readable(ctx context.Context, clawID, messageID string) (*domain.Message, error) {
	m, err := s.fetch(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.FromClawID == clawID {
		return m, nil
	}
	if m.GroupID != "" {
		if _, err := s.store.GetGroupMember(ctx, m.GroupID, clawID); err == nil {
			return m, nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, domain.NotFound(domain.CodeNotFound, "message not found")
	}
	if _, err := s.store.GetInboxEntry(ctx, clawID, messageID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "message not found")
		}
		return nil, err
	}
	return m, nil
}

func (s *MessageService) friendSet(ctx context.Context, clawID string) (map[string]bool, error) {
	ids, err := s.store.ListFriendIDs(ctx, clawID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// redacted blanks the body of deleted messages while keeping the tombstone
// resolvable.
func redacted(m *domain.Message) *domain.Message {
	if m == nil || m.DeletedAt == nil {
		return m
	}
	t := *m
	t.Blocks = nil
	t.ContentWarning = ""
	return &t
}

// validateBlocks checks the block list is non-empty, every block carries the
// fields its type requires, and at most one poll appears.
func validateBlocks(blocks []domain.Block) error {
	if len(blocks) == 0 {
		return domain.Invalid(domain.CodeValidation, "blocks are required")
	}
	if len(blocks) > maxBlocks {
		return domain.Invalid(domain.CodeValidation, "at most 50 blocks per message")
	}
	polls := 0
	for i, b := range blocks {
		switch b.Type {
		case domain.BlockText:
			if b.Text == "" {
				return blockErr(i, "text blocks require text")
			}
		case domain.BlockLink:
			if b.URL == "" {
				return blockErr(i, "link blocks require url")
			}
		case domain.BlockImage:
			if b.URL == "" && b.UploadID == "" {
				return blockErr(i, "image blocks require url or uploadId")
			}
		case domain.BlockCode:
			if b.Code == "" {
				return blockErr(i, "code blocks require code")
			}
		case domain.BlockPoll:
			polls++
			if b.Question == "" {
				return blockErr(i, "poll blocks require a question")
			}
			if len(b.Options) < 2 {
				return blockErr(i, "poll blocks require at least two options")
			}
		default:
			return blockErr(i, "unknown block type")
		}
	}
	if polls > 1 {
		return domain.Invalid(domain.CodeValidation, "at most one poll block per message")
	}
	return nil
}

func blockErr(i int, msg string) error {
	return domain.InvalidDetails(domain.CodeValidation, msg, map[string]int{"block": i})
}

// pollsCompatible rejects edits that add, drop or shrink a poll, because
// stored votes index into the original option list.
func pollsCompatible(oldBlocks, newBlocks []domain.Block) error {
	var oldPoll, newPoll *domain.Block
	for i := range oldBlocks {
		if oldBlocks[i].Type == domain.BlockPoll {
			oldPoll = &oldBlocks[i]
		}
	}
	for i := range newBlocks {
		if newBlocks[i].Type == domain.BlockPoll {
			newPoll = &newBlocks[i]
		}
	}
	switch {
	case oldPoll == nil && newPoll == nil:
		return nil
	case oldPoll == nil && newPoll != nil:
		return domain.Invalid(domain.CodeValidation, "polls cannot be added by editing")
	case oldPoll != nil && newPoll == nil:
		return domain.Invalid(domain.CodeValidation, "polls cannot be removed by editing")
	default:
		if len(newPoll.Options) < len(oldPoll.Options) {
			return domain.Invalid(domain.CodeValidation, "poll options cannot be removed by editing")
		}
		return nil
	}
}

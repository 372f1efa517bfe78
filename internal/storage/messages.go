package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/clawbuds/backend/internal/domain"
)

const messageColumns = `id, from_claw_id, blocks, visibility, group_id, reply_to,
	content_warning, created_at, edited_at, deleted_at`

// CreateMessageWithInbox stores a message and fans it out to every recipient
// inbox in a single transaction. Each recipient's seq is allocated as their
// previous maximum plus one, so per-recipient ordering is gapless under the
// unique (recipient, seq) constraint. If any insert fails the whole write
// rolls back and no orphan message remains.
func (s *Store) CreateMessageWithInbox(ctx context.Context, m *domain.Message, recipients []string) ([]*domain.InboxEntry, error) {
	blocks, err := json.Marshal(m.Blocks)
	if err != nil {
		return nil, fmt.Errorf("encode blocks: %w", err)
	}
	entries := make([]*domain.InboxEntry, 0, len(recipients))
	err = s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := s.txExec(ctx, tx, `INSERT INTO messages (`+messageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			m.ID, m.FromClawID, string(blocks), string(m.Visibility),
			nullString(m.GroupID), nullString(m.ReplyTo), m.ContentWarning,
			msec(m.CreatedAt), nullMsec(m.EditedAt), nullMsec(m.DeletedAt)); err != nil {
			return err
		}
		for _, recipient := range recipients {
			var seq int64
			if err := s.txQueryRow(ctx, tx, `SELECT COALESCE(MAX(seq), 0) + 1
				FROM inbox_entries WHERE recipient_id = $1`, recipient).Scan(&seq); err != nil {
				return mapErr(err)
			}
			entry := &domain.InboxEntry{
				ID:          xid.New().String(),
				RecipientID: recipient,
				MessageID:   m.ID,
				Seq:         seq,
				Status:      domain.InboxUnread,
				CreatedAt:   m.CreatedAt,
			}
			if _, err := s.txExec(ctx, tx, `INSERT INTO inbox_entries
				(id, recipient_id, message_id, seq, status, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				entry.ID, entry.RecipientID, entry.MessageID, entry.Seq,
				string(entry.Status), msec(entry.CreatedAt)); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetMessage fetches one message by ID, including soft-deleted ones.
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.queryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row.Scan)
}

// UpdateMessageBlocks replaces the block list of an edited message.
func (s *Store) UpdateMessageBlocks(ctx context.Context, id string, blocks []domain.Block, editedAt time.Time) error {
	encoded, err := json.Marshal(blocks)
	if err != nil {
		return fmt.Errorf("encode blocks: %w", err)
	}
	res, err := s.exec(ctx, `UPDATE messages SET blocks = $1, edited_at = $2
		WHERE id = $3 AND deleted_at IS NULL`, string(encoded), msec(editedAt), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SoftDeleteMessage marks a message deleted. Inbox entries stay so recipient
// sequences keep their history.
func (s *Store) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE messages SET deleted_at = $1
		WHERE id = $2 AND deleted_at IS NULL`, msec(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListInbox returns a recipient's inbox entries with their messages in
// ascending seq order, starting after sinceSeq.
func (s *Store) ListInbox(ctx context.Context, recipientID string, sinceSeq int64, status domain.InboxStatus, limit int) ([]*domain.InboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT i.id, i.recipient_id, i.message_id, i.seq, i.status, i.created_at,
		m.id, m.from_claw_id, m.blocks, m.visibility, m.group_id, m.reply_to,
		m.content_warning, m.created_at, m.edited_at, m.deleted_at
		FROM inbox_entries i
		JOIN messages m ON m.id = i.message_id
		WHERE i.recipient_id = $1 AND i.seq > $2`
	args := []interface{}{recipientID, sinceSeq}
	if status != "" {
		q += ` AND i.status = $3`
		args = append(args, string(status))
	}
	q += fmt.Sprintf(` ORDER BY i.seq LIMIT %d`, limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.InboxEntry
	for rows.Next() {
		var (
			e        domain.InboxEntry
			eStatus  string
			eCreated int64
		)
		m := &domain.Message{}
		var (
			mBlocks         string
			mVisibility     string
			mGroup, mReply  sql.NullString
			mCreated        int64
			mEdited, mDeled sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.RecipientID, &e.MessageID, &e.Seq, &eStatus, &eCreated,
			&m.ID, &m.FromClawID, &mBlocks, &mVisibility, &mGroup, &mReply,
			&m.ContentWarning, &mCreated, &mEdited, &mDeled); err != nil {
			return nil, err
		}
		e.Status = domain.InboxStatus(eStatus)
		e.CreatedAt = fromMsec(eCreated)
		if err := json.Unmarshal([]byte(mBlocks), &m.Blocks); err != nil {
			return nil, fmt.Errorf("decode blocks: %w", err)
		}
		m.Visibility = domain.Visibility(mVisibility)
		m.GroupID = mGroup.String
		m.ReplyTo = mReply.String
		m.CreatedAt = fromMsec(mCreated)
		m.EditedAt = timePtr(mEdited)
		m.DeletedAt = timePtr(mDeled)
		e.Message = m
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetInboxEntry fetches the recipient's entry for one message.
func (s *Store) GetInboxEntry(ctx context.Context, recipientID, messageID string) (*domain.InboxEntry, error) {
	var (
		e       domain.InboxEntry
		status  string
		created int64
	)
	err := s.queryRow(ctx, `SELECT id, recipient_id, message_id, seq, status, created_at
		FROM inbox_entries WHERE recipient_id = $1 AND message_id = $2`, recipientID, messageID).
		Scan(&e.ID, &e.RecipientID, &e.MessageID, &e.Seq, &status, &created)
	if err != nil {
		return nil, mapErr(err)
	}
	e.Status = domain.InboxStatus(status)
	e.CreatedAt = fromMsec(created)
	return &e, nil
}

// SetInboxStatus advances entries to read or acked. Transitions only move
// forward: marking an acked entry read is a silent no-op. Returns how many
// entries actually changed.
func (s *Store) SetInboxStatus(ctx context.Context, recipientID string, messageIDs []string, to domain.InboxStatus) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	var allowed string
	switch to {
	case domain.InboxRead:
		allowed = `'unread'`
	case domain.InboxAcked:
		allowed = `'unread', 'read'`
	default:
		return 0, fmt.Errorf("invalid inbox status %q", to)
	}
	placeholders := make([]string, len(messageIDs))
	args := []interface{}{string(to), recipientID}
	for i, id := range messageIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}
	res, err := s.exec(ctx, fmt.Sprintf(`UPDATE inbox_entries SET status = $1
		WHERE recipient_id = $2 AND message_id IN (%s) AND status IN (%s)`,
		strings.Join(placeholders, ", "), allowed), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UnreadCount counts unread inbox entries for a recipient.
func (s *Store) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM inbox_entries
		WHERE recipient_id = $1 AND status = 'unread'`, recipientID).Scan(&n)
	return n, mapErr(err)
}

// ListRecipientIDs returns the recipients a message was fanned out to.
func (s *Store) ListRecipientIDs(ctx context.Context, messageID string) ([]string, error) {
	rows, err := s.query(ctx, `SELECT recipient_id FROM inbox_entries WHERE message_id = $1
		ORDER BY recipient_id`, messageID)
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}

// ListGroupMessages returns a group's messages, newest first.
func (s *Store) ListGroupMessages(ctx context.Context, groupID string, before time.Time, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, fmt.Sprintf(`SELECT `+messageColumns+` FROM messages
		WHERE group_id = $1 AND created_at < $2 ORDER BY created_at DESC LIMIT %d`, limit),
		groupID, msec(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessagesDelivered counts messages from one claw that landed in
// another's inbox since the cutoff. Feeds the grooming reply-rate sweep.
func (s *Store) CountMessagesDelivered(ctx context.Context, fromClawID, toClawID string, since time.Time) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM messages m
		JOIN inbox_entries i ON i.message_id = m.id
		WHERE m.from_claw_id = $1 AND i.recipient_id = $2 AND m.created_at >= $3`,
		fromClawID, toClawID, msec(since)).Scan(&n)
	return n, mapErr(err)
}

// ===== REACTIONS =====

// AddReaction records an emoji reaction. ErrDuplicate when the claw already
// reacted with the same emoji.
func (s *Store) AddReaction(ctx context.Context, r *domain.Reaction) error {
	_, err := s.exec(ctx, `INSERT INTO reactions (id, message_id, claw_id, emoji, created_at)
		VALUES ($1, $2, $3, $4, $5)`, r.ID, r.MessageID, r.ClawID, r.Emoji, msec(r.CreatedAt))
	return err
}

// RemoveReaction deletes a reaction, ErrNotFound when absent.
func (s *Store) RemoveReaction(ctx context.Context, messageID, clawID, emoji string) error {
	res, err := s.exec(ctx, `DELETE FROM reactions
		WHERE message_id = $1 AND claw_id = $2 AND emoji = $3`, messageID, clawID, emoji)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListReactions returns a message's reactions in arrival order.
func (s *Store) ListReactions(ctx context.Context, messageID string) ([]*domain.Reaction, error) {
	rows, err := s.query(ctx, `SELECT id, message_id, claw_id, emoji, created_at
		FROM reactions WHERE message_id = $1 ORDER BY created_at`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Reaction
	for rows.Next() {
		var (
			r       domain.Reaction
			created int64
		)
		if err := rows.Scan(&r.ID, &r.MessageID, &r.ClawID, &r.Emoji, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = fromMsec(created)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ===== POLL VOTES =====

// UpsertPollVote records a vote, replacing the claw's previous choice on the
// same poll. The (message, claw) uniqueness makes re-votes an update.
func (s *Store) UpsertPollVote(ctx context.Context, v *domain.PollVote) error {
	_, err := s.exec(ctx, `INSERT INTO poll_votes (id, message_id, claw_id, option_index, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, claw_id) DO UPDATE SET
			option_index = excluded.option_index,
			created_at = excluded.created_at`,
		v.ID, v.MessageID, v.ClawID, v.OptionIndex, msec(v.CreatedAt))
	return err
}

// ListPollVotes returns all votes on a poll message.
func (s *Store) ListPollVotes(ctx context.Context, messageID string) ([]*domain.PollVote, error) {
	rows, err := s.query(ctx, `SELECT id, message_id, claw_id, option_index, created_at
		FROM poll_votes WHERE message_id = $1 ORDER BY created_at`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PollVote
	for rows.Next() {
		var (
			v       domain.PollVote
			created int64
		)
		if err := rows.Scan(&v.ID, &v.MessageID, &v.ClawID, &v.OptionIndex, &created); err != nil {
			return nil, err
		}
		v.CreatedAt = fromMsec(created)
		out = append(out, &v)
	}
	return out, rows.Err()
}

func scanMessage(scan func(...interface{}) error) (*domain.Message, error) {
	var (
		m               domain.Message
		blocks          string
		visibility      string
		groupID, reply  sql.NullString
		created         int64
		edited, deleted sql.NullInt64
	)
	err := scan(&m.ID, &m.FromClawID, &blocks, &visibility, &groupID, &reply,
		&m.ContentWarning, &created, &edited, &deleted)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal([]byte(blocks), &m.Blocks); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}
	m.Visibility = domain.Visibility(visibility)
	m.GroupID = groupID.String
	m.ReplyTo = reply.String
	m.CreatedAt = fromMsec(created)
	m.EditedAt = timePtr(edited)
	m.DeletedAt = timePtr(deleted)
	return &m, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

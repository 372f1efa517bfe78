package storage

import (
	"context"
	"fmt"
)

// migrations shared by both backends. Every statement is idempotent so
// startup re-runs are safe; driver-specific statements live below.
var commonMigrations = []string{
	`CREATE TABLE IF NOT EXISTS claws (
		claw_id TEXT PRIMARY KEY,
		public_key TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		bio TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		tags TEXT NOT NULL DEFAULT '[]',
		discoverable BOOLEAN NOT NULL DEFAULT FALSE,
		avatar_url TEXT NOT NULL DEFAULT '',
		autonomy_level TEXT NOT NULL DEFAULT 'L2',
		autonomy_config TEXT NOT NULL DEFAULT '{}',
		notification_preferences TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL,
		last_seen_at BIGINT
	)`,

	`CREATE TABLE IF NOT EXISTS friendships (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		accepter_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_friendships_requester ON friendships(requester_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_friendships_accepter ON friendships(accepter_id, status)`,

	`CREATE TABLE IF NOT EXISTS circles (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE (owner_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS circle_members (
		circle_id TEXT NOT NULL REFERENCES circles(id) ON DELETE CASCADE,
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		added_at BIGINT NOT NULL,
		PRIMARY KEY (circle_id, claw_id)
	)`,

	`CREATE TABLE IF NOT EXISTS claw_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		group_type TEXT NOT NULL,
		owner_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		max_members INTEGER NOT NULL DEFAULT 50,
		encrypted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL REFERENCES claw_groups(id) ON DELETE CASCADE,
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		role TEXT NOT NULL DEFAULT 'member',
		joined_at BIGINT NOT NULL,
		PRIMARY KEY (group_id, claw_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_claw ON group_members(claw_id)`,
	`CREATE TABLE IF NOT EXISTS group_invitations (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES claw_groups(id) ON DELETE CASCADE,
		inviter_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		invitee_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		created_at BIGINT NOT NULL,
		UNIQUE (group_id, invitee_id)
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		from_claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		blocks TEXT NOT NULL,
		visibility TEXT NOT NULL,
		group_id TEXT REFERENCES claw_groups(id) ON DELETE CASCADE,
		reply_to TEXT,
		content_warning TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		edited_at BIGINT,
		deleted_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(from_claw_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS inbox_entries (
		id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		seq BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'unread',
		created_at BIGINT NOT NULL,
		UNIQUE (recipient_id, message_id),
		UNIQUE (recipient_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inbox_recipient_status ON inbox_entries(recipient_id, status)`,

	`CREATE TABLE IF NOT EXISTS reactions (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		emoji TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE (message_id, claw_id, emoji)
	)`,

	`CREATE TABLE IF NOT EXISTS poll_votes (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		option_index INTEGER NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE (message_id, claw_id)
	)`,

	`CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		blocks TEXT NOT NULL,
		visibility TEXT NOT NULL DEFAULT '',
		to_claw_ids TEXT NOT NULL DEFAULT '[]',
		circle_names TEXT NOT NULL DEFAULT '[]',
		group_id TEXT NOT NULL DEFAULT '',
		content_warning TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		filename TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL,
		size_bytes BIGINT NOT NULL,
		data BYTEA NOT NULL,
		created_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS heartbeats (
		id TEXT PRIMARY KEY,
		from_claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		to_claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		keepalive BOOLEAN NOT NULL DEFAULT FALSE,
		interests TEXT NOT NULL DEFAULT '[]',
		availability TEXT NOT NULL DEFAULT '',
		recent_topics TEXT NOT NULL DEFAULT '[]',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_heartbeats_pair ON heartbeats(from_claw_id, to_claw_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_heartbeats_recipient ON heartbeats(to_claw_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_heartbeats_created ON heartbeats(created_at)`,

	`CREATE TABLE IF NOT EXISTS friend_models (
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		friend_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		last_known_state TEXT NOT NULL DEFAULT '',
		inferred_interests TEXT NOT NULL DEFAULT '[]',
		availability TEXT NOT NULL DEFAULT '',
		expertise_tags TEXT NOT NULL DEFAULT '{}',
		last_heartbeat_at BIGINT,
		last_interaction_at BIGINT,
		emotional_tone TEXT NOT NULL DEFAULT '',
		inferred_needs TEXT NOT NULL DEFAULT '[]',
		knowledge_gaps TEXT NOT NULL DEFAULT '[]',
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (claw_id, friend_id)
	)`,

	`CREATE TABLE IF NOT EXISTS relationships (
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		friend_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		strength REAL NOT NULL DEFAULT 0.5,
		layer TEXT NOT NULL DEFAULT 'casual',
		manual_override BOOLEAN NOT NULL DEFAULT FALSE,
		last_interaction_at BIGINT,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (claw_id, friend_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_strength ON relationships(claw_id, strength)`,

	`CREATE TABLE IF NOT EXISTS pearls (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		pearl_type TEXT NOT NULL,
		trigger_text TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		context TEXT NOT NULL DEFAULT '',
		domain_tags TEXT NOT NULL DEFAULT '[]',
		shareability TEXT NOT NULL DEFAULT 'private',
		luster REAL NOT NULL DEFAULT 0.5,
		origin_type TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pearls_owner ON pearls(owner_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS pearl_endorsements (
		id TEXT PRIMARY KEY,
		pearl_id TEXT NOT NULL REFERENCES pearls(id) ON DELETE CASCADE,
		endorser_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		score REAL NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (pearl_id, endorser_id)
	)`,

	`CREATE TABLE IF NOT EXISTS pearl_shares (
		id TEXT PRIMARY KEY,
		pearl_id TEXT NOT NULL REFERENCES pearls(id) ON DELETE CASCADE,
		from_claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		to_claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		note TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		UNIQUE (pearl_id, to_claw_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pearl_shares_recipient ON pearl_shares(to_claw_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS trust_scores (
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		friend_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		domain TEXT NOT NULL DEFAULT '_overall',
		history_score REAL NOT NULL DEFAULT 0.5,
		quality_score REAL NOT NULL DEFAULT 0.5,
		composite REAL NOT NULL DEFAULT 0.5,
		signal_count INTEGER NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (claw_id, friend_id, domain)
	)`,

	`CREATE TABLE IF NOT EXISTS reflexes (
		id TEXT PRIMARY KEY,
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		value_layer TEXT NOT NULL DEFAULT '',
		behavior TEXT NOT NULL,
		trigger_layer INTEGER NOT NULL DEFAULT 0,
		trigger_config TEXT NOT NULL DEFAULT '{}',
		trigger_event TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		confidence REAL NOT NULL DEFAULT 0.5,
		source TEXT NOT NULL DEFAULT 'user',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (claw_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reflexes_trigger ON reflexes(trigger_event, enabled)`,

	`CREATE TABLE IF NOT EXISTS reflex_executions (
		id TEXT PRIMARY KEY,
		reflex_id TEXT NOT NULL REFERENCES reflexes(id) ON DELETE CASCADE,
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		result TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		UNIQUE (reflex_id, event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reflex_exec_claw ON reflex_executions(claw_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS briefings (
		id TEXT PRIMARY KEY,
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		briefing_type TEXT NOT NULL,
		content TEXT NOT NULL,
		raw_data TEXT NOT NULL DEFAULT '{}',
		generated_at BIGINT NOT NULL,
		acknowledged_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_briefings_claw ON briefings(claw_id, briefing_type, generated_at)`,

	`CREATE TABLE IF NOT EXISTS webhooks (
		id TEXT PRIMARY KEY,
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		webhook_type TEXT NOT NULL DEFAULT 'outgoing',
		url TEXT NOT NULL DEFAULT '',
		secret TEXT NOT NULL DEFAULT '',
		events TEXT NOT NULL DEFAULT '[]',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_status_code INTEGER,
		last_triggered_at BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (claw_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id TEXT PRIMARY KEY,
		webhook_id TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		attempt INTEGER NOT NULL,
		status_code INTEGER,
		response_body TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL DEFAULT FALSE,
		delivered_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id, delivered_at)`,

	`CREATE TABLE IF NOT EXISTS carapace_history (
		id TEXT NOT NULL,
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		document TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (claw_id, version)
	)`,

	`CREATE TABLE IF NOT EXISTS e2ee_keys (
		claw_id TEXT PRIMARY KEY REFERENCES claws(claw_id) ON DELETE CASCADE,
		identity_key TEXT NOT NULL,
		signed_prekey TEXT NOT NULL,
		prekey_signature TEXT NOT NULL,
		one_time_prekeys TEXT NOT NULL DEFAULT '[]',
		updated_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS thread_contributions (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		claw_id TEXT NOT NULL REFERENCES claws(claw_id) ON DELETE CASCADE,
		content_type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		pearl_ref_id TEXT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contributions_thread ON thread_contributions(thread_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_contributions_pearl ON thread_contributions(pearl_ref_id)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range commonMigrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	s.log.Debug().Str("driver", s.driver).Int("statements", len(commonMigrations)).Msg("migrations applied")
	return nil
}

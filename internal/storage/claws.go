package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/clawbuds/backend/internal/domain"
)

const clawColumns = `claw_id, public_key, display_name, bio, status, tags, discoverable,
	avatar_url, autonomy_level, autonomy_config, notification_preferences, created_at, last_seen_at`

// CreateClaw inserts a new claw. Returns ErrDuplicate when the claw ID or
// public key is already registered.
func (s *Store) CreateClaw(ctx context.Context, c *domain.Claw) error {
	_, err := s.exec(ctx, `INSERT INTO claws (`+clawColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ClawID, c.PublicKey, c.DisplayName, c.Bio, string(c.Status),
		encodeStrings(c.Tags), c.Discoverable, c.AvatarURL, c.AutonomyLevel,
		encodeRaw(c.AutonomyConfig, "{}"), encodeRaw(c.NotificationPreferences, "{}"),
		msec(c.CreatedAt), nullMsec(c.LastSeenAt))
	return err
}

// GetClaw fetches a claw by ID.
func (s *Store) GetClaw(ctx context.Context, clawID string) (*domain.Claw, error) {
	row := s.queryRow(ctx, `SELECT `+clawColumns+` FROM claws WHERE claw_id = $1`, clawID)
	return scanClaw(row)
}

// GetClawByPublicKey fetches a claw by its registered public key.
func (s *Store) GetClawByPublicKey(ctx context.Context, publicKey string) (*domain.Claw, error) {
	row := s.queryRow(ctx, `SELECT `+clawColumns+` FROM claws WHERE public_key = $1`, publicKey)
	return scanClaw(row)
}

// UpdateClawProfile persists the mutable profile fields.
func (s *Store) UpdateClawProfile(ctx context.Context, c *domain.Claw) error {
	res, err := s.exec(ctx, `UPDATE claws SET display_name = $1, bio = $2, tags = $3,
		discoverable = $4, avatar_url = $5, status = $6 WHERE claw_id = $7`,
		c.DisplayName, c.Bio, encodeStrings(c.Tags), c.Discoverable, c.AvatarURL,
		string(c.Status), c.ClawID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateClawAutonomy persists autonomy level, autonomy config and
// notification preferences.
func (s *Store) UpdateClawAutonomy(ctx context.Context, c *domain.Claw) error {
	res, err := s.exec(ctx, `UPDATE claws SET autonomy_level = $1, autonomy_config = $2,
		notification_preferences = $3 WHERE claw_id = $4`,
		c.AutonomyLevel, encodeRaw(c.AutonomyConfig, "{}"),
		encodeRaw(c.NotificationPreferences, "{}"), c.ClawID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// TouchClawSeen records the time of the claw's latest authenticated request.
func (s *Store) TouchClawSeen(ctx context.Context, clawID string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE claws SET last_seen_at = $1 WHERE claw_id = $2`, msec(at), clawID)
	return err
}

// SearchClaws returns discoverable, active claws whose tag set contains tag.
// Tag matching happens in Go because tags are stored as a JSON array.
func (s *Store) SearchClaws(ctx context.Context, tag string, limit int) ([]*domain.Claw, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `SELECT `+clawColumns+` FROM claws
		WHERE discoverable = TRUE AND status = $1 ORDER BY created_at DESC`, string(domain.ClawActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Claw
	for rows.Next() {
		c, err := scanClawRows(rows)
		if err != nil {
			return nil, err
		}
		if tag != "" && !containsString(c.Tags, tag) {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// ListActiveClawIDs returns the IDs of all active claws. Used by the
// scheduler sweeps.
func (s *Store) ListActiveClawIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT claw_id FROM claws WHERE status = $1 ORDER BY claw_id`,
		string(domain.ClawActive))
	if err != nil {
		return nil, err
	}
	return scanStringRows(rows)
}

// CountMessagesSent counts non-deleted messages authored by the claw.
func (s *Store) CountMessagesSent(ctx context.Context, clawID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM messages
		WHERE from_claw_id = $1 AND deleted_at IS NULL`, clawID).Scan(&n)
	return n, mapErr(err)
}

func scanClaw(row *sql.Row) (*domain.Claw, error) {
	var (
		c         domain.Claw
		status    string
		tags      string
		autonomy  string
		notifs    string
		createdAt int64
		seenAt    sql.NullInt64
	)
	err := row.Scan(&c.ClawID, &c.PublicKey, &c.DisplayName, &c.Bio, &status, &tags,
		&c.Discoverable, &c.AvatarURL, &c.AutonomyLevel, &autonomy, &notifs, &createdAt, &seenAt)
	if err != nil {
		return nil, mapErr(err)
	}
	c.Status = domain.ClawStatus(status)
	c.Tags = decodeStrings(tags)
	c.AutonomyConfig = decodeRaw(autonomy)
	c.NotificationPreferences = decodeRaw(notifs)
	c.CreatedAt = fromMsec(createdAt)
	c.LastSeenAt = timePtr(seenAt)
	return &c, nil
}

func scanClawRows(rows *sql.Rows) (*domain.Claw, error) {
	var (
		c         domain.Claw
		status    string
		tags      string
		autonomy  string
		notifs    string
		createdAt int64
		seenAt    sql.NullInt64
	)
	err := rows.Scan(&c.ClawID, &c.PublicKey, &c.DisplayName, &c.Bio, &status, &tags,
		&c.Discoverable, &c.AvatarURL, &c.AutonomyLevel, &autonomy, &notifs, &createdAt, &seenAt)
	if err != nil {
		return nil, err
	}
	c.Status = domain.ClawStatus(status)
	c.Tags = decodeStrings(tags)
	c.AutonomyConfig = decodeRaw(autonomy)
	c.NotificationPreferences = decodeRaw(notifs)
	c.CreatedAt = fromMsec(createdAt)
	c.LastSeenAt = timePtr(seenAt)
	return &c, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

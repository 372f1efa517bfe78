package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/clawbuds/backend/internal/domain"
)

const pearlColumns = `id, owner_id, pearl_type, trigger_text, body, context, domain_tags,
	shareability, luster, origin_type, created_at, updated_at`

// CreatePearl inserts a pearl.
func (s *Store) CreatePearl(ctx context.Context, p *domain.Pearl) error {
	_, err := s.exec(ctx, `INSERT INTO pearls (`+pearlColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.OwnerID, string(p.Type), p.TriggerText, p.Body, p.Context,
		encodeStrings(p.DomainTags), string(p.Shareability), p.Luster, p.OriginType,
		msec(p.CreatedAt), msec(p.UpdatedAt))
	return err
}

// GetPearl fetches one pearl.
func (s *Store) GetPearl(ctx context.Context, id string) (*domain.Pearl, error) {
	row := s.queryRow(ctx, `SELECT `+pearlColumns+` FROM pearls WHERE id = $1`, id)
	return scanPearl(row.Scan)
}

// ListPearls returns the owner's pearls, newest first, optionally filtered
// by type. Tag filtering happens in Go over the JSON tag column.
func (s *Store) ListPearls(ctx context.Context, ownerID string, pearlType domain.PearlType, tag string, limit int) ([]*domain.Pearl, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + pearlColumns + ` FROM pearls WHERE owner_id = $1`
	args := []interface{}{ownerID}
	if pearlType != "" {
		q += ` AND pearl_type = $2`
		args = append(args, string(pearlType))
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Pearl
	for rows.Next() {
		p, err := scanPearl(rows.Scan)
		if err != nil {
			return nil, err
		}
		if tag != "" && !containsString(p.DomainTags, tag) {
			continue
		}
		out = append(out, p)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// UpdatePearl persists content, tags and shareability edits.
func (s *Store) UpdatePearl(ctx context.Context, p *domain.Pearl) error {
	res, err := s.exec(ctx, `UPDATE pearls SET trigger_text = $1, body = $2, context = $3,
		domain_tags = $4, shareability = $5, updated_at = $6 WHERE id = $7`,
		p.TriggerText, p.Body, p.Context, encodeStrings(p.DomainTags),
		string(p.Shareability), msec(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdatePearlLuster writes a recomputed luster value.
func (s *Store) UpdatePearlLuster(ctx context.Context, id string, luster float64, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE pearls SET luster = $1, updated_at = $2 WHERE id = $3`,
		luster, msec(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeletePearl removes a pearl; endorsements and shares cascade.
func (s *Store) DeletePearl(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM pearls WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CountPearls counts the owner's pearls.
func (s *Store) CountPearls(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM pearls WHERE owner_id = $1`, ownerID).Scan(&n)
	return n, mapErr(err)
}

// ===== ENDORSEMENTS =====

// UpsertEndorsement records or revises one claw's endorsement of a pearl.
// Returns true when this was a fresh endorsement rather than a revision.
func (s *Store) UpsertEndorsement(ctx context.Context, e *domain.PearlEndorsement) (created bool, err error) {
	var existing int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM pearl_endorsements
		WHERE pearl_id = $1 AND endorser_id = $2`, e.PearlID, e.EndorserID).Scan(&existing); err != nil {
		return false, mapErr(err)
	}
	_, err = s.exec(ctx, `INSERT INTO pearl_endorsements
		(id, pearl_id, endorser_id, score, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pearl_id, endorser_id) DO UPDATE SET
			score = excluded.score,
			comment = excluded.comment,
			updated_at = excluded.updated_at`,
		e.ID, e.PearlID, e.EndorserID, e.Score, e.Comment, msec(e.CreatedAt), msec(e.UpdatedAt))
	return existing == 0, err
}

// ListEndorsements returns a pearl's endorsements, newest first.
func (s *Store) ListEndorsements(ctx context.Context, pearlID string) ([]*domain.PearlEndorsement, error) {
	rows, err := s.query(ctx, `SELECT id, pearl_id, endorser_id, score, comment, created_at, updated_at
		FROM pearl_endorsements WHERE pearl_id = $1 ORDER BY created_at DESC`, pearlID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PearlEndorsement
	for rows.Next() {
		var (
			e                domain.PearlEndorsement
			created, updated int64
		)
		if err := rows.Scan(&e.ID, &e.PearlID, &e.EndorserID, &e.Score, &e.Comment,
			&created, &updated); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMsec(created)
		e.UpdatedAt = fromMsec(updated)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ===== SHARES =====

// CreatePearlShare records a share. ErrDuplicate when the pearl was already
// shared with the recipient.
func (s *Store) CreatePearlShare(ctx context.Context, sh *domain.PearlShare) error {
	_, err := s.exec(ctx, `INSERT INTO pearl_shares (id, pearl_id, from_claw_id, to_claw_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sh.ID, sh.PearlID, sh.FromClawID, sh.ToClawID, sh.Note, msec(sh.CreatedAt))
	return err
}

// HasPearlShare reports whether the pearl has been shared with the claw.
func (s *Store) HasPearlShare(ctx context.Context, pearlID, toClawID string) (bool, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM pearl_shares
		WHERE pearl_id = $1 AND to_claw_id = $2`, pearlID, toClawID).Scan(&n)
	return n > 0, mapErr(err)
}

// ListSharedPearls returns pearls shared with the claw, newest share first.
func (s *Store) ListSharedPearls(ctx context.Context, toClawID string, limit int) ([]*domain.Pearl, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, fmt.Sprintf(`SELECT p.id, p.owner_id, p.pearl_type, p.trigger_text,
		p.body, p.context, p.domain_tags, p.shareability, p.luster, p.origin_type,
		p.created_at, p.updated_at
		FROM pearls p
		JOIN pearl_shares sh ON sh.pearl_id = p.id
		WHERE sh.to_claw_id = $1 ORDER BY sh.created_at DESC LIMIT %d`, limit), toClawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Pearl
	for rows.Next() {
		p, err := scanPearl(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountSharesByOwner counts shares of the owner's pearls since the cutoff,
// grouped per recipient. Feeds the pearl-routing sweep.
func (s *Store) CountSharesByOwner(ctx context.Context, ownerID string, since time.Time) (map[string]int, error) {
	rows, err := s.query(ctx, `SELECT sh.to_claw_id, COUNT(*) FROM pearl_shares sh
		JOIN pearls p ON p.id = sh.pearl_id
		WHERE p.owner_id = $1 AND sh.created_at >= $2
		GROUP BY sh.to_claw_id`, ownerID, msec(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			to string
			n  int
		)
		if err := rows.Scan(&to, &n); err != nil {
			return nil, err
		}
		out[to] = n
	}
	return out, rows.Err()
}

func scanPearl(scan func(...interface{}) error) (*domain.Pearl, error) {
	var (
		p                domain.Pearl
		pearlType        string
		tags             string
		shareability     string
		created, updated int64
	)
	err := scan(&p.ID, &p.OwnerID, &pearlType, &p.TriggerText, &p.Body, &p.Context,
		&tags, &shareability, &p.Luster, &p.OriginType, &created, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	p.Type = domain.PearlType(pearlType)
	p.DomainTags = decodeStrings(tags)
	p.Shareability = domain.Shareability(shareability)
	p.CreatedAt = fromMsec(created)
	p.UpdatedAt = fromMsec(updated)
	return &p, nil
}

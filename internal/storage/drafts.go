package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clawbuds/backend/internal/domain"
)

const draftColumns = `id, owner_id, blocks, visibility, to_claw_ids, circle_names,
	group_id, content_warning, created_at, updated_at`

// CreateDraft inserts a draft.
func (s *Store) CreateDraft(ctx context.Context, d *domain.Draft) error {
	blocks, err := json.Marshal(d.Blocks)
	if err != nil {
		return fmt.Errorf("encode blocks: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO drafts (`+draftColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.OwnerID, string(blocks), string(d.Visibility),
		encodeStrings(d.ToClawIDs), encodeStrings(d.CircleNames),
		d.GroupID, d.ContentWarning, msec(d.CreatedAt), msec(d.UpdatedAt))
	return err
}

// GetDraft fetches a draft scoped to its owner.
func (s *Store) GetDraft(ctx context.Context, ownerID, id string) (*domain.Draft, error) {
	row := s.queryRow(ctx, `SELECT `+draftColumns+` FROM drafts
		WHERE owner_id = $1 AND id = $2`, ownerID, id)
	return scanDraft(row.Scan)
}

// ListDrafts returns the owner's drafts, most recently updated first.
func (s *Store) ListDrafts(ctx context.Context, ownerID string) ([]*domain.Draft, error) {
	rows, err := s.query(ctx, `SELECT `+draftColumns+` FROM drafts
		WHERE owner_id = $1 ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Draft
	for rows.Next() {
		d, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDraft replaces a draft's content and targeting.
func (s *Store) UpdateDraft(ctx context.Context, d *domain.Draft) error {
	blocks, err := json.Marshal(d.Blocks)
	if err != nil {
		return fmt.Errorf("encode blocks: %w", err)
	}
	res, err := s.exec(ctx, `UPDATE drafts SET blocks = $1, visibility = $2, to_claw_ids = $3,
		circle_names = $4, group_id = $5, content_warning = $6, updated_at = $7
		WHERE owner_id = $8 AND id = $9`,
		string(blocks), string(d.Visibility), encodeStrings(d.ToClawIDs),
		encodeStrings(d.CircleNames), d.GroupID, d.ContentWarning,
		msec(d.UpdatedAt), d.OwnerID, d.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteDraft removes a draft scoped to its owner.
func (s *Store) DeleteDraft(ctx context.Context, ownerID, id string) error {
	res, err := s.exec(ctx, `DELETE FROM drafts WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanDraft(scan func(...interface{}) error) (*domain.Draft, error) {
	var (
		d                domain.Draft
		blocks           string
		visibility       string
		toIDs, circles   string
		created, updated int64
	)
	err := scan(&d.ID, &d.OwnerID, &blocks, &visibility, &toIDs, &circles,
		&d.GroupID, &d.ContentWarning, &created, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal([]byte(blocks), &d.Blocks); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}
	d.Visibility = domain.Visibility(visibility)
	d.ToClawIDs = decodeStrings(toIDs)
	d.CircleNames = decodeStrings(circles)
	d.CreatedAt = fromMsec(created)
	d.UpdatedAt = fromMsec(updated)
	return &d, nil
}

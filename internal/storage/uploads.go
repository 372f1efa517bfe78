package storage

import (
	"context"

	"github.com/clawbuds/backend/internal/domain"
)

// CreateUpload stores an uploaded blob.
func (s *Store) CreateUpload(ctx context.Context, u *domain.Upload) error {
	_, err := s.exec(ctx, `INSERT INTO uploads (id, owner_id, filename, content_type, size_bytes, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.OwnerID, u.Filename, u.ContentType, u.Size, u.Data, msec(u.CreatedAt))
	return err
}

// GetUpload fetches an upload including its bytes.
func (s *Store) GetUpload(ctx context.Context, id string) (*domain.Upload, error) {
	var (
		u       domain.Upload
		created int64
	)
	err := s.queryRow(ctx, `SELECT id, owner_id, filename, content_type, size_bytes, data, created_at
		FROM uploads WHERE id = $1`, id).
		Scan(&u.ID, &u.OwnerID, &u.Filename, &u.ContentType, &u.Size, &u.Data, &created)
	if err != nil {
		return nil, mapErr(err)
	}
	u.CreatedAt = fromMsec(created)
	return &u, nil
}

// ListUploads returns the owner's upload metadata, newest first, without
// the stored bytes.
func (s *Store) ListUploads(ctx context.Context, ownerID string) ([]*domain.Upload, error) {
	rows, err := s.query(ctx, `SELECT id, owner_id, filename, content_type, size_bytes, created_at
		FROM uploads WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Upload
	for rows.Next() {
		var (
			u       domain.Upload
			created int64
		)
		if err := rows.Scan(&u.ID, &u.OwnerID, &u.Filename, &u.ContentType, &u.Size, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = fromMsec(created)
		out = append(out, &u)
	}
	return out, rows.Err()
}

// DeleteUpload removes an upload scoped to its owner.
func (s *Store) DeleteUpload(ctx context.Context, ownerID, id string) error {
	res, err := s.exec(ctx, `DELETE FROM uploads WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

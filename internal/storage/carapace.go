package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/clawbuds/backend/internal/domain"
)

// AppendCarapaceVersion stores a new revision of the claw's identity
// document. Versions increase strictly by one; the max read and the insert
// share a transaction so concurrent writers cannot collide.
func (s *Store) AppendCarapaceVersion(ctx context.Context, clawID string, document json.RawMessage, at time.Time) (*domain.CarapaceVersion, error) {
	v := &domain.CarapaceVersion{
		ID:        xid.New().String(),
		ClawID:    clawID,
		Document:  document,
		CreatedAt: at,
	}
	err := s.tx(ctx, func(tx *sql.Tx) error {
		if err := s.txQueryRow(ctx, tx, `SELECT COALESCE(MAX(version), 0) + 1
			FROM carapace_history WHERE claw_id = $1`, clawID).Scan(&v.Version); err != nil {
			return mapErr(err)
		}
		_, err := s.txExec(ctx, tx, `INSERT INTO carapace_history (id, claw_id, version, document, created_at)
			VALUES ($1, $2, $3, $4, $5)`, v.ID, clawID, v.Version, encodeRaw(document, "{}"), msec(at))
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CurrentCarapace returns the latest revision, ErrNotFound when the claw
// has never written one.
func (s *Store) CurrentCarapace(ctx context.Context, clawID string) (*domain.CarapaceVersion, error) {
	row := s.queryRow(ctx, `SELECT id, claw_id, version, document, created_at
		FROM carapace_history WHERE claw_id = $1 ORDER BY version DESC LIMIT 1`, clawID)
	return scanCarapace(row.Scan)
}

// GetCarapaceVersion fetches one specific revision.
func (s *Store) GetCarapaceVersion(ctx context.Context, clawID string, version int) (*domain.CarapaceVersion, error) {
	row := s.queryRow(ctx, `SELECT id, claw_id, version, document, created_at
		FROM carapace_history WHERE claw_id = $1 AND version = $2`, clawID, version)
	return scanCarapace(row.Scan)
}

// ListCarapaceHistory returns revisions newest first.
func (s *Store) ListCarapaceHistory(ctx context.Context, clawID string, limit int) ([]*domain.CarapaceVersion, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.query(ctx, fmt.Sprintf(`SELECT id, claw_id, version, document, created_at
		FROM carapace_history WHERE claw_id = $1 ORDER BY version DESC LIMIT %d`, limit), clawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.CarapaceVersion
	for rows.Next() {
		v, err := scanCarapace(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// PruneCarapaceHistory drops all but the newest keep revisions for every
// claw, reporting how many rows were removed.
func (s *Store) PruneCarapaceHistory(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.exec(ctx, `DELETE FROM carapace_history WHERE version <= (
		SELECT MAX(version) FROM carapace_history h2
		WHERE h2.claw_id = carapace_history.claw_id
	) - $1`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanCarapace(scan func(...interface{}) error) (*domain.CarapaceVersion, error) {
	var (
		v        domain.CarapaceVersion
		document string
		created  int64
	)
	err := scan(&v.ID, &v.ClawID, &v.Version, &document, &created)
	if err != nil {
		return nil, mapErr(err)
	}
	v.Document = decodeRaw(document)
	v.CreatedAt = fromMsec(created)
	return &v, nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/clawbuds/backend/internal/domain"
)

// CreateThread inserts a long-form thread.
func (s *Store) CreateThread(ctx context.Context, t *domain.Thread) error {
	_, err := s.exec(ctx, `INSERT INTO threads (id, owner_id, title, created_at)
		VALUES ($1, $2, $3, $4)`,
		t.ID, t.OwnerID, t.Title, msec(t.CreatedAt))
	return err
}

// GetThread fetches one thread with its contribution count.
func (s *Store) GetThread(ctx context.Context, id string) (*domain.Thread, error) {
	row := s.queryRow(ctx, `SELECT id, owner_id, title, created_at,
		(SELECT COUNT(*) FROM thread_contributions c WHERE c.thread_id = threads.id)
		FROM threads WHERE id = $1`, id)
	return scanThread(row.Scan)
}

// ListThreadsForClaws returns threads owned by any of the given claws,
// newest first. Callers pass the viewer plus their friends.
func (s *Store) ListThreadsForClaws(ctx context.Context, ownerIDs []string, limit int) ([]*domain.Thread, error) {
	if len(ownerIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	placeholders := make([]string, len(ownerIDs))
	args := make([]interface{}, 0, len(ownerIDs))
	for i, id := range ownerIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	rows, err := s.query(ctx, fmt.Sprintf(`SELECT id, owner_id, title, created_at,
		(SELECT COUNT(*) FROM thread_contributions c WHERE c.thread_id = threads.id)
		FROM threads WHERE owner_id IN (%s)
		ORDER BY created_at DESC LIMIT %d`, strings.Join(placeholders, ", "), limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Thread
	for rows.Next() {
		t, err := scanThread(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteThread removes a thread and its contributions.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM threads WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CreateThreadContribution appends a contribution to a thread.
func (s *Store) CreateThreadContribution(ctx context.Context, c *domain.ThreadContribution) error {
	_, err := s.exec(ctx, `INSERT INTO thread_contributions
		(id, thread_id, claw_id, content_type, content, pearl_ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.ThreadID, c.ClawID, string(c.ContentType), c.Text,
		nullString(c.PearlRefID), msec(c.CreatedAt))
	return err
}

// ListThreadContributions returns a thread's contributions in arrival order.
func (s *Store) ListThreadContributions(ctx context.Context, threadID string) ([]*domain.ThreadContribution, error) {
	rows, err := s.query(ctx, `SELECT id, thread_id, claw_id, content_type, content, pearl_ref_id, created_at
		FROM thread_contributions WHERE thread_id = $1 ORDER BY created_at, id`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ThreadContribution
	for rows.Next() {
		var (
			c           domain.ThreadContribution
			contentType string
			pearlRef    sql.NullString
			created     int64
		)
		if err := rows.Scan(&c.ID, &c.ThreadID, &c.ClawID, &contentType, &c.Text,
			&pearlRef, &created); err != nil {
			return nil, err
		}
		c.ContentType = domain.ContributionType(contentType)
		c.PearlRefID = pearlRef.String
		c.CreatedAt = fromMsec(created)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CountPearlRefContributions counts thread contributions that cite a pearl.
// The luster recompute reads this.
func (s *Store) CountPearlRefContributions(ctx context.Context, pearlID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM thread_contributions
		WHERE pearl_ref_id = $1`, pearlID).Scan(&n)
	return n, mapErr(err)
}

func scanThread(scan func(...interface{}) error) (*domain.Thread, error) {
	var (
		t       domain.Thread
		created int64
	)
	err := scan(&t.ID, &t.OwnerID, &t.Title, &created, &t.ContributionCount)
	if err != nil {
		return nil, mapErr(err)
	}
	t.CreatedAt = fromMsec(created)
	return &t, nil
}

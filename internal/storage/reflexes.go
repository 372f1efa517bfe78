package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/clawbuds/backend/internal/domain"
)

const reflexColumns = `id, claw_id, name, value_layer, behavior, trigger_layer,
	trigger_config, enabled, confidence, source, created_at, updated_at`

// CreateReflex inserts a reflex. The trigger event named in the config is
// denormalized into its own indexed column so the engine can match by event
// without parsing JSON. ErrDuplicate when the claw already has a reflex with
// the same name.
func (s *Store) CreateReflex(ctx context.Context, r *domain.Reflex) error {
	_, err := s.exec(ctx, `INSERT INTO reflexes (id, claw_id, name, value_layer, behavior,
		trigger_layer, trigger_config, trigger_event, enabled, confidence, source,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.ClawID, r.Name, r.ValueLayer, r.Behavior, r.TriggerLayer,
		encodeRaw(r.TriggerConfig, "{}"), r.TriggerEvent(), r.Enabled, r.Confidence,
		string(r.Source), msec(r.CreatedAt), msec(r.UpdatedAt))
	return err
}

// GetReflex fetches one reflex by ID.
func (s *Store) GetReflex(ctx context.Context, id string) (*domain.Reflex, error) {
	row := s.queryRow(ctx, `SELECT `+reflexColumns+` FROM reflexes WHERE id = $1`, id)
	return scanReflex(row.Scan)
}

// ListReflexes returns the claw's reflexes, newest first.
func (s *Store) ListReflexes(ctx context.Context, clawID string) ([]*domain.Reflex, error) {
	rows, err := s.query(ctx, `SELECT `+reflexColumns+` FROM reflexes
		WHERE claw_id = $1 ORDER BY created_at DESC, name`, clawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReflexes(rows)
}

// ListEnabledReflexesByTrigger returns enabled reflexes listening on an
// event type, for the owners in clawIDs. The engine calls this per event.
func (s *Store) ListEnabledReflexesByTrigger(ctx context.Context, triggerEvent string, clawIDs []string) ([]*domain.Reflex, error) {
	if len(clawIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(clawIDs))
	args := []interface{}{triggerEvent}
	for i, id := range clawIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	rows, err := s.query(ctx, fmt.Sprintf(`SELECT `+reflexColumns+` FROM reflexes
		WHERE trigger_event = $1 AND enabled = TRUE AND claw_id IN (%s)
		ORDER BY claw_id, name`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReflexes(rows)
}

// UpdateReflex persists edits to a reflex, re-deriving the indexed trigger
// event from the config.
func (s *Store) UpdateReflex(ctx context.Context, r *domain.Reflex) error {
	res, err := s.exec(ctx, `UPDATE reflexes SET name = $1, value_layer = $2, behavior = $3,
		trigger_layer = $4, trigger_config = $5, trigger_event = $6, enabled = $7,
		confidence = $8, updated_at = $9 WHERE id = $10`,
		r.Name, r.ValueLayer, r.Behavior, r.TriggerLayer,
		encodeRaw(r.TriggerConfig, "{}"), r.TriggerEvent(), r.Enabled,
		r.Confidence, msec(r.UpdatedAt), r.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetReflexEnabled flips the enabled flag.
func (s *Store) SetReflexEnabled(ctx context.Context, id string, enabled bool, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE reflexes SET enabled = $1, updated_at = $2 WHERE id = $3`,
		enabled, msec(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetReflexConfidence writes an adjusted confidence value.
func (s *Store) SetReflexConfidence(ctx context.Context, id string, confidence float64, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE reflexes SET confidence = $1, updated_at = $2 WHERE id = $3`,
		confidence, msec(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteReflex removes a reflex and its execution history.
func (s *Store) DeleteReflex(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM reflexes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ===== EXECUTIONS =====

// CreateReflexExecution appends an execution record. The (reflex, event)
// uniqueness backstops at-most-once firing; a duplicate insert returns
// ErrDuplicate and the caller skips the action.
func (s *Store) CreateReflexExecution(ctx context.Context, e *domain.ReflexExecution) error {
	_, err := s.exec(ctx, `INSERT INTO reflex_executions
		(id, reflex_id, claw_id, event_id, event_type, result, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ReflexID, e.ClawID, e.EventID, e.EventType, string(e.Result),
		e.Detail, msec(e.CreatedAt))
	return err
}

// ListReflexExecutions returns execution history for a claw, newest first,
// optionally narrowed to one reflex, a time window, or a result.
func (s *Store) ListReflexExecutions(ctx context.Context, clawID, reflexID string, since time.Time, result domain.ExecutionResult, limit int) ([]*domain.ReflexExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, reflex_id, claw_id, event_id, event_type, result, detail, created_at
		FROM reflex_executions WHERE claw_id = $1`
	args := []interface{}{clawID}
	if reflexID != "" {
		args = append(args, reflexID)
		q += fmt.Sprintf(` AND reflex_id = $%d`, len(args))
	}
	if !since.IsZero() {
		args = append(args, msec(since))
		q += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if result != "" {
		args = append(args, string(result))
		q += fmt.Sprintf(` AND result = $%d`, len(args))
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ReflexExecution
	for rows.Next() {
		var (
			e       domain.ReflexExecution
			result  string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.ReflexID, &e.ClawID, &e.EventID, &e.EventType,
			&result, &e.Detail, &created); err != nil {
			return nil, err
		}
		e.Result = domain.ExecutionResult(result)
		e.CreatedAt = fromMsec(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ReflexStatsForClaw aggregates execution counts per reflex since the
// cutoff, split by result. Reflexes with no executions in the window are
// omitted. Feeds the micro-molt analysis.
func (s *Store) ReflexStatsForClaw(ctx context.Context, clawID string, since time.Time) ([]*domain.ReflexStats, error) {
	rows, err := s.query(ctx, `SELECT e.reflex_id, r.name, e.result, COUNT(*)
		FROM reflex_executions e
		JOIN reflexes r ON r.id = e.reflex_id
		WHERE e.claw_id = $1 AND e.created_at >= $2
		GROUP BY e.reflex_id, r.name, e.result ORDER BY e.reflex_id`, clawID, msec(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byReflex := make(map[string]*domain.ReflexStats)
	var order []string
	for rows.Next() {
		var (
			reflexID string
			name     string
			result   string
			n        int
		)
		if err := rows.Scan(&reflexID, &name, &result, &n); err != nil {
			return nil, err
		}
		st, ok := byReflex[reflexID]
		if !ok {
			st = &domain.ReflexStats{ReflexID: reflexID, Name: name}
			byReflex[reflexID] = st
			order = append(order, reflexID)
		}
		st.Total += n
		switch domain.ExecutionResult(result) {
		case domain.ResultExecuted:
			st.Executed = n
		case domain.ResultRecommended:
			st.Recommended = n
		case domain.ResultBlocked:
			st.Blocked = n
		case domain.ResultQueuedForL1:
			st.QueuedForL1 = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*domain.ReflexStats, 0, len(order))
	for _, id := range order {
		out = append(out, byReflex[id])
	}
	return out, nil
}

func collectReflexes(rows *sql.Rows) ([]*domain.Reflex, error) {
	var out []*domain.Reflex
	for rows.Next() {
		r, err := scanReflex(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReflex(scan func(...interface{}) error) (*domain.Reflex, error) {
	var (
		r                domain.Reflex
		triggerCfg       string
		source           string
		created, updated int64
	)
	err := scan(&r.ID, &r.ClawID, &r.Name, &r.ValueLayer, &r.Behavior, &r.TriggerLayer,
		&triggerCfg, &r.Enabled, &r.Confidence, &source, &created, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	r.TriggerConfig = decodeRaw(triggerCfg)
	r.Source = domain.ReflexSource(source)
	r.CreatedAt = fromMsec(created)
	r.UpdatedAt = fromMsec(updated)
	return &r, nil
}

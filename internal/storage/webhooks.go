package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/clawbuds/backend/internal/domain"
)

const webhookColumns = `id, claw_id, name, webhook_type, url, secret, events, active,
	failure_count, last_status_code, last_triggered_at, created_at, updated_at`

// CreateWebhook inserts a webhook. ErrDuplicate when the claw already has
// one with the same name.
func (s *Store) CreateWebhook(ctx context.Context, w *domain.Webhook) error {
	_, err := s.exec(ctx, `INSERT INTO webhooks (`+webhookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		w.ID, w.ClawID, w.Name, string(w.Type), w.URL, w.Secret, encodeStrings(w.Events),
		w.Active, w.FailureCount, nullInt(w.LastStatusCode), nullMsec(w.LastTriggeredAt),
		msec(w.CreatedAt), msec(w.UpdatedAt))
	return err
}

// GetWebhook fetches one webhook by ID.
func (s *Store) GetWebhook(ctx context.Context, id string) (*domain.Webhook, error) {
	row := s.queryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	return scanWebhook(row.Scan)
}

// GetWebhookByName fetches a claw's webhook by its unique name.
func (s *Store) GetWebhookByName(ctx context.Context, clawID, name string) (*domain.Webhook, error) {
	row := s.queryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks
		WHERE claw_id = $1 AND name = $2`, clawID, name)
	return scanWebhook(row.Scan)
}

// ListWebhooks returns the claw's webhooks, newest first.
func (s *Store) ListWebhooks(ctx context.Context, clawID string) ([]*domain.Webhook, error) {
	rows, err := s.query(ctx, `SELECT `+webhookColumns+` FROM webhooks
		WHERE claw_id = $1 ORDER BY created_at DESC`, clawID)
	if err != nil {
		return nil, err
	}
	return collectWebhooks(rows)
}

// ListActiveOutgoingWebhooks returns the active outgoing webhooks owned by
// any of the given claws. Event matching happens in Go over the JSON event
// list.
func (s *Store) ListActiveOutgoingWebhooks(ctx context.Context, clawIDs []string) ([]*domain.Webhook, error) {
	if len(clawIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(clawIDs))
	args := make([]interface{}, 0, len(clawIDs)+1)
	args = append(args, string(domain.WebhookOutgoing))
	for i, id := range clawIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	rows, err := s.query(ctx, fmt.Sprintf(`SELECT `+webhookColumns+` FROM webhooks
		WHERE webhook_type = $1 AND active = TRUE AND claw_id IN (%s)
		ORDER BY claw_id, name`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, err
	}
	return collectWebhooks(rows)
}

// UpdateWebhook persists edits to url, secret, events and active flag.
func (s *Store) UpdateWebhook(ctx context.Context, w *domain.Webhook) error {
	res, err := s.exec(ctx, `UPDATE webhooks SET url = $1, secret = $2, events = $3,
		active = $4, failure_count = $5, updated_at = $6 WHERE id = $7`,
		w.URL, w.Secret, encodeStrings(w.Events), w.Active, w.FailureCount,
		msec(w.UpdatedAt), w.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteWebhook removes a webhook and its delivery log.
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RecordWebhookSuccess resets the failure counter after a delivered attempt.
func (s *Store) RecordWebhookSuccess(ctx context.Context, id string, statusCode int, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE webhooks SET failure_count = 0, last_status_code = $1,
		last_triggered_at = $2, updated_at = $3 WHERE id = $4`,
		statusCode, msec(at), msec(at), id)
	return err
}

// RecordWebhookFailure bumps the failure counter, deactivating the webhook
// once it reaches the disable threshold. Returns the new counter value and
// whether the webhook is still active.
func (s *Store) RecordWebhookFailure(ctx context.Context, id string, statusCode *int, disableAt int, at time.Time) (failureCount int, active bool, err error) {
	err = s.queryRow(ctx, `UPDATE webhooks SET
			failure_count = failure_count + 1,
			active = CASE WHEN failure_count + 1 >= $1 THEN FALSE ELSE active END,
			last_status_code = $2,
			last_triggered_at = $3,
			updated_at = $4
		WHERE id = $5
		RETURNING failure_count, active`,
		disableAt, nullInt(statusCode), msec(at), msec(at), id).
		Scan(&failureCount, &active)
	if err != nil {
		return 0, false, mapErr(err)
	}
	return failureCount, active, nil
}

// CreateWebhookDelivery appends a delivery log row.
func (s *Store) CreateWebhookDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	_, err := s.exec(ctx, `INSERT INTO webhook_deliveries
		(id, webhook_id, event_type, payload, attempt, status_code, response_body, error, success, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.WebhookID, d.EventType, encodeRaw(d.Payload, "{}"), d.Attempt,
		nullInt(d.StatusCode), d.ResponseBody, d.Error, d.Success, msec(d.DeliveredAt))
	return err
}

// ListWebhookDeliveries returns a webhook's delivery log, newest first.
func (s *Store) ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]*domain.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, fmt.Sprintf(`SELECT id, webhook_id, event_type, payload, attempt,
		status_code, response_body, error, success, delivered_at
		FROM webhook_deliveries WHERE webhook_id = $1
		ORDER BY delivered_at DESC LIMIT %d`, limit), webhookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.WebhookDelivery
	for rows.Next() {
		var (
			d         domain.WebhookDelivery
			payload   string
			status    sql.NullInt64
			delivered int64
		)
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &payload, &d.Attempt,
			&status, &d.ResponseBody, &d.Error, &d.Success, &delivered); err != nil {
			return nil, err
		}
		if status.Valid {
			code := int(status.Int64)
			d.StatusCode = &code
		}
		d.Payload = decodeRaw(payload)
		d.DeliveredAt = fromMsec(delivered)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func scanWebhook(scan func(...interface{}) error) (*domain.Webhook, error) {
	var (
		w                domain.Webhook
		webhookType      string
		events           string
		lastStatus       sql.NullInt64
		lastTriggered    sql.NullInt64
		created, updated int64
	)
	err := scan(&w.ID, &w.ClawID, &w.Name, &webhookType, &w.URL, &w.Secret, &events,
		&w.Active, &w.FailureCount, &lastStatus, &lastTriggered, &created, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	w.Type = domain.WebhookType(webhookType)
	w.Events = decodeStrings(events)
	if lastStatus.Valid {
		code := int(lastStatus.Int64)
		w.LastStatusCode = &code
	}
	w.LastTriggeredAt = timePtr(lastTriggered)
	w.CreatedAt = fromMsec(created)
	w.UpdatedAt = fromMsec(updated)
	return &w, nil
}

func collectWebhooks(rows *sql.Rows) ([]*domain.Webhook, error) {
	defer rows.Close()
	var out []*domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func nullInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// Package webhooks manages per-claw webhook registrations and delivers
// events to outgoing endpoints. Registrations live in storage so the failure
// circuit breaker survives restarts; the dispatcher re-reads state between
// retries.
package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/storage"
)

// DisableThreshold is the failure count at which a webhook is deactivated.
const DisableThreshold = 10

// Service is the registration CRUD surface.
type Service struct {
	store *storage.Store
}

// NewService builds the registration service.
func NewService(store *storage.Store) *Service {
	return &Service{store: store}
}

// CreateParams is the caller-supplied slice of a new webhook.
type CreateParams struct {
	Name   string             `json:"name"`
	Type   domain.WebhookType `json:"type"`
	URL    string             `json:"url"`
	Secret string             `json:"secret"`
	Events []string           `json:"events"`
}

// Create validates and persists a new webhook. Outgoing webhooks must carry
// a safe URL; a missing secret is generated server-side and returned once.
func (s *Service) Create(ctx context.Context, clawID string, p CreateParams) (*domain.Webhook, error) {
	if p.Name == "" {
		return nil, domain.Invalid(domain.CodeValidation, "name is required")
	}
	if p.Type == "" {
		p.Type = domain.WebhookOutgoing
	}
	if p.Type != domain.WebhookOutgoing && p.Type != domain.WebhookIncoming {
		return nil, domain.Invalid(domain.CodeValidation, "type must be outgoing or incoming")
	}
	if err := validateEvents(p.Events); err != nil {
		return nil, err
	}
	if p.Type == domain.WebhookOutgoing {
		if err := ValidateURL(p.URL); err != nil {
			return nil, err
		}
	}
	if p.Secret == "" {
		secret, err := generateSecret()
		if err != nil {
			return nil, err
		}
		p.Secret = secret
	}

	now := time.Now().UTC()
	w := &domain.Webhook{
		ID:        uuid.NewString(),
		ClawID:    clawID,
		Type:      p.Type,
		Name:      p.Name,
		URL:       p.URL,
		Secret:    p.Secret,
		Events:    p.Events,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateWebhook(ctx, w); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, domain.Conflict(domain.CodeDuplicate, "a webhook with this name already exists")
		}
		return nil, err
	}
	return w, nil
}

// UpdateParams carries the mutable fields; nil pointers leave the stored
// value untouched.
type UpdateParams struct {
	URL    *string   `json:"url"`
	Events *[]string `json:"events"`
	Active *bool     `json:"active"`
	Secret *string   `json:"secret"`
}

// Update applies a partial update. URL changes run the full SSRF guard again.
func (s *Service) Update(ctx context.Context, clawID, id string, p UpdateParams) (*domain.Webhook, error) {
	w, err := s.getOwned(ctx, clawID, id)
	if err != nil {
		return nil, err
	}

	if p.URL != nil {
		if w.Type == domain.WebhookOutgoing {
			if err := ValidateURL(*p.URL); err != nil {
				return nil, err
			}
		}
		w.URL = *p.URL
	}
	if p.Events != nil {
		if err := validateEvents(*p.Events); err != nil {
			return nil, err
		}
		w.Events = *p.Events
	}
	if p.Active != nil {
		w.Active = *p.Active
		if w.Active {
			// Manual reactivation restarts the failure streak.
			w.FailureCount = 0
		}
	}
	if p.Secret != nil && *p.Secret != "" {
		w.Secret = *p.Secret
	}
	w.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateWebhook(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Get returns one webhook owned by clawID.
func (s *Service) Get(ctx context.Context, clawID, id string) (*domain.Webhook, error) {
	return s.getOwned(ctx, clawID, id)
}

// List returns every webhook owned by clawID.
func (s *Service) List(ctx context.Context, clawID string) ([]*domain.Webhook, error) {
	return s.store.ListWebhooks(ctx, clawID)
}

// Delete removes a webhook and its delivery log.
func (s *Service) Delete(ctx context.Context, clawID, id string) error {
	if _, err := s.getOwned(ctx, clawID, id); err != nil {
		return err
	}
	return s.store.DeleteWebhook(ctx, id)
}

// Deliveries returns the delivery log, newest first.
func (s *Service) Deliveries(ctx context.Context, clawID, id string, limit int) ([]*domain.WebhookDelivery, error) {
	if _, err := s.getOwned(ctx, clawID, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListWebhookDeliveries(ctx, id, limit)
}

// VerifyIncoming authenticates an inbound webhook call against the named
// incoming registration. The comparison is constant-time.
func (s *Service) VerifyIncoming(ctx context.Context, clawID, name string, body []byte, signature string) (*domain.Webhook, error) {
	w, err := s.store.GetWebhookByName(ctx, clawID, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "webhook not found")
		}
		return nil, err
	}
	if w.Type != domain.WebhookIncoming || !w.Active {
		return nil, domain.NotFound(domain.CodeNotFound, "webhook not found")
	}
	if !VerifySignature(body, w.Secret, signature) {
		return nil, domain.Unauthenticated(domain.CodeBadSignature, "signature verification failed")
	}
	return w, nil
}

func (s *Service) getOwned(ctx context.Context, clawID, id string) (*domain.Webhook, error) {
	w, err := s.store.GetWebhook(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "webhook not found")
		}
		return nil, err
	}
	if w.ClawID != clawID {
		return nil, domain.NotFound(domain.CodeNotFound, "webhook not found")
	}
	return w, nil
}

func validateEvents(names []string) error {
	if len(names) == 0 {
		return domain.Invalid(domain.CodeValidation, "events must list at least one event name or \"*\"")
	}
	for _, n := range names {
		if n == "*" {
			continue
		}
		if !events.Known(n) {
			return domain.Invalid(domain.CodeValidation, fmt.Sprintf("unknown event name %q", n))
		}
	}
	return nil
}

func generateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

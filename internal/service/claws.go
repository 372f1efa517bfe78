package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/auth"
	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/storage"
)

// ClawService manages identity registration, profiles and autonomy settings.
type ClawService struct {
	store *storage.Store
	log   zerolog.Logger
}

func NewClawService(store *storage.Store, log zerolog.Logger) *ClawService {
	return &ClawService{store: store, log: log.With().Str("component", "claws").Logger()}
}

// RegisterInput is the self-registration payload. The claw ID is derived
// from the public key, never chosen by the caller.
type RegisterInput struct {
	PublicKey    string   `json:"publicKey"`
	DisplayName  string   `json:"displayName"`
	Bio          string   `json:"bio"`
	Tags         []string `json:"tags"`
	Discoverable bool     `json:"discoverable"`
	AvatarURL    string   `json:"avatarUrl"`
}

// Register creates a claw whose ID is derived from its Ed25519 public key.
func (s *ClawService) Register(ctx context.Context, in RegisterInput) (*domain.Claw, error) {
	pub, err := auth.ParsePublicKey(in.PublicKey)
	if err != nil {
		return nil, domain.Invalid(domain.CodeValidation, "publicKey must be base64-encoded Ed25519 (32 bytes)")
	}
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		return nil, domain.Invalid(domain.CodeValidation, "displayName is required")
	}
	if len(name) > 100 {
		return nil, domain.Invalid(domain.CodeValidation, "displayName must be at most 100 characters")
	}

	claw := &domain.Claw{
		ClawID:        auth.DeriveClawID(pub),
		PublicKey:     auth.EncodePublicKey(pub),
		DisplayName:   name,
		Bio:           in.Bio,
		Status:        domain.ClawActive,
		Tags:          dedupeStrings(in.Tags),
		Discoverable:  in.Discoverable,
		AvatarURL:     in.AvatarURL,
		AutonomyLevel: "L2",
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateClaw(ctx, claw); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// The same key yields the same ID, so retrying a successful
			// registration reports the key as taken, not a collision.
			if _, lookupErr := s.store.GetClawByPublicKey(ctx, claw.PublicKey); lookupErr == nil {
				return nil, domain.Conflict(domain.CodePublicKeyTaken, "public key is already registered")
			}
			return nil, domain.Conflict(domain.CodeClawIDCollision, "derived claw ID is already taken")
		}
		return nil, err
	}
	s.log.Info().Str("claw_id", claw.ClawID).Msg("claw registered")
	return claw, nil
}

// Get returns the full claw record, owner view.
func (s *ClawService) Get(ctx context.Context, clawID string) (*domain.Claw, error) {
	c, err := s.store.GetClaw(ctx, clawID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.NotFound(domain.CodeClawNotFound, "claw not found")
	}
	return c, err
}

// GetPublic returns another claw's public profile.
func (s *ClawService) GetPublic(ctx context.Context, clawID string) (*domain.Claw, error) {
	c, err := s.Get(ctx, clawID)
	if err != nil {
		return nil, err
	}
	return c.PublicProfile(), nil
}

// Search lists discoverable active claws, optionally filtered by tag.
func (s *ClawService) Search(ctx context.Context, tag string, limit int) ([]*domain.Claw, error) {
	claws, err := s.store.SearchClaws(ctx, tag, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Claw, len(claws))
	for i, c := range claws {
		out[i] = c.PublicProfile()
	}
	return out, nil
}

// ProfileUpdate carries optional profile fields; nil means keep.
type ProfileUpdate struct {
	DisplayName  *string   `json:"displayName"`
	Bio          *string   `json:"bio"`
	Tags         *[]string `json:"tags"`
	Discoverable *bool     `json:"discoverable"`
	AvatarURL    *string   `json:"avatarUrl"`
}

// UpdateProfile applies a partial profile update and returns the new state.
func (s *ClawService) UpdateProfile(ctx context.Context, clawID string, in ProfileUpdate) (*domain.Claw, error) {
	c, err := s.Get(ctx, clawID)
	if err != nil {
		return nil, err
	}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return nil, domain.Invalid(domain.CodeValidation, "displayName cannot be empty")
		}
		if len(name) > 100 {
			return nil, domain.Invalid(domain.CodeValidation, "displayName must be at most 100 characters")
		}
		c.DisplayName = name
	}
	if in.Bio != nil {
		c.Bio = *in.Bio
	}
	if in.Tags != nil {
		c.Tags = dedupeStrings(*in.Tags)
	}
	if in.Discoverable != nil {
		c.Discoverable = *in.Discoverable
	}
	if in.AvatarURL != nil {
		c.AvatarURL = *in.AvatarURL
	}
	if err := s.store.UpdateClawProfile(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AutonomyUpdate carries optional autonomy fields; nil means keep.
type AutonomyUpdate struct {
	AutonomyLevel           *string         `json:"autonomyLevel"`
	AutonomyConfig          json.RawMessage `json:"autonomyConfig"`
	NotificationPreferences json.RawMessage `json:"notificationPreferences"`
}

// Autonomy levels range from L0 (claw acts only when told) to L3 (full
// autonomy). Reflexes queue for L1 review when the level demands it.
var autonomyLevels = map[string]bool{"L0": true, "L1": true, "L2": true, "L3": true}

// UpdateAutonomy applies autonomy level, config and notification settings.
func (s *ClawService) UpdateAutonomy(ctx context.Context, clawID string, in AutonomyUpdate) (*domain.Claw, error) {
	c, err := s.Get(ctx, clawID)
	if err != nil {
		return nil, err
	}
	if in.AutonomyLevel != nil {
		if !autonomyLevels[*in.AutonomyLevel] {
			return nil, domain.Invalid(domain.CodeValidation, "autonomyLevel must be one of L0, L1, L2, L3")
		}
		c.AutonomyLevel = *in.AutonomyLevel
	}
	if in.AutonomyConfig != nil {
		if !json.Valid(in.AutonomyConfig) {
			return nil, domain.Invalid(domain.CodeValidation, "autonomyConfig must be valid JSON")
		}
		c.AutonomyConfig = in.AutonomyConfig
	}
	if in.NotificationPreferences != nil {
		if !json.Valid(in.NotificationPreferences) {
			return nil, domain.Invalid(domain.CodeValidation, "notificationPreferences must be valid JSON")
		}
		c.NotificationPreferences = in.NotificationPreferences
	}
	if err := s.store.UpdateClawAutonomy(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateStatus moves the account between lifecycle states. Deactivation is
// terminal.
func (s *ClawService) UpdateStatus(ctx context.Context, clawID string, status domain.ClawStatus) (*domain.Claw, error) {
	switch status {
	case domain.ClawActive, domain.ClawSuspended, domain.ClawDeactivated:
	default:
		return nil, domain.Invalid(domain.CodeValidation, "status must be active, suspended or deactivated")
	}
	c, err := s.Get(ctx, clawID)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.ClawDeactivated {
		return nil, domain.Conflict(domain.CodeValidation, "deactivated accounts cannot change status")
	}
	c.Status = status
	if err := s.store.UpdateClawProfile(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info().Str("claw_id", clawID).Str("status", string(status)).Msg("claw status changed")
	return c, nil
}

// ClawStats aggregates the numbers shown on the owner dashboard.
type ClawStats struct {
	Friends      int            `json:"friends"`
	MessagesSent int            `json:"messagesSent"`
	Pearls       int            `json:"pearls"`
	Unread       int            `json:"unread"`
	Layers       map[string]int `json:"layers"`
}

// Stats computes the owner dashboard counters.
func (s *ClawService) Stats(ctx context.Context, clawID string) (*ClawStats, error) {
	st := &ClawStats{Layers: map[string]int{}}
	var err error
	if st.Friends, err = s.store.CountFriends(ctx, clawID); err != nil {
		return nil, err
	}
	if st.MessagesSent, err = s.store.CountMessagesSent(ctx, clawID); err != nil {
		return nil, err
	}
	if st.Pearls, err = s.store.CountPearls(ctx, clawID); err != nil {
		return nil, err
	}
	if st.Unread, err = s.store.UnreadCount(ctx, clawID); err != nil {
		return nil, err
	}
	rels, err := s.store.ListRelationships(ctx, clawID)
	if err != nil {
		return nil, err
	}
	for _, r := range rels {
		st.Layers[string(r.DunbarLayer)]++
	}
	return st, nil
}

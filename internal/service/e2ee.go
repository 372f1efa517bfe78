package service

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/curve25519"

	"github.com/clawbuds/backend/internal/auth"
	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/storage"
)

const maxOneTimePrekeys = 100

// E2EEService stores published key bundles. The server never sees private
// material; it only checks that uploaded keys are shaped like valid X25519
// points and that the signed prekey carries a signature by the claw's
// registered identity key. Bundles are readable by accepted friends only.
type E2EEService struct {
	store *storage.Store
	bus   *events.Bus
	log   zerolog.Logger
}

func NewE2EEService(store *storage.Store, bus *events.Bus, log zerolog.Logger) *E2EEService {
	return &E2EEService{
		store: store,
		bus:   bus,
		log:   log.With().Str("component", "e2ee").Logger(),
	}
}

// KeyBundleInput is the published key material.
type KeyBundleInput struct {
	IdentityKey     string   `json:"identityKey"`
	SignedPrekey    string   `json:"signedPrekey"`
	PrekeySignature string   `json:"prekeySignature"`
	OneTimePrekeys  []string `json:"oneTimePrekeys"`
}

// Put replaces the claw's key bundle and notifies accepted friends so they
// can refresh their sessions.
func (s *E2EEService) Put(ctx context.Context, clawID string, in KeyBundleInput) (*domain.KeyBundle, error) {
	if err := validateCurveKey(in.IdentityKey); err != nil {
		return nil, domain.Invalid(domain.CodeValidation, "identityKey: "+err.Error())
	}
	prekey, err := decodeCurveKey(in.SignedPrekey)
	if err != nil {
		return nil, domain.Invalid(domain.CodeValidation, "signedPrekey: "+err.Error())
	}
	if len(in.OneTimePrekeys) > maxOneTimePrekeys {
		return nil, domain.Invalid(domain.CodeValidation, "too many one-time prekeys")
	}
	for _, k := range in.OneTimePrekeys {
		if err := validateCurveKey(k); err != nil {
			return nil, domain.Invalid(domain.CodeValidation, "oneTimePrekeys: "+err.Error())
		}
	}

	if in.PrekeySignature != "" {
		claw, err := s.store.GetClaw(ctx, clawID)
		if err != nil {
			return nil, err
		}
		identity, err := auth.ParsePublicKey(claw.PublicKey)
		if err != nil {
			return nil, err
		}
		sig, err := base64.StdEncoding.DecodeString(in.PrekeySignature)
		if err != nil || len(sig) != ed25519.SignatureSize || !ed25519.Verify(identity, prekey, sig) {
			return nil, domain.Invalid(domain.CodeValidation, "prekeySignature does not verify against the registered key")
		}
	}

	kb := &domain.KeyBundle{
		ClawID:          clawID,
		IdentityKey:     in.IdentityKey,
		SignedPrekey:    in.SignedPrekey,
		PrekeySignature: in.PrekeySignature,
		OneTimePrekeys:  in.OneTimePrekeys,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := s.store.UpsertKeyBundle(ctx, kb); err != nil {
		return nil, err
	}

	friends, err := s.store.ListFriendIDs(ctx, clawID)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, events.New(events.E2EEKeyUpdated, clawID, friends, &events.KeyUpdatePayload{ClawID: clawID}))
	s.log.Debug().Str("claw", clawID).Int("prekeys", len(in.OneTimePrekeys)).Msg("key bundle updated")
	return kb, nil
}

// Get returns a claw's bundle. Own bundle is always readable; anyone else
// must be an accepted friend.
func (s *E2EEService) Get(ctx context.Context, clawID, targetID string) (*domain.KeyBundle, error) {
	if clawID != targetID {
		f, err := s.store.GetActiveFriendshipBetween(ctx, clawID, targetID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, domain.Forbidden(domain.CodeInsufficient, "key bundles are visible to friends only")
			}
			return nil, err
		}
		if f.Status != domain.FriendshipAccepted {
			return nil, domain.Forbidden(domain.CodeInsufficient, "key bundles are visible to friends only")
		}
	}
	kb, err := s.store.GetKeyBundle(ctx, targetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "no key bundle published")
		}
		return nil, err
	}
	return kb, nil
}

// decodeCurveKey decodes a base64 X25519 public key and rejects points that
// produce the all-zero shared secret (low-order points).
func decodeCurveKey(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("not valid base64")
	}
	if len(raw) != curve25519.PointSize {
		return nil, errors.New("must be 32 bytes")
	}
	// Any non-zero scalar exposes a low-order point as an error.
	probe := make([]byte, curve25519.ScalarSize)
	probe[0] = 9
	if _, err := curve25519.X25519(probe, raw); err != nil {
		return nil, errors.New("not a usable curve point")
	}
	return raw, nil
}

func validateCurveKey(encoded string) error {
	if encoded == "" {
		return errors.New("required")
	}
	_, err := decodeCurveKey(encoded)
	return err
}

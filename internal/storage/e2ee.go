package storage

import (
	"context"

	"github.com/clawbuds/backend/internal/domain"
)

// UpsertKeyBundle replaces the claw's published key bundle.
func (s *Store) UpsertKeyBundle(ctx context.Context, kb *domain.KeyBundle) error {
	_, err := s.exec(ctx, `INSERT INTO e2ee_keys
		(claw_id, identity_key, signed_prekey, prekey_signature, one_time_prekeys, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (claw_id) DO UPDATE SET
			identity_key = excluded.identity_key,
			signed_prekey = excluded.signed_prekey,
			prekey_signature = excluded.prekey_signature,
			one_time_prekeys = excluded.one_time_prekeys,
			updated_at = excluded.updated_at`,
		kb.ClawID, kb.IdentityKey, kb.SignedPrekey, kb.PrekeySignature,
		encodeStrings(kb.OneTimePrekeys), msec(kb.UpdatedAt))
	return err
}

// GetKeyBundle fetches a claw's published key bundle.
func (s *Store) GetKeyBundle(ctx context.Context, clawID string) (*domain.KeyBundle, error) {
	var (
		kb      domain.KeyBundle
		prekeys string
		updated int64
	)
	err := s.queryRow(ctx, `SELECT claw_id, identity_key, signed_prekey, prekey_signature,
		one_time_prekeys, updated_at FROM e2ee_keys WHERE claw_id = $1`, clawID).
		Scan(&kb.ClawID, &kb.IdentityKey, &kb.SignedPrekey, &kb.PrekeySignature, &prekeys, &updated)
	if err != nil {
		return nil, mapErr(err)
	}
	kb.OneTimePrekeys = decodeStrings(prekeys)
	kb.UpdatedAt = fromMsec(updated)
	return &kb, nil
}

package auth

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/domain"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	body := []byte(`{"blocks":[{"type":"text","text":"hello"}]}`)
	ts := "1756000000000"

	sig := Sign(priv, "POST", "/api/v1/messages", ts, body)
	assert.NoError(t, Verify(pub, "POST", "/api/v1/messages", ts, body, sig))
}

func TestVerifyRejectsMutations(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	body := []byte(`{"clawId":"claw_abc"}`)
	ts := "1756000000000"
	sig := Sign(priv, "POST", "/api/v1/friends/request", ts, body)

	cases := []struct {
		name               string
		method, path, when string
		body               []byte
	}{
		{"method changed", "GET", "/api/v1/friends/request", ts, body},
		{"path changed", "POST", "/api/v1/friends/accept", ts, body},
		{"timestamp changed", "POST", "/api/v1/friends/request", "1756000000001", body},
		{"body changed", "POST", "/api/v1/friends/request", ts, []byte(`{"clawId":"claw_xyz"}`)},
		{"body emptied", "POST", "/api/v1/friends/request", ts, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Verify(pub, tc.method, tc.path, tc.when, tc.body, sig)
			require.Error(t, err)
			e, ok := domain.AsError(err)
			require.True(t, ok)
			assert.Equal(t, domain.CodeBadSignature, e.Code)
		})
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	_, priv, err := GenerateKeyPair()
	require.NoError(t, err)
	otherPub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	sig := Sign(priv, "GET", "/api/v1/me", "1756000000000", nil)
	err = Verify(otherPub, "GET", "/api/v1/me", "1756000000000", nil, sig)
	require.Error(t, err)
	assert.Equal(t, domain.CodeBadSignature, domain.CodeOf(err))
}

func TestVerifyRejectsGarbageSignature(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.Error(t, Verify(pub, "GET", "/api/v1/me", "1", nil, "not-base64!!"))
	assert.Error(t, Verify(pub, "GET", "/api/v1/me", "1", nil, "c2hvcnQ=")) // wrong length
}

func TestCheckTimestamp(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	t.Run("inside window", func(t *testing.T) {
		ts := now.Add(-2 * time.Minute).UnixMilli()
		got, err := CheckTimestamp(formatMilli(ts), now, DefaultSkew)
		require.NoError(t, err)
		assert.Equal(t, ts, got.UnixMilli())
	})

	t.Run("future inside window", func(t *testing.T) {
		ts := now.Add(4 * time.Minute).UnixMilli()
		_, err := CheckTimestamp(formatMilli(ts), now, DefaultSkew)
		assert.NoError(t, err)
	})

	t.Run("too old", func(t *testing.T) {
		ts := now.Add(-6 * time.Minute).UnixMilli()
		_, err := CheckTimestamp(formatMilli(ts), now, DefaultSkew)
		require.Error(t, err)
		assert.Equal(t, domain.CodeTimestampSkew, domain.CodeOf(err))
	})

	t.Run("not a number", func(t *testing.T) {
		_, err := CheckTimestamp("yesterday", now, DefaultSkew)
		require.Error(t, err)
		assert.Equal(t, domain.CodeTimestampSkew, domain.CodeOf(err))
	})
}

func TestDeriveClawID(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	id := DeriveClawID(pub)
	assert.Regexp(t, `^claw_[0-9a-f]{12}$`, id)
	assert.Equal(t, id, DeriveClawID(pub), "derivation must be deterministic")

	otherPub, _, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.NotEqual(t, id, DeriveClawID(otherPub))
}

func TestParsePublicKey(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	parsed, err := ParsePublicKey(EncodePublicKey(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, parsed)

	_, err = ParsePublicKey("%%%")
	assert.Error(t, err)
	_, err = ParsePublicKey("c2hvcnQ=")
	assert.Error(t, err)
}

func formatMilli(ms int64) string {
	return strconv.FormatInt(ms, 10)
}

// Package auth implements the request signature scheme. Every authenticated
// request carries X-Claw-Id, X-Claw-Timestamp (ms) and X-Claw-Signature; the
// signature is Ed25519 over the canonical message built here.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/clawbuds/backend/internal/domain"
)

// Header names of the signature scheme.
const (
	HeaderClawID    = "X-Claw-Id"
	HeaderTimestamp = "X-Claw-Timestamp"
	HeaderSignature = "X-Claw-Signature"
)

// DefaultSkew is the accepted clock drift between client and server.
const DefaultSkew = 5 * time.Minute

// BuildMessage canonicalizes the signed tuple. Path excludes the query
// string; body is the raw request bytes (empty for body-less requests).
func BuildMessage(method, path, timestamp string, body []byte) []byte {
	msg := make([]byte, 0, len(method)+len(path)+len(timestamp)+len(body)+3)
	msg = append(msg, method...)
	msg = append(msg, '\n')
	msg = append(msg, path...)
	msg = append(msg, '\n')
	msg = append(msg, timestamp...)
	msg = append(msg, '\n')
	msg = append(msg, body...)
	return msg
}

// Sign produces the base64 signature value for the given request tuple.
// Used by clients and tests; the server only verifies.
func Sign(priv ed25519.PrivateKey, method, path, timestamp string, body []byte) string {
	sig := ed25519.Sign(priv, BuildMessage(method, path, timestamp, body))
	return base64.StdEncoding.EncodeToString(sig)
}

// Verify checks the signature against the claw's public key. Returns a
// typed BAD_SIGNATURE error on mismatch or malformed input.
func Verify(pub ed25519.PublicKey, method, path, timestamp string, body []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return domain.Unauthenticated(domain.CodeBadSignature, "signature is not valid base64")
	}
	if len(sig) != ed25519.SignatureSize {
		return domain.Unauthenticated(domain.CodeBadSignature, "signature has wrong length")
	}
	if !ed25519.Verify(pub, BuildMessage(method, path, timestamp, body), sig) {
		return domain.Unauthenticated(domain.CodeBadSignature, "signature verification failed")
	}
	return nil
}

// CheckTimestamp parses the millisecond timestamp header and enforces the
// skew window. Returns the parsed time on success.
func CheckTimestamp(timestamp string, now time.Time, skew time.Duration) (time.Time, error) {
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return time.Time{}, domain.Unauthenticated(domain.CodeTimestampSkew, "timestamp is not a millisecond integer")
	}
	t := time.UnixMilli(ms)
	d := now.Sub(t)
	if d < 0 {
		d = -d
	}
	if d > skew {
		return time.Time{}, domain.Unauthenticated(domain.CodeTimestampSkew,
			fmt.Sprintf("timestamp outside ±%s window", skew))
	}
	return t, nil
}

// ParsePublicKey decodes a base64 Ed25519 public key.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.Invalid(domain.CodeValidation, "publicKey is not valid base64")
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, domain.Invalid(domain.CodeValidation,
			fmt.Sprintf("publicKey must be %d bytes, got %d", ed25519.PublicKeySize, len(raw)))
	}
	return ed25519.PublicKey(raw), nil
}

// EncodePublicKey is the inverse of ParsePublicKey.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// DeriveClawID maps a public key to its claw id: "claw_" plus the first 12
// hex characters of SHA-256(key). Deterministic, so one key always owns the
// same id.
func DeriveClawID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "claw_" + hex.EncodeToString(sum[:])[:12]
}

// GenerateKeyPair creates a fresh Ed25519 key pair. Test and tooling helper.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return pub, priv, nil
}

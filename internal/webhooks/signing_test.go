package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignPayloadRoundTrip(t *testing.T) {
	body := []byte(`{"event":"message.new","timestamp":"2026-08-24T10:00:00Z","data":{"messageId":"m1"}}`)

	sig := SignPayload(body, "shell-secret")
	assert.Contains(t, sig, "sha256=")
	assert.True(t, VerifySignature(body, "shell-secret", sig))

	// Prefix is optional on the inbound side.
	assert.True(t, VerifySignature(body, "shell-secret", sig[len("sha256="):]))
}

func TestVerifySignatureRejectsMutations(t *testing.T) {
	body := []byte(`{"event":"pearl.endorsed"}`)
	sig := SignPayload(body, "s1")

	assert.False(t, VerifySignature([]byte(`{"event":"pearl.shared"}`), "s1", sig))
	assert.False(t, VerifySignature(body, "s2", sig))
	assert.False(t, VerifySignature(body, "s1", "sha256=deadbeef"))
	assert.False(t, VerifySignature(body, "s1", "sha256=nothex!!"))
	assert.False(t, VerifySignature(body, "s1", ""))
	assert.False(t, VerifySignature(body, "", sig))
}

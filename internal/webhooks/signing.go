package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header names on outbound deliveries and inbound receipts.
const (
	HeaderEvent     = "X-ClawBuds-Event"
	HeaderSignature = "X-ClawBuds-Signature"
	HeaderDelivery  = "X-ClawBuds-Delivery"
	HeaderTimestamp = "X-ClawBuds-Timestamp"
)

// SignPayload computes the signature header value for a body:
// "sha256=" + hex(HMAC-SHA256(secret, body)).
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound webhook signature in constant time.
// Accepts the header with or without the "sha256=" prefix.
func VerifySignature(body []byte, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

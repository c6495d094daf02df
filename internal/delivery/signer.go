package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureScheme prefixes the signature header value.
const SignatureScheme = "sha256="

// Sign computes the hex HMAC-SHA256 of the payload under the subscriber's
// secret. The payload is the frozen event body, so redeliveries of the same
// event id always carry the same signature.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders the X-Signature header value.
func SignatureHeader(secret string, payload []byte) string {
	return SignatureScheme + Sign(secret, payload)
}

// VerifySignature checks a received header value against the payload.
// Intended for subscriber-side verification and tests.
func VerifySignature(secret string, payload []byte, header string) bool {
	expected, ok := strings.CutPrefix(header, SignatureScheme)
	if !ok {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(Sign(secret, payload)))
}

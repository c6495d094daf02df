package delivery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"eventId":"evt-1","threshold":50}`)
	header := SignatureHeader("topsecret", payload)

	require.True(t, strings.HasPrefix(header, SignatureScheme))
	require.True(t, VerifySignature("topsecret", payload, header))
}

func TestSignatureIsDeterministic(t *testing.T) {
	payload := []byte(`{"eventId":"evt-1"}`)
	require.Equal(t, Sign("s", payload), Sign("s", payload))
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	payload := []byte(`{"eventId":"evt-1"}`)
	header := SignatureHeader("topsecret", payload)

	require.False(t, VerifySignature("topsecret", []byte(`{"eventId":"evt-2"}`), header))
	require.False(t, VerifySignature("wrongsecret", payload, header))
	require.False(t, VerifySignature("topsecret", payload, Sign("topsecret", payload))) // missing scheme prefix
	require.False(t, VerifySignature("topsecret", payload, ""))
}

// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// EncodeCursor serialises a sync cursor position to an opaque token. The
// position is the latest workout start timestamp the server has acknowledged
// to the client.
func EncodeCursor(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	raw := ts.UTC().Format(time.RFC3339Nano)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an encoded cursor token. An empty token decodes to the
// zero time, meaning "from the beginning".
func DecodeCursor(token string) (time.Time, error) {
	if strings.TrimSpace(token) == "" {
		return time.Time{}, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cursor token: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, string(decoded))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	return ts, nil
}

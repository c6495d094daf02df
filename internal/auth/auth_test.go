package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testCfg = Config{Secret: "unit-test-secret", Issuer: "running-days"}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, testCfg.Secret, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testCfg.Issuer,
		"exp":    exp.Unix(),
		"scopes": []string{"workouts:read", "workouts:write"},
	})

	claims, err := Parse(token, testCfg)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.HasScope("workouts:read"))
	require.True(t, claims.HasScope("workouts:write"))
	require.False(t, claims.HasScope("subscribers:manage"))
	require.True(t, exp.Equal(claims.ExpiresAt))
}

func TestParseRejectsTokenWithoutExpiry(t *testing.T) {
	// A correctly signed token that simply omits exp must come back as
	// invalid, not crash the request.
	token := signToken(t, testCfg.Secret, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testCfg.Issuer,
		"scopes": []string{"workouts:read"},
	})

	claims, err := Parse(token, testCfg)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.Nil(t, claims)
}

func TestParseRejectsBadTokens(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{
			name:  "empty token",
			token: "   ",
			want:  ErrMissingToken,
		},
		{
			name:  "wrong secret",
			token: signToken(t, "other-secret", jwt.MapClaims{"sub": "user-1", "iss": testCfg.Issuer, "exp": exp}),
			want:  ErrInvalidToken,
		},
		{
			name:  "wrong issuer",
			token: signToken(t, testCfg.Secret, jwt.MapClaims{"sub": "user-1", "iss": "someone-else", "exp": exp}),
			want:  ErrInvalidToken,
		},
		{
			name:  "expired",
			token: signToken(t, testCfg.Secret, jwt.MapClaims{"sub": "user-1", "iss": testCfg.Issuer, "exp": time.Now().Add(-time.Hour).Unix()}),
			want:  ErrInvalidToken,
		},
		{
			name:  "missing subject",
			token: signToken(t, testCfg.Secret, jwt.MapClaims{"iss": testCfg.Issuer, "exp": exp}),
			want:  ErrInvalidToken,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.token, testCfg)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseScopeForms(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	token := signToken(t, testCfg.Secret, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testCfg.Issuer,
		"exp":    exp,
		"scopes": "workouts:read  workouts:write",
	})
	claims, err := Parse(token, testCfg)
	require.NoError(t, err)
	require.True(t, claims.HasScope("workouts:read"))
	require.True(t, claims.HasScope("workouts:write"))

	token = signToken(t, testCfg.Secret, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testCfg.Issuer,
		"exp":    exp,
		"scopes": []interface{}{"subscribers:manage", ""},
	})
	claims, err = Parse(token, testCfg)
	require.NoError(t, err)
	require.True(t, claims.HasScope("subscribers:manage"))
	require.Len(t, claims.Scopes, 1)
}

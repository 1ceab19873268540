package credentials_test

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/artvinci-web/credentials"
	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"github.com/stretchr/testify/require"
)

const testClientID = "frontend-mytools"

func signToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestPairExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		pair           credentials.Pair
		within         time.Duration
		expectExpiring bool
	}{
		{
			name:           "expires in 10s is within 30s",
			pair:           credentials.Pair{AccessToken: "a", ExpiresAt: now.Add(10 * time.Second)},
			within:         30 * time.Second,
			expectExpiring: true,
		},
		{
			name:           "expires in 5m is not within 30s",
			pair:           credentials.Pair{AccessToken: "a", ExpiresAt: now.Add(5 * time.Minute)},
			within:         30 * time.Second,
			expectExpiring: false,
		},
		{
			name:           "already expired",
			pair:           credentials.Pair{AccessToken: "a", ExpiresAt: now.Add(-time.Second)},
			within:         0,
			expectExpiring: true,
		},
		{
			name:           "unknown expiry never expires",
			pair:           credentials.Pair{AccessToken: "a"},
			within:         time.Hour,
			expectExpiring: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expectExpiring, tt.pair.ExpiresWithin(tt.within, now))
		})
	}
}

func TestPairRefreshExpired(t *testing.T) {
	now := time.Now()
	require.True(t, credentials.Pair{}.RefreshExpired(now))
	require.False(t, credentials.Pair{RefreshToken: "r"}.RefreshExpired(now))
	require.False(t, credentials.Pair{RefreshToken: "r", RefreshExpiresAt: now.Add(time.Minute)}.RefreshExpired(now))
	require.True(t, credentials.Pair{RefreshToken: "r", RefreshExpiresAt: now}.RefreshExpired(now))
}

func TestProfileFromToken(t *testing.T) {
	t.Run("keycloak claims", func(t *testing.T) {
		raw := signToken(t, jwtlib.MapClaims{
			"sub":                "user-1",
			"preferred_username": "frida",
			"email":              "frida@example.com",
			"name":               "Frida Kahlo",
			"exp":                time.Now().Add(time.Hour).Unix(),
			"realm_access":       map[string]any{"roles": []string{"buyer", "artist"}},
			"resource_access": map[string]any{
				testClientID: map[string]any{"roles": []string{"artist", "admin"}},
				"other":      map[string]any{"roles": []string{"ignored"}},
			},
		})

		profile, err := credentials.ProfileFromToken(raw, testClientID)
		require.NoError(t, err)
		require.Equal(t, "user-1", profile.ID)
		require.Equal(t, "frida", profile.Username)
		require.Equal(t, "frida@example.com", profile.Email)
		require.Equal(t, "Frida Kahlo", profile.DisplayName)
		require.Equal(t, []string{"admin", "artist", "buyer"}, profile.Roles)
		require.True(t, profile.HasRole("admin"))
		require.False(t, profile.HasRole("ignored"))
	})

	t.Run("username falls back to subject", func(t *testing.T) {
		raw := signToken(t, jwtlib.MapClaims{"sub": "user-2", "given_name": "Ada", "family_name": "Lovelace"})

		profile, err := credentials.ProfileFromToken(raw, testClientID)
		require.NoError(t, err)
		require.Equal(t, "user-2", profile.Username)
		require.Equal(t, "Ada Lovelace", profile.DisplayName)
		require.Empty(t, profile.Roles)
	})

	t.Run("opaque token", func(t *testing.T) {
		_, err := credentials.ProfileFromToken("not-a-jwt", testClientID)
		require.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})
}

func TestParseClaimsExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	claims, err := credentials.ParseClaims(signToken(t, jwtlib.MapClaims{"sub": "u", "exp": exp.Unix()}))
	require.NoError(t, err)
	require.True(t, exp.Equal(claims.Expiry()))

	claims, err = credentials.ParseClaims(signToken(t, jwtlib.MapClaims{"sub": "u"}))
	require.NoError(t, err)
	require.True(t, claims.Expiry().IsZero())
}

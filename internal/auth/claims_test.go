package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestParseIDTokenClaims(t *testing.T) {
	idToken := signToken(t, jwt.MapClaims{
		"sub":                "user-1",
		"preferred_username": "alice",
		"given_name":         "Alice",
		"family_name":        "Doe",
		"roles":              []any{"basic", "premium"},
	})

	identity, err := ParseIDTokenClaims(idToken, "roles", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)
	assert.Equal(t, "Alice", identity.GivenName)
	assert.Equal(t, "Doe", identity.FamilyName)
	assert.Equal(t, []string{"basic", "premium"}, identity.Roles)
}

func TestParseIDTokenClaimsUsernameFallback(t *testing.T) {
	t.Run("email", func(t *testing.T) {
		identity, err := ParseIDTokenClaims(signToken(t, jwt.MapClaims{
			"sub":   "user-1",
			"email": "alice@example.com",
		}), "roles", "")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", identity.Username)
	})

	t.Run("sub", func(t *testing.T) {
		identity, err := ParseIDTokenClaims(signToken(t, jwt.MapClaims{
			"sub": "user-1",
		}), "roles", "")
		require.NoError(t, err)
		assert.Equal(t, "user-1", identity.Username)
	})

	t.Run("nothing usable", func(t *testing.T) {
		_, err := ParseIDTokenClaims(signToken(t, jwt.MapClaims{
			"iss": "https://idp.example.com",
		}), "roles", "")
		assert.Error(t, err)
	})
}

func TestParseIDTokenClaimsMalformed(t *testing.T) {
	_, err := ParseIDTokenClaims("not-a-jwt", "roles", "")
	assert.Error(t, err)
}

func TestExtractRoles(t *testing.T) {
	t.Run("flat array", func(t *testing.T) {
		roles, err := ExtractRoles(map[string]any{"roles": []any{"basic", "premium"}}, "roles", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"basic", "premium"}, roles)
	})

	t.Run("missing claim means no roles", func(t *testing.T) {
		roles, err := ExtractRoles(map[string]any{}, "roles", "")
		require.NoError(t, err)
		assert.Empty(t, roles)
	})

	t.Run("nested objects", func(t *testing.T) {
		roles, err := ExtractRoles(map[string]any{
			"roles": []any{
				map[string]any{"name": "basic"},
				map[string]any{"name": "premium"},
			},
		}, "roles", "name")
		require.NoError(t, err)
		assert.Equal(t, []string{"basic", "premium"}, roles)
	})

	t.Run("invalid shape", func(t *testing.T) {
		_, err := ExtractRoles(map[string]any{"roles": "basic"}, "roles", "")
		assert.Error(t, err)
	})
}

func TestPrincipalFromClaims(t *testing.T) {
	principal, err := PrincipalFromClaims(map[string]any{
		"sub":                "user-1",
		"preferred_username": "alice",
		"roles":              []any{"basic"},
	}, "roles", "")
	require.NoError(t, err)

	assert.True(t, principal.Authenticated)
	assert.Equal(t, "alice", principal.Key)
	assert.Equal(t, "alice", principal.Username)
	assert.Equal(t, []string{"basic"}, principal.Roles)
	assert.True(t, principal.HasRole("basic"))
	assert.False(t, principal.HasRole("premium"))

	_, err = PrincipalFromClaims(map[string]any{"iss": "x"}, "roles", "")
	assert.Error(t, err)
}

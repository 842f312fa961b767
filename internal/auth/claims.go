package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// IdentityClaims is the subset of ID token claims the gateway cares
// about when building a Principal.
type IdentityClaims struct {
	Username   string
	GivenName  string
	FamilyName string
	Roles      []string
}

// ParseIDTokenClaims decodes a stored ID token and extracts the
// identity claims. The token was verified when the session was
// established, so it is parsed without signature verification here.
func ParseIDTokenClaims(idToken, rolesField, rolesPath string) (*IdentityClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("parse ID token: %w", err)
	}

	roles, err := ExtractRoles(claims, rolesField, rolesPath)
	if err != nil {
		// A malformed roles claim is not fatal; the principal simply
		// carries no roles.
		roles = []string{}
	}

	identity := &IdentityClaims{
		Username:   stringClaim(claims, "preferred_username"),
		GivenName:  stringClaim(claims, "given_name"),
		FamilyName: stringClaim(claims, "family_name"),
		Roles:      roles,
	}
	if identity.Username == "" {
		identity.Username = stringClaim(claims, "email")
	}
	if identity.Username == "" {
		identity.Username = stringClaim(claims, "sub")
	}
	if identity.Username == "" {
		return nil, fmt.Errorf("ID token carries no usable subject claim")
	}

	return identity, nil
}

// Principal converts the identity claims into an authenticated
// principal keyed by username.
func (c *IdentityClaims) Principal() Principal {
	return Principal{
		Key:           c.Username,
		Authenticated: true,
		Username:      c.Username,
		GivenName:     c.GivenName,
		FamilyName:    c.FamilyName,
		Roles:         c.Roles,
	}
}

// PrincipalFromClaims builds an authenticated principal from verified
// bearer token claims.
func PrincipalFromClaims(claims map[string]interface{}, rolesField, rolesPath string) (Principal, error) {
	roles, err := ExtractRoles(claims, rolesField, rolesPath)
	if err != nil {
		roles = []string{}
	}

	identity := &IdentityClaims{
		Username:   stringClaim(claims, "preferred_username"),
		GivenName:  stringClaim(claims, "given_name"),
		FamilyName: stringClaim(claims, "family_name"),
		Roles:      roles,
	}
	if identity.Username == "" {
		identity.Username = stringClaim(claims, "email")
	}
	if identity.Username == "" {
		identity.Username = stringClaim(claims, "sub")
	}
	if identity.Username == "" {
		return Principal{}, fmt.Errorf("token carries no usable subject claim")
	}

	return identity.Principal(), nil
}

// ExtractRoles handles both flat and nested role claims.
// Supports:
//   - Flat arrays: ["basic", "premium"]
//   - Nested objects: [{"name": "basic"}] with claimPath="name"
func ExtractRoles(claims map[string]interface{}, claimField string, claimPath string) ([]string, error) {
	rawValue, ok := claims[claimField]
	if !ok {
		// Roles claim not present - the user simply has no roles.
		return []string{}, nil
	}

	if roles, ok := rawValue.([]interface{}); ok {
		result := make([]string, 0, len(roles))
		for _, r := range roles {
			if str, ok := r.(string); ok {
				result = append(result, str)
			}
		}
		if len(result) > 0 {
			return result, nil
		}
	}

	if claimPath != "" {
		return extractNestedRoles(rawValue, claimPath)
	}

	return nil, fmt.Errorf("roles claim invalid format (expected []string or []object with path)")
}

// extractNestedRoles uses mapstructure to extract from nested objects.
// Only single-level paths like "name", "value", "id" are supported.
func extractNestedRoles(rawValue interface{}, path string) ([]string, error) {
	if path == "name" || path == "value" || path == "id" {
		var objects []map[string]interface{}
		if err := mapstructure.Decode(rawValue, &objects); err != nil {
			return nil, fmt.Errorf("failed to decode nested roles: %w", err)
		}

		result := make([]string, 0, len(objects))
		for _, obj := range objects {
			if val, ok := obj[path].(string); ok {
				result = append(result, val)
			}
		}
		return result, nil
	}

	return nil, fmt.Errorf("complex nested paths not supported (path: %s)", path)
}

func stringClaim(claims map[string]interface{}, field string) string {
	value, ok := claims[field].(string)
	if !ok {
		return ""
	}
	return value
}

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// TokenLength is the length of generated session tokens in bytes
const TokenLength = 32

// GenerateSessionToken generates a cryptographically secure random
// session token.
// Returns: token (hex string), token hash (SHA256 hex), error
func GenerateSessionToken() (string, string, error) {
	tokenBytes := make([]byte, TokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("generate random token: %w", err)
	}

	token := hex.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// HashToken creates a SHA256 hash of a token string. Only the hash is
// stored server-side; the raw token lives in the session cookie.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateSessionState checks expiration and revocation. Any failure
// resolves the request to the anonymous principal (lazy expiry).
func ValidateSessionState(expiresAt time.Time, revoked bool) error {
	if revoked {
		return fmt.Errorf("session revoked")
	}
	if time.Now().After(expiresAt) {
		return fmt.Errorf("session expired")
	}
	return nil
}

// SessionCookie builds the HTTP-only session cookie. The gateway is
// the sole writer of this cookie.
func SessionCookie(r *http.Request, token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookie builds the expired cookie sent on logout.
func ClearSessionCookie(r *http.Request) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}

package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Session tracks an authenticated browser session established through
// the OIDC authorization code flow.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:sess"`

	ID           string    `bun:"id,pk,type:uuid"`
	TokenHash    string    `bun:"token_hash,notnull,unique"` // SHA256 hash of session cookie token
	Username     string    `bun:"username,notnull"`
	GivenName    string    `bun:"given_name"`
	FamilyName   string    `bun:"family_name"`
	Roles        []string  `bun:"roles"` // stored as JSON, portable across dialects
	IDToken      string    `bun:"id_token,type:text"`      // raw OIDC ID token, needed for RP-initiated logout
	RefreshToken string    `bun:"refresh_token,type:text"` // OIDC refresh token when the IdP issued one
	ExpiresAt    time.Time `bun:"expires_at,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
	LastUsedAt   time.Time `bun:"last_used_at,notnull,default:current_timestamp"`
	Revoked      bool      `bun:"revoked,notnull,default:false"`
}

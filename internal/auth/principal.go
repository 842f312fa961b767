package auth

import (
	"context"
	"net/http"
)

const (
	// AnonymousKey is the rate-limit key shared by all unauthenticated callers.
	AnonymousKey = "anonymous"

	// SessionCookieName carries the opaque session token.
	SessionCookieName = "edge.session"
)

// Subjects every request is evaluated as, in addition to the
// principal's own roles.
const (
	SubjectAnonymous     = "anonymous"
	SubjectAuthenticated = "authenticated"
)

// Principal represents the resolved identity of the current request.
//
// It is IMMUTABLE after construction: the session middleware resolves it
// once per request and stores it in the request context, so routing,
// CSRF and rate limiting all observe the same value.
type Principal struct {
	// Key is the stable identity used for rate limiting. The
	// authenticated username, or "anonymous".
	Key string

	// Authenticated reports whether a valid session or bearer token
	// backed this principal.
	Authenticated bool

	// Username is the preferred username claim (empty for anonymous).
	Username string

	// GivenName and FamilyName come from the ID token profile claims.
	GivenName  string
	FamilyName string

	// Roles lists the role claims (e.g. "basic", "premium"). Computed
	// once at resolution time; compared by set membership.
	Roles []string

	// SessionID references the backing session record (cookie auth only).
	SessionID string
}

// Anonymous returns the sentinel principal for unauthenticated callers.
func Anonymous() Principal {
	return Principal{Key: AnonymousKey}
}

// HasRole reports whether the principal carries the given role claim.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Subjects returns the identifiers the route rules are evaluated
// against: the implicit anonymous/authenticated subject plus every role.
func (p Principal) Subjects() []string {
	if !p.Authenticated {
		return []string{SubjectAnonymous}
	}
	subjects := make([]string, 0, len(p.Roles)+1)
	subjects = append(subjects, SubjectAuthenticated)
	subjects = append(subjects, p.Roles...)
	return subjects
}

type principalContextKey struct{}

var defaultPrincipalContextKey = principalContextKey{}

type tokenHashContextKey struct{}

var defaultTokenHashContextKey = tokenHashContextKey{}

// SetPrincipalContext stores the resolved principal on the context.
func SetPrincipalContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, defaultPrincipalContextKey, p)
}

// PrincipalFromContext returns the resolved principal, or the anonymous
// principal when resolution never ran for this request.
func PrincipalFromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(defaultPrincipalContextKey).(Principal); ok {
		return p
	}
	return Anonymous()
}

// SetTokenHashContext stores the session token hash used to bind the
// CSRF token to the current session.
func SetTokenHashContext(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, defaultTokenHashContextKey, hash)
}

// TokenHashFromContext returns the session token hash, if any.
func TokenHashFromContext(ctx context.Context) (string, bool) {
	hash, ok := ctx.Value(defaultTokenHashContextKey).(string)
	return hash, ok
}

// Skipper defines a function to skip a middleware for matching requests.
type Skipper func(*http.Request) bool

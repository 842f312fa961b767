// Package middleware implements the request pipeline stages of the
// gateway. The stages run in a fixed order for every request:
// principal resolution, CSRF validation, route authorization, rate
// limiting. Handlers behind the pipeline can rely on the request
// context carrying a resolved principal.
package middleware

import (
	"github.com/lanki/edge/internal/auth"
	"github.com/lanki/edge/internal/csrf"
	"github.com/lanki/edge/internal/ratelimit"
	"github.com/lanki/edge/internal/repository"
)

// SessionDeps provides the collaborators for principal resolution.
type SessionDeps struct {
	Sessions repository.SessionRepository

	// Bearer validates IdP access tokens for API clients. Nil when the
	// gateway runs without an identity provider.
	Bearer *auth.BearerVerifier

	// RolesClaimField and RolesClaimPath describe where role claims
	// live in bearer tokens.
	RolesClaimField string
	RolesClaimPath  string
}

// CSRFDeps provides the collaborators for CSRF validation.
type CSRFDeps struct {
	Guard *csrf.Guard

	// Skip exempts matching requests, e.g. the OIDC callback which the
	// IdP redirects to without a token.
	Skip auth.Skipper
}

// AuthzDeps provides the collaborators for route authorization.
type AuthzDeps struct {
	Rules *auth.RouteRules
}

// RateLimitDeps provides the collaborators for request throttling.
type RateLimitDeps struct {
	Limiter *ratelimit.Limiter

	// IncludeAnonymous throttles unauthenticated traffic under one
	// shared key. Off by default so the rollout can start with
	// authenticated principals only.
	IncludeAnonymous bool

	Skip auth.Skipper
}

package middleware

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/lanki/edge/internal/auth"
	"github.com/lanki/edge/internal/repository"
)

// NewSessionAuthMiddleware creates middleware that resolves the request
// principal exactly once, before any other pipeline stage runs.
//
// Resolution order:
//  1. Session cookie: hash the token, look up the session, build an
//     authenticated principal from the stored identity.
//  2. Authorization header: validate the bearer token against the IdP.
//  3. Neither: the request proceeds as the anonymous principal.
//
// A missing, stale, revoked or unknown cookie downgrades to anonymous
// rather than failing the request; route authorization decides later
// whether anonymous access suffices. A bearer token that is present but
// invalid is rejected outright, since the caller explicitly claimed an
// identity it could not prove.
func NewSessionAuthMiddleware(deps SessionDeps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if cookie, err := r.Cookie(auth.SessionCookieName); err == nil && cookie.Value != "" {
				tokenHash := auth.HashToken(cookie.Value)

				session, err := deps.Sessions.GetByTokenHash(ctx, tokenHash)
				if err != nil {
					if err != repository.ErrSessionNotFound {
						log.Printf("session lookup failed: %v", err)
					}
					http.SetCookie(w, auth.ClearSessionCookie(r))
					serveAnonymous(next, w, r)
					return
				}

				if err := auth.ValidateSessionState(session.ExpiresAt, session.Revoked); err != nil {
					http.SetCookie(w, auth.ClearSessionCookie(r))
					serveAnonymous(next, w, r)
					return
				}

				principal := auth.Principal{
					Key:           session.Username,
					Authenticated: true,
					Username:      session.Username,
					GivenName:     session.GivenName,
					FamilyName:    session.FamilyName,
					Roles:         session.Roles,
					SessionID:     session.ID,
				}

				ctx = auth.SetPrincipalContext(ctx, principal)
				ctx = auth.SetTokenHashContext(ctx, tokenHash)

				// Best effort, off the request path.
				go func(id string) {
					updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := deps.Sessions.UpdateLastUsed(updateCtx, id); err != nil {
						log.Printf("warning: failed to update session last_used: %v", err)
					}
				}(session.ID)

				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if deps.Bearer != nil {
				claims, present, err := deps.Bearer.ParseRequest(ctx, r)
				if present {
					if err != nil {
						http.Error(w, "invalid bearer token", http.StatusUnauthorized)
						return
					}
					principal, err := auth.PrincipalFromClaims(claims, deps.RolesClaimField, deps.RolesClaimPath)
					if err != nil {
						http.Error(w, "invalid bearer token", http.StatusUnauthorized)
						return
					}
					ctx = auth.SetPrincipalContext(ctx, principal)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			serveAnonymous(next, w, r)
		})
	}
}

func serveAnonymous(next http.Handler, w http.ResponseWriter, r *http.Request) {
	ctx := auth.SetPrincipalContext(r.Context(), auth.Anonymous())
	next.ServeHTTP(w, r.WithContext(ctx))
}

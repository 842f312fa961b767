package server

import (
	"log"
	"net/http"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/lanki/edge/internal/auth"
	"github.com/lanki/edge/internal/config"
	"github.com/lanki/edge/internal/csrf"
	"github.com/lanki/edge/internal/db/bunx"
	"github.com/lanki/edge/internal/db/models"
	"github.com/lanki/edge/internal/repository"
	"github.com/lanki/edge/internal/telemetry"
)

// loginRedirectCookie remembers where to send the browser after the
// OIDC round trip. Only local paths are honoured on the way back.
const loginRedirectCookie = "edge.login_redirect"

// HandleLogin initiates the OIDC Authorization Code Flow. The library's
// AuthURLHandler generates and stores the state and PKCE verifier in
// encrypted cookies and redirects to the identity provider.
func HandleLogin(rpAuth *auth.RelyingParty) http.HandlerFunc {
	libraryAuthHandler := rp.AuthURLHandler(auth.GenerateState, rpAuth.RP())
	return func(w http.ResponseWriter, r *http.Request) {
		if target := r.URL.Query().Get("redirect_uri"); target != "" {
			http.SetCookie(w, &http.Cookie{
				Name:     loginRedirectCookie,
				Value:    auth.SafeRedirectPath(target),
				Path:     "/",
				MaxAge:   300,
				HttpOnly: true,
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
		}
		libraryAuthHandler.ServeHTTP(w, r)
	}
}

// HandleCallback finishes the code flow: the library validates state,
// performs the PKCE exchange and verifies the ID token, then the
// callback below establishes the gateway session.
func HandleCallback(rpAuth *auth.RelyingParty, sessions repository.SessionRepository, cfg *config.Config) http.HandlerFunc {
	codeExchangeCallback := func(w http.ResponseWriter, r *http.Request, tokens *oidc.Tokens[*oidc.IDTokenClaims], state string, provider rp.RelyingParty) {
		ctx, span := telemetry.StartSpan(r.Context(), "edge/server", "auth.Callback")
		defer span.End()

		identity, err := auth.ParseIDTokenClaims(tokens.IDToken, cfg.OIDC.RolesClaimField, cfg.OIDC.RolesClaimPath)
		if err != nil {
			telemetry.RecordError(span, err)
			log.Printf("callback: unusable ID token: %v", err)
			http.Error(w, "failed to establish session", http.StatusInternalServerError)
			return
		}

		token, tokenHash, err := auth.GenerateSessionToken()
		if err != nil {
			telemetry.RecordError(span, err)
			http.Error(w, "failed to establish session", http.StatusInternalServerError)
			return
		}

		// The session never outlives the token the IdP issued.
		expiresAt := time.Now().Add(cfg.Session.TTL)
		if !tokens.Expiry.IsZero() && tokens.Expiry.Before(expiresAt) {
			expiresAt = tokens.Expiry
		}

		now := time.Now()
		session := &models.Session{
			ID:           bunx.NewUUIDv7(),
			TokenHash:    tokenHash,
			Username:     identity.Username,
			GivenName:    identity.GivenName,
			FamilyName:   identity.FamilyName,
			Roles:        identity.Roles,
			IDToken:      tokens.IDToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresAt:    expiresAt,
			CreatedAt:    now,
			LastUsedAt:   now,
		}
		if err := sessions.Create(ctx, session); err != nil {
			telemetry.RecordError(span, err)
			log.Printf("callback: failed to create session for %s: %v", identity.Username, err)
			http.Error(w, "failed to establish session", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, auth.SessionCookie(r, token, expiresAt))

		target := "/"
		if cookie, err := r.Cookie(loginRedirectCookie); err == nil {
			target = auth.SafeRedirectPath(cookie.Value)
			http.SetCookie(w, &http.Cookie{Name: loginRedirectCookie, Value: "", Path: "/", MaxAge: -1})
		}
		http.Redirect(w, r, target, http.StatusFound)
	}

	return rp.CodeExchangeHandler(codeExchangeCallback, rpAuth.RP())
}

// HandleLogout revokes the current session and sends the browser to the
// identity provider's end-session endpoint so the IdP session dies too.
// The route is a POST and passes the CSRF check like any other mutation.
func HandleLogout(rpAuth *auth.RelyingParty, sessions repository.SessionRepository, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		principal := auth.PrincipalFromContext(ctx)
		if !principal.Authenticated || principal.SessionID == "" {
			http.Error(w, "no active session", http.StatusUnauthorized)
			return
		}

		// The ID token is needed for the IdP logout hint; fetch the
		// record before revoking it.
		var idToken string
		if tokenHash, ok := auth.TokenHashFromContext(ctx); ok {
			if session, err := sessions.GetByTokenHash(ctx, tokenHash); err == nil {
				idToken = session.IDToken
			}
		}

		if err := sessions.Revoke(ctx, principal.SessionID); err != nil {
			log.Printf("logout: failed to revoke session %s: %v", principal.SessionID, err)
			http.Error(w, "failed to revoke session", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, auth.ClearSessionCookie(r))

		if rpAuth != nil && idToken != "" {
			endSession, err := rpAuth.EndSessionURL(ctx, idToken, baseURL)
			if err == nil && endSession != "" {
				http.Redirect(w, r, endSession, http.StatusFound)
				return
			}
			if err != nil {
				log.Printf("logout: end-session URL unavailable: %v", err)
			}
		}
		http.Redirect(w, r, baseURL, http.StatusFound)
	}
}

// UserResponse is the identity payload served to the frontend.
type UserResponse struct {
	Username   string   `json:"username"`
	GivenName  string   `json:"given_name"`
	FamilyName string   `json:"family_name"`
	Roles      []string `json:"roles"`
}

// HandleUser returns the authenticated caller's identity.
func HandleUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := auth.PrincipalFromContext(r.Context())
		if !principal.Authenticated {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		roles := principal.Roles
		if roles == nil {
			roles = []string{}
		}
		writeJSON(w, http.StatusOK, UserResponse{
			Username:   principal.Username,
			GivenName:  principal.GivenName,
			FamilyName: principal.FamilyName,
			Roles:      roles,
		})
	}
}

// CSRFResponse tells clients where to echo the token.
type CSRFResponse struct {
	Token      string `json:"token"`
	HeaderName string `json:"headerName"`
	Parameter  string `json:"parameterName"`
}

// HandleCSRFToken hands out the double-submit token for clients that
// cannot read the cookie themselves.
func HandleCSRFToken(guard *csrf.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionRef, _ := auth.TokenHashFromContext(r.Context())
		token, err := guard.EnsureCookie(w, r, sessionRef)
		if err != nil {
			http.Error(w, "failed to issue token", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, CSRFResponse{
			Token:      token,
			HeaderName: csrf.HeaderName,
			Parameter:  csrf.FormField,
		})
	}
}

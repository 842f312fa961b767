package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/lanki/edge/internal/config"
	httphelper "github.com/zitadel/oidc/v3/pkg/http"
)

// RelyingParty drives the authorization-code flow against the
// configured identity provider by wrapping the zitadel/oidc
// RelyingParty implementation.
type RelyingParty struct {
	rp rp.RelyingParty
}

// NewRelyingParty creates the relying party for the configured IdP.
func NewRelyingParty(ctx context.Context, cfg *config.OIDCConfig, baseURL string) (*RelyingParty, error) {
	// The hash and crypto keys should be sourced from secure
	// configuration in production; for local development random
	// per-process keys are sufficient (state/PKCE cookies are
	// short-lived).
	hashKey, err := generateRandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cookie hash key: %w", err)
	}
	cryptoKey, err := generateRandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cookie crypto key: %w", err)
	}

	cookieOpts := []httphelper.CookieHandlerOpt{}
	if strings.HasPrefix(baseURL, "http://") {
		cookieOpts = append(cookieOpts, httphelper.WithUnsecure())
	}
	cookieHandler := httphelper.NewCookieHandler(hashKey, cryptoKey, cookieOpts...)

	options := []rp.Option{
		rp.WithCookieHandler(cookieHandler),
		rp.WithVerifierOpts(rp.WithIssuedAtMaxAge(10 * time.Second)),
		rp.WithPKCE(cookieHandler),
	}

	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI,
		cfg.Scopes, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC relying party: %w", err)
	}

	return &RelyingParty{rp: relyingParty}, nil
}

// RP exposes the wrapped zitadel/oidc relying party for the library's
// AuthURLHandler and CodeExchangeHandler helpers.
func (r *RelyingParty) RP() rp.RelyingParty {
	return r.rp
}

// Exchange exchanges an authorization code for an OIDC token and verified claims.
func (r *RelyingParty) Exchange(ctx context.Context, code string) (*oidc.Tokens[*oidc.IDTokenClaims], error) {
	return rp.CodeExchange[*oidc.IDTokenClaims](ctx, code, r.rp)
}

// EndSessionURL builds the identity-provider-initiated logout URL with
// the given post-logout redirect. Returns empty when the provider
// advertises no end-session endpoint; callers fall back to a local
// redirect.
func (r *RelyingParty) EndSessionURL(ctx context.Context, idToken, postLogoutRedirect string) (string, error) {
	endSession, err := rp.EndSession(ctx, r.rp, idToken, postLogoutRedirect, "", "", nil)
	if err != nil {
		return "", fmt.Errorf("build end-session URL: %w", err)
	}
	if endSession == nil {
		return "", nil
	}
	return endSession.String(), nil
}

// GenerateState generates a random state string for the login redirect.
func GenerateState() string {
	b, err := generateRandomBytes(32)
	if err != nil {
		// crypto/rand failing is unrecoverable for a gateway; an empty
		// state is rejected by the callback handler.
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// SafeRedirectPath restricts post-login/logout redirect targets to
// local paths, preventing open redirects via query parameters.
func SafeRedirectPath(raw string) string {
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return "/"
	}
	return u.Path
}

// generateRandomBytes creates a slice of random bytes of a specified size.
func generateRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

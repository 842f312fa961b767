package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"

	"github.com/lanki/edge/internal/config"
)

// BearerVerifier validates IdP-issued bearer tokens for non-browser API
// clients. Cookie sessions remain the primary authentication path; the
// session middleware consults this verifier only when an Authorization
// header is present.
type BearerVerifier struct {
	handler *oidctoken.TokenHandler[map[string]any]
}

// NewBearerVerifier constructs a verifier bound to the configured IdP.
func NewBearerVerifier(cfg *config.OIDCConfig) (*BearerVerifier, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("oidc issuer is required")
	}

	handler, err := oidctoken.New[map[string]any](nil,
		options.WithIssuer(cfg.Issuer),
		options.WithRequiredAudience(cfg.ClientID),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise oidc token handler: %w", err)
	}

	return &BearerVerifier{handler: handler}, nil
}

// ParseRequest extracts and validates a bearer token from the request.
//
// Returns:
//   - (nil, false, nil) when no Authorization header is present
//   - (nil, true, error) when a token was presented but is invalid
//   - (claims, true, nil) on success
func (v *BearerVerifier) ParseRequest(ctx context.Context, r *http.Request) (map[string]any, bool, error) {
	if r.Header.Get("Authorization") == "" {
		return nil, false, nil
	}

	token, err := oidctoken.GetTokenString(r.Header.Get, [][]options.TokenStringOption{{}})
	if err != nil || token == "" {
		return nil, true, fmt.Errorf("unable to extract bearer token: %w", err)
	}

	claims, err := v.handler.ParseToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, true, fmt.Errorf("invalid token: %w", err)
	}

	return claims, true, nil
}

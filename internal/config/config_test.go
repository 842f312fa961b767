package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:9000", cfg.ServerAddr)
	assert.Equal(t, "http://localhost:9000", cfg.BaseURL)
	assert.Equal(t, "memory", cfg.DatabaseURL)
	assert.Equal(t, "http://localhost:9001", cfg.Notes.URL)
	assert.Equal(t, 3*time.Second, cfg.Notes.Timeout)
	assert.Equal(t, 10, cfg.RateLimit.Capacity)
	assert.Equal(t, float64(10), cfg.RateLimit.RefillPerSecond)
	assert.False(t, cfg.RateLimit.IncludeAnonymous)
	assert.Equal(t, 12*time.Hour, cfg.Session.TTL)
	assert.False(t, cfg.OIDC.Enabled())
}

func TestLoadOIDCRequiresClientCredentials(t *testing.T) {
	t.Setenv("OIDC_ISSUER", "https://idp.example.com/realms/edge")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDC_CLIENT_ID")

	t.Setenv("OIDC_CLIENT_ID", "edge-service")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDC_CLIENT_SECRET")
}

func TestLoadOIDCDefaultsRedirectURI(t *testing.T) {
	t.Setenv("OIDC_ISSUER", "https://idp.example.com/realms/edge")
	t.Setenv("OIDC_CLIENT_ID", "edge-service")
	t.Setenv("OIDC_CLIENT_SECRET", "secret")
	t.Setenv("BASE_URL", "https://edge.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://edge.example.com/oauth2/callback", cfg.OIDC.RedirectURI)
	assert.Equal(t, []string{"openid", "profile", "email", "roles"}, cfg.OIDC.Scopes)
}

func TestLoadRejectsInvalidRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_CAPACITY")
}

func TestLoadParsesRateLimitOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "3")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "0.5")
	t.Setenv("RATE_LIMIT_ANONYMOUS", "true")
	t.Setenv("RATE_LIMIT_BUCKET_TTL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RateLimit.Capacity)
	assert.Equal(t, 0.5, cfg.RateLimit.RefillPerSecond)
	assert.True(t, cfg.RateLimit.IncludeAnonymous)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.BucketTTL)
}

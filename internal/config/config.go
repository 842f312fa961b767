package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the gateway configuration
type Config struct {
	// Server bind address (host:port)
	ServerAddr string

	// Public base URL of the gateway (post-logout redirect target)
	BaseURL string

	// Session store DSN. "memory" keeps sessions in-process;
	// postgres:// or a SQLite path externalizes them.
	DatabaseURL string

	// Optional directory of static assets served at /
	StaticDir string

	// Enable debug logging
	Debug bool

	// Backend note service routing
	Notes NotesConfig

	// OIDC authentication configuration
	OIDC OIDCConfig

	// Per-principal rate limiting
	RateLimit RateLimitConfig

	// Session lifecycle
	Session SessionConfig

	// CSRF signing key. Random per process when empty.
	CSRFKey string

	// Optional Casbin policy CSV overriding the built-in route rules
	RoutePolicyPath string

	// OpenTelemetry configuration
	Observability ObservabilityConfig
}

// NotesConfig holds routing targets for the note service backend.
type NotesConfig struct {
	// Primary backend base URL
	URL string

	// Optional alternate instance tried once before falling back
	AlternateURL string

	// Per-attempt timeout for backend calls
	Timeout time.Duration
}

// OIDCConfig holds the relying-party configuration for the single
// configured identity provider. When Issuer is empty the gateway runs
// without authentication (development mode): every request resolves to
// the anonymous principal and the login endpoints are not mounted.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// Claim holding the principal's roles. Default: "roles".
	RolesClaimField string

	// Optional sub-field for nested role claims (e.g. "name" for
	// [{"name":"basic"}])
	RolesClaimPath string
}

// Enabled reports whether an identity provider is configured.
func (c *OIDCConfig) Enabled() bool {
	return c.Issuer != ""
}

// RateLimitConfig holds the token bucket parameters shared by all
// per-principal buckets.
type RateLimitConfig struct {
	// Bucket capacity (burst). Must be > 0.
	Capacity int

	// Steady refill rate in tokens per second. Must be > 0.
	// Fractional rates are supported (e.g. 0.5 = one token per 2s).
	RefillPerSecond float64

	// Whether anonymous traffic shares a single "anonymous" bucket.
	// When false, unauthenticated requests bypass the limiter.
	IncludeAnonymous bool

	// Upper bound on tracked principals before LRU eviction
	MaxBuckets int

	// Idle time after which a bucket is evicted
	BucketTTL time.Duration
}

// SessionConfig holds session lifecycle parameters.
type SessionConfig struct {
	// Maximum session lifetime
	TTL time.Duration

	// Interval of the expired-session sweeper
	SweepInterval time.Duration
}

// ObservabilityConfig holds OpenTelemetry settings. Telemetry is a
// no-op when OTLPEndpoint is empty.
type ObservabilityConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:      getEnv("SERVER_ADDR", "localhost:9000"),
		BaseURL:         getEnv("BASE_URL", "http://localhost:9000"),
		DatabaseURL:     getEnv("DATABASE_URL", "memory"),
		StaticDir:       getEnv("STATIC_DIR", ""),
		Debug:           getEnvBool("DEBUG", false),
		CSRFKey:         getEnv("CSRF_KEY", ""),
		RoutePolicyPath: getEnv("ROUTE_POLICY_PATH", ""),
		Notes: NotesConfig{
			URL:          getEnv("NOTE_SERVICE_URL", "http://localhost:9001"),
			AlternateURL: getEnv("NOTE_SERVICE_ALTERNATE_URL", ""),
			Timeout:      getEnvDuration("BACKEND_TIMEOUT", 3*time.Second),
		},
		OIDC: OIDCConfig{
			Issuer:          getEnv("OIDC_ISSUER", ""),
			ClientID:        getEnv("OIDC_CLIENT_ID", ""),
			ClientSecret:    getEnv("OIDC_CLIENT_SECRET", ""),
			RedirectURI:     getEnv("OIDC_REDIRECT_URI", ""),
			Scopes:          splitList(getEnv("OIDC_SCOPES", "openid,profile,email,roles")),
			RolesClaimField: getEnv("OIDC_ROLES_CLAIM", "roles"),
			RolesClaimPath:  getEnv("OIDC_ROLES_PATH", ""),
		},
		RateLimit: RateLimitConfig{
			Capacity:         getEnvInt("RATE_LIMIT_CAPACITY", 10),
			RefillPerSecond:  getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 10),
			IncludeAnonymous: getEnvBool("RATE_LIMIT_ANONYMOUS", false),
			MaxBuckets:       getEnvInt("RATE_LIMIT_MAX_BUCKETS", 4096),
			BucketTTL:        getEnvDuration("RATE_LIMIT_BUCKET_TTL", 10*time.Minute),
		},
		Session: SessionConfig{
			TTL:           getEnvDuration("SESSION_TTL", 12*time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "edge-service"),
		},
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("BASE_URL is required")
	}
	if cfg.Notes.URL == "" {
		return nil, fmt.Errorf("NOTE_SERVICE_URL is required")
	}

	// OIDC is optional overall, but a partially configured provider is
	// always a misconfiguration.
	if cfg.OIDC.Enabled() {
		if cfg.OIDC.ClientID == "" {
			return nil, fmt.Errorf("OIDC_CLIENT_ID is required when OIDC_ISSUER is set")
		}
		if cfg.OIDC.ClientSecret == "" {
			return nil, fmt.Errorf("OIDC_CLIENT_SECRET is required when OIDC_ISSUER is set")
		}
		if cfg.OIDC.RedirectURI == "" {
			cfg.OIDC.RedirectURI = strings.TrimRight(cfg.BaseURL, "/") + "/oauth2/callback"
		}
	}

	if cfg.RateLimit.Capacity <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_CAPACITY must be greater than 0")
	}
	if cfg.RateLimit.RefillPerSecond <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_REFILL_PER_SEC must be greater than 0")
	}
	if cfg.Session.TTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be greater than 0")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

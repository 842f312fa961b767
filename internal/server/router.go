package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/lanki/edge/internal/auth"
	"github.com/lanki/edge/internal/config"
	"github.com/lanki/edge/internal/csrf"
	edgemiddleware "github.com/lanki/edge/internal/middleware"
	"github.com/lanki/edge/internal/ratelimit"
	"github.com/lanki/edge/internal/repository"
	"github.com/lanki/edge/internal/telemetry"
)

// RouterOptions controls the construction of the gateway router.
type RouterOptions struct {
	Cfg      *config.Config
	Sessions repository.SessionRepository

	// RelyingParty is nil when the gateway runs without an identity
	// provider; the login routes are not mounted then.
	RelyingParty *auth.RelyingParty
	Bearer       *auth.BearerVerifier

	Guard   *csrf.Guard
	Rules   *auth.RouteRules
	Limiter *ratelimit.Limiter
	Metrics *telemetry.GatewayMetrics

	// NotesProxy handles everything under the notes API prefix.
	NotesProxy http.Handler

	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
	ExtraRoutes   func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			csrf.HeaderName,
		},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// NewRouter assembles the request pipeline. The stage order is fixed:
// principal resolution runs first so every later stage sees the same
// principal, CSRF validation precedes authorization so forged
// cross-site requests are rejected before any auth outcome leaks, and
// rate limiting runs last so only otherwise-valid requests consume
// tokens.
func NewRouter(opts RouterOptions) (chi.Router, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	if opts.Metrics != nil {
		r.Use(metricsMiddleware(opts.Metrics))
	}

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Use(edgemiddleware.NewSessionAuthMiddleware(edgemiddleware.SessionDeps{
		Sessions:        opts.Sessions,
		Bearer:          opts.Bearer,
		RolesClaimField: opts.Cfg.OIDC.RolesClaimField,
		RolesClaimPath:  opts.Cfg.OIDC.RolesClaimPath,
	}))

	r.Use(edgemiddleware.NewCSRFMiddleware(edgemiddleware.CSRFDeps{
		Guard: opts.Guard,
		Skip:  csrfExempt,
	}))

	authz, err := edgemiddleware.NewAuthzMiddleware(edgemiddleware.AuthzDeps{Rules: opts.Rules})
	if err != nil {
		return nil, err
	}
	r.Use(authz)

	r.Use(edgemiddleware.NewRateLimitMiddleware(edgemiddleware.RateLimitDeps{
		Limiter:          opts.Limiter,
		IncludeAnonymous: opts.Cfg.RateLimit.IncludeAnonymous,
		Skip:             rateLimitExempt,
	}))

	if opts.RelyingParty != nil {
		r.Get("/oauth2/login", HandleLogin(opts.RelyingParty))
		r.Get("/oauth2/callback", HandleCallback(opts.RelyingParty, opts.Sessions, opts.Cfg))
	}
	r.Post("/logout", HandleLogout(opts.RelyingParty, opts.Sessions, opts.Cfg.BaseURL))
	r.Get("/user", HandleUser())
	r.Get("/csrf", HandleCSRFToken(opts.Guard))

	r.HandleFunc("/fallback", HandleFallback())

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	if opts.NotesProxy != nil {
		r.Handle("/v1/api/notes", opts.NotesProxy)
		r.Handle("/v1/api/notes/*", opts.NotesProxy)
	}

	if staticDirUsable(opts.Cfg.StaticDir) {
		mountStatic(r, opts.Cfg.StaticDir)
	}

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r, nil
}

// NewH2CHandler wraps the router with an h2c server so HTTP/2 works
// over cleartext behind TLS-terminating load balancers.
func NewH2CHandler(opts RouterOptions) (http.Handler, error) {
	router, err := NewRouter(opts)
	if err != nil {
		return nil, err
	}
	return h2c.NewHandler(router, &http2.Server{}), nil
}

// csrfExempt lists paths the CSRF guard must not touch. The OIDC
// endpoints are driven by IdP redirects that cannot carry a token, and
// the fallback endpoints must stay reachable in degraded mode.
func csrfExempt(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/oauth2/") ||
		r.URL.Path == "/fallback" ||
		r.URL.Path == "/health"
}

// rateLimitExempt keeps liveness probes out of the buckets.
func rateLimitExempt(r *http.Request) bool {
	return r.URL.Path == "/health"
}

func metricsMiddleware(m *telemetry.GatewayMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordRequest(r.Context(), r.Method, routeLabel(r), strconv.Itoa(status),
				float64(time.Since(start).Microseconds())/1000.0)
		})
	}
}

// routeLabel returns the matched chi pattern so metric cardinality
// stays bounded; raw paths would mint a series per note ID. Requests
// that never matched a route fall back to their path.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

package middleware

import (
	"net/http"
	"strconv"

	"github.com/lanki/edge/internal/auth"
)

// NewRateLimitMiddleware constructs middleware that throttles requests
// per principal. It runs last in the pipeline so only requests that
// passed CSRF and authorization consume tokens.
func NewRateLimitMiddleware(deps RateLimitDeps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if deps.Skip != nil && deps.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			principal := auth.PrincipalFromContext(r.Context())
			if !principal.Authenticated && !deps.IncludeAnonymous {
				next.ServeHTTP(w, r)
				return
			}

			if !deps.Limiter.Allow(principal.Key) {
				retryAfter := int(deps.Limiter.RetryAfter().Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

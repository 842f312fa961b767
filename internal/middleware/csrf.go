package middleware

import (
	"log"
	"net/http"

	"github.com/lanki/edge/internal/auth"
)

// NewCSRFMiddleware creates middleware enforcing the double-submit
// CSRF check on unsafe methods. It runs after principal resolution so
// tokens can be bound to the current session, and before route
// authorization: a forged cross-site request is rejected with 403
// regardless of the authentication outcome.
//
// Safe methods pass through and get a token cookie issued when the
// request carries none, so the first page load primes the browser for
// later mutations.
func NewCSRFMiddleware(deps CSRFDeps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if deps.Skip != nil && deps.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			sessionRef, _ := auth.TokenHashFromContext(r.Context())

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				if _, err := deps.Guard.EnsureCookie(w, r, sessionRef); err != nil {
					log.Printf("csrf cookie issue failed: %v", err)
				}
				next.ServeHTTP(w, r)
				return
			}

			if err := deps.Guard.Validate(r, sessionRef); err != nil {
				http.Error(w, "CSRF token missing or invalid", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

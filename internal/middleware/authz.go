package middleware

import (
	"errors"
	"log"
	"net/http"

	"github.com/lanki/edge/internal/auth"
)

// NewAuthzMiddleware constructs middleware that enforces the route
// rules for every request. Anonymous callers hitting a protected route
// get 401 so the client can start a login; authenticated callers
// lacking the required role get 403.
func NewAuthzMiddleware(deps AuthzDeps) (func(http.Handler) http.Handler, error) {
	if deps.Rules == nil {
		return nil, errors.New("authz middleware requires route rules")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.PrincipalFromContext(r.Context())

			allowed, err := deps.Rules.Allowed(principal.Subjects(), r.URL.Path, r.Method)
			if err != nil {
				log.Printf("authorization error for %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(w, "authorization error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				if !principal.Authenticated {
					http.Error(w, "authentication required", http.StatusUnauthorized)
					return
				}
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

package auth

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

// Route rules are a static (subject, path pattern, method pattern)
// table evaluated with Casbin. Subjects are either the implicit
// "anonymous"/"authenticated" pseudo-roles or a concrete role claim
// such as "basic" or "premium". Paths and methods are matched as
// regular expressions so the table stays a plain CSV.
const routeModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && regexMatch(r.obj, p.obj) && regexMatch(r.act, p.act)
`

// defaultRoutePolicy mirrors the shipped security rules: the landing
// page, static assets, health/fallback probes and read-only note
// listing are public; everything else requires an authenticated
// session.
var defaultRoutePolicy = [][]string{
	{"anonymous", `^/$`, `GET`},
	{"anonymous", `^/[^/]+\.css$`, `GET`},
	{"anonymous", `^/[^/]+\.js$`, `GET`},
	{"anonymous", `^/favicon\.ico$`, `GET`},
	{"anonymous", `^/health$`, `GET`},
	{"anonymous", `^/fallback$`, `GET|POST`},
	{"anonymous", `^/csrf$`, `GET`},
	{"anonymous", `^/oauth2/.*$`, `GET`},
	{"anonymous", `^/v1/api/notes(/.*)?$`, `GET`},
	{"authenticated", `^/.*$`, `GET|POST|PUT|PATCH|DELETE`},
}

// RouteRules is the immutable authorization table. Loaded once at
// startup and shared by reference across all request handlers.
type RouteRules struct {
	enforcer *casbin.Enforcer
}

// NewRouteRules builds the enforcer. When policyPath is empty the
// built-in rules are installed; otherwise the CSV at policyPath
// replaces them entirely.
func NewRouteRules(policyPath string) (*RouteRules, error) {
	m, err := model.NewModelFromString(routeModel)
	if err != nil {
		return nil, fmt.Errorf("parse route model: %w", err)
	}

	var enforcer *casbin.Enforcer
	if policyPath != "" {
		enforcer, err = casbin.NewEnforcer(m, fileadapter.NewAdapter(policyPath))
		if err != nil {
			return nil, fmt.Errorf("load route policy %s: %w", policyPath, err)
		}
	} else {
		enforcer, err = casbin.NewEnforcer(m)
		if err != nil {
			return nil, fmt.Errorf("create route enforcer: %w", err)
		}
		for _, rule := range defaultRoutePolicy {
			if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
				return nil, fmt.Errorf("install route rule %v: %w", rule, err)
			}
		}
	}

	// Route rules never change at runtime.
	enforcer.EnableAutoSave(false)

	return &RouteRules{enforcer: enforcer}, nil
}

// Allowed reports whether any of the request's subjects may perform
// method on path. Errors from the enforcer deny (fail closed).
func (r *RouteRules) Allowed(subjects []string, path, method string) (bool, error) {
	normalized := strings.ToUpper(method)
	for _, sub := range subjects {
		ok, err := r.enforcer.Enforce(sub, path, normalized)
		if err != nil {
			return false, fmt.Errorf("enforce route rule: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

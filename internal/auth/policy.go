package auth

import (
	"net/http"
	"strings"
)

// routeRule grants read and write access to paths under a prefix. A rule with
// exact set matches only that path.
type routeRule struct {
	prefix string
	exact  bool
	read   Role
	write  Role
}

// triggerRules cover the routes the service mounts; first match wins.
var triggerRules = []routeRule{
	{prefix: "/api/v1/jobs/", read: RoleOperator, write: RoleOperator},
	{prefix: "/api/v1/bills", exact: true, read: RoleViewer, write: RoleOperator},
	{prefix: "/api/v1/bills/", read: RoleViewer, write: RoleOperator},
	{prefix: "/api/", read: RoleViewer, write: RoleOperator},
}

// Policy decides which requests need a token and which role they need.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a policy with the given unauthenticated paths.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt reports whether the request skips authentication.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns the role the request needs. Paths outside /api/ need none.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	for _, rule := range triggerRules {
		if rule.exact && path != rule.prefix {
			continue
		}
		if !rule.exact && !strings.HasPrefix(path, rule.prefix) {
			continue
		}
		if isRead(r.Method) {
			return rule.read, true
		}
		return rule.write, true
	}
	return "", false
}

func isRead(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

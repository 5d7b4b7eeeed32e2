package auth

import "strings"

// Scopes used by the operator API.
const (
	ScopeMissionsRun  = "missions:run"
	ScopeTasksRead    = "tasks:read"
	ScopeTasksAdmin   = "tasks:admin"
	ScopeTasksProcess = "tasks:process"
	ScopeCampaignsRun = "campaigns:run"
	ScopeSystemRead   = "system:read"
	ScopeAll          = "*"
)

const wildcardSuffix = ":*"

// Matches reports whether grant covers required. A grant is either an exact
// scope, "prefix:*" which covers "prefix" and anything under "prefix:", or
// "*" which covers everything.
func Matches(grant, required string) bool {
	if grant == ScopeAll || grant == required {
		return true
	}
	if prefix, ok := strings.CutSuffix(grant, wildcardSuffix); ok {
		return required == prefix || strings.HasPrefix(required, prefix+":")
	}
	return false
}

// Covered reports whether any of grants covers required.
func Covered(grants []string, required string) bool {
	for _, g := range grants {
		if Matches(g, required) {
			return true
		}
	}
	return false
}

// MissingScopes returns every required scope not covered by grants, in the
// order they were required.
func MissingScopes(grants, required []string) []string {
	var missing []string
	for _, r := range required {
		if !Covered(grants, r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// Intersect keeps the requested scopes that the allow-list covers. Duplicates
// and blanks are dropped.
func Intersect(requested, allowed []string) []string {
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, s := range requested {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		if Covered(allowed, s) {
			out = append(out, s)
		}
	}
	return out
}

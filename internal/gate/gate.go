package gate

import (
	"strings"

	"scholaris/console/internal/model"
)

// Decision is the outcome of evaluating a route against a session snapshot.
type Decision int

const (
	// DecisionPending means the session is still being resolved. Render a
	// neutral placeholder, make no redirect decision yet.
	DecisionPending Decision = iota
	DecisionRedirectLogin
	DecisionRedirectUnauthorized
	DecisionAllow
)

func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionRedirectLogin:
		return "redirect_login"
	case DecisionRedirectUnauthorized:
		return "redirect_unauthorized"
	case DecisionAllow:
		return "allow"
	}
	return "unknown"
}

// Snapshot is a point-in-time read of the session store. Loaded false means
// the store has not finished resolving yet.
type Snapshot struct {
	Loaded bool
	User   *model.UserProfile
}

// Rule declares who may view a route. AnyAuthenticated is an explicit marker
// distinct from an empty role set: an empty set with AnyAuthenticated false
// admits nobody.
type Rule struct {
	Path             string
	Roles            []model.Role
	AnyAuthenticated bool
}

func (r Rule) permits(role model.Role) bool {
	if r.AnyAuthenticated {
		return true
	}
	if !role.Valid() {
		return false
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Decide is a pure function of the snapshot and the rule. It performs no I/O
// and never errors; an unrecognized role is insufficient.
func Decide(snap Snapshot, rule Rule) Decision {
	if !snap.Loaded {
		return DecisionPending
	}
	if snap.User == nil {
		return DecisionRedirectLogin
	}
	if !rule.permits(snap.User.Role) {
		return DecisionRedirectUnauthorized
	}
	return DecisionAllow
}

// Table is the static route-to-allowed-roles mapping, configured once at
// startup. Longest matching prefix wins.
type Table struct {
	rules []Rule
}

func NewTable(rules []Rule) *Table {
	return &Table{rules: rules}
}

// Lookup returns the rule governing path, matching on path prefix at segment
// boundaries. The second return is false when no rule covers the path.
func (t *Table) Lookup(path string) (Rule, bool) {
	var best Rule
	found := false
	for _, rule := range t.rules {
		if !matchesPrefix(path, rule.Path) {
			continue
		}
		if !found || len(rule.Path) > len(best.Path) {
			best = rule
			found = true
		}
	}
	return best, found
}

func matchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.HasPrefix(path, prefix)
}

// DefaultRules is the console route surface.
func DefaultRules() []Rule {
	return []Rule{
		{Path: "/superadmin", Roles: []model.Role{model.RoleSuperadmin}},
		{Path: "/admin", Roles: []model.Role{model.RoleAdmin, model.RoleSuperadmin}},
		{Path: "/accountant", Roles: []model.Role{model.RoleAccountant}},
		{Path: "/teacher", Roles: []model.Role{model.RoleTeacher}},
		{Path: "/parent", Roles: []model.Role{model.RoleParent}},
		{Path: "/profile", AnyAuthenticated: true},
		{Path: "/notifications", AnyAuthenticated: true},
	}
}

// LandingPath is where a freshly logged-in user is sent.
func LandingPath(role model.Role) string {
	switch role {
	case model.RoleSuperadmin:
		return "/superadmin/dashboard"
	case model.RoleAdmin:
		return "/admin"
	case model.RoleAccountant:
		return "/accountant/dashboard"
	case model.RoleTeacher:
		return "/teacher/dashboard"
	case model.RoleParent:
		return "/parent/dashboard"
	}
	return "/"
}

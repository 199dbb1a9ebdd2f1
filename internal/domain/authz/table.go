// Package authz decides which roles may reach which routes.
package authz

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// Access is the kind of audience a rule admits.
type Access string

const (
	// AccessPublic admits everyone, including guests.
	AccessPublic Access = "public"
	// AccessAuthenticated admits any authenticated role.
	AccessAuthenticated Access = "authenticated"
	// AccessRoles admits only the roles listed on the rule.
	AccessRoles Access = "roles"
)

// ErrInvalidRule is returned when a rule fails validation.
var ErrInvalidRule = errors.New("invalid authorization rule")

// Rule maps a route pattern to the audience allowed to reach it.
type Rule struct {
	// Name identifies the rule in decisions and metrics.
	Name string `json:"name"`
	// Pattern is an exact path, a "/prefix/*" subtree or a path.Match glob.
	Pattern string `json:"pattern"`
	// Access selects the audience.
	Access Access `json:"access"`
	// Roles lists the admitted roles when Access is AccessRoles.
	Roles []auth.Role `json:"roles,omitempty"`
	// Condition is an optional expression that must also hold.
	Condition string `json:"condition,omitempty"`
}

// Permits reports whether role satisfies the rule's audience.
// Roles are unordered: admin does not imply staff.
func (r Rule) Permits(role auth.Role) bool {
	switch r.Access {
	case AccessPublic:
		return true
	case AccessAuthenticated:
		return role.IsAssignable()
	case AccessRoles:
		for _, allowed := range r.Roles {
			if allowed == role {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (r Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if !strings.HasPrefix(r.Pattern, "/") {
		return fmt.Errorf("%w: %s: pattern %q must start with /", ErrInvalidRule, r.Name, r.Pattern)
	}
	if _, err := path.Match(r.Pattern, "/"); err != nil {
		return fmt.Errorf("%w: %s: pattern %q: %v", ErrInvalidRule, r.Name, r.Pattern, err)
	}
	switch r.Access {
	case AccessPublic, AccessAuthenticated:
		if len(r.Roles) > 0 {
			return fmt.Errorf("%w: %s: roles only apply to %q access", ErrInvalidRule, r.Name, AccessRoles)
		}
	case AccessRoles:
		if len(r.Roles) == 0 {
			return fmt.Errorf("%w: %s: at least one role is required", ErrInvalidRule, r.Name)
		}
		for _, role := range r.Roles {
			if !role.IsValid() {
				return fmt.Errorf("%w: %s: unknown role %q", ErrInvalidRule, r.Name, role)
			}
		}
	default:
		return fmt.Errorf("%w: %s: unknown access %q", ErrInvalidRule, r.Name, r.Access)
	}
	return nil
}

// MatchPattern reports whether a normalized path matches a rule pattern.
func MatchPattern(pattern, p string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok && !strings.ContainsAny(prefix, "*?[") {
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return p == pattern
	}
	matched, _ := path.Match(pattern, p)
	return matched
}

// maxUnescapes bounds percent-decoding of nested escapes such as "%2561".
const maxUnescapes = 3

// NormalizePath strips the query and fragment, decodes percent escapes and
// cleans the path. Rules always see the path the view layer will serve.
func NormalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	for range maxUnescapes {
		if !strings.Contains(p, "%") {
			break
		}
		decoded, err := url.PathUnescape(p)
		if err != nil || decoded == p {
			break
		}
		p = decoded
	}
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Table is an ordered list of rules; the first match wins.
// Paths no rule matches are public.
type Table struct {
	rules []Rule
}

// NewTable validates the rules and builds a Table.
func NewTable(rules []Rule) (*Table, error) {
	names := make(map[string]bool, len(rules))
	out := make([]Rule, len(rules))
	for i, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if names[r.Name] {
			return nil, fmt.Errorf("%w: duplicate rule name %q", ErrInvalidRule, r.Name)
		}
		names[r.Name] = true
		r.Roles = append([]auth.Role(nil), r.Roles...)
		out[i] = r
	}
	return &Table{rules: out}, nil
}

// Rules returns a copy of the table's rules in evaluation order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Match returns the index of the first rule matching the normalized path,
// or -1 when none matches.
func (t *Table) Match(p string) int {
	for i, r := range t.rules {
		if MatchPattern(r.Pattern, p) {
			return i
		}
	}
	return -1
}

// DefaultRules returns the route table of the BloodConnect application.
func DefaultRules() []Rule {
	staffOrAdmin := []auth.Role{auth.RoleStaff, auth.RoleAdmin}
	adminOnly := []auth.Role{auth.RoleAdmin}
	return []Rule{
		{Name: "home", Pattern: "/", Access: AccessPublic},
		{Name: "login", Pattern: "/login", Access: AccessPublic},
		{Name: "signup", Pattern: "/signup", Access: AccessPublic},
		{Name: "blood-drives", Pattern: "/blood-drives/*", Access: AccessPublic},
		{Name: "blog", Pattern: "/blog/*", Access: AccessPublic},
		{Name: "search", Pattern: "/search", Access: AccessPublic},
		{Name: "profile", Pattern: "/profile/*", Access: AccessAuthenticated},
		{Name: "register", Pattern: "/register/*", Access: AccessAuthenticated},
		{Name: "emergency", Pattern: "/emergency/*", Access: AccessAuthenticated},
		{Name: "reminder", Pattern: "/reminder/*", Access: AccessRoles, Roles: staffOrAdmin},
		{Name: "admin", Pattern: "/admin/*", Access: AccessRoles, Roles: adminOnly},
		{Name: "admin-api", Pattern: "/api/admin/*", Access: AccessRoles, Roles: adminOnly},
	}
}

// DefaultTable returns a Table built from DefaultRules.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRules())
	if err != nil {
		panic(err)
	}
	return t
}

package authz

import "github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"

// NavItem is a link shown in the header for a role.
type NavItem struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

var baseNavItems = []NavItem{
	{Label: "Home", Href: "/"},
	{Label: "Blood Drives", Href: "/blood-drives"},
	{Label: "Blog", Href: "/blog"},
}

var navigation = map[auth.Role][]NavItem{
	auth.RoleGuest: withBase(
		NavItem{Label: "Become a Donor", Href: "/register"},
	),
	auth.RoleMember: withBase(
		NavItem{Label: "Donor Profile", Href: "/register"},
		NavItem{Label: "Find Blood", Href: "/search"},
		NavItem{Label: "Emergency Requests", Href: "/emergency"},
	),
	auth.RoleStaff: withBase(
		NavItem{Label: "Find Blood", Href: "/search"},
		NavItem{Label: "Emergency System", Href: "/emergency"},
		NavItem{Label: "Donation Reminder", Href: "/reminder"},
	),
	auth.RoleAdmin: withBase(
		NavItem{Label: "Admin Dashboard", Href: "/admin/dashboard"},
		NavItem{Label: "Manage Users", Href: "/admin/users"},
		NavItem{Label: "Manage Blood Units", Href: "/admin/blood-units"},
		NavItem{Label: "Donation Reminder Tool", Href: "/reminder"},
	),
}

func withBase(items ...NavItem) []NavItem {
	out := make([]NavItem, 0, len(baseNavItems)+len(items))
	out = append(out, baseNavItems...)
	return append(out, items...)
}

// Navigation returns the header links for role. Unknown roles get the guest links.
func Navigation(role auth.Role) []NavItem {
	items, ok := navigation[role]
	if !ok {
		items = navigation[auth.RoleGuest]
	}
	out := make([]NavItem, len(items))
	copy(out, items)
	return out
}

package security

import "sort"

// Grant is the resolved set of permissions a plugin instance holds.
// A Grant is immutable; the Manager replaces grants rather than editing them.
type Grant struct {
	pluginID    string
	permissions map[Permission]struct{}
}

// NewGrant builds a grant from already-validated permissions.
// Unknown names are ignored; use Manager.ValidateAndGrant for manifest input.
func NewGrant(pluginID string, perms ...Permission) *Grant {
	g := &Grant{
		pluginID:    pluginID,
		permissions: make(map[Permission]struct{}, len(perms)),
	}
	for _, p := range perms {
		if _, ok := registry[p]; ok {
			g.permissions[p] = struct{}{}
		}
	}
	return g
}

// PluginID returns the plugin the grant belongs to.
func (g *Grant) PluginID() string {
	if g == nil {
		return ""
	}
	return g.pluginID
}

// Has returns true if the grant includes the permission.
// A nil grant holds nothing.
func (g *Grant) Has(p Permission) bool {
	if g == nil {
		return false
	}
	_, ok := g.permissions[p]
	return ok
}

// Permissions returns the granted permissions sorted by name.
func (g *Grant) Permissions() []Permission {
	if g == nil {
		return nil
	}
	out := make([]Permission, 0, len(g.permissions))
	for p := range g.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of granted permissions.
func (g *Grant) Len() int {
	if g == nil {
		return 0
	}
	return len(g.permissions)
}

// without returns a copy of the grant minus the given permissions.
func (g *Grant) without(perms ...Permission) *Grant {
	drop := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		drop[p] = true
	}
	next := &Grant{
		pluginID:    g.pluginID,
		permissions: make(map[Permission]struct{}, len(g.permissions)),
	}
	for p := range g.permissions {
		if !drop[p] {
			next.permissions[p] = struct{}{}
		}
	}
	return next
}

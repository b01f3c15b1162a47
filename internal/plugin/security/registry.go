package security

import "sort"

// Permission names a capability a plugin can request in its manifest.
type Permission string

// String returns the permission name.
func (p Permission) String() string {
	return string(p)
}

// Permissions known to the host.
const (
	// PermUserRead allows observing completed user registrations.
	PermUserRead Permission = "user:read"

	// PermUserWrite allows vetoing or rewriting registrations before they happen.
	PermUserWrite Permission = "user:write"

	// PermNoteRead allows observing created and deleted notes.
	PermNoteRead Permission = "note:read"

	// PermNoteWrite allows vetoing or rewriting notes before they are stored.
	PermNoteWrite Permission = "note:write"

	// PermNoteModerate allows vetoing note deletions.
	PermNoteModerate Permission = "note:moderate"

	// PermPluginRead allows observing plugin lifecycle events.
	PermPluginRead Permission = "plugin:read"

	// PermStorageRead allows reading the plugin's own key/value storage.
	PermStorageRead Permission = "storage:read"

	// PermStorageWrite allows writing the plugin's own key/value storage.
	PermStorageWrite Permission = "storage:write"

	// PermLogWrite allows writing to the host log.
	PermLogWrite Permission = "log:write"
)

// RiskTier classifies how dangerous a permission is.
type RiskTier int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskTier = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk.
	RiskHigh

	// RiskCritical indicates maximum security risk.
	RiskCritical
)

// String returns a string representation of the risk tier.
func (r RiskTier) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PermissionInfo describes a catalogue entry.
type PermissionInfo struct {
	// Name is the permission identifier.
	Name Permission

	// Description explains what the permission allows.
	Description string

	// RiskTier indicates how dangerous this permission is.
	RiskTier RiskTier
}

// registry holds every known permission. It is never mutated after init.
var registry = map[Permission]PermissionInfo{
	PermUserRead: {
		Name:        PermUserRead,
		Description: "Observe completed user registrations, including email addresses",
		RiskTier:    RiskMedium,
	},
	PermUserWrite: {
		Name:        PermUserWrite,
		Description: "Cancel or rewrite user registrations before they are stored",
		RiskTier:    RiskHigh,
	},
	PermNoteRead: {
		Name:        PermNoteRead,
		Description: "Observe created and deleted notes",
		RiskTier:    RiskLow,
	},
	PermNoteWrite: {
		Name:        PermNoteWrite,
		Description: "Cancel or rewrite notes before they are stored",
		RiskTier:    RiskMedium,
	},
	PermNoteModerate: {
		Name:        PermNoteModerate,
		Description: "Block note deletions, including deletions by moderators",
		RiskTier:    RiskCritical,
	},
	PermPluginRead: {
		Name:        PermPluginRead,
		Description: "Observe other plugins being activated and unloaded",
		RiskTier:    RiskLow,
	},
	PermStorageRead: {
		Name:        PermStorageRead,
		Description: "Read the plugin's private key/value storage",
		RiskTier:    RiskLow,
	},
	PermStorageWrite: {
		Name:        PermStorageWrite,
		Description: "Write the plugin's private key/value storage",
		RiskTier:    RiskMedium,
	},
	PermLogWrite: {
		Name:        PermLogWrite,
		Description: "Write messages to the host log",
		RiskTier:    RiskLow,
	},
}

// IsValidPermission returns true if the name is in the catalogue.
func IsValidPermission(name string) bool {
	_, ok := registry[Permission(name)]
	return ok
}

// Lookup returns the catalogue entry for a permission.
func Lookup(p Permission) (PermissionInfo, bool) {
	info, ok := registry[p]
	return info, ok
}

// DescriptionOf returns the description of a permission.
func DescriptionOf(p Permission) (string, bool) {
	info, ok := registry[p]
	return info.Description, ok
}

// RiskTierOf returns the risk tier of a permission.
func RiskTierOf(p Permission) (RiskTier, bool) {
	info, ok := registry[p]
	return info.RiskTier, ok
}

// AllPermissions returns every catalogue entry sorted by name.
// The returned slice is a copy.
func AllPermissions() []PermissionInfo {
	out := make([]PermissionInfo, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PermissionsAtOrAbove returns permissions whose tier is at least min.
func PermissionsAtOrAbove(min RiskTier) []Permission {
	var out []Permission
	for _, info := range AllPermissions() {
		if info.RiskTier >= min {
			out = append(out, info.Name)
		}
	}
	return out
}

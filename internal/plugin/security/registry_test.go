package security

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidPermission(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"note:read", true},
		{"note:write", true},
		{"user:write", true},
		{"storage:write", true},
		{"note:reed", false},
		{"", false},
		{"NOTE:READ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidPermission(tt.name))
		})
	}
}

func TestAllPermissions(t *testing.T) {
	all := AllPermissions()
	require.Len(t, all, len(registry))

	names := make([]string, len(all))
	for i, info := range all {
		names[i] = string(info.Name)
		assert.NotEmpty(t, info.Description, "permission %s has no description", info.Name)
	}
	assert.True(t, sort.StringsAreSorted(names))

	// Mutating the copy must not affect the registry.
	all[0].Description = "changed"
	desc, ok := DescriptionOf(all[0].Name)
	require.True(t, ok)
	assert.NotEqual(t, "changed", desc)
}

func TestRiskTierOf(t *testing.T) {
	tier, ok := RiskTierOf(PermNoteModerate)
	require.True(t, ok)
	assert.Equal(t, RiskCritical, tier)
	assert.Equal(t, "critical", tier.String())

	tier, ok = RiskTierOf(PermNoteRead)
	require.True(t, ok)
	assert.Equal(t, RiskLow, tier)

	_, ok = RiskTierOf("nope")
	assert.False(t, ok)
}

func TestPermissionsAtOrAbove(t *testing.T) {
	high := PermissionsAtOrAbove(RiskHigh)
	assert.ElementsMatch(t, []Permission{PermUserWrite, PermNoteModerate}, high)
}

func TestGrant(t *testing.T) {
	g := NewGrant("p1", PermNoteRead, PermLogWrite, "bogus")
	assert.Equal(t, "p1", g.PluginID())
	assert.True(t, g.Has(PermNoteRead))
	assert.False(t, g.Has("bogus"))
	assert.Equal(t, []Permission{PermLogWrite, PermNoteRead}, g.Permissions())

	var empty *Grant
	assert.False(t, empty.Has(PermNoteRead))
	assert.Zero(t, empty.Len())
}

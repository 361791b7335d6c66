package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		matcher string
		want    bool
	}{
		{"wildcard matches anyone", "anon123", "*", true},
		{"exact token", "anon123", "anon123", true},
		{"exact email", "alice@co.com", "alice@co.com", true},
		{"domain matcher matches email", "alice@co.com", "co.com", true},
		{"domain matcher other domain", "bob@other.com", "co.com", false},
		{"domain matcher anonymous token", "anon123", "co.com", false},
		{"unrelated token", "anon123", "anon456", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.token, tt.matcher))
		})
	}
}

func TestEffectiveRole(t *testing.T) {
	table := PermissionTable{
		"*":            RoleNone,
		"co.com":       RoleGuest,
		"alice@co.com": RoleCreator,
	}

	assert.Equal(t, RoleCreator, EffectiveRole("alice@co.com", table))
	assert.Equal(t, RoleGuest, EffectiveRole("bob@co.com", table))
	assert.Equal(t, RoleNone, EffectiveRole("bob@other.com", table))
}

func TestEffectiveRole_EmptyTable(t *testing.T) {
	assert.Equal(t, RoleNone, EffectiveRole("anyone", PermissionTable{}))
}

func TestIsPermitted(t *testing.T) {
	assert.True(t, IsPermitted(RoleCreator, RoleEditor, "", nil))
	assert.True(t, IsPermitted(RoleEditor, RoleEditor, "", nil))
	assert.False(t, IsPermitted(RoleGuest, RoleEditor, "", nil))
	assert.False(t, IsPermitted(RoleNone, RoleGuest, "", nil))

	// A slide grant upgrades a guest to editor access, but only when the
	// required minimum is editor.
	grants := []string{"guesttoken"}
	assert.True(t, IsPermitted(RoleGuest, RoleEditor, "guesttoken", grants))
	assert.False(t, IsPermitted(RoleGuest, RoleEditor, "othertoken", grants))
	assert.False(t, IsPermitted(RoleGuest, RoleCreator, "guesttoken", grants))
}

func TestDefaultPermissions(t *testing.T) {
	t.Run("organisation email shares guest access with the domain", func(t *testing.T) {
		table := DefaultPermissions("alice@co.com")
		assert.Equal(t, RoleNone, table["*"])
		assert.Equal(t, RoleCreator, table["alice@co.com"])
		assert.Equal(t, RoleGuest, table["co.com"])
	})

	t.Run("public provider email grants no domain access", func(t *testing.T) {
		table := DefaultPermissions("bob@gmail.com")
		assert.Equal(t, RoleGuest, table["*"])
		assert.Equal(t, RoleCreator, table["bob@gmail.com"])
		_, hasDomain := table["gmail.com"]
		assert.False(t, hasDomain)
	})

	t.Run("anonymous token opens the board to editors", func(t *testing.T) {
		table := DefaultPermissions("anon123")
		assert.Equal(t, RoleEditor, table["*"])
		assert.Equal(t, RoleCreator, table["anon123"])
	})
}

func TestRoleOrderingAndString(t *testing.T) {
	assert.True(t, RoleCreator.AtLeast(RoleEditor))
	assert.True(t, RoleEditor.AtLeast(RoleEditor))
	assert.False(t, RoleGuest.AtLeast(RoleEditor))
	assert.Equal(t, "creator", RoleCreator.String())
	assert.Equal(t, "none", RoleNone.String())
}

func TestPermissionTableClone(t *testing.T) {
	table := PermissionTable{"*": RoleGuest}
	clone := table.Clone()
	clone["*"] = RoleNone
	assert.Equal(t, RoleGuest, table["*"])
}

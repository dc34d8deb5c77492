package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoleLabel(t *testing.T) {
	assert.Equal(t, "Hero Plate", NewRole("hero_plate").Label)
	assert.Equal(t, "Matte", NewRole("matte").Label)
}

func TestResolvePath(t *testing.T) {
	role := NewRole("comp")
	role.PathTemplate = "/proj/{project}/{shot}/comp/v{version:04d}/{shot}_comp.exr"

	path, err := role.ResolvePath(map[string]any{
		"project": "mars",
		"shot":    "sh010",
		"version": 7,
	})
	require.NoError(t, err)
	assert.Equal(t, "/proj/mars/sh010/comp/v0007/sh010_comp.exr", path)
}

func TestResolvePathMissingToken(t *testing.T) {
	role := NewRole("comp")
	role.PathTemplate = "/proj/{project}/{shot}"
	_, err := role.ResolvePath(map[string]any{"project": "mars"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shot")
}

func TestResolvePathEmptyTemplate(t *testing.T) {
	path, err := NewRole("comp").ResolvePath(nil)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestRoleAlias(t *testing.T) {
	role := NewRole("primary")
	role.Aliases["flame"] = "L01"
	assert.Equal(t, "L01", role.Alias("flame"))
	assert.Equal(t, "primary", role.Alias("nuke"))
}

func TestStandardRoles(t *testing.T) {
	roles := StandardRoles()
	require.Len(t, roles, 13)

	byName := map[string]*Role{}
	for _, r := range roles {
		byName[r.Name] = r
	}

	require.Contains(t, byName, "primary")
	assert.Equal(t, "L01", byName["primary"].Aliases["flame"])
	assert.Equal(t, "track", byName["primary"].Aliases["role_class"])
	assert.Equal(t, 0, byName["primary"].Order)

	require.Contains(t, byName, "raw")
	assert.Equal(t, "media", byName["raw"].Aliases["role_class"])
	assert.Equal(t, "0", byName["raw"].Aliases["generation_floor"])

	// Fresh values each call so registry label edits don't leak back.
	first := StandardRoles()[0]
	first.Label = "mutated"
	assert.NotEqual(t, "mutated", StandardRoles()[0].Label)
}

func TestRoleClone(t *testing.T) {
	role := NewRole("primary")
	role.Aliases["flame"] = "L01"
	clone := role.Clone()
	clone.Aliases["flame"] = "L99"
	assert.Equal(t, "L01", role.Aliases["flame"])
}

package registry

import "github.com/google/uuid"

// Well-known UUIDs. These are permanent so entities serialized by one
// server version resolve on every other. Do not change them.

// SystemRelTypeKeys are the built-in relationship type keys.
//
// consumes/produces form the process graph: a Version consumes media
// as input and produces media as output. consumes edges carry
// track_role and layer_index attributes when relevant.
var SystemRelTypeKeys = map[string]uuid.UUID{
	"member_of":    uuid.MustParse("00000000-0000-0000-0000-000000000001"),
	"version_of":   uuid.MustParse("00000000-0000-0000-0000-000000000002"),
	"derived_from": uuid.MustParse("00000000-0000-0000-0000-000000000003"),
	"references":   uuid.MustParse("00000000-0000-0000-0000-000000000004"),
	"peer_of":      uuid.MustParse("00000000-0000-0000-0000-000000000005"),
	"consumes":     uuid.MustParse("00000000-0000-0000-0000-000000000006"),
	"produces":     uuid.MustParse("00000000-0000-0000-0000-000000000007"),
}

// StandardRoleKeys are the keys for the built-in track roles.
var StandardRoleKeys = map[string]uuid.UUID{
	"primary":    uuid.MustParse("10000000-0000-0000-0000-000000000001"),
	"reference":  uuid.MustParse("10000000-0000-0000-0000-000000000002"),
	"matte":      uuid.MustParse("10000000-0000-0000-0000-000000000003"),
	"background": uuid.MustParse("10000000-0000-0000-0000-000000000004"),
	"foreground": uuid.MustParse("10000000-0000-0000-0000-000000000005"),
	"color":      uuid.MustParse("10000000-0000-0000-0000-000000000006"),
	"audio":      uuid.MustParse("10000000-0000-0000-0000-000000000007"),
}

// MediaRoleKeys are the keys for the built-in media lineage roles.
var MediaRoleKeys = map[string]uuid.UUID{
	"raw":     uuid.MustParse("00000000-0000-0000-0010-000000000001"),
	"grade":   uuid.MustParse("00000000-0000-0000-0010-000000000002"),
	"denoise": uuid.MustParse("00000000-0000-0000-0010-000000000003"),
	"prep":    uuid.MustParse("00000000-0000-0000-0010-000000000004"),
	"roto":    uuid.MustParse("00000000-0000-0000-0010-000000000005"),
	"comp":    uuid.MustParse("00000000-0000-0000-0010-000000000006"),
}

// RoleKeyFor returns the well-known key for a built-in role name, or
// uuid.Nil if the name is not a built-in.
func RoleKeyFor(name string) uuid.UUID {
	if k, ok := StandardRoleKeys[name]; ok {
		return k
	}
	if k, ok := MediaRoleKeys[name]; ok {
		return k
	}
	return uuid.Nil
}

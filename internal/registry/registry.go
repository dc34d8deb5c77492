// Package registry implements the rename-safe vocabulary registry.
//
// Three distinct identifiers per entry:
//
//	name  is the canonical string a pipeline uses in code and config
//	key   is a UUID, the only identifier stored inside entities and
//	        relationships; never changes, even across renames
//	label is the display string shown in UIs; freely mutable
//
// The registry tracks every holder of a key and blocks deletes that
// would orphan them, unless the delete migrates references to another
// entry first. Built-in entries are protected: renameable, never
// deletable.
package registry

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/forgeworks/forge-bridge/internal/vocab"
)

type builtinRelType struct {
	name           string
	label          string
	description    string
	directionality string
}

var builtinRelTypes = []builtinRelType{
	{"member_of", "member of", "Entity belongs to a collection", "→"},
	{"version_of", "version of", "Entity is an iteration of another", "→"},
	{"derived_from", "derived from", "Entity was produced from another", "→"},
	{"references", "references", "Entity uses another without ownership", "→"},
	{"peer_of", "peer of", "Entities related at the same level", "↔"},
	{"consumes", "consumes", "Version took this media as input. Edge attributes carry track_role and layer_index when relevant.", "→"},
	{"produces", "produces", "Version created this media as output.", "→"},
}

// Registry is the single vocabulary registry for a bridge server.
type Registry struct {
	Roles    *RoleRegistry
	RelTypes *RelTypeRegistry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		Roles:    NewRoleRegistry(),
		RelTypes: NewRelTypeRegistry(),
	}
}

// Default returns a registry seeded with the standard roles and
// built-in relationship types under their well-known keys.
func Default() *Registry {
	r := New()
	r.seed()
	return r
}

func (r *Registry) seed() {
	for _, role := range vocab.StandardRoles() {
		key := RoleKeyFor(role.Name)
		// Standard roles always have well-known keys; a zero key here
		// would mean the tables above drifted apart.
		if key == uuid.Nil {
			key = uuid.New()
		}
		_, _ = r.Roles.Register(role.Name, RoleSpec{Role: role, Key: key, Protected: true})
	}
	for _, bt := range builtinRelTypes {
		_, _ = r.RelTypes.Register(bt.name, RelTypeSpec{
			Label:          bt.label,
			Description:    bt.description,
			Directionality: bt.directionality,
			Key:            SystemRelTypeKeys[bt.name],
			Protected:      true,
		})
	}
}

// Summary serializes the registry state. The result round-trips
// through FromSummary with all custom entries and renames intact; ref
// counts are included for inspection but not restored.
func (r *Registry) Summary() map[string]any {
	roles := map[string]any{}
	for _, name := range r.Roles.Names() {
		def, err := r.Roles.ByName(name)
		if err != nil {
			continue
		}
		refCount, _ := r.Roles.RefCount(name)
		roles[name] = map[string]any{
			"key":           def.Key.String(),
			"label":         def.Role.Label,
			"order":         def.Role.Order,
			"path_template": def.Role.PathTemplate,
			"aliases":       def.Role.Aliases,
			"protected":     def.Protected,
			"ref_count":     refCount,
		}
	}

	relTypes := map[string]any{}
	for _, name := range r.RelTypes.Names() {
		def, err := r.RelTypes.ByName(name)
		if err != nil {
			continue
		}
		refCount, _ := r.RelTypes.RefCount(name)
		relTypes[name] = map[string]any{
			"key":            def.Key.String(),
			"label":          def.Label,
			"description":    def.Description,
			"directionality": def.Directionality,
			"protected":      def.Protected,
			"ref_count":      refCount,
		}
	}

	return map[string]any{
		"roles":              roles,
		"relationship_types": relTypes,
	}
}

// FromSummary restores a registry from a Summary. Entries are matched
// by key, so renamed built-ins ("primary" renamed to "hero") restore
// correctly.
func FromSummary(data map[string]any) (*Registry, error) {
	r := New()

	if roles, ok := data["roles"].(map[string]any); ok {
		for name, raw := range roles {
			info, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("role %q: malformed summary entry", name)
			}
			key, err := uuid.Parse(str(info["key"]))
			if err != nil {
				return nil, fmt.Errorf("role %q: %w", name, err)
			}
			_, err = r.Roles.Register(name, RoleSpec{
				Label:        str(info["label"]),
				Order:        intval(info["order"]),
				PathTemplate: str(info["path_template"]),
				Aliases:      strmap(info["aliases"]),
				Key:          key,
				Protected:    boolval(info["protected"]),
			})
			if err != nil {
				return nil, fmt.Errorf("role %q: %w", name, err)
			}
		}
	}

	if relTypes, ok := data["relationship_types"].(map[string]any); ok {
		for name, raw := range relTypes {
			info, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("relationship type %q: malformed summary entry", name)
			}
			key, err := uuid.Parse(str(info["key"]))
			if err != nil {
				return nil, fmt.Errorf("relationship type %q: %w", name, err)
			}
			_, err = r.RelTypes.Register(name, RelTypeSpec{
				Label:          str(info["label"]),
				Description:    str(info["description"]),
				Directionality: str(info["directionality"]),
				Key:            key,
				Protected:      boolval(info["protected"]),
			})
			if err != nil {
				return nil, fmt.Errorf("relationship type %q: %w", name, err)
			}
		}
	}

	return r, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func intval(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func boolval(v any) bool {
	b, _ := v.(bool)
	return b
}

func strmap(v any) map[string]string {
	out := map[string]string{}
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		for k, val := range m {
			out[k] = str(val)
		}
	}
	return out
}

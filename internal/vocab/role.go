package vocab

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Role is a named function a layer or media entity fulfills. What
// Flame calls "L01", ShotGrid calls "primary", and a Maya pipeline
// calls "hero" are the same role; the aliases map holds the
// translations. Roles also carry a path template describing where
// media for the role lives on disk.
type Role struct {
	Name         string
	Label        string
	PathTemplate string
	Order        int
	Aliases      map[string]string
	Metadata     map[string]any
}

// NewRole builds a role with a title-cased default label.
func NewRole(name string) *Role {
	return &Role{
		Name:     name,
		Label:    titleize(name),
		Aliases:  map[string]string{},
		Metadata: map[string]any{},
	}
}

func titleize(name string) string {
	words := strings.Split(strings.ReplaceAll(name, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

var pathTokenRE = regexp.MustCompile(`\{(\w+)(?::([^}]*))?\}`)

// ResolvePath substitutes {token} placeholders in the path template.
// A spec suffix like {version:04d} zero-pads numeric values.
func (r *Role) ResolvePath(tokens map[string]any) (string, error) {
	if r.PathTemplate == "" {
		return "", nil
	}
	var missing []string
	out := pathTokenRE.ReplaceAllStringFunc(r.PathTemplate, func(m string) string {
		groups := pathTokenRE.FindStringSubmatch(m)
		name, spec := groups[1], groups[2]
		value, ok := tokens[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return formatToken(value, spec)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing token %q for role path template %q", missing[0], r.PathTemplate)
	}
	return out, nil
}

func formatToken(value any, spec string) string {
	if strings.HasSuffix(spec, "d") {
		width := strings.TrimSuffix(strings.TrimPrefix(spec, "0"), "d")
		n, ok := asInt(value)
		if ok {
			if w, err := strconv.Atoi(width); err == nil && strings.HasPrefix(spec, "0") {
				return fmt.Sprintf("%0*d", w, n)
			}
			return strconv.Itoa(n)
		}
	}
	return fmt.Sprint(value)
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

// Alias returns the name this role is known by in a specific endpoint,
// falling back to the canonical name.
func (r *Role) Alias(endpoint string) string {
	if alias, ok := r.Aliases[endpoint]; ok {
		return alias
	}
	return r.Name
}

// ToMap returns the wire representation.
func (r *Role) ToMap() map[string]any {
	return map[string]any{
		"name":          r.Name,
		"label":         r.Label,
		"path_template": r.PathTemplate,
		"order":         r.Order,
		"aliases":       r.Aliases,
		"metadata":      r.Metadata,
	}
}

// Clone returns a deep copy so registry restores never share maps.
func (r *Role) Clone() *Role {
	out := *r
	out.Aliases = make(map[string]string, len(r.Aliases))
	for k, v := range r.Aliases {
		out.Aliases[k] = v
	}
	out.Metadata = make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// Standard roles come in two classes.
//
// track: compositional function within a shot's comp stack. Carried on
// consumes edges, not on the media entity. L01/L02/L03 are Flame's
// slot indices for the first three.
//
// media: the pipeline stage that produced the media atom. Travels with
// the media entity. raw is generation 0; everything else is 1+.

type standardRole struct {
	name    string
	order   int
	aliases map[string]string
}

var standardRoles = []standardRole{
	{"primary", 0, map[string]string{"flame": "L01", "role_class": "track"}},
	{"reference", 1, map[string]string{"flame": "L02", "role_class": "track"}},
	{"matte", 2, map[string]string{"flame": "L03", "role_class": "track"}},
	{"background", 3, map[string]string{"role_class": "track"}},
	{"foreground", 4, map[string]string{"role_class": "track"}},
	{"color", 5, map[string]string{"role_class": "track"}},
	{"audio", 6, map[string]string{"role_class": "track"}},

	{"raw", 10, map[string]string{"role_class": "media", "generation_floor": "0"}},
	{"grade", 11, map[string]string{"role_class": "media", "generation_floor": "1"}},
	{"denoise", 12, map[string]string{"role_class": "media", "generation_floor": "1"}},
	{"prep", 13, map[string]string{"role_class": "media", "generation_floor": "1"}},
	{"roto", 14, map[string]string{"role_class": "media", "generation_floor": "1"}},
	{"comp", 15, map[string]string{"role_class": "media", "generation_floor": "1"}},
}

// StandardRoles builds fresh Role values for the built-in set, in
// stack order. Fresh values because registries mutate labels in place.
func StandardRoles() []*Role {
	out := make([]*Role, 0, len(standardRoles))
	for _, s := range standardRoles {
		role := NewRole(s.name)
		role.Order = s.order
		for k, v := range s.aliases {
			role.Aliases[k] = v
		}
		out = append(out, role)
	}
	return out
}

package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// RelTypeDef is a relationship type definition.
type RelTypeDef struct {
	Key            uuid.UUID
	Name           string
	Label          string
	Description    string
	Directionality string // "→" "←" "↔"
	Protected      bool
}

// RelTypeSpec carries the optional fields for Register.
type RelTypeSpec struct {
	Label          string
	Description    string
	Directionality string
	Key            uuid.UUID
	Protected      bool
}

// Edge identifies one relationship instance by its endpoints.
type Edge struct {
	Source uuid.UUID
	Target uuid.UUID
}

// EdgeMigration records one edge reassigned by a delete-with-migrate.
type EdgeMigration struct {
	Edge   Edge
	OldKey uuid.UUID
	NewKey uuid.UUID
}

type relTypeEntry struct {
	def  *RelTypeDef
	refs map[Edge]struct{}
}

// RelTypeRegistry manages relationship types. Built-in types
// (member_of, version_of, consumes, ...) are protected: renameable but
// never deletable. Custom types have the full orphan-protected
// lifecycle. Unlike roles, usage is tracked per (source, target) edge
// so the registry knows exactly which relationships use a type.
type RelTypeRegistry struct {
	mu        sync.RWMutex
	byKey     map[uuid.UUID]*relTypeEntry
	byName    map[string]uuid.UUID
	onMigrate []func(EdgeMigration)
}

// NewRelTypeRegistry returns an empty relationship type registry.
func NewRelTypeRegistry() *RelTypeRegistry {
	return &RelTypeRegistry{
		byKey:  map[uuid.UUID]*relTypeEntry{},
		byName: map[string]uuid.UUID{},
	}
}

// Register adds a new relationship type under name.
func (r *RelTypeRegistry) Register(name string, spec RelTypeSpec) (*RelTypeDef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, &DuplicateError{What: "relationship type " + name}
	}
	key := spec.Key
	if key == uuid.Nil {
		key = uuid.New()
	}
	if _, exists := r.byKey[key]; exists {
		return nil, &DuplicateError{What: "relationship type key " + key.String()}
	}

	label := spec.Label
	if label == "" {
		label = strings.ReplaceAll(name, "_", " ")
	}
	directionality := spec.Directionality
	if directionality == "" {
		directionality = "→"
	}

	def := &RelTypeDef{
		Key:            key,
		Name:           name,
		Label:          label,
		Description:    spec.Description,
		Directionality: directionality,
		Protected:      spec.Protected,
	}
	r.byKey[key] = &relTypeEntry{def: def, refs: map[Edge]struct{}{}}
	r.byName[name] = key
	return def, nil
}

// Key returns the UUID key for a name.
func (r *RelTypeRegistry) Key(name string) (uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byName[name]
	if !ok {
		return uuid.Nil, &UnknownNameError{Name: name, Registry: "relationship type"}
	}
	return key, nil
}

// ByKey returns the definition for a UUID key.
func (r *RelTypeRegistry) ByKey(key uuid.UUID) (*RelTypeDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byKey[key]
	if !ok {
		return nil, &UnknownKeyError{Key: key, Registry: "relationship type"}
	}
	return entry.def, nil
}

// ByName returns the definition for a name.
func (r *RelTypeRegistry) ByName(name string) (*RelTypeDef, error) {
	key, err := r.Key(name)
	if err != nil {
		return nil, err
	}
	return r.ByKey(key)
}

// Has reports whether name is registered.
func (r *RelTypeRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Names returns all registered names, sorted.
func (r *RelTypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenameLabel changes only the display label.
func (r *RelTypeRegistry) RenameLabel(name, newLabel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byName[name]
	if !ok {
		return &UnknownNameError{Name: name, Registry: "relationship type"}
	}
	r.byKey[key].def.Label = newLabel
	return nil
}

// Rename changes the canonical name. Key unchanged, no edges touched.
func (r *RelTypeRegistry) Rename(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byName[oldName]
	if !ok {
		return &UnknownNameError{Name: oldName, Registry: "relationship type"}
	}
	if _, taken := r.byName[newName]; taken {
		return &DuplicateError{What: "relationship type " + newName}
	}
	delete(r.byName, oldName)
	r.byKey[key].def.Name = newName
	r.byName[newName] = key
	return nil
}

// Delete removes a custom relationship type, migrating edges to
// migrateTo when given. Same contract as RoleRegistry.Delete.
func (r *RelTypeRegistry) Delete(name, migrateTo string) (int, []EdgeMigration, error) {
	r.mu.Lock()
	key, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return 0, nil, &UnknownNameError{Name: name, Registry: "relationship type"}
	}
	entry := r.byKey[key]
	if entry.def.Protected {
		r.mu.Unlock()
		return 0, nil, &ProtectedError{Name: name}
	}

	var migrations []EdgeMigration
	if len(entry.refs) > 0 {
		if migrateTo == "" {
			holders := make([]string, 0, len(entry.refs))
			for edge := range entry.refs {
				holders = append(holders, edge.Source.String()+"→"+edge.Target.String())
			}
			sort.Strings(holders)
			r.mu.Unlock()
			return 0, nil, &OrphanError{Name: name, RefCount: len(entry.refs), Holders: holders}
		}
		targetKey, ok := r.byName[migrateTo]
		if !ok {
			r.mu.Unlock()
			return 0, nil, &UnknownNameError{Name: migrateTo, Registry: "relationship type"}
		}
		target := r.byKey[targetKey]
		for edge := range entry.refs {
			target.refs[edge] = struct{}{}
			migrations = append(migrations, EdgeMigration{Edge: edge, OldKey: key, NewKey: targetKey})
		}
	}

	delete(r.byKey, key)
	delete(r.byName, name)
	callbacks := append([]func(EdgeMigration){}, r.onMigrate...)
	r.mu.Unlock()

	for _, m := range migrations {
		for _, cb := range callbacks {
			cb(m)
		}
	}
	return len(migrations), migrations, nil
}

// RegisterUsage records that the edge (source → target) uses key.
// Unknown keys are ignored so graph loading never fails on stale data.
func (r *RelTypeRegistry) RegisterUsage(key, source, target uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byKey[key]; ok {
		entry.refs[Edge{Source: source, Target: target}] = struct{}{}
	}
}

// UnregisterUsage removes an edge's reference to key.
func (r *RelTypeRegistry) UnregisterUsage(key, source, target uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byKey[key]; ok {
		delete(entry.refs, Edge{Source: source, Target: target})
	}
}

// RefCount returns the live edge count for a name.
func (r *RelTypeRegistry) RefCount(name string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byName[name]
	if !ok {
		return 0, &UnknownNameError{Name: name, Registry: "relationship type"}
	}
	return len(r.byKey[key].refs), nil
}

// OnMigration registers a callback fired once per reassigned edge when
// a delete migrates references.
func (r *RelTypeRegistry) OnMigration(fn func(EdgeMigration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMigrate = append(r.onMigrate, fn)
}

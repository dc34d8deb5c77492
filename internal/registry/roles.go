package registry

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/forgeworks/forge-bridge/internal/vocab"
)

// RoleDefinition is a role as stored in the registry: the vocab.Role
// display/config surface plus the stable UUID key.
type RoleDefinition struct {
	Key       uuid.UUID
	Role      *vocab.Role
	Protected bool
}

// Name returns the current canonical name.
func (d *RoleDefinition) Name() string { return d.Role.Name }

// Label returns the current display label.
func (d *RoleDefinition) Label() string { return d.Role.Label }

// RoleSpec carries the optional fields for Register.
type RoleSpec struct {
	Label        string
	Order        int
	PathTemplate string
	Aliases      map[string]string

	// Key pins an explicit UUID. Built-in roles use fixed keys so they
	// survive upgrades; leave zero to generate one.
	Key       uuid.UUID
	Protected bool

	// Role supplies a pre-built vocab.Role, overriding the fields above.
	Role *vocab.Role
}

// RoleUpdate carries the mutable fields for Update. Nil means leave
// unchanged; Aliases merge into the existing map.
type RoleUpdate struct {
	Label        *string
	Order        *int
	PathTemplate *string
	Aliases      map[string]string
}

// Migration records one holder reassigned by a delete-with-migrate.
type Migration struct {
	Holder uuid.UUID
	OldKey uuid.UUID
	NewKey uuid.UUID
}

type roleEntry struct {
	key       uuid.UUID
	name      string
	role      *vocab.Role
	protected bool
	refs      map[uuid.UUID]string // holder id → label for error messages
}

// RoleRegistry manages roles. Three distinct identifiers per entry:
//
//	name  is the canonical string used in code and config; mutable via Rename
//	key   is the stable UUID stored inside entities; never changes
//	label is the display string; freely mutable
//
// The registry tracks every entity holding a key. A key cannot be
// deleted while referenced unless the delete migrates the references
// to another role first. Protected entries cannot be deleted at all.
type RoleRegistry struct {
	mu        sync.RWMutex
	byKey     map[uuid.UUID]*roleEntry
	byName    map[string]uuid.UUID
	onMigrate []func(Migration)
}

// NewRoleRegistry returns an empty role registry.
func NewRoleRegistry() *RoleRegistry {
	return &RoleRegistry{
		byKey:  map[uuid.UUID]*roleEntry{},
		byName: map[string]uuid.UUID{},
	}
}

// Register adds a new role under name.
func (r *RoleRegistry) Register(name string, spec RoleSpec) (*RoleDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, &DuplicateError{What: "role name " + name}
	}

	role := spec.Role
	if role == nil {
		role = vocab.NewRole(name)
		if spec.Label != "" {
			role.Label = spec.Label
		}
		role.Order = spec.Order
		role.PathTemplate = spec.PathTemplate
		for k, v := range spec.Aliases {
			role.Aliases[k] = v
		}
	} else {
		role.Name = name
	}

	key := spec.Key
	if key == uuid.Nil {
		key = uuid.New()
	}
	if _, exists := r.byKey[key]; exists {
		return nil, &DuplicateError{What: "role key " + key.String()}
	}

	entry := &roleEntry{
		key:       key,
		name:      name,
		role:      role,
		protected: spec.Protected,
		refs:      map[uuid.UUID]string{},
	}
	r.byKey[key] = entry
	r.byName[name] = key
	return &RoleDefinition{Key: key, Role: role, Protected: spec.Protected}, nil
}

// Key returns the UUID key for a name.
func (r *RoleRegistry) Key(name string) (uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byName[name]
	if !ok {
		return uuid.Nil, &UnknownNameError{Name: name, Registry: "role"}
	}
	return key, nil
}

// ByKey returns the definition for a UUID key.
func (r *RoleRegistry) ByKey(key uuid.UUID) (*RoleDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byKey[key]
	if !ok {
		return nil, &UnknownKeyError{Key: key, Registry: "role"}
	}
	return &RoleDefinition{Key: entry.key, Role: entry.role, Protected: entry.protected}, nil
}

// ByName returns the definition for a name.
func (r *RoleRegistry) ByName(name string) (*RoleDefinition, error) {
	key, err := r.Key(name)
	if err != nil {
		return nil, err
	}
	return r.ByKey(key)
}

// Has reports whether name is registered.
func (r *RoleRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Names returns all registered names sorted by stack order, then name.
func (r *RoleRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*roleEntry, 0, len(r.byKey))
	for _, e := range r.byKey {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].role.Order != entries[j].role.Order {
			return entries[i].role.Order < entries[j].role.Order
		}
		return entries[i].name < entries[j].name
	})
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// RenameLabel changes only the display label. Name and key unchanged,
// live lookups see the new label immediately.
func (r *RoleRegistry) RenameLabel(name, newLabel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byName[name]
	if !ok {
		return &UnknownNameError{Name: name, Registry: "role"}
	}
	r.byKey[key].role.Label = newLabel
	return nil
}

// Rename changes the canonical name. The key is unchanged, so entities
// storing it are unaffected; only the name → key lookup moves.
func (r *RoleRegistry) Rename(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byName[oldName]
	if !ok {
		return &UnknownNameError{Name: oldName, Registry: "role"}
	}
	if _, taken := r.byName[newName]; taken {
		return &DuplicateError{What: "role name " + newName}
	}
	delete(r.byName, oldName)
	entry := r.byKey[key]
	entry.name = newName
	entry.role.Name = newName
	r.byName[newName] = key
	return nil
}

// Update mutates role attributes in place.
func (r *RoleRegistry) Update(name string, upd RoleUpdate) (*RoleDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byName[name]
	if !ok {
		return nil, &UnknownNameError{Name: name, Registry: "role"}
	}
	entry := r.byKey[key]
	if upd.Label != nil {
		entry.role.Label = *upd.Label
	}
	if upd.Order != nil {
		entry.role.Order = *upd.Order
	}
	if upd.PathTemplate != nil {
		entry.role.PathTemplate = *upd.PathTemplate
	}
	for k, v := range upd.Aliases {
		entry.role.Aliases[k] = v
	}
	return &RoleDefinition{Key: entry.key, Role: entry.role, Protected: entry.protected}, nil
}

// Restore overwrites a role's mutable fields from a previously cloned
// value, undoing an Update whose persistence failed. The name and key
// are untouched.
func (r *RoleRegistry) Restore(name string, role *vocab.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byName[name]
	if !ok {
		return &UnknownNameError{Name: name, Registry: "role"}
	}
	entry := r.byKey[key]
	restored := role.Clone()
	restored.Name = entry.name
	entry.role = restored
	return nil
}

// Delete removes a role.
//
// With live references and a migrateTo name, every reference is
// reassigned first and the migrations are reported. With references
// and no migrateTo it fails with OrphanError. Protected entries always
// fail with ProtectedError.
func (r *RoleRegistry) Delete(name, migrateTo string) (int, []Migration, error) {
	r.mu.Lock()
	key, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return 0, nil, &UnknownNameError{Name: name, Registry: "role"}
	}
	entry := r.byKey[key]
	if entry.protected {
		r.mu.Unlock()
		return 0, nil, &ProtectedError{Name: name}
	}

	var migrations []Migration
	if len(entry.refs) > 0 {
		if migrateTo == "" {
			holders := make([]string, 0, len(entry.refs))
			for id := range entry.refs {
				holders = append(holders, id.String())
			}
			sort.Strings(holders)
			r.mu.Unlock()
			return 0, nil, &OrphanError{Name: name, RefCount: len(entry.refs), Holders: holders}
		}
		targetKey, ok := r.byName[migrateTo]
		if !ok {
			r.mu.Unlock()
			return 0, nil, &UnknownNameError{Name: migrateTo, Registry: "role"}
		}
		target := r.byKey[targetKey]
		for holder, label := range entry.refs {
			target.refs[holder] = label
			migrations = append(migrations, Migration{Holder: holder, OldKey: key, NewKey: targetKey})
		}
	}

	delete(r.byKey, key)
	delete(r.byName, name)
	callbacks := append([]func(Migration){}, r.onMigrate...)
	r.mu.Unlock()

	for _, m := range migrations {
		for _, cb := range callbacks {
			cb(m)
		}
	}
	return len(migrations), migrations, nil
}

// RegisterUsage records that holder now references key.
func (r *RoleRegistry) RegisterUsage(key, holder uuid.UUID, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byKey[key]
	if !ok {
		return &UnknownKeyError{Key: key, Registry: "role"}
	}
	if label == "" {
		label = "entity"
	}
	entry.refs[holder] = label
	return nil
}

// UnregisterUsage removes holder's reference. Safe to call when the
// key no longer exists.
func (r *RoleRegistry) UnregisterUsage(key, holder uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byKey[key]; ok {
		delete(entry.refs, holder)
	}
}

// RefCount returns the live reference count for a name.
func (r *RoleRegistry) RefCount(name string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byName[name]
	if !ok {
		return 0, &UnknownNameError{Name: name, Registry: "role"}
	}
	return len(r.byKey[key].refs), nil
}

// WhoReferences returns the holder IDs currently referencing a name.
func (r *RoleRegistry) WhoReferences(name string) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byName[name]
	if !ok {
		return nil, &UnknownNameError{Name: name, Registry: "role"}
	}
	ids := make([]uuid.UUID, 0, len(r.byKey[key].refs))
	for id := range r.byKey[key].refs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// OnMigration registers a callback fired once per reassigned holder
// when a delete migrates references.
func (r *RoleRegistry) OnMigration(fn func(Migration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMigrate = append(r.onMigrate, fn)
}

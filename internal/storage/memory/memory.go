// Package memory implements the storage interface on process-local
// maps. It backs tests and scratch servers started without a database
// URL. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/forge-bridge/internal/registry"
	"github.com/forgeworks/forge-bridge/internal/storage"
	"github.com/forgeworks/forge-bridge/internal/types"
)

type edgeKey struct {
	source  uuid.UUID
	target  uuid.UUID
	relType uuid.UUID
}

// Store is an in-memory storage.Store.
//
// RunInTransaction holds the store lock for the duration of fn and
// applies mutations directly. There is no rollback; a failing fn may
// leave earlier mutations applied. The server's handlers revert their
// in-memory registry state on error, and the backends that need real
// atomicity use postgres.
type Store struct {
	mu            sync.Mutex
	projects      map[uuid.UUID]*types.Project
	entities      map[uuid.UUID]*types.Entity
	relationships map[edgeKey]types.Relationship
	roles         map[uuid.UUID]registry.RoleDefinition
	relTypes      map[uuid.UUID]registry.RelTypeDef
	events        []*types.Event
	seq           int64
	sessions      map[uuid.UUID]*types.Session
}

var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*memTx)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		projects:      map[uuid.UUID]*types.Project{},
		entities:      map[uuid.UUID]*types.Entity{},
		relationships: map[edgeKey]types.Relationship{},
		roles:         map[uuid.UUID]registry.RoleDefinition{},
		relTypes:      map[uuid.UUID]registry.RelTypeDef{},
		sessions:      map[uuid.UUID]*types.Session{},
	}
}

func (s *Store) Close() error { return nil }

// EnsureSchema seeds the protected registry entries.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defaults := registry.Default()
	for _, name := range defaults.Roles.Names() {
		def, err := defaults.Roles.ByName(name)
		if err != nil {
			return err
		}
		if _, exists := s.roles[def.Key]; !exists {
			s.roles[def.Key] = *def
		}
	}
	for _, name := range defaults.RelTypes.Names() {
		def, err := defaults.RelTypes.ByName(name)
		if err != nil {
			return err
		}
		if _, exists := s.relTypes[def.Key]; !exists {
			s.relTypes[def.Key] = *def
		}
	}
	return nil
}

func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{s: s})
}

// Projects

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneProject(p), nil
}

func (s *Store) GetProjectByCode(ctx context.Context, code string) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.Code == code {
			return cloneProject(p), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	projects := make([]*types.Project, 0, len(s.projects))
	for _, p := range s.projects {
		projects = append(projects, cloneProject(p))
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// Entities

func (s *Store) GetEntity(ctx context.Context, id uuid.UUID) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneEntity(e), nil
}

func (s *Store) ListEntities(ctx context.Context, entityType types.EntityType, projectID *uuid.UUID) ([]*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entities []*types.Entity
	for _, e := range s.entities {
		if e.Type != entityType {
			continue
		}
		if projectID != nil && (e.ProjectID == nil || *e.ProjectID != *projectID) {
			continue
		}
		entities = append(entities, cloneEntity(e))
	}
	sortEntities(entities)
	return entities, nil
}

func (s *Store) FindEntitiesByAttributes(ctx context.Context, entityType types.EntityType, filter map[string]any) ([]*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entities []*types.Entity
	for _, e := range s.entities {
		if e.Type != entityType {
			continue
		}
		if !attributesMatch(e.Attributes, filter) {
			continue
		}
		entities = append(entities, cloneEntity(e))
	}
	sortEntities(entities)
	return entities, nil
}

func attributesMatch(attrs, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := attrs[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Graph

func (s *Store) ListRelationships(ctx context.Context) ([]types.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rels := make([]types.Relationship, 0, len(s.relationships))
	for _, rel := range s.relationships {
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].CreatedAt.Before(rels[j].CreatedAt) })
	return rels, nil
}

func (s *Store) Dependents(ctx context.Context, entityID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[uuid.UUID]struct{}{}
	var ids []uuid.UUID
	for key := range s.relationships {
		if key.target != entityID {
			continue
		}
		if _, dup := seen[key.source]; dup {
			continue
		}
		seen[key.source] = struct{}{}
		ids = append(ids, key.source)
	}
	sortUUIDs(ids)
	return ids, nil
}

func (s *Store) Dependencies(ctx context.Context, entityID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[uuid.UUID]struct{}{}
	var ids []uuid.UUID
	for key := range s.relationships {
		if key.source != entityID {
			continue
		}
		if _, dup := seen[key.target]; dup {
			continue
		}
		seen[key.target] = struct{}{}
		ids = append(ids, key.target)
	}
	sortUUIDs(ids)
	return ids, nil
}

// Events

func (s *Store) RecentEvents(ctx context.Context, filter storage.EventFilter) ([]*types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := filter.Clamp()
	events := []*types.Event{}
	for i := len(s.events) - 1; i >= 0 && len(events) < limit; i-- {
		ev := s.events[i]
		if filter.ProjectID != nil && (ev.ProjectID == nil || *ev.ProjectID != *filter.ProjectID) {
			continue
		}
		if filter.EntityID != nil && (ev.EntityID == nil || *ev.EntityID != *filter.EntityID) {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) EventsSince(ctx context.Context, cursor uuid.UUID) ([]*types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursorSeq := int64(-1)
	for _, ev := range s.events {
		if ev.ID == cursor {
			cursorSeq = ev.Seq
			break
		}
	}
	events := []*types.Event{}
	if cursorSeq < 0 {
		return events, nil
	}
	for _, ev := range s.events {
		if ev.Seq > cursorSeq {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Registry

func (s *Store) LoadRegistry(ctx context.Context) (*registry.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := registry.New()

	roleDefs := make([]registry.RoleDefinition, 0, len(s.roles))
	for _, def := range s.roles {
		roleDefs = append(roleDefs, def)
	}
	sort.Slice(roleDefs, func(i, j int) bool {
		if roleDefs[i].Role.Order != roleDefs[j].Role.Order {
			return roleDefs[i].Role.Order < roleDefs[j].Role.Order
		}
		return roleDefs[i].Role.Name < roleDefs[j].Role.Name
	})
	for _, def := range roleDefs {
		_, err := reg.Roles.Register(def.Role.Name, registry.RoleSpec{
			Role:      def.Role.Clone(),
			Key:       def.Key,
			Protected: def.Protected,
		})
		if err != nil {
			return nil, fmt.Errorf("register role %s: %w", def.Role.Name, err)
		}
	}

	for _, def := range s.relTypes {
		_, err := reg.RelTypes.Register(def.Name, registry.RelTypeSpec{
			Label:          def.Label,
			Description:    def.Description,
			Directionality: def.Directionality,
			Key:            def.Key,
			Protected:      def.Protected,
		})
		if err != nil {
			return nil, fmt.Errorf("register relationship type %s: %w", def.Name, err)
		}
	}
	return reg, nil
}

// Sessions

func (s *Store) ActiveSessions(ctx context.Context) ([]*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sessions []*types.Session
	for _, sess := range s.sessions {
		if sess.DisconnectedAt == nil {
			copied := *sess
			sessions = append(sessions, &copied)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
	return sessions, nil
}

// memTx applies mutations directly; the store lock is already held.
type memTx struct {
	s *Store
}

func (t *memTx) SaveProject(ctx context.Context, p *types.Project) error {
	for id, existing := range t.s.projects {
		if existing.Code == p.Code && id != p.ID {
			return fmt.Errorf("project code %q: %w", p.Code, storage.ErrAlreadyExists)
		}
	}
	t.s.projects[p.ID] = cloneProject(p)
	return nil
}

func (t *memTx) DeleteProject(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.s.projects[id]; !ok {
		return storage.ErrNotFound
	}
	delete(t.s.projects, id)
	for eid, e := range t.s.entities {
		if e.ProjectID != nil && *e.ProjectID == id {
			delete(t.s.entities, eid)
			for key := range t.s.relationships {
				if key.source == eid || key.target == eid {
					delete(t.s.relationships, key)
				}
			}
		}
	}
	return nil
}

func (t *memTx) SaveEntity(ctx context.Context, e *types.Entity) error {
	t.s.entities[e.ID] = cloneEntity(e)
	return nil
}

func (t *memTx) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.s.entities[id]; !ok {
		return storage.ErrNotFound
	}
	delete(t.s.entities, id)
	for key := range t.s.relationships {
		if key.source == id || key.target == id {
			delete(t.s.relationships, key)
		}
	}
	return nil
}

func (t *memTx) SaveRelationship(ctx context.Context, rel types.Relationship) error {
	key := edgeKey{source: rel.Source, target: rel.Target, relType: rel.RelTypeKey}
	if existing, ok := t.s.relationships[key]; ok {
		existing.Attributes = cloneMap(rel.Attributes)
		t.s.relationships[key] = existing
		return nil
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}
	rel.Attributes = cloneMap(rel.Attributes)
	t.s.relationships[key] = rel
	return nil
}

func (t *memTx) DeleteRelationship(ctx context.Context, source, target, relTypeKey uuid.UUID) error {
	key := edgeKey{source: source, target: target, relType: relTypeKey}
	if _, ok := t.s.relationships[key]; !ok {
		return storage.ErrNotFound
	}
	delete(t.s.relationships, key)
	return nil
}

func (t *memTx) UpdateEntityRoleKeys(ctx context.Context, moves []registry.Migration) error {
	for _, m := range moves {
		if e, ok := t.s.entities[m.Holder]; ok {
			e.Attributes["role_key"] = m.NewKey.String()
			e.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (t *memTx) UpdateRelationshipTypeKeys(ctx context.Context, moves []registry.EdgeMigration) error {
	for _, m := range moves {
		oldKey := edgeKey{source: m.Edge.Source, target: m.Edge.Target, relType: m.OldKey}
		rel, ok := t.s.relationships[oldKey]
		if !ok {
			continue
		}
		delete(t.s.relationships, oldKey)
		newKey := edgeKey{source: m.Edge.Source, target: m.Edge.Target, relType: m.NewKey}
		if _, exists := t.s.relationships[newKey]; exists {
			continue
		}
		rel.RelTypeKey = m.NewKey
		t.s.relationships[newKey] = rel
	}
	return nil
}

func (t *memTx) SaveRole(ctx context.Context, def *registry.RoleDefinition) error {
	for key, existing := range t.s.roles {
		if existing.Role.Name == def.Role.Name && key != def.Key {
			return fmt.Errorf("role name %q: %w", def.Role.Name, storage.ErrAlreadyExists)
		}
	}
	t.s.roles[def.Key] = registry.RoleDefinition{
		Key:       def.Key,
		Role:      def.Role.Clone(),
		Protected: def.Protected,
	}
	return nil
}

func (t *memTx) DeleteRole(ctx context.Context, key uuid.UUID) error {
	if _, ok := t.s.roles[key]; !ok {
		return storage.ErrNotFound
	}
	delete(t.s.roles, key)
	return nil
}

func (t *memTx) SaveRelationshipType(ctx context.Context, def *registry.RelTypeDef) error {
	for key, existing := range t.s.relTypes {
		if existing.Name == def.Name && key != def.Key {
			return fmt.Errorf("relationship type name %q: %w", def.Name, storage.ErrAlreadyExists)
		}
	}
	t.s.relTypes[def.Key] = *def
	return nil
}

func (t *memTx) DeleteRelationshipType(ctx context.Context, key uuid.UUID) error {
	if _, ok := t.s.relTypes[key]; !ok {
		return storage.ErrNotFound
	}
	delete(t.s.relTypes, key)
	return nil
}

func (t *memTx) AppendEvent(ctx context.Context, ev *types.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	t.s.seq++
	ev.Seq = t.s.seq
	ev.OccurredAt = time.Now().UTC()
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	copied := *ev
	t.s.events = append(t.s.events, &copied)
	return nil
}

func (t *memTx) OpenSession(ctx context.Context, sess *types.Session) error {
	copied := *sess
	copied.LastSeenAt = sess.ConnectedAt
	t.s.sessions[sess.ID] = &copied
	return nil
}

func (t *memTx) CloseSession(ctx context.Context, id uuid.UUID) error {
	if sess, ok := t.s.sessions[id]; ok {
		now := time.Now().UTC()
		sess.DisconnectedAt = &now
		sess.LastSeenAt = now
	}
	return nil
}

func (t *memTx) TouchSession(ctx context.Context, id uuid.UUID) error {
	if sess, ok := t.s.sessions[id]; ok {
		sess.LastSeenAt = time.Now().UTC()
	}
	return nil
}

// Copy helpers. Reads hand out clones so callers never mutate stored
// state through shared maps.

func cloneProject(p *types.Project) *types.Project {
	copied := *p
	copied.Attributes = cloneMap(p.Attributes)
	return &copied
}

func cloneEntity(e *types.Entity) *types.Entity {
	copied := *e
	copied.Attributes = cloneMap(e.Attributes)
	copied.Locations = make([]types.Location, len(e.Locations))
	for i, loc := range e.Locations {
		copied.Locations[i] = loc
		copied.Locations[i].Attributes = cloneMap(loc.Attributes)
	}
	return &copied
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortEntities(entities []*types.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Name != entities[j].Name {
			return entities[i].Name < entities[j].Name
		}
		return entities[i].CreatedAt.Before(entities[j].CreatedAt)
	})
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

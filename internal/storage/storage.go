// Package storage defines the persistence interface the server runs
// against. The postgres subpackage is the production backend; the
// memory subpackage backs tests and scratch servers.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/forgeworks/forge-bridge/internal/registry"
	"github.com/forgeworks/forge-bridge/internal/types"
)

// Sentinel errors shared by all backends.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// EventFilter narrows RecentEvents. A zero Limit means 50; the
// backends clamp at 500.
type EventFilter struct {
	ProjectID *uuid.UUID
	EntityID  *uuid.UUID
	Limit     int
}

// DefaultEventLimit and MaxEventLimit bound RecentEvents queries.
const (
	DefaultEventLimit = 50
	MaxEventLimit     = 500
)

// Clamp resolves the effective limit.
func (f EventFilter) Clamp() int {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if limit > MaxEventLimit {
		limit = MaxEventLimit
	}
	return limit
}

// Store is the read surface plus transaction entry point. Mutations go
// through RunInTransaction so an operation and its event log entry
// commit atomically.
type Store interface {
	// EnsureSchema creates tables and seeds the protected registry
	// rows. Idempotent, safe on every startup.
	EnsureSchema(ctx context.Context) error
	Close() error

	// RunInTransaction runs fn inside one transaction. A non-nil error
	// from fn rolls everything back.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error)
	GetProjectByCode(ctx context.Context, code string) (*types.Project, error)
	ListProjects(ctx context.Context) ([]*types.Project, error)

	// GetEntity loads an entity with its locations.
	GetEntity(ctx context.Context, id uuid.UUID) (*types.Entity, error)
	// ListEntities returns entities of one type, optionally scoped to a
	// project.
	ListEntities(ctx context.Context, entityType types.EntityType, projectID *uuid.UUID) ([]*types.Entity, error)
	// FindEntitiesByAttributes returns entities of one type whose
	// attributes contain every key/value in filter.
	FindEntitiesByAttributes(ctx context.Context, entityType types.EntityType, filter map[string]any) ([]*types.Entity, error)

	// ListRelationships returns every edge. Used to rebuild registry
	// reference tracking at startup.
	ListRelationships(ctx context.Context) ([]types.Relationship, error)
	// Dependents returns the source IDs of edges targeting entityID
	// (who depends on it).
	Dependents(ctx context.Context, entityID uuid.UUID) ([]uuid.UUID, error)
	// Dependencies returns the target IDs of edges sourced at entityID
	// (what it depends on).
	Dependencies(ctx context.Context, entityID uuid.UUID) ([]uuid.UUID, error)

	// RecentEvents returns the newest events first.
	RecentEvents(ctx context.Context, filter EventFilter) ([]*types.Event, error)
	// EventsSince returns events after the cursor event in log order.
	// An unknown cursor returns an empty slice, not an error.
	EventsSince(ctx context.Context, cursor uuid.UUID) ([]*types.Event, error)

	// LoadRegistry rebuilds the registry from persisted rows.
	LoadRegistry(ctx context.Context) (*registry.Registry, error)

	ActiveSessions(ctx context.Context) ([]*types.Session, error)
}

// Tx is the mutation surface available inside RunInTransaction.
type Tx interface {
	// SaveProject upserts by id. A code collision with another project
	// returns ErrAlreadyExists.
	SaveProject(ctx context.Context, p *types.Project) error
	DeleteProject(ctx context.Context, id uuid.UUID) error

	// SaveEntity upserts the entity row and replaces its locations.
	SaveEntity(ctx context.Context, e *types.Entity) error
	DeleteEntity(ctx context.Context, id uuid.UUID) error

	// SaveRelationship is idempotent on (source, target, rel_type_key);
	// re-saving an existing edge refreshes its attributes.
	SaveRelationship(ctx context.Context, rel types.Relationship) error
	DeleteRelationship(ctx context.Context, source, target, relTypeKey uuid.UUID) error

	// UpdateEntityRoleKeys rewrites attributes.role_key for holders
	// reassigned by a role delete-with-migrate.
	UpdateEntityRoleKeys(ctx context.Context, moves []registry.Migration) error
	// UpdateRelationshipTypeKeys rewrites rel_type_key for edges
	// reassigned by a relationship type delete-with-migrate.
	UpdateRelationshipTypeKeys(ctx context.Context, moves []registry.EdgeMigration) error

	SaveRole(ctx context.Context, def *registry.RoleDefinition) error
	DeleteRole(ctx context.Context, key uuid.UUID) error
	SaveRelationshipType(ctx context.Context, def *registry.RelTypeDef) error
	DeleteRelationshipType(ctx context.Context, key uuid.UUID) error

	// AppendEvent assigns ID, Seq, and OccurredAt, then appends.
	AppendEvent(ctx context.Context, ev *types.Event) error

	OpenSession(ctx context.Context, s *types.Session) error
	CloseSession(ctx context.Context, id uuid.UUID) error
	TouchSession(ctx context.Context, id uuid.UUID) error
}

// Package types defines the records shared by the storage layer, the
// router, and the clients: projects, entities, locations,
// relationships, events, and sessions.
//
// Entities store stable UUIDs (rel_type_key, role_key), never display
// names. Names live in the registry and are looked up at read time, so
// renaming a role or relationship type never touches an entity.
package types

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// EntityType discriminates the rows in the entities table.
type EntityType string

const (
	EntitySequence EntityType = "sequence"
	EntityShot     EntityType = "shot"
	EntityAsset    EntityType = "asset"
	EntityVersion  EntityType = "version"
	EntityMedia    EntityType = "media"
	EntityLayer    EntityType = "layer"
	EntityStack    EntityType = "stack"
)

// EntityTypes returns the full set, in schema order.
func EntityTypes() []EntityType {
	return []EntityType{
		EntitySequence, EntityShot, EntityAsset, EntityVersion,
		EntityMedia, EntityLayer, EntityStack,
	}
}

// ParseEntityType validates an entity type string.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	for _, known := range EntityTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// StorageType classifies where a location's path lives. "clip" covers
// openClip and batchOpenClip references.
type StorageType string

const (
	StorageLocal   StorageType = "local"
	StorageNetwork StorageType = "network"
	StorageCloud   StorageType = "cloud"
	StorageArchive StorageType = "archive"
	StorageClip    StorageType = "clip"
)

// ParseStorageType validates a storage type string, defaulting empty
// input to local.
func ParseStorageType(s string) (StorageType, error) {
	if s == "" {
		return StorageLocal, nil
	}
	switch t := StorageType(s); t {
	case StorageLocal, StorageNetwork, StorageCloud, StorageArchive, StorageClip:
		return t, nil
	}
	return "", fmt.Errorf("unknown storage type %q", s)
}

// Project is the top-level container.
type Project struct {
	ID         uuid.UUID
	Name       string
	Code       string
	Attributes map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewProject allocates a project with a fresh UUID.
func NewProject(name, code string, attributes map[string]any) *Project {
	if attributes == nil {
		attributes = map[string]any{}
	}
	now := time.Now().UTC()
	return &Project{
		ID:         uuid.New(),
		Name:       name,
		Code:       code,
		Attributes: attributes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ToMap returns the wire representation.
func (p *Project) ToMap() map[string]any {
	return map[string]any{
		"id":         p.ID.String(),
		"name":       p.Name,
		"code":       p.Code,
		"attributes": p.Attributes,
		"created_at": p.CreatedAt.Format(time.RFC3339),
		"updated_at": p.UpdatedAt.Format(time.RFC3339),
	}
}

// Location is a path-based address for an entity. One entity may have
// several locations (local, network, cloud) for the same media.
type Location struct {
	Path        string
	StorageType StorageType
	Present     *bool // nil = not yet checked
	Priority    int   // higher = preferred
	Attributes  map[string]any
	CheckedAt   *time.Time
}

// ToMap returns the wire representation.
func (l Location) ToMap() map[string]any {
	var present any
	if l.Present != nil {
		present = *l.Present
	}
	return map[string]any{
		"path":         l.Path,
		"storage_type": string(l.StorageType),
		"exists":       present,
		"priority":     l.Priority,
		"attributes":   l.Attributes,
	}
}

// Entity is one node in the pipeline graph. Type-specific fields
// (sequence frame rate, shot cut points, layer role key) live in
// Attributes.
type Entity struct {
	ID         uuid.UUID
	Type       EntityType
	ProjectID  *uuid.UUID
	Name       string
	Status     string
	Attributes map[string]any
	Locations  []Location
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewEntity allocates an entity with a fresh UUID.
func NewEntity(entityType EntityType, projectID *uuid.UUID, name, status string, attributes map[string]any) *Entity {
	if attributes == nil {
		attributes = map[string]any{}
	}
	now := time.Now().UTC()
	return &Entity{
		ID:         uuid.New(),
		Type:       entityType,
		ProjectID:  projectID,
		Name:       name,
		Status:     status,
		Attributes: attributes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AddLocation appends a location and keeps the list sorted by
// priority, highest first.
func (e *Entity) AddLocation(loc Location) {
	e.Locations = append(e.Locations, loc)
	sort.SliceStable(e.Locations, func(i, j int) bool {
		return e.Locations[i].Priority > e.Locations[j].Priority
	})
}

// RemoveLocation drops every location with the given path. Reports
// whether anything was removed.
func (e *Entity) RemoveLocation(path string) bool {
	kept := e.Locations[:0]
	removed := false
	for _, loc := range e.Locations {
		if loc.Path == path {
			removed = true
			continue
		}
		kept = append(kept, loc)
	}
	e.Locations = kept
	return removed
}

// PrimaryLocation returns the highest-priority location, or nil.
func (e *Entity) PrimaryLocation() *Location {
	if len(e.Locations) == 0 {
		return nil
	}
	return &e.Locations[0]
}

// ToMap returns the wire representation.
func (e *Entity) ToMap() map[string]any {
	var projectID any
	if e.ProjectID != nil {
		projectID = e.ProjectID.String()
	}
	locations := make([]map[string]any, 0, len(e.Locations))
	for _, loc := range e.Locations {
		locations = append(locations, loc.ToMap())
	}
	return map[string]any{
		"id":          e.ID.String(),
		"entity_type": string(e.Type),
		"project_id":  projectID,
		"name":        e.Name,
		"status":      e.Status,
		"attributes":  e.Attributes,
		"locations":   locations,
		"created_at":  e.CreatedAt.Format(time.RFC3339),
		"updated_at":  e.UpdatedAt.Format(time.RFC3339),
	}
}

// Relationship is a directed edge between two entities. RelTypeKey is
// the stable registry key, never the display name.
type Relationship struct {
	Source     uuid.UUID
	Target     uuid.UUID
	RelTypeKey uuid.UUID
	Attributes map[string]any
	CreatedAt  time.Time
}

// ToMap returns the wire representation. typeName is resolved by the
// caller through the registry.
func (r Relationship) ToMap(typeName string) map[string]any {
	return map[string]any{
		"source_id":  r.Source.String(),
		"target_id":  r.Target.String(),
		"rel_key":    r.RelTypeKey.String(),
		"type_name":  typeName,
		"attributes": r.Attributes,
		"created_at": r.CreatedAt.Format(time.RFC3339),
	}
}

// Event is one row of the append-only change log. Seq is assigned by
// the store and totally orders the log for replay.
type Event struct {
	ID         uuid.UUID
	Seq        int64
	Type       string
	SessionID  *uuid.UUID
	ClientName string
	ProjectID  *uuid.UUID
	EntityID   *uuid.UUID
	Payload    map[string]any
	OccurredAt time.Time
}

// Session records one client connection in the sessions table.
type Session struct {
	ID             uuid.UUID
	ClientName     string
	EndpointType   string
	Host           string
	Capabilities   map[string]any
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
	LastSeenAt     time.Time
}

package client

import (
	"context"
	"fmt"

	"github.com/forgeworks/forge-bridge/internal/protocol"
)

// Bridge is a synchronous, typed facade over Client for tool
// integrations that want plain method calls instead of frames.
type Bridge struct {
	c *Client
}

// NewBridge wraps a started client.
func NewBridge(c *Client) *Bridge {
	return &Bridge{c: c}
}

// Client returns the underlying connection, for event listeners.
func (b *Bridge) Client() *Client { return b.c }

// Projects

func (b *Bridge) CreateProject(ctx context.Context, name, code string, attributes map[string]any) (string, error) {
	result, err := b.c.Request(ctx, protocol.ProjectCreate(name, code, attributes))
	if err != nil {
		return "", err
	}
	return resultString(result, "project_id")
}

func (b *Bridge) GetProject(ctx context.Context, projectID string) (map[string]any, error) {
	return b.c.Request(ctx, protocol.ProjectGet(projectID))
}

func (b *Bridge) ListProjects(ctx context.Context) ([]map[string]any, error) {
	result, err := b.c.Request(ctx, protocol.ProjectList())
	if err != nil {
		return nil, err
	}
	return resultMaps(result, "projects"), nil
}

func (b *Bridge) DeleteProject(ctx context.Context, projectID string) error {
	_, err := b.c.Request(ctx, protocol.ProjectDelete(projectID))
	return err
}

// Entities

// CreateEntity sends an entity.create with extra type-specific fields
// merged into the frame (sequence_id, cut_in, role, stack_id, ...).
func (b *Bridge) CreateEntity(ctx context.Context, entityType, projectID, name string, fields map[string]any) (string, error) {
	msg := protocol.EntityCreate(entityType, projectID, name, "", nil)
	for k, v := range fields {
		msg[k] = v
	}
	result, err := b.c.Request(ctx, msg)
	if err != nil {
		return "", err
	}
	return resultString(result, "entity_id")
}

func (b *Bridge) CreateSequence(ctx context.Context, projectID, name, frameRate string) (string, error) {
	fields := map[string]any{}
	if frameRate != "" {
		fields["frame_rate"] = frameRate
	}
	return b.CreateEntity(ctx, "sequence", projectID, name, fields)
}

func (b *Bridge) CreateShot(ctx context.Context, projectID, name, sequenceID, cutIn, cutOut string) (string, error) {
	fields := map[string]any{}
	if sequenceID != "" {
		fields["sequence_id"] = sequenceID
	}
	if cutIn != "" {
		fields["cut_in"] = cutIn
	}
	if cutOut != "" {
		fields["cut_out"] = cutOut
	}
	return b.CreateEntity(ctx, "shot", projectID, name, fields)
}

func (b *Bridge) CreateAsset(ctx context.Context, projectID, name, assetType string) (string, error) {
	fields := map[string]any{}
	if assetType != "" {
		fields["asset_type"] = assetType
	}
	return b.CreateEntity(ctx, "asset", projectID, name, fields)
}

func (b *Bridge) CreateVersion(ctx context.Context, projectID, name, parentID, parentType string, versionNumber int, createdBy string) (string, error) {
	fields := map[string]any{"version_number": versionNumber}
	if parentID != "" {
		fields["parent_id"] = parentID
	}
	if parentType != "" {
		fields["parent_type"] = parentType
	}
	if createdBy != "" {
		fields["created_by"] = createdBy
	}
	return b.CreateEntity(ctx, "version", projectID, name, fields)
}

func (b *Bridge) CreateMedia(ctx context.Context, projectID, name string, fields map[string]any) (string, error) {
	return b.CreateEntity(ctx, "media", projectID, name, fields)
}

func (b *Bridge) UpdateEntity(ctx context.Context, entityID, name, status string, attributes map[string]any) (map[string]any, error) {
	return b.c.Request(ctx, protocol.EntityUpdate(entityID, name, status, attributes))
}

func (b *Bridge) GetEntity(ctx context.Context, entityID string) (map[string]any, error) {
	return b.c.Request(ctx, protocol.EntityGet(entityID))
}

func (b *Bridge) ListEntities(ctx context.Context, entityType, projectID string) ([]map[string]any, error) {
	result, err := b.c.Request(ctx, protocol.EntityList(entityType, projectID))
	if err != nil {
		return nil, err
	}
	return resultMaps(result, "entities"), nil
}

func (b *Bridge) DeleteEntity(ctx context.Context, entityID string) error {
	_, err := b.c.Request(ctx, protocol.EntityDelete(entityID))
	return err
}

// Graph

func (b *Bridge) Link(ctx context.Context, sourceID, targetID, relType string, attributes map[string]any) error {
	_, err := b.c.Request(ctx, protocol.RelationshipCreate(sourceID, targetID, relType, attributes))
	return err
}

func (b *Bridge) Unlink(ctx context.Context, sourceID, targetID, relType string) error {
	_, err := b.c.Request(ctx, protocol.RelationshipRemove(sourceID, targetID, relType))
	return err
}

func (b *Bridge) AddLocation(ctx context.Context, entityID, path, storageType string, priority int) error {
	_, err := b.c.Request(ctx, protocol.LocationAdd(entityID, path, storageType, priority))
	return err
}

func (b *Bridge) RemoveLocation(ctx context.Context, entityID, path string) error {
	_, err := b.c.Request(ctx, protocol.LocationRemove(entityID, path))
	return err
}

// Queries

func (b *Bridge) Dependents(ctx context.Context, entityID string) ([]string, error) {
	result, err := b.c.Request(ctx, protocol.QueryDependents(entityID))
	if err != nil {
		return nil, err
	}
	return resultStrings(result, "dependents"), nil
}

func (b *Bridge) Dependencies(ctx context.Context, entityID string) ([]string, error) {
	result, err := b.c.Request(ctx, protocol.QueryDependencies(entityID))
	if err != nil {
		return nil, err
	}
	return resultStrings(result, "dependencies"), nil
}

func (b *Bridge) ShotStack(ctx context.Context, shotID string) (map[string]any, error) {
	return b.c.Request(ctx, protocol.QueryShotStack(shotID))
}

func (b *Bridge) RecentEvents(ctx context.Context, projectID, entityID string, limit int) ([]map[string]any, error) {
	result, err := b.c.Request(ctx, protocol.QueryEvents(projectID, entityID, limit))
	if err != nil {
		return nil, err
	}
	return resultMaps(result, "events"), nil
}

// Registry

func (b *Bridge) RegisterRole(ctx context.Context, name, label string, order int, pathTemplate string, aliases map[string]string) (string, error) {
	result, err := b.c.Request(ctx, protocol.RoleRegister(name, label, order, pathTemplate, aliases))
	if err != nil {
		return "", err
	}
	return resultString(result, "key")
}

func (b *Bridge) RenameRole(ctx context.Context, oldName, newName string) error {
	_, err := b.c.Request(ctx, protocol.RoleRename(oldName, newName))
	return err
}

// DeleteRole removes a role, migrating live references to migrateTo
// when given. Returns the number of references migrated.
func (b *Bridge) DeleteRole(ctx context.Context, name, migrateTo string) (int, error) {
	result, err := b.c.Request(ctx, protocol.RoleDelete(name, migrateTo))
	if err != nil {
		return 0, err
	}
	if n, ok := result["migrated"].(float64); ok {
		return int(n), nil
	}
	return 0, nil
}

func (b *Bridge) Roles(ctx context.Context) ([]map[string]any, error) {
	result, err := b.c.Request(ctx, protocol.RoleList())
	if err != nil {
		return nil, err
	}
	return resultMaps(result, "roles"), nil
}

func (b *Bridge) RegisterRelationshipType(ctx context.Context, name, label, description, directionality string) (string, error) {
	result, err := b.c.Request(ctx, protocol.RelTypeRegister(name, label, description, directionality))
	if err != nil {
		return "", err
	}
	return resultString(result, "key")
}

func (b *Bridge) RelationshipTypes(ctx context.Context) ([]map[string]any, error) {
	result, err := b.c.Request(ctx, protocol.RelTypeList())
	if err != nil {
		return nil, err
	}
	return resultMaps(result, "relationship_types"), nil
}

// StackLayer describes one layer in CreateShotStack.
type StackLayer struct {
	Name  string
	Role  string
	Order int
}

// CreateShotStack builds a shot's comp stack in one call: the stack
// entity pointing at the shot, then each layer in order. Returns the
// stack id and the layer ids.
func (b *Bridge) CreateShotStack(ctx context.Context, projectID, shotID string, layers []StackLayer) (string, []string, error) {
	stackID, err := b.CreateEntity(ctx, "stack", projectID, "stack", map[string]any{
		"shot_id": shotID,
	})
	if err != nil {
		return "", nil, fmt.Errorf("create stack: %w", err)
	}
	if err := b.Link(ctx, stackID, shotID, "member_of", nil); err != nil {
		return "", nil, fmt.Errorf("link stack to shot: %w", err)
	}

	layerIDs := make([]string, 0, len(layers))
	for i, layer := range layers {
		order := layer.Order
		if order == 0 {
			order = i
		}
		layerID, err := b.CreateEntity(ctx, "layer", projectID, layer.Name, map[string]any{
			"role":     layer.Role,
			"stack_id": stackID,
			"order":    order,
		})
		if err != nil {
			return "", nil, fmt.Errorf("create layer %s: %w", layer.Name, err)
		}
		if err := b.Link(ctx, layerID, stackID, "member_of", nil); err != nil {
			return "", nil, fmt.Errorf("link layer %s: %w", layer.Name, err)
		}
		layerIDs = append(layerIDs, layerID)
	}
	return stackID, layerIDs, nil
}

func resultString(result map[string]any, key string) (string, error) {
	s, ok := result[key].(string)
	if !ok {
		return "", fmt.Errorf("missing %s in result", key)
	}
	return s, nil
}

func resultMaps(result map[string]any, key string) []map[string]any {
	raw, _ := result[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func resultStrings(result map[string]any, key string) []string {
	raw, _ := result[key].([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

package server

import (
	"context"

	"github.com/google/uuid"

	"github.com/forgeworks/forge-bridge/internal/protocol"
	"github.com/forgeworks/forge-bridge/internal/storage"
	"github.com/forgeworks/forge-bridge/internal/types"
)

// Relationship and location handlers. Edges store the registry key for
// their type; the display name is resolved back through the registry
// at read time.

func (r *Router) handleRelationshipCreate(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	sourceID, err := msg.GetUUID("source_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	targetID, err := msg.GetUUID("target_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	relType := msg.GetString("rel_type")
	if relType == "" {
		return nil, errInvalid("rel_type is required")
	}

	key, err := r.reg.RelTypes.Key(relType)
	if err != nil {
		return nil, err
	}
	source, err := r.store.GetEntity(ctx, sourceID)
	if err != nil {
		return nil, errNotFound("source entity not found: " + sourceID.String())
	}
	if _, err := r.store.GetEntity(ctx, targetID); err != nil {
		return nil, errNotFound("target entity not found: " + targetID.String())
	}

	rel := types.Relationship{
		Source:     sourceID,
		Target:     targetID,
		RelTypeKey: key,
		Attributes: msg.GetMap("attributes"),
		CreatedAt:  nowUTC(),
	}

	err = r.commit(ctx, client, "relationship.created", rel.ToMap(relType), source.ProjectID, &sourceID, func(tx storage.Tx) error {
		return tx.SaveRelationship(ctx, rel)
	})
	if err != nil {
		return nil, err
	}
	r.reg.RelTypes.RegisterUsage(key, sourceID, targetID)
	return rel.ToMap(relType), nil
}

func (r *Router) handleRelationshipRemove(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	sourceID, err := msg.GetUUID("source_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	targetID, err := msg.GetUUID("target_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	relType := msg.GetString("rel_type")
	if relType == "" {
		return nil, errInvalid("rel_type is required")
	}

	key, err := r.reg.RelTypes.Key(relType)
	if err != nil {
		return nil, err
	}

	var projectID *uuid.UUID
	if source, err := r.store.GetEntity(ctx, sourceID); err == nil {
		projectID = source.ProjectID
	}

	payload := map[string]any{
		"source_id": sourceID.String(),
		"target_id": targetID.String(),
		"rel_type":  relType,
	}

	err = r.commit(ctx, client, "relationship.removed", payload, projectID, &sourceID, func(tx storage.Tx) error {
		return tx.DeleteRelationship(ctx, sourceID, targetID, key)
	})
	if err != nil {
		return nil, err
	}
	r.reg.RelTypes.UnregisterUsage(key, sourceID, targetID)
	return map[string]any{"removed": true}, nil
}

func (r *Router) handleLocationAdd(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	entityID, err := msg.GetUUID("entity_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	path := msg.GetString("path")
	if path == "" {
		return nil, errInvalid("path is required")
	}
	storageType, err := types.ParseStorageType(msg.GetString("storage_type"))
	if err != nil {
		return nil, errInvalid(err.Error())
	}

	e, err := r.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	loc := types.Location{
		Path:        path,
		StorageType: storageType,
		Priority:    msg.GetInt("priority", 0),
		Attributes:  msg.GetMap("attributes"),
	}
	e.AddLocation(loc)
	e.UpdatedAt = nowUTC()

	err = r.commit(ctx, client, "location.added", map[string]any{
		"entity_id":    entityID.String(),
		"path":         path,
		"storage_type": string(storageType),
		"priority":     loc.Priority,
	}, e.ProjectID, &entityID, func(tx storage.Tx) error {
		return tx.SaveEntity(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return e.ToMap(), nil
}

func (r *Router) handleLocationRemove(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	entityID, err := msg.GetUUID("entity_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	path := msg.GetString("path")
	if path == "" {
		return nil, errInvalid("path is required")
	}

	e, err := r.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !e.RemoveLocation(path) {
		return nil, errNotFound("no location with path " + path)
	}
	e.UpdatedAt = nowUTC()

	err = r.commit(ctx, client, "location.removed", map[string]any{
		"entity_id": entityID.String(),
		"path":      path,
	}, e.ProjectID, &entityID, func(tx storage.Tx) error {
		return tx.SaveEntity(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return e.ToMap(), nil
}

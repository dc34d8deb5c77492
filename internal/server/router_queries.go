package server

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/forge-bridge/internal/protocol"
	"github.com/forgeworks/forge-bridge/internal/storage"
	"github.com/forgeworks/forge-bridge/internal/types"
)

// Read-only graph and event log queries.

func (r *Router) handleQueryDependents(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	entityID, err := msg.GetUUID("entity_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	ids, err := r.store.Dependents(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"entity_id":  entityID.String(),
		"dependents": uuidStrings(ids),
		"count":      len(ids),
	}, nil
}

func (r *Router) handleQueryDependencies(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	entityID, err := msg.GetUUID("entity_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	ids, err := r.store.Dependencies(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"entity_id":    entityID.String(),
		"dependencies": uuidStrings(ids),
		"count":        len(ids),
	}, nil
}

// handleQueryShotStack resolves a shot's comp stack: the stack entity
// pointing at the shot, and its layers ordered by stack position with
// role keys resolved back to names. A shot without a stack answers
// with empty layers rather than an error.
func (r *Router) handleQueryShotStack(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	shotID, err := msg.GetUUID("shot_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}

	stacks, err := r.store.FindEntitiesByAttributes(ctx, types.EntityStack, map[string]any{
		"shot_id": shotID.String(),
	})
	if err != nil {
		return nil, err
	}
	if len(stacks) == 0 {
		return map[string]any{
			"shot_id": shotID.String(),
			"layers":  []map[string]any{},
		}, nil
	}
	stack := stacks[0]

	layers, err := r.store.FindEntitiesByAttributes(ctx, types.EntityLayer, map[string]any{
		"stack_id": stack.ID.String(),
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(layers, func(i, j int) bool {
		return layerOrder(layers[i]) < layerOrder(layers[j])
	})

	out := make([]map[string]any, 0, len(layers))
	for _, layer := range layers {
		m := layer.ToMap()
		if keyStr, ok := layer.Attributes["role_key"].(string); ok {
			if key, err := uuid.Parse(keyStr); err == nil {
				if def, err := r.reg.Roles.ByKey(key); err == nil {
					m["role"] = def.Role.Name
					m["role_label"] = def.Role.Label
				}
			}
		}
		out = append(out, m)
	}
	return map[string]any{
		"shot_id":  shotID.String(),
		"stack_id": stack.ID.String(),
		"layers":   out,
	}, nil
}

func layerOrder(e *types.Entity) int {
	switch v := e.Attributes["order"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func (r *Router) handleQueryEvents(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	filter := storage.EventFilter{Limit: msg.GetInt("limit", 0)}
	if msg.GetString("project_id") != "" {
		id, err := msg.GetUUID("project_id")
		if err != nil {
			return nil, errInvalid(err.Error())
		}
		filter.ProjectID = &id
	}
	if msg.GetString("entity_id") != "" {
		id, err := msg.GetUUID("entity_id")
		if err != nil {
			return nil, errInvalid(err.Error())
		}
		filter.EntityID = &id
	}

	events, err := r.store.RecentEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]any{
			"id":          ev.ID.String(),
			"event_type":  ev.Type,
			"client_name": ev.ClientName,
			"occurred_at": ev.OccurredAt.Format(time.RFC3339),
			"payload":     ev.Payload,
		})
	}
	return map[string]any{"events": out}, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

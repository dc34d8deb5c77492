package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/forgeworks/forge-bridge/internal/protocol"
	"github.com/forgeworks/forge-bridge/internal/storage"
	"github.com/forgeworks/forge-bridge/internal/types"
	"github.com/forgeworks/forge-bridge/internal/vocab"
)

// Project handlers.

func (r *Router) handleProjectCreate(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	name := msg.GetString("name")
	code := msg.GetString("code")
	if name == "" || code == "" {
		return nil, errInvalid("project name and code are required")
	}

	p := types.NewProject(name, code, msg.GetMap("attributes"))
	err := r.commit(ctx, client, "project.created", p.ToMap(), &p.ID, nil, func(tx storage.Tx) error {
		return tx.SaveProject(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"project_id": p.ID.String()}, nil
}

func (r *Router) handleProjectUpdate(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	projectID, err := msg.GetUUID("project_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	p, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if name := msg.GetString("name"); name != "" {
		p.Name = name
	}
	if code := msg.GetString("code"); code != "" {
		p.Code = code
	}
	if attrs := msg.GetMap("attributes"); attrs != nil {
		for k, v := range attrs {
			p.Attributes[k] = v
		}
	}
	p.UpdatedAt = nowUTC()

	err = r.commit(ctx, client, "project.updated", p.ToMap(), &p.ID, nil, func(tx storage.Tx) error {
		return tx.SaveProject(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p.ToMap(), nil
}

func (r *Router) handleProjectGet(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	projectID, err := msg.GetUUID("project_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	p, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return p.ToMap(), nil
}

func (r *Router) handleProjectList(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	projects, err := r.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		out = append(out, p.ToMap())
	}
	return map[string]any{"projects": out, "count": len(out)}, nil
}

func (r *Router) handleProjectDelete(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	projectID, err := msg.GetUUID("project_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	if _, err := r.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	err = r.commit(ctx, client, "project.deleted", map[string]any{
		"project_id": projectID.String(),
	}, &projectID, nil, func(tx storage.Tx) error {
		return tx.DeleteProject(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

// Entity handlers.

func (r *Router) handleEntityCreate(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	entityType, err := types.ParseEntityType(msg.GetString("entity_type"))
	if err != nil {
		return nil, &routeError{Code: protocol.CodeUnknownType, Message: err.Error()}
	}
	projectID, err := msg.GetUUID("project_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	if _, err := r.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	status := "pending"
	if s := msg.GetString("status"); s != "" {
		parsed, err := vocab.ParseStatus(s)
		if err != nil {
			return nil, errInvalid(err.Error())
		}
		status = string(parsed)
	}

	e := types.NewEntity(entityType, &projectID, msg.GetString("name"), status, msg.GetMap("attributes"))
	roleKey, err := r.buildEntity(e, msg)
	if err != nil {
		return nil, err
	}

	if roleKey != uuid.Nil {
		if err := r.reg.Roles.RegisterUsage(roleKey, e.ID, e.Name); err != nil {
			return nil, err
		}
	}

	err = r.commit(ctx, client, "entity.created", e.ToMap(), e.ProjectID, &e.ID, func(tx storage.Tx) error {
		return tx.SaveEntity(ctx, e)
	})
	if err != nil {
		if roleKey != uuid.Nil {
			r.reg.Roles.UnregisterUsage(roleKey, e.ID)
		}
		return nil, err
	}
	return map[string]any{"entity_id": e.ID.String()}, nil
}

// buildEntity fills in the type-specific attribute defaults. For
// layers the role name resolves to its registry key at create time;
// only the key is stored. Returns the role key when one was bound.
func (r *Router) buildEntity(e *types.Entity, msg protocol.Message) (uuid.UUID, error) {
	attrs := e.Attributes
	switch e.Type {
	case types.EntitySequence:
		if rate := msg.GetString("frame_rate"); rate != "" {
			if _, err := vocab.ParseRate(rate); err != nil {
				return uuid.Nil, errInvalid(err.Error())
			}
			attrs["frame_rate"] = rate
		}
	case types.EntityShot:
		if seq := msg.GetString("sequence_id"); seq != "" {
			attrs["sequence_id"] = seq
		}
		for _, field := range []string{"cut_in", "cut_out"} {
			if tc := msg.GetString(field); tc != "" {
				if _, err := vocab.ParseTimecode(tc, vocab.RateFilm); err != nil {
					return uuid.Nil, errInvalid(fmt.Sprintf("%s: %v", field, err))
				}
				attrs[field] = tc
			}
		}
	case types.EntityAsset:
		if _, ok := attrs["asset_type"]; !ok {
			attrs["asset_type"] = stringOr(msg.GetString("asset_type"), "generic")
		}
	case types.EntityVersion:
		if _, ok := attrs["version_number"]; !ok {
			attrs["version_number"] = msg.GetInt("version_number", 1)
		}
		if parent := msg.GetString("parent_id"); parent != "" {
			attrs["parent_id"] = parent
		}
		if _, ok := attrs["parent_type"]; !ok {
			attrs["parent_type"] = stringOr(msg.GetString("parent_type"), "shot")
		}
		if by := msg.GetString("created_by"); by != "" {
			attrs["created_by"] = by
		}
	case types.EntityMedia:
		if _, ok := attrs["format"]; !ok {
			attrs["format"] = stringOr(msg.GetString("format"), "EXR")
		}
		for _, field := range []string{"resolution", "colorspace", "bit_depth", "version_id"} {
			if v := msg.GetString(field); v != "" {
				attrs[field] = v
			}
		}
		if fr := msg.GetMap("frame_range"); fr != nil {
			attrs["frame_range"] = fr
		}
	case types.EntityLayer:
		roleName := stringOr(msg.GetString("role"), "primary")
		key, err := r.reg.Roles.Key(roleName)
		if err != nil {
			return uuid.Nil, err
		}
		attrs["role_key"] = key.String()
		if stack := msg.GetString("stack_id"); stack != "" {
			attrs["stack_id"] = stack
		}
		attrs["order"] = msg.GetInt("order", 0)
		if version := msg.GetString("version_id"); version != "" {
			attrs["version_id"] = version
		}
		return key, nil
	case types.EntityStack:
		if shot := msg.GetString("shot_id"); shot != "" {
			attrs["shot_id"] = shot
		}
	}
	return uuid.Nil, nil
}

func (r *Router) handleEntityUpdate(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	entityID, err := msg.GetUUID("entity_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	e, err := r.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	if name := msg.GetString("name"); name != "" {
		e.Name = name
	}
	if s := msg.GetString("status"); s != "" {
		parsed, err := vocab.ParseStatus(s)
		if err != nil {
			return nil, errInvalid(err.Error())
		}
		e.Status = string(parsed)
	}
	if attrs := msg.GetMap("attributes"); attrs != nil {
		for k, v := range attrs {
			e.Attributes[k] = v
		}
	}
	e.UpdatedAt = nowUTC()

	err = r.commit(ctx, client, "entity.updated", e.ToMap(), e.ProjectID, &e.ID, func(tx storage.Tx) error {
		return tx.SaveEntity(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return e.ToMap(), nil
}

func (r *Router) handleEntityGet(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	entityID, err := msg.GetUUID("entity_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	e, err := r.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return e.ToMap(), nil
}

func (r *Router) handleEntityList(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	entityType, err := types.ParseEntityType(msg.GetString("entity_type"))
	if err != nil {
		return nil, &routeError{Code: protocol.CodeUnknownType, Message: err.Error()}
	}
	var projectID *uuid.UUID
	if msg.GetString("project_id") != "" {
		id, err := msg.GetUUID("project_id")
		if err != nil {
			return nil, errInvalid(err.Error())
		}
		projectID = &id
	}

	entities, err := r.store.ListEntities(ctx, entityType, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.ToMap())
	}
	return map[string]any{"entities": out, "count": len(out)}, nil
}

func (r *Router) handleEntityDelete(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	entityID, err := msg.GetUUID("entity_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	e, err := r.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	// Capture this entity's edges so the registry usage tracking can be
	// released after the rows go.
	var edges []types.Relationship
	rels, err := r.store.ListRelationships(ctx)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		if rel.Source == entityID || rel.Target == entityID {
			edges = append(edges, rel)
		}
	}

	err = r.commit(ctx, client, "entity.deleted", map[string]any{
		"entity_id":   entityID.String(),
		"entity_type": string(e.Type),
		"name":        e.Name,
	}, e.ProjectID, &entityID, func(tx storage.Tx) error {
		return tx.DeleteEntity(ctx, entityID)
	})
	if err != nil {
		return nil, err
	}

	if keyStr, ok := e.Attributes["role_key"].(string); ok {
		if key, err := uuid.Parse(keyStr); err == nil {
			r.reg.Roles.UnregisterUsage(key, entityID)
		}
	}
	for _, rel := range edges {
		r.reg.RelTypes.UnregisterUsage(rel.RelTypeKey, rel.Source, rel.Target)
	}
	return map[string]any{"deleted": true}, nil
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

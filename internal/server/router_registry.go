package server

import (
	"context"

	"github.com/forgeworks/forge-bridge/internal/protocol"
	"github.com/forgeworks/forge-bridge/internal/registry"
	"github.com/forgeworks/forge-bridge/internal/storage"
)

// Role vocabulary handlers. The in-memory registry is the authority;
// every mutation lands there first, then persists together with its
// event. A persistence failure reverts the in-memory change so the two
// never drift.

func (r *Router) handleRoleRegister(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	name := msg.GetString("name")
	if name == "" {
		return nil, errInvalid("role name is required")
	}

	def, err := r.reg.Roles.Register(name, registry.RoleSpec{
		Label:        msg.GetString("label"),
		Order:        msg.GetInt("order", 0),
		PathTemplate: msg.GetString("path_template"),
		Aliases:      stringMap(msg.GetMap("aliases")),
	})
	if err != nil {
		return nil, err
	}

	err = r.commit(ctx, client, "role.registered", map[string]any{
		"name":  name,
		"key":   def.Key.String(),
		"label": def.Role.Label,
	}, nil, nil, func(tx storage.Tx) error {
		return tx.SaveRole(ctx, def)
	})
	if err != nil {
		r.reg.Roles.Delete(name, "")
		return nil, err
	}
	return map[string]any{"key": def.Key.String(), "name": name}, nil
}

func (r *Router) handleRoleRename(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	oldName := msg.GetString("old_name")
	newName := msg.GetString("new_name")
	if oldName == "" || newName == "" {
		return nil, errInvalid("old_name and new_name are required")
	}

	if err := r.reg.Roles.Rename(oldName, newName); err != nil {
		return nil, err
	}
	def, err := r.reg.Roles.ByName(newName)
	if err != nil {
		return nil, err
	}

	err = r.commit(ctx, client, "role.renamed", map[string]any{
		"old_name": oldName,
		"new_name": newName,
		"key":      def.Key.String(),
	}, nil, nil, func(tx storage.Tx) error {
		return tx.SaveRole(ctx, def)
	})
	if err != nil {
		r.reg.Roles.Rename(newName, oldName)
		return nil, err
	}
	return map[string]any{"key": def.Key.String(), "new_name": newName}, nil
}

func (r *Router) handleRoleRenameLabel(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	name := msg.GetString("name")
	newLabel := msg.GetString("new_label")
	if name == "" || newLabel == "" {
		return nil, errInvalid("name and new_label are required")
	}

	prev, err := r.reg.Roles.ByName(name)
	if err != nil {
		return nil, err
	}
	oldLabel := prev.Role.Label

	if err := r.reg.Roles.RenameLabel(name, newLabel); err != nil {
		return nil, err
	}
	def, err := r.reg.Roles.ByName(name)
	if err != nil {
		return nil, err
	}

	err = r.commit(ctx, client, "role.label_changed", map[string]any{
		"name":      name,
		"new_label": newLabel,
		"key":       def.Key.String(),
	}, nil, nil, func(tx storage.Tx) error {
		return tx.SaveRole(ctx, def)
	})
	if err != nil {
		r.reg.Roles.RenameLabel(name, oldLabel)
		return nil, err
	}
	return map[string]any{"name": name, "label": newLabel}, nil
}

func (r *Router) handleRoleUpdate(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	name := msg.GetString("name")
	if name == "" {
		return nil, errInvalid("role name is required")
	}

	upd := registry.RoleUpdate{Aliases: stringMap(msg.GetMap("aliases"))}
	if _, ok := msg["label"]; ok {
		label := msg.GetString("label")
		upd.Label = &label
	}
	if _, ok := msg["order"]; ok {
		order := msg.GetInt("order", 0)
		upd.Order = &order
	}
	if _, ok := msg["path_template"]; ok {
		tmpl := msg.GetString("path_template")
		upd.PathTemplate = &tmpl
	}

	prev, err := r.reg.Roles.ByName(name)
	if err != nil {
		return nil, err
	}
	old := prev.Role.Clone()

	def, err := r.reg.Roles.Update(name, upd)
	if err != nil {
		return nil, err
	}

	err = r.commit(ctx, client, "role.updated", map[string]any{
		"name": name,
		"key":  def.Key.String(),
	}, nil, nil, func(tx storage.Tx) error {
		return tx.SaveRole(ctx, def)
	})
	if err != nil {
		r.reg.Roles.Restore(name, old)
		return nil, err
	}
	return map[string]any{"key": def.Key.String(), "role": def.Role.ToMap()}, nil
}

func (r *Router) handleRoleDelete(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	name := msg.GetString("name")
	if name == "" {
		return nil, errInvalid("role name is required")
	}
	migrateTo := msg.GetString("migrate_to")

	def, err := r.reg.Roles.ByName(name)
	if err != nil {
		return nil, err
	}

	migrated, moves, err := r.reg.Roles.Delete(name, migrateTo)
	if err != nil {
		return nil, err
	}

	err = r.commit(ctx, client, "role.deleted", map[string]any{
		"name":     name,
		"key":      def.Key.String(),
		"migrated": migrated,
	}, nil, nil, func(tx storage.Tx) error {
		if err := tx.UpdateEntityRoleKeys(ctx, moves); err != nil {
			return err
		}
		return tx.DeleteRole(ctx, def.Key)
	})
	if err != nil {
		// Restore the registry entry and move the references back.
		r.reg.Roles.Register(name, registry.RoleSpec{Role: def.Role, Key: def.Key, Protected: def.Protected})
		for _, m := range moves {
			r.reg.Roles.UnregisterUsage(m.NewKey, m.Holder)
			r.reg.Roles.RegisterUsage(m.OldKey, m.Holder, "")
		}
		return nil, err
	}
	return map[string]any{"migrated": migrated}, nil
}

func (r *Router) handleRoleList(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	roles := []map[string]any{}
	for _, name := range r.reg.Roles.Names() {
		def, err := r.reg.Roles.ByName(name)
		if err != nil {
			continue
		}
		refCount, _ := r.reg.Roles.RefCount(name)
		roles = append(roles, map[string]any{
			"key":       def.Key.String(),
			"name":      name,
			"label":     def.Role.Label,
			"order":     def.Role.Order,
			"ref_count": refCount,
		})
	}
	return map[string]any{"roles": roles}, nil
}

// Relationship type handlers.

func (r *Router) handleRelTypeRegister(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	name := msg.GetString("name")
	if name == "" {
		return nil, errInvalid("relationship type name is required")
	}

	def, err := r.reg.RelTypes.Register(name, registry.RelTypeSpec{
		Label:          msg.GetString("label"),
		Description:    msg.GetString("description"),
		Directionality: msg.GetString("directionality"),
	})
	if err != nil {
		return nil, err
	}

	err = r.commit(ctx, client, "relationship_type.registered", map[string]any{
		"name":  name,
		"key":   def.Key.String(),
		"label": def.Label,
	}, nil, nil, func(tx storage.Tx) error {
		return tx.SaveRelationshipType(ctx, def)
	})
	if err != nil {
		r.reg.RelTypes.Delete(name, "")
		return nil, err
	}
	return map[string]any{"key": def.Key.String(), "name": name}, nil
}

func (r *Router) handleRelTypeRename(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	oldName := msg.GetString("old_name")
	newName := msg.GetString("new_name")
	if oldName == "" || newName == "" {
		return nil, errInvalid("old_name and new_name are required")
	}

	if err := r.reg.RelTypes.Rename(oldName, newName); err != nil {
		return nil, err
	}
	def, err := r.reg.RelTypes.ByName(newName)
	if err != nil {
		return nil, err
	}

	err = r.commit(ctx, client, "relationship_type.renamed", map[string]any{
		"old_name": oldName,
		"new_name": newName,
		"key":      def.Key.String(),
	}, nil, nil, func(tx storage.Tx) error {
		return tx.SaveRelationshipType(ctx, def)
	})
	if err != nil {
		r.reg.RelTypes.Rename(newName, oldName)
		return nil, err
	}
	return map[string]any{"key": def.Key.String(), "new_name": newName}, nil
}

func (r *Router) handleRelTypeRenameLabel(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	name := msg.GetString("name")
	newLabel := msg.GetString("new_label")
	if name == "" || newLabel == "" {
		return nil, errInvalid("name and new_label are required")
	}

	prev, err := r.reg.RelTypes.ByName(name)
	if err != nil {
		return nil, err
	}
	oldLabel := prev.Label

	if err := r.reg.RelTypes.RenameLabel(name, newLabel); err != nil {
		return nil, err
	}
	def, err := r.reg.RelTypes.ByName(name)
	if err != nil {
		return nil, err
	}

	err = r.commit(ctx, client, "relationship_type.label_changed", map[string]any{
		"name":      name,
		"new_label": newLabel,
		"key":       def.Key.String(),
	}, nil, nil, func(tx storage.Tx) error {
		return tx.SaveRelationshipType(ctx, def)
	})
	if err != nil {
		r.reg.RelTypes.RenameLabel(name, oldLabel)
		return nil, err
	}
	return map[string]any{"name": name, "label": newLabel}, nil
}

func (r *Router) handleRelTypeDelete(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	name := msg.GetString("name")
	if name == "" {
		return nil, errInvalid("relationship type name is required")
	}
	migrateTo := msg.GetString("migrate_to")

	def, err := r.reg.RelTypes.ByName(name)
	if err != nil {
		return nil, err
	}

	migrated, moves, err := r.reg.RelTypes.Delete(name, migrateTo)
	if err != nil {
		return nil, err
	}

	err = r.commit(ctx, client, "relationship_type.deleted", map[string]any{
		"name":     name,
		"key":      def.Key.String(),
		"migrated": migrated,
	}, nil, nil, func(tx storage.Tx) error {
		if err := tx.UpdateRelationshipTypeKeys(ctx, moves); err != nil {
			return err
		}
		return tx.DeleteRelationshipType(ctx, def.Key)
	})
	if err != nil {
		r.reg.RelTypes.Register(name, registry.RelTypeSpec{
			Label:          def.Label,
			Description:    def.Description,
			Directionality: def.Directionality,
			Key:            def.Key,
			Protected:      def.Protected,
		})
		for _, m := range moves {
			r.reg.RelTypes.UnregisterUsage(m.NewKey, m.Edge.Source, m.Edge.Target)
			r.reg.RelTypes.RegisterUsage(m.OldKey, m.Edge.Source, m.Edge.Target)
		}
		return nil, err
	}
	return map[string]any{"migrated": migrated}, nil
}

func (r *Router) handleRelTypeList(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	relTypes := []map[string]any{}
	for _, name := range r.reg.RelTypes.Names() {
		def, err := r.reg.RelTypes.ByName(name)
		if err != nil {
			continue
		}
		relTypes = append(relTypes, map[string]any{
			"key":   def.Key.String(),
			"name":  name,
			"label": def.Label,
		})
	}
	return map[string]any{"relationship_types": relTypes}, nil
}

func stringMap(m map[string]any) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

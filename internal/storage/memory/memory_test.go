package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/forge-bridge/internal/storage"
	"github.com/forgeworks/forge-bridge/internal/types"
)

func save(t *testing.T, s *Store, fn func(tx storage.Tx) error) {
	t.Helper()
	require.NoError(t, s.RunInTransaction(context.Background(), fn))
}

func TestProjectCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := types.NewProject("Mars Landing", "mars", nil)
	save(t, s, func(tx storage.Tx) error { return tx.SaveProject(ctx, p) })

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mars Landing", got.Name)

	byCode, err := s.GetProjectByCode(ctx, "mars")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byCode.ID)

	// Another project under the same code is rejected.
	dup := types.NewProject("Other", "mars", nil)
	err = s.RunInTransaction(ctx, func(tx storage.Tx) error { return tx.SaveProject(ctx, dup) })
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	// Re-saving the same project is an update, not a collision.
	p.Name = "Mars Landing II"
	save(t, s, func(tx storage.Tx) error { return tx.SaveProject(ctx, p) })
	got, err = s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mars Landing II", got.Name)

	save(t, s, func(tx storage.Tx) error { return tx.DeleteProject(ctx, p.ID) })
	_, err = s.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetProjectReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := types.NewProject("Mars", "mars", map[string]any{"fps": "24"})
	save(t, s, func(tx storage.Tx) error { return tx.SaveProject(ctx, p) })

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	got.Attributes["fps"] = "25"

	again, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "24", again.Attributes["fps"])
}

func TestEntityListAndFind(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := types.NewProject("Mars", "mars", nil)
	save(t, s, func(tx storage.Tx) error { return tx.SaveProject(ctx, p) })

	shot := types.NewEntity(types.EntityShot, &p.ID, "sh010", "pending", nil)
	stack := types.NewEntity(types.EntityStack, &p.ID, "stack", "pending", map[string]any{
		"shot_id": shot.ID.String(),
	})
	save(t, s, func(tx storage.Tx) error {
		if err := tx.SaveEntity(ctx, shot); err != nil {
			return err
		}
		return tx.SaveEntity(ctx, stack)
	})

	shots, err := s.ListEntities(ctx, types.EntityShot, &p.ID)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.Equal(t, "sh010", shots[0].Name)

	other := uuid.New()
	none, err := s.ListEntities(ctx, types.EntityShot, &other)
	require.NoError(t, err)
	assert.Empty(t, none)

	found, err := s.FindEntitiesByAttributes(ctx, types.EntityStack, map[string]any{
		"shot_id": shot.ID.String(),
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stack.ID, found[0].ID)
}

func TestRelationshipsAndGraphQueries(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	relKey := uuid.New()

	rel := types.Relationship{Source: a, Target: b, RelTypeKey: relKey}
	save(t, s, func(tx storage.Tx) error { return tx.SaveRelationship(ctx, rel) })
	// Idempotent on the triple; attributes refresh.
	rel.Attributes = map[string]any{"track_role": "matte"}
	save(t, s, func(tx storage.Tx) error { return tx.SaveRelationship(ctx, rel) })
	save(t, s, func(tx storage.Tx) error {
		return tx.SaveRelationship(ctx, types.Relationship{Source: c, Target: b, RelTypeKey: relKey})
	})

	all, err := s.ListRelationships(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	deps, err := s.Dependents(ctx, b)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a, c}, deps)

	targets, err := s.Dependencies(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b}, targets)

	save(t, s, func(tx storage.Tx) error { return tx.DeleteRelationship(ctx, a, b, relKey) })
	deps, err = s.Dependents(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{c}, deps)

	err = s.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.DeleteRelationship(ctx, a, b, relKey)
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteEntityDropsEdges(t *testing.T) {
	ctx := context.Background()
	s := New()

	e := types.NewEntity(types.EntityMedia, nil, "plate", "pending", nil)
	other := uuid.New()
	save(t, s, func(tx storage.Tx) error {
		if err := tx.SaveEntity(ctx, e); err != nil {
			return err
		}
		return tx.SaveRelationship(ctx, types.Relationship{
			Source: other, Target: e.ID, RelTypeKey: uuid.New(),
		})
	})

	save(t, s, func(tx storage.Tx) error { return tx.DeleteEntity(ctx, e.ID) })

	rels, err := s.ListRelationships(ctx)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestEventLog(t *testing.T) {
	ctx := context.Background()
	s := New()
	pid := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ev := &types.Event{Type: "entity.updated", ProjectID: &pid}
		save(t, s, func(tx storage.Tx) error { return tx.AppendEvent(ctx, ev) })
		ids = append(ids, ev.ID)
		assert.Equal(t, int64(i+1), ev.Seq)
	}

	// Newest first, limit respected.
	recent, err := s.RecentEvents(ctx, storage.EventFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[4], recent[0].ID)
	assert.Equal(t, ids[3], recent[1].ID)

	// Project filter excludes other projects.
	other := uuid.New()
	filtered, err := s.RecentEvents(ctx, storage.EventFilter{ProjectID: &other})
	require.NoError(t, err)
	assert.Empty(t, filtered)

	// Replay from a cursor returns everything after it, in order.
	since, err := s.EventsSince(ctx, ids[1])
	require.NoError(t, err)
	require.Len(t, since, 3)
	assert.Equal(t, ids[2], since[0].ID)
	assert.Equal(t, ids[4], since[2].ID)

	// Unknown cursor is empty, not an error.
	since, err = s.EventsSince(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, since)
}

func TestLoadRegistryAfterEnsureSchema(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.EnsureSchema(ctx))

	reg, err := s.LoadRegistry(ctx)
	require.NoError(t, err)

	def, err := reg.Roles.ByName("primary")
	require.NoError(t, err)
	assert.True(t, def.Protected)

	_, err = reg.RelTypes.ByName("consumes")
	assert.NoError(t, err)
}

func TestRegistryPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.EnsureSchema(ctx))

	reg, err := s.LoadRegistry(ctx)
	require.NoError(t, err)

	// Rename a built-in, persist, reload: the rename sticks and the key
	// is unchanged.
	require.NoError(t, reg.Roles.Rename("primary", "hero"))
	def, err := reg.Roles.ByName("hero")
	require.NoError(t, err)
	save(t, s, func(tx storage.Tx) error { return tx.SaveRole(ctx, def) })

	reloaded, err := s.LoadRegistry(ctx)
	require.NoError(t, err)
	hero, err := reloaded.Roles.ByName("hero")
	require.NoError(t, err)
	assert.Equal(t, def.Key, hero.Key)
	assert.False(t, reloaded.Roles.Has("primary"))
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := New()

	sess := &types.Session{ID: uuid.New(), ClientName: "flame", EndpointType: "dcc"}
	save(t, s, func(tx storage.Tx) error { return tx.OpenSession(ctx, sess) })

	active, err := s.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "flame", active[0].ClientName)

	save(t, s, func(tx storage.Tx) error { return tx.CloseSession(ctx, sess.ID) })
	active, err = s.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

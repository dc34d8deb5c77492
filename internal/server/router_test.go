package server

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgeworks/forge-bridge/internal/protocol"
	"github.com/forgeworks/forge-bridge/internal/registry"
	"github.com/forgeworks/forge-bridge/internal/storage"
	"github.com/forgeworks/forge-bridge/internal/storage/memory"
)

type routerFixture struct {
	router *Router
	store  *memory.Store
	reg    *registry.Registry
	conns  *ConnectionManager
	client *ConnectedClient
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.EnsureSchema(context.Background()))
	reg, err := store.LoadRegistry(context.Background())
	require.NoError(t, err)

	conns := NewConnectionManager(zap.NewNop())
	client := testClient("test")
	addClient(conns, client)

	return &routerFixture{
		router: NewRouter(store, reg, conns, zap.NewNop(), nil),
		store:  store,
		reg:    reg,
		conns:  conns,
		client: client,
	}
}

func (f *routerFixture) ok(t *testing.T, msg protocol.Message) map[string]any {
	t.Helper()
	reply := f.router.Dispatch(context.Background(), f.client, msg)
	require.Equal(t, protocol.MsgOK, reply.Type(), "reply: %v", reply)
	require.Equal(t, msg.ID(), reply.ID())
	return reply.GetMap("result")
}

func (f *routerFixture) fail(t *testing.T, msg protocol.Message, code string) protocol.Message {
	t.Helper()
	reply := f.router.Dispatch(context.Background(), f.client, msg)
	require.Equal(t, protocol.MsgError, reply.Type(), "reply: %v", reply)
	require.Equal(t, code, reply.GetString("code"), "message: %s", reply.GetString("message"))
	return reply
}

func (f *routerFixture) createProject(t *testing.T, name, code string) uuid.UUID {
	t.Helper()
	result := f.ok(t, protocol.ProjectCreate(name, code, nil))
	id, err := uuid.Parse(result["project_id"].(string))
	require.NoError(t, err)
	return id
}

func (f *routerFixture) createEntity(t *testing.T, msg protocol.Message) uuid.UUID {
	t.Helper()
	result := f.ok(t, msg)
	id, err := uuid.Parse(result["entity_id"].(string))
	require.NoError(t, err)
	return id
}

func TestDispatchPing(t *testing.T) {
	f := newRouterFixture(t)
	msg := protocol.Ping()
	reply := f.router.Dispatch(context.Background(), f.client, msg)
	assert.Equal(t, protocol.MsgPong, reply.Type())
	assert.Equal(t, msg.ID(), reply.ID())
}

func TestDispatchUnknownType(t *testing.T) {
	f := newRouterFixture(t)
	f.fail(t, protocol.Message{"type": "frobnicate", "id": "req-1"}, protocol.CodeUnknownType)
}

func TestProjectLifecycle(t *testing.T) {
	f := newRouterFixture(t)

	f.fail(t, protocol.ProjectCreate("", "", nil), protocol.CodeInvalid)

	pid := f.createProject(t, "Mars Landing", "mars")

	got := f.ok(t, protocol.ProjectGet(pid.String()))
	assert.Equal(t, "Mars Landing", got["name"])
	assert.Equal(t, "mars", got["code"])

	updated := f.ok(t, protocol.ProjectUpdate(pid.String(), "Mars Landing II", ""))
	assert.Equal(t, "Mars Landing II", updated["name"])
	assert.Equal(t, "mars", updated["code"])

	listed := f.ok(t, protocol.ProjectList())
	assert.Equal(t, 1, listed["count"])

	deleted := f.ok(t, protocol.ProjectDelete(pid.String()))
	assert.Equal(t, true, deleted["deleted"])

	f.fail(t, protocol.ProjectGet(pid.String()), protocol.CodeNotFound)
	f.fail(t, protocol.ProjectDelete(pid.String()), protocol.CodeNotFound)
}

func TestEntityLifecycle(t *testing.T) {
	f := newRouterFixture(t)
	pid := f.createProject(t, "Mars", "mars")

	msg := protocol.EntityCreate("shot", pid.String(), "sh010", "", nil)
	msg["cut_in"] = "00:00:41:17"
	msg["cut_out"] = "00:00:45:00"
	eid := f.createEntity(t, msg)

	got := f.ok(t, protocol.EntityGet(eid.String()))
	assert.Equal(t, "pending", got["status"])
	attrs := got["attributes"].(map[string]any)
	assert.Equal(t, "00:00:41:17", attrs["cut_in"])

	// Status aliases normalize on update.
	updated := f.ok(t, protocol.EntityUpdate(eid.String(), "", "wip", nil))
	assert.Equal(t, "in_progress", updated["status"])

	listed := f.ok(t, protocol.EntityList("shot", pid.String()))
	assert.Equal(t, 1, listed["count"])

	f.ok(t, protocol.EntityDelete(eid.String()))
	f.fail(t, protocol.EntityGet(eid.String()), protocol.CodeNotFound)
}

func TestEntityCreateValidation(t *testing.T) {
	f := newRouterFixture(t)
	pid := f.createProject(t, "Mars", "mars")

	f.fail(t, protocol.EntityCreate("widget", pid.String(), "x", "", nil), protocol.CodeUnknownType)
	f.fail(t, protocol.EntityCreate("shot", uuid.NewString(), "x", "", nil), protocol.CodeNotFound)
	f.fail(t, protocol.EntityCreate("shot", pid.String(), "x", "shipped", nil), protocol.CodeInvalid)

	bad := protocol.EntityCreate("shot", pid.String(), "sh010", "", nil)
	bad["cut_in"] = "not a timecode"
	f.fail(t, bad, protocol.CodeInvalid)

	badRate := protocol.EntityCreate("sequence", pid.String(), "seq01", "", nil)
	badRate["frame_rate"] = "zero"
	f.fail(t, badRate, protocol.CodeInvalid)
}

func TestShotStackQuery(t *testing.T) {
	f := newRouterFixture(t)
	pid := f.createProject(t, "Mars", "mars")
	shotID := f.createEntity(t, protocol.EntityCreate("shot", pid.String(), "sh010", "", nil))

	// A shot without a stack answers with empty layers.
	empty := f.ok(t, protocol.QueryShotStack(shotID.String()))
	assert.Empty(t, empty["layers"])

	stackMsg := protocol.EntityCreate("stack", pid.String(), "sh010_stack", "", nil)
	stackMsg["shot_id"] = shotID.String()
	stackID := f.createEntity(t, stackMsg)

	makeLayer := func(name, role string, order int) uuid.UUID {
		msg := protocol.EntityCreate("layer", pid.String(), name, "", nil)
		msg["role"] = role
		msg["stack_id"] = stackID.String()
		msg["order"] = order
		return f.createEntity(t, msg)
	}
	makeLayer("matte_layer", "matte", 2)
	makeLayer("bg_layer", "background", 1)
	makeLayer("hero_layer", "primary", 0)

	result := f.ok(t, protocol.QueryShotStack(shotID.String()))
	assert.Equal(t, stackID.String(), result["stack_id"])
	layers := result["layers"].([]map[string]any)
	require.Len(t, layers, 3)
	assert.Equal(t, "primary", layers[0]["role"])
	assert.Equal(t, "background", layers[1]["role"])
	assert.Equal(t, "matte", layers[2]["role"])
	assert.Equal(t, "Matte", layers[2]["role_label"])

	// Layer with an unknown role is rejected before anything persists.
	unknown := protocol.EntityCreate("layer", pid.String(), "ghost", "", nil)
	unknown["role"] = "nonexistent"
	f.fail(t, unknown, protocol.CodeNotFound)
}

func TestRoleFlows(t *testing.T) {
	f := newRouterFixture(t)

	result := f.ok(t, protocol.RoleRegister("glow", "Glow Pass", 30, "", nil))
	key := result["key"].(string)
	assert.NotEmpty(t, key)

	f.fail(t, protocol.RoleRegister("glow", "", 0, "", nil), protocol.CodeAlreadyExists)

	renamed := f.ok(t, protocol.RoleRename("glow", "glow_pass"))
	assert.Equal(t, key, renamed["key"])
	f.fail(t, protocol.RoleRename("glow", "other"), protocol.CodeNotFound)

	labeled := f.ok(t, protocol.RoleRenameLabel("glow_pass", "Glow FX"))
	assert.Equal(t, "Glow FX", labeled["label"])

	listed := f.ok(t, protocol.RoleList())
	roles := listed["roles"].([]map[string]any)
	var found map[string]any
	for _, r := range roles {
		if r["name"] == "glow_pass" {
			found = r
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "Glow FX", found["label"])
	assert.Equal(t, 0, found["ref_count"])

	deleted := f.ok(t, protocol.RoleDelete("glow_pass", ""))
	assert.Equal(t, 0, deleted["migrated"])
	assert.False(t, f.reg.Roles.Has("glow_pass"))

	f.fail(t, protocol.RoleDelete("primary", ""), protocol.CodeProtected)
}

func TestRoleDeleteMigratesLayers(t *testing.T) {
	f := newRouterFixture(t)
	pid := f.createProject(t, "Mars", "mars")

	f.ok(t, protocol.RoleRegister("glow", "", 30, "", nil))
	f.ok(t, protocol.RoleRegister("flare", "", 31, "", nil))

	layerMsg := protocol.EntityCreate("layer", pid.String(), "glow_layer", "", nil)
	layerMsg["role"] = "glow"
	layerID := f.createEntity(t, layerMsg)

	reply := f.fail(t, protocol.RoleDelete("glow", ""), protocol.CodeOrphanBlocked)
	details := reply.GetMap("details")
	assert.Equal(t, 1, details["ref_count"])
	assert.Equal(t, []string{layerID.String()}, details["entity_ids"])

	migrated := f.ok(t, protocol.RoleDelete("glow", "flare"))
	assert.Equal(t, 1, migrated["migrated"])

	// The stored layer now carries the surviving role's key.
	flareKey, err := f.reg.Roles.Key("flare")
	require.NoError(t, err)
	e, err := f.store.GetEntity(context.Background(), layerID)
	require.NoError(t, err)
	assert.Equal(t, flareKey.String(), e.Attributes["role_key"])

	count, err := f.reg.Roles.RefCount("flare")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// flakyStore fails every transaction while tripped, standing in for a
// database outage mid-request.
type flakyStore struct {
	*memory.Store
	fail bool
}

func (s *flakyStore) RunInTransaction(ctx context.Context, fn func(storage.Tx) error) error {
	if s.fail {
		return errors.New("database unavailable")
	}
	return s.Store.RunInTransaction(ctx, fn)
}

func TestRoleUpdateRevertsOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New()}
	require.NoError(t, store.EnsureSchema(ctx))
	reg, err := store.LoadRegistry(ctx)
	require.NoError(t, err)

	conns := NewConnectionManager(zap.NewNop())
	client := testClient("test")
	addClient(conns, client)
	router := NewRouter(store, reg, conns, zap.NewNop(), nil)

	before, err := reg.Roles.ByName("primary")
	require.NoError(t, err)
	oldLabel := before.Role.Label
	oldOrder := before.Role.Order
	require.NotContains(t, before.Role.Aliases, "nuke")

	update := protocol.Message{
		"type":    protocol.MsgRoleUpdate,
		"id":      "req-update",
		"name":    "primary",
		"label":   "Hero Plate",
		"order":   99,
		"aliases": map[string]any{"nuke": "Primary"},
	}

	store.fail = true
	reply := router.Dispatch(ctx, client, update)
	require.Equal(t, protocol.MsgError, reply.Type())
	assert.Equal(t, protocol.CodeInternal, reply.GetString("code"))

	// The in-memory registry never runs ahead of storage.
	after, err := reg.Roles.ByName("primary")
	require.NoError(t, err)
	assert.Equal(t, oldLabel, after.Role.Label)
	assert.Equal(t, oldOrder, after.Role.Order)
	assert.NotContains(t, after.Role.Aliases, "nuke")
	assert.Equal(t, before.Key, after.Key)

	store.fail = false
	reply = router.Dispatch(ctx, client, update)
	require.Equal(t, protocol.MsgOK, reply.Type())

	applied, err := reg.Roles.ByName("primary")
	require.NoError(t, err)
	assert.Equal(t, "Hero Plate", applied.Role.Label)
	assert.Equal(t, 99, applied.Role.Order)
	assert.Equal(t, "Primary", applied.Role.Aliases["nuke"])
}

func TestRelationshipFlow(t *testing.T) {
	f := newRouterFixture(t)
	pid := f.createProject(t, "Mars", "mars")
	shotID := f.createEntity(t, protocol.EntityCreate("shot", pid.String(), "sh010", "", nil))
	verMsg := protocol.EntityCreate("version", pid.String(), "sh010_v001", "", nil)
	verMsg["parent_id"] = shotID.String()
	verID := f.createEntity(t, verMsg)

	f.fail(t, protocol.RelationshipCreate(verID.String(), shotID.String(), "bogus_type", nil), protocol.CodeNotFound)
	f.fail(t, protocol.RelationshipCreate(uuid.NewString(), shotID.String(), "version_of", nil), protocol.CodeNotFound)

	created := f.ok(t, protocol.RelationshipCreate(verID.String(), shotID.String(), "version_of", nil))
	assert.Equal(t, "version_of", created["type_name"])
	assert.Equal(t, verID.String(), created["source_id"])

	deps := f.ok(t, protocol.QueryDependents(shotID.String()))
	assert.Equal(t, 1, deps["count"])
	assert.Equal(t, []string{verID.String()}, deps["dependents"])

	targets := f.ok(t, protocol.QueryDependencies(verID.String()))
	assert.Equal(t, []string{shotID.String()}, targets["dependencies"])

	removed := f.ok(t, protocol.RelationshipRemove(verID.String(), shotID.String(), "version_of"))
	assert.Equal(t, true, removed["removed"])
	f.fail(t, protocol.RelationshipRemove(verID.String(), shotID.String(), "version_of"), protocol.CodeNotFound)
}

func TestRelTypeFlows(t *testing.T) {
	f := newRouterFixture(t)
	pid := f.createProject(t, "Mars", "mars")
	a := f.createEntity(t, protocol.EntityCreate("media", pid.String(), "plate_a", "", nil))
	b := f.createEntity(t, protocol.EntityCreate("media", pid.String(), "plate_b", "", nil))

	f.ok(t, protocol.RelTypeRegister("feeds", "Feeds", "pipes media downstream", ""))
	f.fail(t, protocol.RelTypeRegister("feeds", "", "", ""), protocol.CodeAlreadyExists)

	f.ok(t, protocol.RelationshipCreate(a.String(), b.String(), "feeds", nil))

	f.fail(t, protocol.RelTypeDelete("feeds", ""), protocol.CodeOrphanBlocked)
	f.fail(t, protocol.RelTypeDelete("member_of", ""), protocol.CodeProtected)

	migrated := f.ok(t, protocol.RelTypeDelete("feeds", "references"))
	assert.Equal(t, 1, migrated["migrated"])

	// The stored edge now carries the surviving type's key.
	rels, err := f.store.ListRelationships(context.Background())
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, registry.SystemRelTypeKeys["references"], rels[0].RelTypeKey)

	listed := f.ok(t, protocol.RelTypeList())
	for _, rt := range listed["relationship_types"].([]map[string]any) {
		assert.NotEqual(t, "feeds", rt["name"])
	}
}

func TestLocationFlow(t *testing.T) {
	f := newRouterFixture(t)
	pid := f.createProject(t, "Mars", "mars")
	eid := f.createEntity(t, protocol.EntityCreate("media", pid.String(), "plate", "", nil))

	f.ok(t, protocol.LocationAdd(eid.String(), "/mnt/local/plate.exr", "local", 1))
	result := f.ok(t, protocol.LocationAdd(eid.String(), "/net/show/plate.exr", "network", 5))

	// Highest priority first.
	locations := result["locations"].([]map[string]any)
	require.Len(t, locations, 2)
	assert.Equal(t, "/net/show/plate.exr", locations[0]["path"])
	assert.Equal(t, "network", locations[0]["storage_type"])

	f.fail(t, protocol.LocationAdd(eid.String(), "/x", "tape", 0), protocol.CodeInvalid)
	f.fail(t, protocol.LocationRemove(eid.String(), "/nope"), protocol.CodeNotFound)

	removed := f.ok(t, protocol.LocationRemove(eid.String(), "/mnt/local/plate.exr"))
	assert.Len(t, removed["locations"], 1)
}

func TestQueryEvents(t *testing.T) {
	f := newRouterFixture(t)
	pid := f.createProject(t, "Mars", "mars")
	f.createEntity(t, protocol.EntityCreate("shot", pid.String(), "sh010", "", nil))
	f.createEntity(t, protocol.EntityCreate("shot", pid.String(), "sh020", "", nil))

	result := f.ok(t, protocol.QueryEvents(pid.String(), "", 2))
	events := result["events"].([]map[string]any)
	require.Len(t, events, 2)
	// Newest first.
	assert.Equal(t, "entity.created", events[0]["event_type"])
	assert.Equal(t, "test", events[0]["client_name"])
	payload := events[0]["payload"].(map[string]any)
	assert.Equal(t, "sh020", payload["name"])
}

func TestMutationsBroadcastToOthers(t *testing.T) {
	f := newRouterFixture(t)
	other := testClient("other")
	addClient(f.conns, other)

	f.createProject(t, "Mars", "mars")

	msg := receivedFrame(t, other)
	assert.Equal(t, protocol.MsgEvent, msg.Type())
	assert.Equal(t, "project.created", msg.GetString("event_type"))
	assert.Equal(t, "Mars", msg.GetMap("payload")["name"])

	// The originator gets the ok reply, never its own event.
	assert.Empty(t, f.client.out)
}

func TestSubscribeHandler(t *testing.T) {
	f := newRouterFixture(t)
	other := testClient("other")
	addClient(f.conns, other)

	elsewhere := uuid.New()
	result := f.ok(t, protocol.Subscribe(elsewhere.String()))
	assert.Equal(t, elsewhere.String(), result["subscribed"])

	// Filtered out: the mutation is scoped to a different project.
	otherResult := f.router.Dispatch(context.Background(), other, protocol.Subscribe(elsewhere.String()))
	require.Equal(t, protocol.MsgOK, otherResult.Type())
	f.createProject(t, "Mars", "mars")
	assert.Empty(t, other.out)

	f.ok(t, protocol.Unsubscribe(elsewhere.String()))
	assert.Empty(t, f.client.Subscriptions())
}

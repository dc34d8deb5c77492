package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSerializeRoundTrip(t *testing.T) {
	msg := EntityCreate("shot", "pid", "sh010", "pending", map[string]any{"cut_in": "00:00:41:17"})
	raw, err := msg.Serialize()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, MsgEntityCreate, parsed.Type())
	assert.Equal(t, msg.ID(), parsed.ID())
	assert.Equal(t, "sh010", parsed.GetString("name"))
	assert.Equal(t, "00:00:41:17", parsed.GetMap("attributes")["cut_in"])
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)

	_, err = Parse([]byte(`"a string"`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"no_type": true}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type")

	_, err = Parse([]byte(`{"type": 42}`))
	assert.Error(t, err)
}

func TestGetInt(t *testing.T) {
	// JSON numbers decode as float64.
	msg, err := Parse([]byte(`{"type": "x", "limit": 50, "order": 2.0}`))
	require.NoError(t, err)
	assert.Equal(t, 50, msg.GetInt("limit", 0))
	assert.Equal(t, 2, msg.GetInt("order", 0))
	assert.Equal(t, 7, msg.GetInt("missing", 7))
}

func TestGetUUID(t *testing.T) {
	msg := Message{"type": "x", "project_id": "a41c27a2-8f2e-4f1a-9f70-8f1f8a2b3c4d"}
	id, err := msg.GetUUID("project_id")
	require.NoError(t, err)
	assert.Equal(t, "a41c27a2-8f2e-4f1a-9f70-8f1f8a2b3c4d", id.String())

	_, err = msg.GetUUID("missing")
	assert.Error(t, err)

	msg["bad"] = "not-a-uuid"
	_, err = msg.GetUUID("bad")
	assert.Error(t, err)
}

func TestHelloLastEventID(t *testing.T) {
	msg := Hello("flame", "dcc", nil, "")
	assert.Nil(t, msg["last_event_id"])

	msg = Hello("flame", "dcc", nil, "evt-1")
	assert.Equal(t, "evt-1", msg["last_event_id"])
	assert.NotEmpty(t, msg.ID())
}

func TestErrorFrame(t *testing.T) {
	msg := Error("", CodeInvalid, "bad frame", nil)
	assert.Nil(t, msg["id"])
	assert.Equal(t, CodeInvalid, msg.GetString("code"))

	msg = Error("req-1", CodeNotFound, "gone", map[string]any{"ref_count": 3})
	assert.Equal(t, "req-1", msg.ID())
	assert.Equal(t, 3, msg.GetMap("details")["ref_count"])
}

func TestEventFrame(t *testing.T) {
	msg := Event("entity.updated", map[string]any{"name": "sh010"}, "pid", "eid", "evt-9")
	assert.Equal(t, MsgEvent, msg.Type())
	assert.Equal(t, "evt-9", msg.GetString("event_id"))
	assert.Equal(t, "pid", msg.GetString("project_id"))
	assert.False(t, msg.IsRequest())

	// No scope: project and entity go out as null, and an id is minted.
	msg = Event("role.renamed", nil, "", "", "")
	assert.Nil(t, msg["project_id"])
	assert.Nil(t, msg["entity_id"])
	assert.NotEmpty(t, msg.GetString("event_id"))
}

func TestRoleDeleteOmitsEmptyMigrateTo(t *testing.T) {
	msg := RoleDelete("temp", "")
	_, present := msg["migrate_to"]
	assert.False(t, present)

	msg = RoleDelete("temp", "target")
	assert.Equal(t, "target", msg.GetString("migrate_to"))
}

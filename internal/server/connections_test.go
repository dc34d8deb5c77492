package server

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgeworks/forge-bridge/internal/protocol"
)

// testClient builds a client with no socket. Frames queue on the out
// channel where tests can read them; the writer goroutine never runs.
func testClient(name string) *ConnectedClient {
	return newConnectedClient(uuid.New(), name, "tool", nil, zap.NewNop())
}

// addClient inserts a client without starting its writer.
func addClient(m *ConnectionManager, c *ConnectedClient) {
	m.mu.Lock()
	m.clients[c.SessionID] = c
	m.mu.Unlock()
}

func receivedFrame(t *testing.T, c *ConnectedClient) protocol.Message {
	t.Helper()
	select {
	case raw := <-c.out:
		msg, err := protocol.Parse(raw)
		require.NoError(t, err)
		return msg
	default:
		t.Fatal("no frame queued")
		return nil
	}
}

func TestSendDropsWhenBufferFull(t *testing.T) {
	c := testClient("slow")
	for i := 0; i < outBufferSize; i++ {
		require.NoError(t, c.Send(protocol.Ping()))
	}
	// Full buffer: the frame is dropped, not blocked on.
	require.NoError(t, c.Send(protocol.Ping()))
	assert.Len(t, c.out, outBufferSize)
}

func TestSubscribesTo(t *testing.T) {
	c := testClient("flame")
	p1, p2 := uuid.New(), uuid.New()

	// No filters: everything matches.
	assert.True(t, c.SubscribesTo(&p1))
	assert.True(t, c.SubscribesTo(nil))

	c.Subscribe(p1)
	assert.True(t, c.SubscribesTo(&p1))
	assert.False(t, c.SubscribesTo(&p2))
	// Unscoped events reach everyone regardless of filters.
	assert.True(t, c.SubscribesTo(nil))

	c.Unsubscribe(p1)
	assert.True(t, c.SubscribesTo(&p2))
}

func TestBroadcastExcludesOriginator(t *testing.T) {
	m := NewConnectionManager(zap.NewNop())
	origin := testClient("origin")
	other := testClient("other")
	addClient(m, origin)
	addClient(m, other)

	pid := uuid.New()
	n := m.BroadcastEvent("entity.updated", map[string]any{"name": "sh010"}, &pid, nil, "evt-1", origin.SessionID)
	assert.Equal(t, 1, n)

	msg := receivedFrame(t, other)
	assert.Equal(t, protocol.MsgEvent, msg.Type())
	assert.Equal(t, "entity.updated", msg.GetString("event_type"))
	assert.Equal(t, "evt-1", msg.GetString("event_id"))
	assert.Equal(t, "evt-1", other.LastEventID())

	assert.Empty(t, origin.out)
	assert.Empty(t, origin.LastEventID())
}

func TestBroadcastHonorsSubscriptions(t *testing.T) {
	m := NewConnectionManager(zap.NewNop())
	subscribed := testClient("subscribed")
	elsewhere := testClient("elsewhere")
	addClient(m, subscribed)
	addClient(m, elsewhere)

	p1, p2 := uuid.New(), uuid.New()
	subscribed.Subscribe(p1)
	elsewhere.Subscribe(p2)

	n := m.BroadcastEvent("project.updated", nil, &p1, nil, "evt-2", uuid.Nil)
	assert.Equal(t, 1, n)
	assert.Len(t, subscribed.out, 1)
	assert.Empty(t, elsewhere.out)

	// Events without a project scope reach both.
	n = m.BroadcastEvent("role.renamed", nil, nil, nil, "evt-3", uuid.Nil)
	assert.Equal(t, 2, n)
}

func TestUnregister(t *testing.T) {
	m := NewConnectionManager(zap.NewNop())
	c := testClient("flame")
	addClient(m, c)
	assert.Equal(t, 1, m.Count())
	assert.Same(t, c, m.Get(c.SessionID))

	m.Unregister(c.SessionID)
	assert.Equal(t, 0, m.Count())
	assert.Nil(t, m.Get(c.SessionID))

	select {
	case <-c.done:
	default:
		t.Fatal("done channel not closed")
	}

	// Unregistering twice is harmless.
	m.Unregister(c.SessionID)
}

func TestStatus(t *testing.T) {
	m := NewConnectionManager(zap.NewNop())
	c := testClient("flame")
	pid := uuid.New()
	c.Subscribe(pid)
	addClient(m, c)

	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "flame", status[0]["client_name"])
	assert.Equal(t, []string{pid.String()}, status[0]["subscriptions"])
}

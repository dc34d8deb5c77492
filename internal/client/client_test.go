package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgeworks/forge-bridge/internal/config"
	"github.com/forgeworks/forge-bridge/internal/protocol"
	"github.com/forgeworks/forge-bridge/internal/server"
	"github.com/forgeworks/forge-bridge/internal/storage/memory"
)

func TestListenersAndLastEventID(t *testing.T) {
	c := New("ws://unused")

	var typed, wildcard []Event
	remove := c.On("entity.updated", func(ev Event) { typed = append(typed, ev) })
	c.On("*", func(ev Event) { wildcard = append(wildcard, ev) })

	c.handleEvent(protocol.Event("entity.updated", map[string]any{"name": "sh010"}, "", "", "evt-1"))
	c.handleEvent(protocol.Event("role.renamed", nil, "", "", "evt-2"))

	require.Len(t, typed, 1)
	assert.Equal(t, "sh010", typed[0].Payload["name"])
	assert.Len(t, wildcard, 2)
	assert.Equal(t, "evt-2", c.LastEventID())

	remove()
	c.handleEvent(protocol.Event("entity.updated", nil, "", "", "evt-3"))
	assert.Len(t, typed, 1)
	assert.Len(t, wildcard, 3)
}

// startTestServer runs a real bridge on a loopback port backed by the
// in-memory store.
func startTestServer(t *testing.T) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())

	cfg := &config.Config{Host: "127.0.0.1", Port: port, ServerVersion: "test"}
	srv, err := server.New(cfg, memory.New(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", cfg.Addr(), 200*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up on %s", cfg.Addr())
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Sprintf("ws://%s/ws", cfg.Addr())
}

func startClient(t *testing.T, url, name string) *Client {
	t.Helper()
	c := New(url, WithClientName(name), WithRequestTimeout(5*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Start(ctx))
	t.Cleanup(c.Stop)
	return c
}

func TestConnectAndRequest(t *testing.T) {
	url := startTestServer(t)
	c := startClient(t, url, "flame")
	ctx := context.Background()

	assert.NotEmpty(t, c.SessionID())
	assert.NotEmpty(t, c.RegistrySummary())
	require.NoError(t, c.Ping(ctx))

	b := NewBridge(c)
	pid, err := b.CreateProject(ctx, "Mars Landing", "mars", nil)
	require.NoError(t, err)

	p, err := b.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, "mars", p["code"])

	projects, err := b.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestServerErrorSurfaces(t *testing.T) {
	url := startTestServer(t)
	c := startClient(t, url, "flame")

	_, err := NewBridge(c).GetProject(context.Background(), "00000000-0000-0000-0000-0000000000aa")
	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, protocol.CodeNotFound, serr.Code)
}

func TestEventDelivery(t *testing.T) {
	url := startTestServer(t)
	producer := startClient(t, url, "producer")
	consumer := startClient(t, url, "consumer")

	events := make(chan Event, 4)
	consumer.On("project.created", func(ev Event) { events <- ev })

	pid, err := NewBridge(producer).CreateProject(context.Background(), "Mars", "mars", nil)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "Mars", ev.Payload["name"])
		assert.Equal(t, pid, ev.ProjectID)
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, ev.ID, consumer.LastEventID())
	case <-time.After(5 * time.Second):
		t.Fatal("event never arrived")
	}

	// The originator does not receive its own event.
	assert.Empty(t, producer.LastEventID())
}

func TestSubscriptionFiltering(t *testing.T) {
	url := startTestServer(t)
	producer := startClient(t, url, "producer")
	consumer := startClient(t, url, "consumer")
	ctx := context.Background()

	b := NewBridge(producer)
	watched, err := b.CreateProject(ctx, "Watched", "wat", nil)
	require.NoError(t, err)
	ignored, err := b.CreateProject(ctx, "Ignored", "ign", nil)
	require.NoError(t, err)

	require.NoError(t, consumer.Subscribe(ctx, watched))

	events := make(chan Event, 4)
	consumer.On("entity.created", func(ev Event) { events <- ev })

	_, err = b.CreateShot(ctx, ignored, "sh900", "", "", "")
	require.NoError(t, err)
	_, err = b.CreateShot(ctx, watched, "sh010", "", "", "")
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "sh010", ev.Payload["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("event never arrived")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event for %v", ev.Payload["name"])
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReplayOnHello(t *testing.T) {
	url := startTestServer(t)
	producer := startClient(t, url, "producer")
	consumer := startClient(t, url, "consumer")
	ctx := context.Background()

	events := make(chan Event, 4)
	consumer.On("project.created", func(ev Event) { events <- ev })

	b := NewBridge(producer)
	_, err := b.CreateProject(ctx, "Alpha", "alp", nil)
	require.NoError(t, err)

	var cursor string
	select {
	case ev := <-events:
		cursor = ev.ID
	case <-time.After(5 * time.Second):
		t.Fatal("first event never arrived")
	}

	_, err = b.CreateProject(ctx, "Beta", "bet", nil)
	require.NoError(t, err)

	// A hello carrying the cursor gets everything after it replayed
	// right behind the welcome.
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	raw, err := protocol.Hello("replayer", "test", nil, cursor).Serialize()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err = conn.ReadMessage()
	require.NoError(t, err)
	welcome, err := protocol.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, protocol.MsgWelcome, welcome.Type())

	_, raw, err = conn.ReadMessage()
	require.NoError(t, err)
	replayed, err := protocol.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgEvent, replayed.Type())
	assert.Equal(t, "project.created", replayed.GetString("event_type"))
	assert.Equal(t, "Beta", replayed.GetMap("payload")["name"])
}

func TestBridgeShotStack(t *testing.T) {
	url := startTestServer(t)
	c := startClient(t, url, "conductor")
	ctx := context.Background()
	b := NewBridge(c)

	pid, err := b.CreateProject(ctx, "Mars", "mars", nil)
	require.NoError(t, err)
	shotID, err := b.CreateShot(ctx, pid, "sh010", "", "00:00:41:17", "00:00:45:00")
	require.NoError(t, err)

	stackID, layerIDs, err := b.CreateShotStack(ctx, pid, shotID, []StackLayer{
		{Name: "bg", Role: "background"},
		{Name: "hero", Role: "primary", Order: 1},
		{Name: "matte", Role: "matte", Order: 2},
	})
	require.NoError(t, err)
	require.Len(t, layerIDs, 3)

	result, err := b.ShotStack(ctx, shotID)
	require.NoError(t, err)
	assert.Equal(t, stackID, result["stack_id"])
	layers, _ := result["layers"].([]any)
	require.Len(t, layers, 3)
	first := layers[0].(map[string]any)
	assert.Equal(t, "background", first["role"])

	deps, err := b.Dependents(ctx, stackID)
	require.NoError(t, err)
	assert.ElementsMatch(t, layerIDs, deps)

	stacks, err := b.Dependents(ctx, shotID)
	require.NoError(t, err)
	assert.Equal(t, []string{stackID}, stacks)
}

// Many goroutines share one connection; frame writes must come out
// whole. Run with -race.
func TestConcurrentRequestsShareOneConnection(t *testing.T) {
	url := startTestServer(t)
	c := startClient(t, url, "swarm")
	ctx := context.Background()
	b := NewBridge(c)

	_, err := b.CreateProject(ctx, "Mars", "mars", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, c.Ping(ctx))
				_, err := b.ListProjects(ctx)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func TestStopRejectsRequests(t *testing.T) {
	url := startTestServer(t)
	c := startClient(t, url, "flame")
	c.Stop()

	_, err := c.Request(context.Background(), protocol.ProjectList())
	assert.True(t, errors.Is(err, ErrClosed))
}

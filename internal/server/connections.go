package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/forgeworks/forge-bridge/internal/protocol"
)

// Write-side tuning for one client connection.
const (
	writeWait     = 10 * time.Second
	pingPeriod    = 30 * time.Second
	pongWait      = 40 * time.Second
	outBufferSize = 256
)

// ConnectedClient is one live WebSocket session. All writes go through
// the out channel and a single writer goroutine; handlers never touch
// the socket directly.
type ConnectedClient struct {
	SessionID    uuid.UUID
	ClientName   string
	EndpointType string
	ConnectedAt  time.Time

	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	log  *zap.Logger

	mu            sync.Mutex
	subscriptions map[uuid.UUID]struct{}
	lastEventID   string
	closeOnce     sync.Once
}

func newConnectedClient(sessionID uuid.UUID, clientName, endpointType string, conn *websocket.Conn, log *zap.Logger) *ConnectedClient {
	return &ConnectedClient{
		SessionID:     sessionID,
		ClientName:    clientName,
		EndpointType:  endpointType,
		ConnectedAt:   time.Now().UTC(),
		conn:          conn,
		out:           make(chan []byte, outBufferSize),
		done:          make(chan struct{}),
		log:           log.With(zap.String("session_id", sessionID.String()), zap.String("client", clientName)),
		subscriptions: map[uuid.UUID]struct{}{},
	}
}

// Send queues a message for the writer. A full buffer drops the frame
// rather than blocking the broadcaster; slow consumers catch up via
// replay on reconnect.
func (c *ConnectedClient) Send(msg protocol.Message) error {
	raw, err := msg.Serialize()
	if err != nil {
		return err
	}
	select {
	case c.out <- raw:
		return nil
	case <-c.done:
		return nil
	default:
		c.log.Warn("send buffer full, dropping frame", zap.String("type", msg.Type()))
		return nil
	}
}

// writePump owns the socket's write side: queued frames plus the
// keepalive ping tick. Returns when the out channel closes or a write
// fails.
func (c *ConnectedClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *ConnectedClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Subscribe adds a project filter.
func (c *ConnectedClient) Subscribe(projectID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[projectID] = struct{}{}
}

// Unsubscribe removes a project filter.
func (c *ConnectedClient) Unsubscribe(projectID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, projectID)
}

// SubscribesTo reports whether an event scoped to projectID reaches
// this client. No subscriptions means subscribe-to-everything, and
// events without a project scope reach everyone.
func (c *ConnectedClient) SubscribesTo(projectID *uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) == 0 || projectID == nil {
		return true
	}
	_, ok := c.subscriptions[*projectID]
	return ok
}

// Subscriptions returns the current project filters.
func (c *ConnectedClient) Subscriptions() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		ids = append(ids, id)
	}
	return ids
}

// SetLastEventID records the newest event delivered to this client.
func (c *ConnectedClient) SetLastEventID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEventID = id
}

// LastEventID returns the newest event delivered to this client.
func (c *ConnectedClient) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// ConnectionManager tracks live sessions and fans events out to them.
type ConnectionManager struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*ConnectedClient
	log     *zap.Logger
}

// NewConnectionManager returns an empty manager.
func NewConnectionManager(log *zap.Logger) *ConnectionManager {
	return &ConnectionManager{
		clients: map[uuid.UUID]*ConnectedClient{},
		log:     log,
	}
}

// Register adds a client and starts its writer.
func (m *ConnectionManager) Register(c *ConnectedClient) {
	m.mu.Lock()
	m.clients[c.SessionID] = c
	count := len(m.clients)
	m.mu.Unlock()
	go c.writePump()
	m.log.Info("client connected",
		zap.String("client", c.ClientName),
		zap.String("session_id", c.SessionID.String()),
		zap.Int("connected", count))
}

// Unregister removes a client and stops its writer.
func (m *ConnectionManager) Unregister(sessionID uuid.UUID) {
	m.mu.Lock()
	c, ok := m.clients[sessionID]
	if ok {
		delete(m.clients, sessionID)
	}
	count := len(m.clients)
	m.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	m.log.Info("client disconnected",
		zap.String("client", c.ClientName),
		zap.String("session_id", sessionID.String()),
		zap.Int("connected", count))
}

// Get returns the client for a session, or nil.
func (m *ConnectionManager) Get(sessionID uuid.UUID) *ConnectedClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[sessionID]
}

// Count returns the number of live sessions.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// SendTo queues a message for one session.
func (m *ConnectionManager) SendTo(sessionID uuid.UUID, msg protocol.Message) error {
	c := m.Get(sessionID)
	if c == nil {
		return nil
	}
	return c.Send(msg)
}

// BroadcastEvent fans an event out to every client whose subscriptions
// match, except the originator. Returns the number of recipients.
func (m *ConnectionManager) BroadcastEvent(eventType string, payload map[string]any, projectID, entityID *uuid.UUID, eventID string, exclude uuid.UUID) int {
	var pid, eid string
	if projectID != nil {
		pid = projectID.String()
	}
	if entityID != nil {
		eid = entityID.String()
	}
	msg := protocol.Event(eventType, payload, pid, eid, eventID)

	m.mu.RLock()
	targets := make([]*ConnectedClient, 0, len(m.clients))
	for id, c := range m.clients {
		if id == exclude {
			continue
		}
		if c.SubscribesTo(projectID) {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			m.log.Warn("broadcast failed", zap.String("client", c.ClientName), zap.Error(err))
			continue
		}
		c.SetLastEventID(eventID)
	}
	return len(targets)
}

// Status summarizes the live sessions for the status endpoint.
func (m *ConnectionManager) Status() []map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]map[string]any, 0, len(m.clients))
	for _, c := range m.clients {
		subs := c.Subscriptions()
		subStrs := make([]string, len(subs))
		for i, id := range subs {
			subStrs[i] = id.String()
		}
		out = append(out, map[string]any{
			"session_id":    c.SessionID.String(),
			"client_name":   c.ClientName,
			"endpoint_type": c.EndpointType,
			"connected_at":  c.ConnectedAt.Format(time.RFC3339),
			"subscriptions": subStrs,
		})
	}
	return out
}

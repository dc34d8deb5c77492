// Package client implements the bridge client: an auto-reconnecting
// WebSocket connection with request/response correlation, event
// subscriptions, and replay of missed events after reconnect.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/forgeworks/forge-bridge/internal/protocol"
)

// ErrClosed is returned by requests issued after Stop.
var ErrClosed = errors.New("client closed")

// ErrDisconnected rejects requests in flight when the connection
// drops; callers retry after the client reconnects.
var ErrDisconnected = errors.New("connection lost")

// ServerError is an error frame from the server.
type ServerError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Event is a server-push event delivered to listeners.
type Event struct {
	ID        string
	Type      string
	ProjectID string
	EntityID  string
	Payload   map[string]any
}

// EventHandler receives events. Handlers run on the read goroutine;
// long work belongs on the handler's own goroutine.
type EventHandler func(Event)

// Option configures a Client.
type Option func(*Client)

func WithClientName(name string) Option {
	return func(c *Client) { c.name = name }
}

func WithEndpointType(endpointType string) Option {
	return func(c *Client) { c.endpointType = endpointType }
}

func WithCapabilities(caps map[string]any) Option {
	return func(c *Client) { c.capabilities = caps }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithRequestTimeout bounds each Request when the caller's context has
// no deadline of its own.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// Client is a bridge connection. Safe for concurrent use; one read
// goroutine owns the inbound side, writeMu serializes frame writes,
// and mu guards the rest.
type Client struct {
	url            string
	name           string
	endpointType   string
	capabilities   map[string]any
	log            *zap.Logger
	requestTimeout time.Duration

	// gorilla/websocket permits a single concurrent writer per
	// connection; every WriteMessage goes through writeMu.
	writeMu sync.Mutex

	mu              sync.Mutex
	conn            *websocket.Conn
	pending         map[string]chan protocol.Message
	listeners       map[string]map[int]EventHandler
	nextListenerID  int
	subscriptions   map[string]struct{}
	sessionID       string
	lastEventID     string
	registrySummary map[string]any
	stopped         bool

	stop chan struct{}
	done chan struct{}
}

// New builds a client for a ws:// URL. Start connects.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		name:           "go-client",
		endpointType:   "generic",
		log:            zap.NewNop(),
		requestTimeout: 30 * time.Second,
		pending:        map[string]chan protocol.Message{},
		listeners:      map[string]map[int]EventHandler{},
		subscriptions:  map[string]struct{}{},
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start connects, retrying with exponential backoff until the first
// connection succeeds or ctx is cancelled, then keeps the connection
// alive in the background.
func (c *Client) Start(ctx context.Context) error {
	policy := c.backoffPolicy()
	err := backoff.Retry(func() error {
		return c.connect(ctx)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return err
	}
	go c.run()
	return nil
}

func (c *Client) backoffPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxInterval = 60 * time.Second
	policy.MaxElapsedTime = 0
	return policy
}

// connect dials, sends hello, and waits for welcome. lastEventID rides
// on the hello so the server replays anything missed.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	last := c.lastEventID
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	hello := protocol.Hello(c.name, c.endpointType, c.capabilities, last)
	if err := c.writeFrame(conn, hello); err != nil {
		conn.Close()
		return err
	}

	conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return err
	}
	conn.SetReadDeadline(time.Time{})

	msg, err := protocol.Parse(reply)
	if err != nil {
		conn.Close()
		return err
	}
	if msg.Type() != protocol.MsgWelcome {
		conn.Close()
		return fmt.Errorf("expected welcome, got %s", msg.Type())
	}

	c.mu.Lock()
	c.conn = conn
	c.sessionID = msg.GetString("session_id")
	c.registrySummary = msg.GetMap("registry_summary")
	c.mu.Unlock()

	c.log.Info("connected to bridge",
		zap.String("url", c.url),
		zap.String("session_id", c.sessionID))
	return nil
}

// run reads frames until Stop, reconnecting on failure.
func (c *Client) run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			c.readUntilError(conn)
		}

		select {
		case <-c.stop:
			return
		default:
		}

		c.failPending(ErrDisconnected)
		c.log.Warn("connection lost, reconnecting")

		ctx, cancel := c.stopContext()
		err := backoff.Retry(func() error {
			return c.connect(ctx)
		}, backoff.WithContext(c.backoffPolicy(), ctx))
		cancel()
		if err != nil {
			return
		}
		c.resubscribe()
	}
}

// stopContext returns a context cancelled by Stop.
func (c *Client) stopContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (c *Client) readUntilError(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		msg, err := protocol.Parse(raw)
		if err != nil {
			c.log.Warn("unparseable frame", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg protocol.Message) {
	switch msg.Type() {
	case protocol.MsgOK, protocol.MsgError, protocol.MsgPong:
		c.mu.Lock()
		ch, ok := c.pending[msg.ID()]
		if ok {
			delete(c.pending, msg.ID())
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	case protocol.MsgEvent:
		c.handleEvent(msg)
	case protocol.MsgWelcome:
		// A mid-stream welcome means the server restarted underneath an
		// already-open socket; refresh the session.
		c.mu.Lock()
		c.sessionID = msg.GetString("session_id")
		c.registrySummary = msg.GetMap("registry_summary")
		c.mu.Unlock()
	default:
		c.log.Debug("unhandled frame", zap.String("type", msg.Type()))
	}
}

func (c *Client) handleEvent(msg protocol.Message) {
	ev := Event{
		ID:        msg.GetString("event_id"),
		Type:      msg.GetString("event_type"),
		ProjectID: msg.GetString("project_id"),
		EntityID:  msg.GetString("entity_id"),
		Payload:   msg.GetMap("payload"),
	}

	c.mu.Lock()
	if ev.ID != "" {
		c.lastEventID = ev.ID
	}
	var handlers []EventHandler
	for _, h := range c.listeners[ev.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range c.listeners["*"] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Request sends a request frame and waits for the matching reply.
// Server errors come back as *ServerError.
func (c *Client) Request(ctx context.Context, msg protocol.Message) (map[string]any, error) {
	id := msg.ID()
	if id == "" {
		return nil, errors.New("request message has no id")
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	ch := make(chan protocol.Message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeFrame(conn, msg); err != nil {
		c.dropPending(id)
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	select {
	case reply := <-ch:
		if reply.Type() == protocol.MsgError {
			return nil, &ServerError{
				Code:    reply.GetString("code"),
				Message: reply.GetString("message"),
				Details: reply.GetMap("details"),
			}
		}
		return reply.GetMap("result"), nil
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

// writeFrame serializes msg and writes it as one text frame, holding
// writeMu for the duration of the write.
func (c *Client) writeFrame(conn *websocket.Conn, msg protocol.Message) error {
	raw, err := msg.Serialize()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failPending rejects every in-flight request. The reply channel is
// buffered, so a late writer never blocks.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = map[string]chan protocol.Message{}
	c.mu.Unlock()
	for id, ch := range pending {
		ch <- protocol.Error(id, protocol.CodeInternal, err.Error(), nil)
	}
}

// On registers a handler for an event type. "*" matches every event.
// The returned function removes the handler.
func (c *Client) On(eventType string, handler EventHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners[eventType] == nil {
		c.listeners[eventType] = map[int]EventHandler{}
	}
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[eventType][id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners[eventType], id)
	}
}

// Subscribe filters events to a project. Subscriptions survive
// reconnects.
func (c *Client) Subscribe(ctx context.Context, projectID string) error {
	if _, err := c.Request(ctx, protocol.Subscribe(projectID)); err != nil {
		return err
	}
	c.mu.Lock()
	c.subscriptions[projectID] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes a project filter.
func (c *Client) Unsubscribe(ctx context.Context, projectID string) error {
	if _, err := c.Request(ctx, protocol.Unsubscribe(projectID)); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.subscriptions, projectID)
	c.mu.Unlock()
	return nil
}

// resubscribe replays the subscription set on a fresh connection.
func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		subs = append(subs, id)
	}
	c.mu.Unlock()

	for _, projectID := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := c.Request(ctx, protocol.Subscribe(projectID))
		cancel()
		if err != nil {
			c.log.Warn("resubscribe failed", zap.String("project_id", projectID), zap.Error(err))
		}
	}
}

// Ping round-trips a protocol ping.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped || c.conn == nil {
		c.mu.Unlock()
		return ErrDisconnected
	}
	conn := c.conn
	msg := protocol.Ping()
	ch := make(chan protocol.Message, 1)
	c.pending[msg.ID()] = ch
	c.mu.Unlock()

	if err := c.writeFrame(conn, msg); err != nil {
		c.dropPending(msg.ID())
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		c.dropPending(msg.ID())
		return ctx.Err()
	}
}

// SessionID returns the server-assigned session id.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// LastEventID returns the newest event seen, the replay cursor for the
// next reconnect.
func (c *Client) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// RegistrySummary returns the registry snapshot from the last welcome.
func (c *Client) RegistrySummary() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registrySummary
}

// Stop says bye, closes the socket, and rejects in-flight requests.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	conn := c.conn
	c.mu.Unlock()

	close(c.stop)
	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if raw, err := protocol.Bye("client_shutdown").Serialize(); err == nil {
			conn.WriteMessage(websocket.TextMessage, raw)
		}
		c.writeMu.Unlock()
		conn.Close()
	}
	c.failPending(ErrClosed)

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
	}
}

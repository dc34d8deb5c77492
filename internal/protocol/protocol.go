// Package protocol defines the wire protocol. Every message that
// crosses the socket is defined here, client→server and server→client;
// both sides import this package. If it isn't here it doesn't exist on
// the wire.
//
// Message format: a JSON object with at minimum a "type" field.
// Requests carry a client-generated "id"; the server's ok/error reply
// echoes it so the client can correlate responses. Server-push events
// carry no request id:
//
//	{"type": "event", "event_id": "...", "event_type": "entity.updated",
//	 "project_id": "...", "entity_id": "...", "payload": {...}}
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message types.
const (
	// Handshake
	MsgHello   = "hello"
	MsgWelcome = "welcome"
	MsgPing    = "ping"
	MsgPong    = "pong"
	MsgBye     = "bye"

	// Generic responses
	MsgOK    = "ok"
	MsgError = "error"

	// Registry: roles
	MsgRoleRegister = "role.register"
	MsgRoleRename   = "role.rename"
	MsgRoleLabel    = "role.rename_label"
	MsgRoleUpdate   = "role.update"
	MsgRoleDelete   = "role.delete"
	MsgRoleList     = "role.list"

	// Registry: relationship types
	MsgRelTypeRegister = "rel_type.register"
	MsgRelTypeRename   = "rel_type.rename"
	MsgRelTypeLabel    = "rel_type.rename_label"
	MsgRelTypeDelete   = "rel_type.delete"
	MsgRelTypeList     = "rel_type.list"

	// Projects
	MsgProjectCreate = "project.create"
	MsgProjectUpdate = "project.update"
	MsgProjectGet    = "project.get"
	MsgProjectList   = "project.list"
	MsgProjectDelete = "project.delete"

	// Entities
	MsgEntityCreate = "entity.create"
	MsgEntityUpdate = "entity.update"
	MsgEntityGet    = "entity.get"
	MsgEntityList   = "entity.list"
	MsgEntityDelete = "entity.delete"

	// Graph
	MsgRelCreate = "relationship.create"
	MsgRelRemove = "relationship.remove"
	MsgLocAdd    = "location.add"
	MsgLocRemove = "location.remove"

	// Queries
	MsgQueryDependents   = "query.dependents"
	MsgQueryDependencies = "query.dependencies"
	MsgQueryShotStack    = "query.shot_stack"
	MsgQueryEvents       = "query.events"

	// Subscriptions
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"

	// Server push
	MsgEvent = "event"
)

// Error codes.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyExists = "ALREADY_EXISTS"
	CodeOrphanBlocked = "ORPHAN_BLOCKED"
	CodeProtected     = "PROTECTED"
	CodeInvalid       = "INVALID"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInternal      = "INTERNAL"
	CodeUnknownType   = "UNKNOWN_TYPE"
)

// Message is a wire message: a JSON object with a type field and
// helpers. Keeping the open map representation means Parse(Serialize(m))
// returns m exactly, whatever extra fields a peer added.
type Message map[string]any

// Parse deserializes a JSON frame.
func Parse(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("parse message: expected JSON object")
	}
	if _, ok := m["type"].(string); !ok {
		return nil, fmt.Errorf("parse message: missing 'type' field")
	}
	return m, nil
}

// Serialize encodes the message as a JSON frame.
func (m Message) Serialize() ([]byte, error) {
	return json.Marshal(m)
}

// Type returns the message type.
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// ID returns the request id, or "" for messages without one.
func (m Message) ID() string {
	id, _ := m["id"].(string)
	return id
}

// IsRequest reports whether the message carries a request id.
func (m Message) IsRequest() bool {
	_, ok := m["id"]
	return ok
}

// GetString returns a string field, or "" when absent or not a string.
func (m Message) GetString(key string) string {
	s, _ := m[key].(string)
	return s
}

// GetInt returns a numeric field. JSON numbers decode as float64.
func (m Message) GetInt(key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

// GetMap returns an object field, or nil.
func (m Message) GetMap(key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

// GetUUID parses a UUID-valued string field.
func (m Message) GetUUID(key string) (uuid.UUID, error) {
	s := m.GetString(key)
	if s == "" {
		return uuid.Nil, fmt.Errorf("missing %s", key)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return id, nil
}

func newID() string {
	return uuid.NewString()
}

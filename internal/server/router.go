package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forgeworks/forge-bridge/internal/protocol"
	"github.com/forgeworks/forge-bridge/internal/registry"
	"github.com/forgeworks/forge-bridge/internal/storage"
	"github.com/forgeworks/forge-bridge/internal/telemetry"
	"github.com/forgeworks/forge-bridge/internal/types"
)

// routeError is a handler failure with a protocol error code already
// attached. Anything else coming out of a handler maps to INTERNAL or
// to a code derived from the registry and storage error types.
type routeError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *routeError) Error() string { return e.Message }

func errInvalid(msg string) error {
	return &routeError{Code: protocol.CodeInvalid, Message: msg}
}

func errNotFound(msg string) error {
	return &routeError{Code: protocol.CodeNotFound, Message: msg}
}

// Router dispatches parsed messages to handlers. Handlers follow one
// shape: validate, mutate the in-memory registry, persist plus append
// the event in one transaction (reverting the registry on failure),
// broadcast to everyone but the originator, reply ok.
type Router struct {
	store   storage.Store
	reg     *registry.Registry
	conns   *ConnectionManager
	log     *zap.Logger
	metrics *telemetry.Metrics

	handlers map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error)

// NewRouter wires the handler table.
func NewRouter(store storage.Store, reg *registry.Registry, conns *ConnectionManager, log *zap.Logger, metrics *telemetry.Metrics) *Router {
	r := &Router{store: store, reg: reg, conns: conns, log: log, metrics: metrics}
	r.handlers = map[string]handlerFunc{
		protocol.MsgSubscribe:   r.handleSubscribe,
		protocol.MsgUnsubscribe: r.handleUnsubscribe,

		protocol.MsgRoleRegister: r.handleRoleRegister,
		protocol.MsgRoleRename:   r.handleRoleRename,
		protocol.MsgRoleLabel:    r.handleRoleRenameLabel,
		protocol.MsgRoleUpdate:   r.handleRoleUpdate,
		protocol.MsgRoleDelete:   r.handleRoleDelete,
		protocol.MsgRoleList:     r.handleRoleList,

		protocol.MsgRelTypeRegister: r.handleRelTypeRegister,
		protocol.MsgRelTypeRename:   r.handleRelTypeRename,
		protocol.MsgRelTypeLabel:    r.handleRelTypeRenameLabel,
		protocol.MsgRelTypeDelete:   r.handleRelTypeDelete,
		protocol.MsgRelTypeList:     r.handleRelTypeList,

		protocol.MsgProjectCreate: r.handleProjectCreate,
		protocol.MsgProjectUpdate: r.handleProjectUpdate,
		protocol.MsgProjectGet:    r.handleProjectGet,
		protocol.MsgProjectList:   r.handleProjectList,
		protocol.MsgProjectDelete: r.handleProjectDelete,

		protocol.MsgEntityCreate: r.handleEntityCreate,
		protocol.MsgEntityUpdate: r.handleEntityUpdate,
		protocol.MsgEntityGet:    r.handleEntityGet,
		protocol.MsgEntityList:   r.handleEntityList,
		protocol.MsgEntityDelete: r.handleEntityDelete,

		protocol.MsgRelCreate: r.handleRelationshipCreate,
		protocol.MsgRelRemove: r.handleRelationshipRemove,
		protocol.MsgLocAdd:    r.handleLocationAdd,
		protocol.MsgLocRemove: r.handleLocationRemove,

		protocol.MsgQueryDependents:   r.handleQueryDependents,
		protocol.MsgQueryDependencies: r.handleQueryDependencies,
		protocol.MsgQueryShotStack:    r.handleQueryShotStack,
		protocol.MsgQueryEvents:       r.handleQueryEvents,
	}
	return r
}

// Dispatch routes one message and returns the reply frame.
func (r *Router) Dispatch(ctx context.Context, client *ConnectedClient, msg protocol.Message) protocol.Message {
	msgType := msg.Type()
	requestID := msg.ID()

	if r.metrics != nil {
		r.metrics.RecordMessage(ctx, msgType)
	}

	if msgType == protocol.MsgPing {
		// Pings double as the session heartbeat.
		err := r.store.RunInTransaction(ctx, func(tx storage.Tx) error {
			return tx.TouchSession(ctx, client.SessionID)
		})
		if err != nil {
			r.log.Debug("session touch failed", zap.Error(err))
		}
		return protocol.Pong(requestID)
	}

	handler, ok := r.handlers[msgType]
	if !ok {
		return r.errorReply(ctx, requestID, &routeError{
			Code:    protocol.CodeUnknownType,
			Message: "unknown message type: " + msgType,
		})
	}

	result, err := handler(ctx, client, msg)
	if err != nil {
		r.log.Warn("request failed",
			zap.String("type", msgType),
			zap.String("client", client.ClientName),
			zap.Error(err))
		return r.errorReply(ctx, requestID, err)
	}
	return protocol.OK(requestID, result)
}

// errorReply maps an error to a protocol error frame.
func (r *Router) errorReply(ctx context.Context, requestID string, err error) protocol.Message {
	code, message, details := classifyError(err)
	if r.metrics != nil {
		r.metrics.RecordError(ctx, code)
	}
	return protocol.Error(requestID, code, message, details)
}

// classifyError turns registry and storage error types into protocol
// codes. ORPHAN_BLOCKED carries the first holders so a caller can show
// what would be stranded.
func classifyError(err error) (code, message string, details map[string]any) {
	var re *routeError
	if errors.As(err, &re) {
		return re.Code, re.Message, re.Details
	}

	var orphan *registry.OrphanError
	if errors.As(err, &orphan) {
		holders := orphan.Holders
		if len(holders) > 20 {
			holders = holders[:20]
		}
		return protocol.CodeOrphanBlocked, orphan.Error(), map[string]any{
			"ref_count":  orphan.RefCount,
			"entity_ids": holders,
		}
	}
	var protected *registry.ProtectedError
	if errors.As(err, &protected) {
		return protocol.CodeProtected, protected.Error(), nil
	}
	var unknownName *registry.UnknownNameError
	if errors.As(err, &unknownName) {
		return protocol.CodeNotFound, unknownName.Error(), nil
	}
	var unknownKey *registry.UnknownKeyError
	if errors.As(err, &unknownKey) {
		return protocol.CodeNotFound, unknownKey.Error(), nil
	}
	var duplicate *registry.DuplicateError
	if errors.As(err, &duplicate) {
		return protocol.CodeAlreadyExists, duplicate.Error(), nil
	}

	if errors.Is(err, storage.ErrNotFound) {
		return protocol.CodeNotFound, err.Error(), nil
	}
	if errors.Is(err, storage.ErrAlreadyExists) {
		return protocol.CodeAlreadyExists, err.Error(), nil
	}
	return protocol.CodeInternal, err.Error(), nil
}

// commit persists a mutation plus its event atomically, then fans the
// event out to every subscriber except the originator.
func (r *Router) commit(ctx context.Context, client *ConnectedClient, eventType string, payload map[string]any, projectID, entityID *uuid.UUID, persist func(tx storage.Tx) error) error {
	ev := &types.Event{
		Type:       eventType,
		SessionID:  &client.SessionID,
		ClientName: client.ClientName,
		ProjectID:  projectID,
		EntityID:   entityID,
		Payload:    payload,
	}
	err := r.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if persist != nil {
			if err := persist(tx); err != nil {
				return err
			}
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return err
	}

	n := r.conns.BroadcastEvent(eventType, payload, projectID, entityID, ev.ID.String(), client.SessionID)
	if r.metrics != nil {
		r.metrics.EventsBroadcast.Add(ctx, int64(n))
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Subscriptions

func (r *Router) handleSubscribe(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	projectID, err := msg.GetUUID("project_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	client.Subscribe(projectID)
	return map[string]any{"subscribed": projectID.String()}, nil
}

func (r *Router) handleUnsubscribe(ctx context.Context, client *ConnectedClient, msg protocol.Message) (map[string]any, error) {
	projectID, err := msg.GetUUID("project_id")
	if err != nil {
		return nil, errInvalid(err.Error())
	}
	client.Unsubscribe(projectID)
	return map[string]any{"unsubscribed": projectID.String()}, nil
}

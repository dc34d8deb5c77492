// Package server implements the bridge WebSocket server: connection
// handshake, session tracking, message routing, and event fan-out.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/forgeworks/forge-bridge/internal/config"
	"github.com/forgeworks/forge-bridge/internal/protocol"
	"github.com/forgeworks/forge-bridge/internal/registry"
	"github.com/forgeworks/forge-bridge/internal/storage"
	"github.com/forgeworks/forge-bridge/internal/telemetry"
	"github.com/forgeworks/forge-bridge/internal/types"
)

const (
	helloTimeout = 15 * time.Second
	maxFrameSize = 10 << 20
)

// Server owns the HTTP listener, the connection manager, and the
// router. One Server per process.
type Server struct {
	cfg     *config.Config
	store   storage.Store
	reg     *registry.Registry
	conns   *ConnectionManager
	router  *Router
	log     *zap.Logger
	metrics *telemetry.Metrics

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New builds a server. Start does the schema and registry work.
func New(cfg *config.Config, store storage.Store, log *zap.Logger) (*Server, error) {
	metrics, err := telemetry.New()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		store:   store,
		log:     log,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The bridge lives on a trusted pipeline network; browser
			// origin checks do not apply to DCC integrations.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	return s, nil
}

// Registry exposes the live registry, for tests and the status page.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.store.EnsureSchema(ctx); err != nil {
		return err
	}
	reg, err := s.store.LoadRegistry(ctx)
	if err != nil {
		return err
	}
	s.reg = reg
	if err := s.rebuildUsage(ctx); err != nil {
		return err
	}
	s.reg.Roles.OnMigration(func(m registry.Migration) {
		s.log.Info("role reference migrated",
			zap.String("holder", m.Holder.String()),
			zap.String("old_key", m.OldKey.String()),
			zap.String("new_key", m.NewKey.String()))
	})

	s.conns = NewConnectionManager(s.log)
	s.router = NewRouter(s.store, s.reg, s.conns, s.log, s.metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/status", s.handleStatus)
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: mux,
	}

	s.log.Info("bridge server listening",
		zap.String("addr", s.cfg.Addr()),
		zap.String("version", s.cfg.ServerVersion))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// rebuildUsage replays persisted state into the registry's reference
// tracking: every edge re-registers its type, every layer re-registers
// its role. Orphan protection is meaningless without this.
func (s *Server) rebuildUsage(ctx context.Context) error {
	rels, err := s.store.ListRelationships(ctx)
	if err != nil {
		return err
	}
	for _, rel := range rels {
		s.reg.RelTypes.RegisterUsage(rel.RelTypeKey, rel.Source, rel.Target)
	}

	layers, err := s.store.ListEntities(ctx, types.EntityLayer, nil)
	if err != nil {
		return err
	}
	for _, layer := range layers {
		keyStr, ok := layer.Attributes["role_key"].(string)
		if !ok {
			continue
		}
		key, err := uuid.Parse(keyStr)
		if err != nil {
			continue
		}
		if err := s.reg.Roles.RegisterUsage(key, layer.ID, layer.Name); err != nil {
			s.log.Warn("layer references unknown role key",
				zap.String("layer_id", layer.ID.String()),
				zap.String("role_key", keyStr))
		}
	}
	s.log.Info("registry usage rebuilt",
		zap.Int("relationships", len(rels)),
		zap.Int("layers", len(layers)))
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"server_version": s.cfg.ServerVersion,
		"connected":      s.conns.Count(),
		"clients":        s.conns.Status(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameSize)
	// The request context dies when this handler returns; the
	// connection outlives it.
	go s.serveConn(context.Background(), conn, req)
}

// serveConn runs one connection: hello handshake, welcome, replay,
// then the read loop until the peer says bye or drops.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, req *http.Request) {
	hello, err := s.readHello(conn)
	if err != nil {
		s.log.Warn("handshake failed", zap.String("remote", req.RemoteAddr), zap.Error(err))
		conn.Close()
		return
	}

	sessionID := uuid.New()
	clientName := hello.GetString("client_name")
	if clientName == "" {
		clientName = "anonymous"
	}
	endpointType := hello.GetString("endpoint_type")
	if endpointType == "" {
		endpointType = "unknown"
	}
	host, _, _ := net.SplitHostPort(req.RemoteAddr)

	sess := &types.Session{
		ID:           sessionID,
		ClientName:   clientName,
		EndpointType: endpointType,
		Host:         host,
		Capabilities: hello.GetMap("capabilities"),
		ConnectedAt:  time.Now().UTC(),
	}
	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.OpenSession(ctx, sess)
	})
	if err != nil {
		s.log.Error("open session failed", zap.Error(err))
		conn.Close()
		return
	}

	client := newConnectedClient(sessionID, clientName, endpointType, conn, s.log)
	s.conns.Register(client)
	s.metrics.ConnectionsActive.Add(ctx, 1)

	client.Send(protocol.Welcome(hello.ID(), sessionID.String(), s.cfg.ServerVersion, s.reg.Summary()))
	if last := hello.GetString("last_event_id"); last != "" {
		s.replay(ctx, client, last)
	}

	s.readLoop(ctx, client, conn)

	s.conns.Unregister(sessionID)
	s.metrics.ConnectionsActive.Add(context.Background(), -1)
	err = s.store.RunInTransaction(context.Background(), func(tx storage.Tx) error {
		return tx.CloseSession(context.Background(), sessionID)
	})
	if err != nil {
		s.log.Warn("close session failed", zap.Error(err))
	}
}

// readHello waits for the hello frame. Anything else, or silence past
// the deadline, fails the handshake.
func (s *Server) readHello(conn *websocket.Conn) (protocol.Message, error) {
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	msg, err := protocol.Parse(raw)
	if err != nil {
		s.writeDirect(conn, protocol.Error("", protocol.CodeInvalid, err.Error(), nil))
		return nil, err
	}
	if msg.Type() != protocol.MsgHello {
		err := errors.New("expected hello, got " + msg.Type())
		s.writeDirect(conn, protocol.Error(msg.ID(), protocol.CodeInvalid, err.Error(), nil))
		return nil, err
	}
	return msg, nil
}

// replay sends the events the client missed while disconnected.
func (s *Server) replay(ctx context.Context, client *ConnectedClient, lastEventID string) {
	cursor, err := uuid.Parse(lastEventID)
	if err != nil {
		return
	}
	events, err := s.store.EventsSince(ctx, cursor)
	if err != nil {
		s.log.Warn("event replay failed", zap.Error(err))
		return
	}
	for _, ev := range events {
		var pid, eid string
		if ev.ProjectID != nil {
			pid = ev.ProjectID.String()
		}
		if ev.EntityID != nil {
			eid = ev.EntityID.String()
		}
		client.Send(protocol.Event(ev.Type, ev.Payload, pid, eid, ev.ID.String()))
		client.SetLastEventID(ev.ID.String())
	}
	if len(events) > 0 {
		s.log.Info("replayed missed events",
			zap.String("client", client.ClientName),
			zap.Int("count", len(events)))
	}
}

func (s *Server) readLoop(ctx context.Context, client *ConnectedClient, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("read error", zap.String("client", client.ClientName), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Parse(raw)
		if err != nil {
			client.Send(protocol.Error("", protocol.CodeInvalid, err.Error(), nil))
			continue
		}
		if msg.Type() == protocol.MsgBye {
			s.log.Info("client said bye",
				zap.String("client", client.ClientName),
				zap.String("reason", msg.GetString("reason")))
			return
		}

		reply := s.router.Dispatch(ctx, client, msg)
		if reply != nil {
			client.Send(reply)
		}
	}
}

// writeDirect writes one frame before the writer pump exists.
func (s *Server) writeDirect(conn *websocket.Conn, msg protocol.Message) {
	raw, err := msg.Serialize()
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, raw)
}

package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultHeartbeatInterval is how often the server pings a connection. A
// connection that misses two heartbeats in a row is evicted.
const DefaultHeartbeatInterval = 30 * time.Second

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Registry owns every live connection and the per-user connection index.
// Multiple connections may share a user (multi-device); a user counts as
// online while at least one of their connections is live.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Conn
	userConns map[string][]*Conn

	connWg  *sync.WaitGroup
	context context.Context
	logger  *slog.Logger

	// onConnClosed fires after a connection is fully removed; userID is ""
	// if the connection never authenticated.
	onConnClosed func(connID, userID string)

	inbound chan *InboundEvent

	upgrader          websocket.Upgrader
	heartbeatInterval time.Duration
	ReadStreamSize    int
	WriteStreamSize   int
}

type RegistryOption func(*Registry)

func WithCheckOrigin(f func(r *http.Request) bool) RegistryOption {
	return func(reg *Registry) {
		reg.upgrader.CheckOrigin = f
	}
}

func WithHeartbeatInterval(d time.Duration) RegistryOption {
	return func(reg *Registry) {
		reg.heartbeatInterval = d
	}
}

func NewRegistry(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, opts ...RegistryOption) *Registry {
	reg := &Registry{
		conns:             make(map[string]*Conn),
		userConns:         make(map[string][]*Conn),
		connWg:            wg,
		context:           ctx,
		logger:            logger,
		upgrader:          defaultUpgrader,
		heartbeatInterval: DefaultHeartbeatInterval,
		ReadStreamSize:    100,
		WriteStreamSize:   100,
		onConnClosed:      func(string, string) {},
	}

	for _, opt := range opts {
		opt(reg)
	}

	reg.inbound = make(chan *InboundEvent, reg.ReadStreamSize)

	reg.connWg.Add(1)
	go func() {
		defer reg.connWg.Done()
		reg.evictLoop()
	}()

	return reg
}

// evictLoop periodically disconnects connections that have shown no liveness
// within the pong window. The per-connection read deadline catches most dead
// peers; the sweep is the backstop keyed on the liveness timestamp.
func (reg *Registry) evictLoop() {
	ticker := time.NewTicker(reg.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-reg.context.Done():
			return
		case <-ticker.C:
			reg.evictStale()
		}
	}
}

func (reg *Registry) evictStale() {
	cutoff := time.Now().Add(-2 * reg.heartbeatInterval)
	reg.mu.RLock()
	var stale []string
	for id, conn := range reg.conns {
		if conn.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	reg.mu.RUnlock()
	for _, id := range stale {
		reg.logger.Info("evicting stale connection", slog.String("connection", id))
		reg.Disconnect(id)
	}
}

// Inbound is the stream of events arriving from all connections, in arrival
// order at the registry.
func (reg *Registry) Inbound() <-chan *InboundEvent {
	return reg.inbound
}

// OnConnClosed registers the hook invoked after every connection teardown.
// It must be set before the first connection registers.
func (reg *Registry) OnConnClosed(f func(connID, userID string)) { reg.onConnClosed = f }

// Register upgrades the request to a websocket connection and starts its read
// and write pumps. The connection is inert until it authenticates.
func (reg *Registry) Register(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, err := reg.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}

	id := uuid.NewString()
	wsConn := &Conn{
		id:          id,
		conn:        conn,
		context:     reg.context,
		lastActive:  time.Now(),
		writeStream: make(chan *Event, reg.WriteStreamSize),
		readStream:  reg.inbound,
		ticker:      time.NewTicker(reg.heartbeatInterval),
		pongWait:    2 * reg.heartbeatInterval,
		logger:      reg.logger.With(slog.String("connection", id)),
		notifyDisconnect: func() {
			reg.unregister(id)
		},
	}

	reg.mu.Lock()
	reg.conns[id] = wsConn
	reg.mu.Unlock()

	reg.connWg.Add(1)
	go func() {
		defer reg.connWg.Done()
		wsConn.readLoop()
	}()
	reg.connWg.Add(1)
	go func() {
		defer reg.connWg.Done()
		wsConn.writeLoop()
	}()

	return wsConn, nil
}

// BindUser associates an authenticated identity with a connection. Binding
// fails if the connection is already bound or already torn down; identity is
// immutable for the connection's lifetime. The liveness check runs under the
// registry lock so a bind can never resurrect an unregistered connection.
func (reg *Registry) BindUser(conn *Conn, userID string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.conns[conn.id]; !ok {
		return fmt.Errorf("%w: connection closed", ErrInvalidPayload)
	}
	if !conn.bindUser(userID) {
		return fmt.Errorf("%w: connection already authenticated", ErrInvalidPayload)
	}
	reg.userConns[userID] = append(reg.userConns[userID], conn)
	return nil
}

func (reg *Registry) unregister(id string) {
	reg.mu.Lock()
	conn, ok := reg.conns[id]
	if !ok {
		reg.mu.Unlock()
		return
	}
	delete(reg.conns, id)
	conn.close()

	userID := conn.UserID()
	if userID != "" {
		conns := slices.DeleteFunc(reg.userConns[userID], func(c *Conn) bool { return c.id == id })
		if len(conns) == 0 {
			delete(reg.userConns, userID)
		} else {
			reg.userConns[userID] = conns
		}
	}
	reg.mu.Unlock()

	reg.onConnClosed(id, userID)
}

// Disconnect force-closes a connection. Used by stale-connection eviction and
// tests; transport errors take the same path through unregister.
func (reg *Registry) Disconnect(id string) {
	reg.mu.RLock()
	conn, ok := reg.conns[id]
	reg.mu.RUnlock()
	if !ok {
		return
	}
	conn.conn.Close()
}

// Connected reports whether the connection is still registered. Events queued
// by a connection before its teardown are dispatched after it; the gateway
// uses this to drop them.
func (reg *Registry) Connected(connID string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.conns[connID]
	return ok
}

// IsUserConnected reports whether the user has at least one live connection.
func (reg *Registry) IsUserConnected(userID string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.userConns[userID]
	return ok
}

// ConnCount returns the number of live connections.
func (reg *Registry) ConnCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.conns)
}

// UserOf resolves a connection ID to its authenticated user, if any.
func (reg *Registry) UserOf(connID string) (string, bool) {
	reg.mu.RLock()
	conn, ok := reg.conns[connID]
	reg.mu.RUnlock()
	if !ok {
		return "", false
	}
	userID := conn.UserID()
	return userID, userID != ""
}

// SendToUser queues an event on every connection of the user.
func (reg *Registry) SendToUser(e *Event, userID string) {
	reg.SendToUserExcept(e, userID, "")
}

// SendToUserExcept queues an event on every connection of the user except the
// one identified by exceptConnID.
func (reg *Registry) SendToUserExcept(e *Event, userID, exceptConnID string) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for _, conn := range reg.userConns[userID] {
		if conn.id == exceptConnID {
			continue
		}
		conn.trySend(e)
	}
}

// SendToConn queues an event on a single connection.
func (reg *Registry) SendToConn(e *Event, connID string) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if conn, ok := reg.conns[connID]; ok {
		conn.trySend(e)
	}
}

// Close force-closes every connection. Pump goroutines drain through the
// shared wait group owned by the caller.
func (reg *Registry) Close() {
	reg.mu.RLock()
	conns := make([]*Conn, 0, len(reg.conns))
	for _, conn := range reg.conns {
		conns = append(conns, conn)
	}
	reg.mu.RUnlock()
	for _, conn := range conns {
		conn.conn.Close()
	}
}

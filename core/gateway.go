package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type typingKey struct {
	userID string
	chatID string
}

// Gateway is the relay service: a single goroutine drains the registry's
// inbound stream and dispatches each event as an atomic step with respect to
// the in-memory membership, presence and typing state. Construct a fresh
// instance per process (or per test); there is no ambient state.
type Gateway struct {
	registry *Registry
	presence *PresenceTracker
	rooms    *RoomSet
	auth     Authenticator
	store    MessageStore
	logger   *slog.Logger

	// typing holds the last signalled state per (user, chat). A repeated
	// identical signal is not fanned out again.
	typingMu sync.Mutex
	typing   map[typingKey]bool

	ctx  context.Context
	done chan struct{}
}

func NewGateway(ctx context.Context, logger *slog.Logger, registry *Registry,
	presence *PresenceTracker, rooms *RoomSet, auth Authenticator, store MessageStore) *Gateway {
	g := &Gateway{
		registry: registry,
		presence: presence,
		rooms:    rooms,
		auth:     auth,
		store:    store,
		logger:   logger,
		typing:   make(map[typingKey]bool),
		ctx:      ctx,
		done:     make(chan struct{}),
	}
	registry.OnConnClosed(g.connClosed)
	return g
}

// Listen starts the dispatch loop.
func (g *Gateway) Listen() {
	go g.loop()
}

// Close waits for the dispatch loop to drain or the context to expire.
func (g *Gateway) Close(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) loop() {
	defer close(g.done)
	for {
		select {
		case in := <-g.registry.Inbound():
			g.dispatch(in)
		case <-g.ctx.Done():
			return
		}
	}
}

// dispatch is the handler boundary: every failure is recovered here and
// converted to a signal event to the originating connection only.
func (g *Gateway) dispatch(in *InboundEvent) {
	// the connection may have been torn down after it queued this event;
	// its state is already settled and the event is dropped
	if !g.registry.Connected(in.Conn.ID()) {
		return
	}

	ev, err := DecodeClientEvent(in.Event)
	if err != nil {
		g.signalError(in.Conn, err)
		return
	}

	switch p := ev.(type) {
	case AuthenticatePayload:
		err = g.handleAuthenticate(in.Conn, p)
	case SendMessagePayload:
		err = g.handleSendMessage(in.Conn, p)
	case TypingPayload:
		err = g.handleTyping(in.Conn, p)
	case MarkReadPayload:
		err = g.handleMarkRead(in.Conn, p)
	case JoinChatPayload:
		err = g.handleJoinChat(in.Conn, p)
	case LeaveChatPayload:
		err = g.handleLeaveChat(in.Conn, p)
	case GetChatMessagesPayload:
		err = g.handleGetChatMessages(in.Conn, p)
	case GetOnlineUsersPayload:
		err = g.handleGetOnlineUsers(in.Conn)
	default:
		err = fmt.Errorf("%w: unhandled event %T", ErrInvalidPayload, ev)
	}
	if err != nil {
		g.signalError(in.Conn, err)
	}
}

func (g *Gateway) signalError(conn *Conn, err error) {
	g.logger.Error(err.Error(), slog.String("connection", conn.ID()))
	switch {
	case errors.Is(err, ErrAuthFailed):
		g.emit(conn, EventAuthError, AuthErrorPayload{Message: err.Error()})
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrInvalidMessageKind),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrUnknownMessage):
		g.emit(conn, EventError, ErrorPayload{Message: err.Error()})
	default:
		g.emit(conn, EventError, ErrorPayload{Message: "internal error"})
	}
}

func (g *Gateway) emit(conn *Conn, t string, payload interface{}) {
	e, err := NewEvent(t, payload)
	if err != nil {
		g.logger.Error(err.Error())
		return
	}
	conn.trySend(e)
}

func (g *Gateway) handleAuthenticate(conn *Conn, p AuthenticatePayload) error {
	userID, err := g.auth.Verify(g.ctx, p.Token)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			return err
		}
		return fmt.Errorf("verify token: %w", err)
	}

	if conn.UserID() == userID {
		// re-authentication with the same identity is idempotent
		g.emit(conn, EventAuthenticated, AuthenticatedPayload{UserID: userID})
		return nil
	}

	if err := g.registry.BindUser(conn, userID); err != nil {
		return err
	}

	g.emit(conn, EventAuthenticated, AuthenticatedPayload{UserID: userID})

	if g.presence.MarkConnected(userID) {
		g.broadcastStatus(userID, true)
	}

	// teardown may have raced the bind; if so, settle what it could not see
	if !g.registry.Connected(conn.ID()) {
		g.connClosed(conn.ID(), userID)
	}
	return nil
}

func (g *Gateway) handleSendMessage(conn *Conn, p SendMessagePayload) error {
	userID := conn.UserID()
	if userID == "" {
		return ErrUnauthenticated
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMessageKind, p.Kind)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	direct := p.ChatID == ""
	msg := &Message{
		ID:       uuid.NewString(),
		ChatID:   p.ChatID,
		ToUserID: p.ToUserID,
		Sender:   userID,
		Content:  p.Content,
		Kind:     p.Kind,
		FileURL:  p.FileURL,
		FileName: p.FileName,
		FileSize: p.FileSize,
		SentAt:   time.Now().UTC(),
	}
	if direct {
		msg.ChatID = DirectChatID(userID, p.ToUserID)
	}

	// Durability is independent of live delivery: the save happens whether
	// or not any recipient is connected, and a failed save is logged while
	// delivery to live recipients still proceeds.
	if err := g.store.SaveMessage(g.ctx, msg); err != nil {
		g.logger.Error(fmt.Sprintf("%v: save message: %v", ErrPersistence, err),
			slog.String("message", msg.ID))
	}

	e, err := NewEvent(EventNewMessage, msg)
	if err != nil {
		return err
	}
	if direct {
		g.registry.SendToUserExcept(e, p.ToUserID, conn.ID())
	} else {
		for _, memberConnID := range g.rooms.MembersOf(p.ChatID) {
			if memberConnID == conn.ID() {
				continue
			}
			g.registry.SendToConn(e, memberConnID)
		}
	}

	g.emit(conn, EventMessageSent, MessageSentPayload{Message: *msg, CorrelationID: p.CorrelationID})
	return nil
}

func (g *Gateway) handleTyping(conn *Conn, p TypingPayload) error {
	userID := conn.UserID()
	if userID == "" {
		return ErrUnauthenticated
	}
	if p.ChatID == "" {
		return fmt.Errorf("%w: missing chatId", ErrInvalidPayload)
	}

	key := typingKey{userID: userID, chatID: p.ChatID}
	g.typingMu.Lock()
	prev, seen := g.typing[key]
	if seen && prev == p.IsTyping {
		g.typingMu.Unlock()
		return nil
	}
	g.typing[key] = p.IsTyping
	g.typingMu.Unlock()

	e, err := NewEvent(EventUserTyping, UserTypingPayload{UserID: userID, ChatID: p.ChatID, IsTyping: p.IsTyping})
	if err != nil {
		return err
	}
	for _, memberConnID := range g.rooms.MembersOf(p.ChatID) {
		if memberUser, ok := g.registry.UserOf(memberConnID); ok && memberUser != userID {
			g.registry.SendToConn(e, memberConnID)
		}
	}

	// if the sender went fully offline while this was handled, the offline
	// edge already ran clearTyping and must not be undone by the write above
	if !g.registry.Connected(conn.ID()) && !g.presence.IsOnline(userID) {
		g.clearTyping(userID)
	}
	return nil
}

func (g *Gateway) handleMarkRead(conn *Conn, p MarkReadPayload) error {
	userID := conn.UserID()
	if userID == "" {
		return ErrUnauthenticated
	}
	if p.MessageID == "" {
		return fmt.Errorf("%w: missing messageId", ErrInvalidPayload)
	}

	msg, err := g.store.UpdateReadFlag(g.ctx, p.MessageID, userID)
	if err != nil {
		// best-effort: the reader is not told the flag update failed
		g.logger.Error(fmt.Sprintf("update read flag: %v", err), slog.String("message", p.MessageID))
		return nil
	}

	e, err := NewEvent(EventMessageRead, MessageReadPayload{MessageID: msg.ID, ChatID: msg.ChatID, ReadBy: userID})
	if err != nil {
		return err
	}
	g.registry.SendToUser(e, msg.Sender)
	return nil
}

func (g *Gateway) handleJoinChat(conn *Conn, p JoinChatPayload) error {
	userID := conn.UserID()
	if userID == "" {
		return ErrUnauthenticated
	}
	if p.ChatID == "" {
		return fmt.Errorf("%w: missing chatId", ErrInvalidPayload)
	}
	g.rooms.Join(conn.ID(), p.ChatID)

	// joining a direct chat also subscribes the connection to the peer's
	// presence and answers with a snapshot
	if peer, ok := DirectPeer(p.ChatID, userID); ok {
		online, lastSeen := g.presence.Subscribe(conn.ID(), peer)
		status := UserStatusPayload{UserID: peer, IsOnline: online}
		if !lastSeen.IsZero() {
			status.LastSeen = &lastSeen
		}
		g.emit(conn, EventUserStatus, status)
	}

	g.settleIfClosed(conn)
	return nil
}

func (g *Gateway) handleLeaveChat(conn *Conn, p LeaveChatPayload) error {
	if conn.UserID() == "" {
		return ErrUnauthenticated
	}
	if p.ChatID == "" {
		return fmt.Errorf("%w: missing chatId", ErrInvalidPayload)
	}
	g.rooms.Leave(conn.ID(), p.ChatID)
	return nil
}

func (g *Gateway) handleGetChatMessages(conn *Conn, p GetChatMessagesPayload) error {
	if conn.UserID() == "" {
		return ErrUnauthenticated
	}
	if p.ChatID == "" {
		return fmt.Errorf("%w: missing chatId", ErrInvalidPayload)
	}

	msgs, err := g.store.LoadHistory(g.ctx, p.ChatID, p.Limit, p.Offset)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	g.emit(conn, EventChatMessages, ChatMessagesPayload{ChatID: p.ChatID, Messages: msgs})
	return nil
}

func (g *Gateway) handleGetOnlineUsers(conn *Conn) error {
	if conn.UserID() == "" {
		return ErrUnauthenticated
	}

	// a bulk query also subscribes the requester to future status changes
	g.presence.SubscribeGlobal(conn.ID())
	for _, userID := range g.presence.OnlineUsers() {
		g.emit(conn, EventUserStatus, UserStatusPayload{UserID: userID, IsOnline: true})
	}

	g.settleIfClosed(conn)
	return nil
}

// settleIfClosed re-runs teardown cleanup for state a handler added while the
// connection's teardown was in flight. Both paths are idempotent, so running
// twice is harmless regardless of interleaving.
func (g *Gateway) settleIfClosed(conn *Conn) {
	if g.registry.Connected(conn.ID()) {
		return
	}
	g.rooms.Purge(conn.ID())
	g.presence.Unsubscribe(conn.ID())
}

// broadcastStatus notifies every subscribed observer of a presence flip.
// Fan-out goes through non-blocking per-connection buffers and never blocks
// the relay.
func (g *Gateway) broadcastStatus(userID string, online bool) {
	payload := UserStatusPayload{UserID: userID, IsOnline: online}
	if ts, ok := g.presence.LastSeen(userID); ok {
		payload.LastSeen = &ts
	}
	e, err := NewEvent(EventUserStatus, payload)
	if err != nil {
		g.logger.Error(err.Error())
		return
	}
	for _, connID := range g.presence.WatchersOf(userID) {
		g.registry.SendToConn(e, connID)
	}
}

// connClosed is the registry's teardown hook: it strips the connection from
// every room and subscription, and settles presence accounting for the user.
func (g *Gateway) connClosed(connID, userID string) {
	g.rooms.Purge(connID)
	g.presence.Unsubscribe(connID)
	if userID == "" {
		return
	}
	if g.presence.MarkDisconnected(userID) {
		g.clearTyping(userID)
		g.broadcastStatus(userID, false)
		g.recordLastSeen(userID)
	}
}

func (g *Gateway) clearTyping(userID string) {
	g.typingMu.Lock()
	defer g.typingMu.Unlock()
	for key := range g.typing {
		if key.userID == userID {
			delete(g.typing, key)
		}
	}
}

// recordLastSeen hands the last-seen timestamp to the store. Fire-and-forget:
// a dispatched write completes independently of any connection's lifecycle
// and a failure is logged, never surfaced.
func (g *Gateway) recordLastSeen(userID string) {
	ts, _ := g.presence.LastSeen(userID)
	go func() {
		if err := g.store.SetPresenceLastSeen(g.ctx, userID, ts); err != nil {
			g.logger.Error(fmt.Sprintf("set presence last seen: %v", err), slog.String("user", userID))
		}
	}()
}

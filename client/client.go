// Package client implements a reconnecting relay client with an explicit
// connection state machine: Disconnected -> Connecting -> Connected ->
// Authenticated. Reconnects use bounded, capped exponential backoff, and the
// client re-authenticates and re-joins its rooms after every reconnect.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/relay/core"
	"github.com/sethvargo/go-retry"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Authenticated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned when sending on a client that has no live
	// authenticated connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAuthRejected is returned when the server rejects the credential
	// token. It is permanent; reconnecting will not help.
	ErrAuthRejected = errors.New("authentication rejected")
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	defaultMaxAttempts    = 10

	writeWait = 10 * time.Second
	authWait  = 10 * time.Second
)

type Options struct {
	// URL is the websocket endpoint, e.g. ws://host:8080/ws.
	URL string
	// Token is the credential presented on every (re)authentication.
	Token string

	// OnEvent receives every server event after authentication.
	OnEvent func(*core.Event)
	// OnStateChange observes state machine transitions.
	OnStateChange func(State)

	Logger *slog.Logger

	// Backoff policy for a connect cycle. Zero values take the defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    uint64
}

type Client struct {
	opts  Options
	state atomic.Int32

	mu    sync.Mutex
	conn  *websocket.Conn
	rooms map[string]struct{}

	logger *slog.Logger
}

func New(opts Options) *Client {
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		rooms:  make(map[string]struct{}),
		logger: opts.Logger,
	}
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

// Run connects and keeps the session alive until ctx is cancelled or a
// connect cycle exhausts its retry budget. A session drop re-enters the
// connect cycle with a fresh backoff.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(Disconnected)
	for {
		if err := c.connect(ctx); err != nil {
			return err
		}
		err := c.session(ctx)
		c.setState(Disconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Info(fmt.Sprintf("session ended, reconnecting: %v", err))
	}
}

func (c *Client) connect(ctx context.Context) error {
	b := retry.WithMaxRetries(c.opts.MaxAttempts,
		retry.WithCappedDuration(c.opts.MaxBackoff,
			retry.NewExponential(c.opts.InitialBackoff)))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := c.dial(ctx); err != nil {
			c.logger.Info(fmt.Sprintf("dial: %v", err))
			return retry.RetryableError(err)
		}
		if err := c.authenticate(); err != nil {
			c.closeConn()
			if errors.Is(err, ErrAuthRejected) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (c *Client) dial(ctx context.Context) error {
	c.setState(Connecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		c.setState(Disconnected)
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(Connected)
	return nil
}

// authenticate presents the token and waits for the server's verdict, then
// re-joins every room the client was subscribed to before the reconnect.
func (c *Client) authenticate() error {
	if err := c.write(core.EventAuthenticate, core.AuthenticatePayload{Token: c.opts.Token}); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(authWait))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var event core.Event
		if err := conn.ReadJSON(&event); err != nil {
			return fmt.Errorf("awaiting authentication: %w", err)
		}
		switch event.Type {
		case core.EventAuthenticated:
			c.setState(Authenticated)
			c.rejoinRooms()
			return nil
		case core.EventAuthError:
			return ErrAuthRejected
		default:
			// presence noise may arrive before the ack; ignore it
		}
	}
}

func (c *Client) rejoinRooms() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()
	for _, room := range rooms {
		if err := c.write(core.EventJoinChat, core.JoinChatPayload{ChatID: room}); err != nil {
			c.logger.Error(fmt.Sprintf("rejoin %s: %v", room, err))
		}
	}
}

// session reads server events until the connection drops or ctx is cancelled.
func (c *Client) session(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var event core.Event
		if err := conn.ReadJSON(&event); err != nil {
			return err
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(&event)
		}
	}
}

func (c *Client) write(t string, payload interface{}) error {
	e, err := core.NewEvent(t, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(e)
}

func (c *Client) send(t string, payload interface{}) error {
	if c.State() != Authenticated {
		return ErrNotConnected
	}
	return c.write(t, payload)
}

func (c *Client) SendMessage(p core.SendMessagePayload) error {
	return c.send(core.EventSendMessage, p)
}

// JoinChat subscribes to a room. The subscription is remembered and restored
// after a reconnect.
func (c *Client) JoinChat(chatID string) error {
	c.mu.Lock()
	c.rooms[chatID] = struct{}{}
	c.mu.Unlock()
	return c.send(core.EventJoinChat, core.JoinChatPayload{ChatID: chatID})
}

func (c *Client) LeaveChat(chatID string) error {
	c.mu.Lock()
	delete(c.rooms, chatID)
	c.mu.Unlock()
	return c.send(core.EventLeaveChat, core.LeaveChatPayload{ChatID: chatID})
}

func (c *Client) Typing(chatID string, isTyping bool) error {
	return c.send(core.EventTyping, core.TypingPayload{ChatID: chatID, IsTyping: isTyping})
}

func (c *Client) MarkRead(messageID string) error {
	return c.send(core.EventMarkRead, core.MarkReadPayload{MessageID: messageID})
}

func (c *Client) GetChatMessages(chatID string, limit, offset int) error {
	return c.send(core.EventGetChatMessages, core.GetChatMessagesPayload{ChatID: chatID, Limit: limit, Offset: offset})
}

func (c *Client) GetOnlineUsers() error {
	return c.send(core.EventGetOnlineUsers, core.GetOnlineUsersPayload{})
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close tears the connection down without reconnecting.
func (c *Client) Close() error {
	c.closeConn()
	c.setState(Disconnected)
	return nil
}

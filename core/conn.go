package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// InboundEvent is a decoded envelope together with the connection it arrived
// on. The gateway resolves the dispatching user through the connection.
type InboundEvent struct {
	Conn  *Conn
	Event *Event
}

// Conn is a live transport connection. Its user identity is unset until the
// connection authenticates, and immutable afterwards.
type Conn struct {
	id      string
	conn    *websocket.Conn
	context context.Context

	mu         sync.RWMutex
	userID     string
	lastActive time.Time
	closed     bool

	writeStream      chan *Event
	readStream       chan<- *InboundEvent
	notifyDisconnect func()
	ticker           *time.Ticker
	pongWait         time.Duration
	logger           *slog.Logger
}

// ID returns the registry-assigned connection identifier.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated user, or "" if the connection is inert.
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// LastActive returns the liveness timestamp, updated on every read and pong.
func (c *Conn) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// bindUser sets the user identity once. It reports false if the connection is
// already bound.
func (c *Conn) bindUser(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		return false
	}
	c.userID = userID
	return true
}

// trySend queues an event without blocking. The event is dropped if the
// connection cannot keep up or is already torn down; fan-out must never block
// the relay.
func (c *Conn) trySend(e *Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.writeStream <- e:
	default:
		c.logger.Warn("write buffer full, dropping event", slog.String("type", e.Type))
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.writeStream)
}

func (c *Conn) readLoop() {
	c.logger.Debug("read loop started")
	defer func() {
		c.notifyDisconnect()
		c.conn.Close()
		c.logger.Debug("read loop stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})
	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if format != websocket.TextMessage {
			c.logger.Error(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			c.logger.Error(err.Error())
			continue
		}
		c.touch()

		c.logger.Debug(event.String())

		select {
		case c.readStream <- &InboundEvent{Conn: c, Event: &event}:
		case <-c.context.Done():
			return
		}
	}
}

func (c *Conn) writeLoop() {
	c.logger.Debug("write loop started")
	var err error
	defer func() {
		c.ticker.Stop()
		if err != nil {
			c.conn.Close()
		}
		c.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case e, ok := <-c.writeStream:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, werr := c.conn.NextWriter(websocket.TextMessage)
			if werr != nil {
				err = werr
				c.logger.Error(fmt.Sprintf("getting next writer: %v", werr))
				return
			}
			if err := EncodeEvent(w, e); err != nil {
				c.logger.Error(err.Error())
			}
			w.Close()
		case <-c.context.Done():
			return
		case <-c.ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("writing ping: %v", err))
				return
			}
		}
	}
}

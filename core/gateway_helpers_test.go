package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const eventWait = 2 * time.Second

// fakeAuthenticator resolves pre-registered tokens to user IDs.
type fakeAuthenticator struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newFakeAuthenticator() *fakeAuthenticator {
	return &fakeAuthenticator{tokens: make(map[string]string)}
}

func (a *fakeAuthenticator) tokenFor(userID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	token := "tok-" + userID
	a.tokens[token] = userID
	return token
}

func (a *fakeAuthenticator) Verify(_ context.Context, token string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	userID, ok := a.tokens[token]
	if !ok {
		return "", fmt.Errorf("%w: unknown token", ErrAuthFailed)
	}
	return userID, nil
}

// memMessageStore is an in-memory MessageStore with a switch to simulate a
// broken backing store.
type memMessageStore struct {
	mu       sync.Mutex
	messages []Message
	lastSeen map[string]time.Time
	failSave bool
}

func newMemMessageStore() *memMessageStore {
	return &memMessageStore{lastSeen: make(map[string]time.Time)}
}

func (s *memMessageStore) SaveMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("disk full")
	}
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *memMessageStore) LoadHistory(_ context.Context, chatID string, limit, offset int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit == 0 {
		limit = 100
	}
	var matched []Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ChatID == chatID {
			matched = append(matched, s.messages[i])
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *memMessageStore) UpdateReadFlag(_ context.Context, messageID, readBy string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Read = true
			s.messages[i].ReadBy = readBy
			msg := s.messages[i]
			return &msg, nil
		}
	}
	return nil, ErrUnknownMessage
}

func (s *memMessageStore) SetPresenceLastSeen(_ context.Context, userID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[userID] = ts
	return nil
}

func (s *memMessageStore) saved() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *memMessageStore) lastSeenOf(userID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.lastSeen[userID]
	return ts, ok
}

func (s *memMessageStore) setFailSave(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = fail
}

type gatewayFixture struct {
	t        *testing.T
	auth     *fakeAuthenticator
	store    *memMessageStore
	registry *Registry
	presence *PresenceTracker
	rooms    *RoomSet
	gateway  *Gateway
	server   *httptest.Server
}

// newGatewayFixture stands up a full gateway behind a real websocket endpoint.
func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	wg := &sync.WaitGroup{}

	f := &gatewayFixture{
		t:        t,
		auth:     newFakeAuthenticator(),
		store:    newMemMessageStore(),
		presence: NewPresenceTracker(),
		rooms:    NewRoomSet(),
	}
	f.registry = NewRegistry(ctx, wg, logger, WithHeartbeatInterval(time.Second))
	f.gateway = NewGateway(ctx, logger, f.registry, f.presence, f.rooms, f.auth, f.store)
	f.gateway.Listen()

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := f.registry.Register(w, r); err != nil {
			t.Logf("register: %v", err)
		}
	}))

	t.Cleanup(func() {
		f.registry.Close()
		cancel()
		f.server.Close()
		wg.Wait()
	})
	return f
}

// serverConn returns a server-side connection object once one registers. Only
// meaningful while the fixture holds a single connection.
func (f *gatewayFixture) serverConn(t *testing.T) *Conn {
	t.Helper()
	var conn *Conn
	require.Eventually(t, func() bool {
		f.registry.mu.RLock()
		defer f.registry.mu.RUnlock()
		for _, c := range f.registry.conns {
			conn = c
			return true
		}
		return false
	}, eventWait, 10*time.Millisecond)
	return conn
}

func (f *gatewayFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

// testClient is a raw websocket peer with a buffered view of everything the
// server pushed to it.
type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	events chan *Event
}

func (f *gatewayFixture) dial(t *testing.T) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(), nil)
	require.NoError(t, err)

	c := &testClient{t: t, conn: conn, events: make(chan *Event, 100)}
	go func() {
		for {
			var e Event
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			c.events <- &e
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return c
}

// connectUser dials and authenticates in one step.
func (f *gatewayFixture) connectUser(t *testing.T, userID string) *testClient {
	t.Helper()
	c := f.dial(t)
	c.send(EventAuthenticate, AuthenticatePayload{Token: f.auth.tokenFor(userID)})
	p := payloadAs[AuthenticatedPayload](t, c.waitFor(EventAuthenticated))
	require.Equal(t, userID, p.UserID)
	return c
}

func (c *testClient) send(typ string, payload interface{}) {
	c.t.Helper()
	e, err := NewEvent(typ, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(e))
}

// waitFor reads until an event of the wanted type arrives, discarding others.
func (c *testClient) waitFor(typ string) *Event {
	c.t.Helper()
	deadline := time.After(eventWait)
	for {
		select {
		case e := <-c.events:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for %q event", typ)
			return nil
		}
	}
}

// expectNone asserts no event of the type arrives within the window.
func (c *testClient) expectNone(typ string, window time.Duration) {
	c.t.Helper()
	deadline := time.After(window)
	for {
		select {
		case e := <-c.events:
			if e.Type == typ {
				c.t.Fatalf("unexpected %q event: %s", typ, e.Payload)
			}
		case <-deadline:
			return
		}
	}
}

func (c *testClient) close() {
	c.conn.Close()
}

func payloadAs[T any](t *testing.T, e *Event) T {
	t.Helper()
	var p T
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	return p
}

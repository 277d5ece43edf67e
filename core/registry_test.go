package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEvictsStaleConnections(t *testing.T) {
	f := newGatewayFixture(t)
	f.dial(t)
	conn := f.serverConn(t)

	// a fresh connection survives the sweep
	f.registry.evictStale()
	assert.Equal(t, 1, f.registry.ConnCount())

	// a connection silent past the pong window does not
	conn.mu.Lock()
	conn.lastActive = time.Now().Add(-time.Hour)
	conn.mu.Unlock()
	f.registry.evictStale()

	require.Eventually(t, func() bool { return f.registry.ConnCount() == 0 },
		eventWait, 10*time.Millisecond)
}

func TestRegistryDisconnectTearsDown(t *testing.T) {
	f := newGatewayFixture(t)
	f.connectUser(t, "alice")
	conn := f.serverConn(t)

	f.registry.Disconnect(conn.ID())

	require.Eventually(t, func() bool {
		return f.registry.ConnCount() == 0 && !f.registry.IsUserConnected("alice")
	}, eventWait, 10*time.Millisecond)
	assert.False(t, f.presence.IsOnline("alice"))
}

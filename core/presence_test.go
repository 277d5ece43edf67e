package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceTrackerDerivedFromConnCount(t *testing.T) {
	p := NewPresenceTracker()

	assert.False(t, p.IsOnline("alice"))

	// First connection flips the user online, later ones do not re-flip.
	assert.True(t, p.MarkConnected("alice"))
	assert.True(t, p.IsOnline("alice"))
	assert.False(t, p.MarkConnected("alice"))
	assert.False(t, p.MarkConnected("alice"))
	assert.True(t, p.IsOnline("alice"))

	// Only the last disconnect flips the user offline.
	assert.False(t, p.MarkDisconnected("alice"))
	assert.False(t, p.MarkDisconnected("alice"))
	assert.True(t, p.IsOnline("alice"))
	assert.True(t, p.MarkDisconnected("alice"))
	assert.False(t, p.IsOnline("alice"))

	// Disconnect for an unknown user is a no-op, not an offline edge.
	assert.False(t, p.MarkDisconnected("alice"))
	assert.False(t, p.MarkDisconnected("ghost"))
	assert.False(t, p.IsOnline("ghost"))
}

func TestPresenceTrackerLastSeen(t *testing.T) {
	p := NewPresenceTracker()

	_, ok := p.LastSeen("alice")
	assert.False(t, ok)

	p.MarkConnected("alice")
	_, ok = p.LastSeen("alice")
	assert.False(t, ok, "last seen is only recorded on the offline edge")

	p.MarkDisconnected("alice")
	first, ok := p.LastSeen("alice")
	require.True(t, ok)
	assert.False(t, first.IsZero())

	p.MarkConnected("alice")
	p.MarkDisconnected("alice")
	second, ok := p.LastSeen("alice")
	require.True(t, ok)
	assert.False(t, second.Before(first))
}

func TestPresenceTrackerOnlineUsers(t *testing.T) {
	p := NewPresenceTracker()
	p.MarkConnected("carol")
	p.MarkConnected("alice")
	p.MarkConnected("bob")
	p.MarkConnected("alice")

	assert.Equal(t, []string{"alice", "bob", "carol"}, p.OnlineUsers())

	p.MarkDisconnected("bob")
	assert.Equal(t, []string{"alice", "carol"}, p.OnlineUsers())
}

func TestPresenceTrackerSubscriptions(t *testing.T) {
	p := NewPresenceTracker()

	online, _ := p.Subscribe("conn-1", "alice")
	assert.False(t, online)

	p.MarkConnected("alice")
	online, _ = p.Subscribe("conn-2", "alice")
	assert.True(t, online)

	assert.Equal(t, []string{"conn-1", "conn-2"}, p.WatchersOf("alice"))
	assert.Empty(t, p.WatchersOf("bob"))

	// Global subscribers watch every user.
	p.SubscribeGlobal("conn-3")
	assert.Equal(t, []string{"conn-1", "conn-2", "conn-3"}, p.WatchersOf("alice"))
	assert.Equal(t, []string{"conn-3"}, p.WatchersOf("bob"))

	// A connection that is both a per-user and a global subscriber is
	// reported once.
	p.SubscribeGlobal("conn-1")
	assert.Equal(t, []string{"conn-1", "conn-2", "conn-3"}, p.WatchersOf("alice"))

	p.Unsubscribe("conn-1")
	assert.Equal(t, []string{"conn-2", "conn-3"}, p.WatchersOf("alice"))
	p.Unsubscribe("conn-3")
	assert.Equal(t, []string{"conn-2"}, p.WatchersOf("alice"))
	assert.Empty(t, p.WatchersOf("bob"))

	// Unsubscribing an unknown connection is a no-op.
	p.Unsubscribe("conn-9")
	assert.Equal(t, []string{"conn-2"}, p.WatchersOf("alice"))
}

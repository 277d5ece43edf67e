package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomSetJoinLeave(t *testing.T) {
	rs := NewRoomSet()

	rs.Join("conn-1", "r1")
	rs.Join("conn-2", "r1")
	rs.Join("conn-1", "r2")

	assert.True(t, rs.IsMember("r1", "conn-1"))
	assert.True(t, rs.IsMember("r1", "conn-2"))
	assert.False(t, rs.IsMember("r2", "conn-2"))
	assert.Equal(t, []string{"conn-1", "conn-2"}, rs.MembersOf("r1"))
	assert.Equal(t, []string{"r1", "r2"}, rs.RoomsOf("conn-1"))

	// Joining twice then leaving once fully removes membership.
	rs.Join("conn-1", "r1")
	rs.Leave("conn-1", "r1")
	assert.False(t, rs.IsMember("r1", "conn-1"))
	assert.Equal(t, []string{"conn-2"}, rs.MembersOf("r1"))
	assert.Equal(t, []string{"r2"}, rs.RoomsOf("conn-1"))

	// Leaving again, or leaving a room never joined, is a no-op.
	rs.Leave("conn-1", "r1")
	rs.Leave("conn-1", "r9")
	rs.Leave("conn-9", "r1")
	assert.Equal(t, []string{"conn-2"}, rs.MembersOf("r1"))
}

func TestRoomSetPurge(t *testing.T) {
	rs := NewRoomSet()

	rs.Join("conn-1", "r1")
	rs.Join("conn-1", "r2")
	rs.Join("conn-2", "r1")

	rs.Purge("conn-1")

	assert.Empty(t, rs.RoomsOf("conn-1"))
	assert.False(t, rs.IsMember("r1", "conn-1"))
	assert.False(t, rs.IsMember("r2", "conn-1"))
	assert.Equal(t, []string{"conn-2"}, rs.MembersOf("r1"))
	assert.Empty(t, rs.MembersOf("r2"))

	rs.Purge("conn-9")
	assert.Equal(t, []string{"conn-2"}, rs.MembersOf("r1"))
}

func TestRoomSetEmptyQueries(t *testing.T) {
	rs := NewRoomSet()
	assert.Empty(t, rs.MembersOf("r1"))
	assert.Empty(t, rs.RoomsOf("conn-1"))
	assert.False(t, rs.IsMember("r1", "conn-1"))
}

package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termchat/logger"
)

func TestSessionTableSlots(t *testing.T) {
	table := newSessionTable(2)
	log := logger.Discard()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	a, ok := table.add(c1, 64, log)
	require.True(t, ok)
	b, ok := table.add(c2, 64, log)
	require.True(t, ok)
	assert.NotEqual(t, a.traceID, b.traceID)

	_, ok = table.add(c1, 64, log)
	assert.False(t, ok, "table is full")

	table.remove(a)
	assert.False(t, table.owns(a))
	assert.Equal(t, 1, table.len())

	// the freed slot is reused, the old session stays stale
	c, ok := table.add(c1, 64, log)
	require.True(t, ok)
	assert.Equal(t, a.slot, c.slot)
	assert.False(t, table.owns(a))
	assert.True(t, table.owns(c))

	table.remove(a)
	assert.Equal(t, 2, table.len(), "removing a stale session is a no-op")
}

func TestSessionTableLookup(t *testing.T) {
	table := newSessionTable(4)
	log := logger.Discard()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	a, _ := table.add(c1, 64, log)
	b, _ := table.add(c2, 64, log)

	a.authenticated, a.username = true, "alice"

	assert.Same(t, a, table.byUsername("alice"))
	assert.Nil(t, table.byUsername("bob"))
	assert.True(t, table.online("alice"))
	assert.Equal(t, []*Session{a}, table.authenticated())

	var seen []*Session
	table.each(func(s *Session) {
		seen = append(seen, s)
		table.remove(s)
	})
	assert.Equal(t, []*Session{a, b}, seen)
	assert.Zero(t, table.len())
}

func TestGroupMembersFilter(t *testing.T) {
	f := groupMembers{"alice": {}}
	assert.True(t, f.accept("alice"))
	assert.False(t, f.accept("bob"))
	assert.True(t, everyone{}.accept("anyone"))
}

func TestServeClosesQueuedConnections(t *testing.T) {
	srv := New(nil, Config{Addr: "127.0.0.1:0"}, logger.Discard(), nil)
	require.NoError(t, srv.Listen())

	local, remote := net.Pipe()
	defer remote.Close()
	srv.inbox <- event{kind: evAccept, conn: local}

	srv.Stop()
	require.NoError(t, srv.Serve())

	remote.SetReadDeadline(time.Now().Add(time.Second))
	_, err := remote.Read(make([]byte, 1))
	require.Error(t, err)
	netErr, ok := err.(net.Error)
	assert.False(t, ok && netErr.Timeout(), "queued connection was left open")
}

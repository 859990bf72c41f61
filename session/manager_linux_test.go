//go:build linux

// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// manager_linux_test.go — fleet assignment, hand-off mapping and worker
// lifecycle.

package session

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hiochat/api"
	"github.com/momentics/hiochat/protocol"
	"github.com/momentics/hiochat/transport"
)

// pairConn builds a socketpair and wraps one end for the fleet; the
// other end is returned for the test to talk over.
func pairConn(t *testing.T) (int, *transport.Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	conn, err := transport.NewConn(fds[0])
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[1])
		_ = conn.Close()
	})
	return fds[1], conn
}

func TestManager_RoundRobinAssign(t *testing.T) {
	m := newTestManager(t, 3)

	want := []int32{0, 1, 2, 0, 1, 2}
	for i, expected := range want {
		_, conn := pairConn(t)
		id, err := m.Assign(conn)
		require.NoError(t, err)
		assert.Equal(t, expected, id, "assignment %d", i)

		mapped, ok := m.SessionOf(conn.FD())
		require.True(t, ok)
		assert.Equal(t, expected, mapped)
	}
	assert.Equal(t, len(want), m.ClientCount())
}

func TestManager_AssignRejectsClosedConn(t *testing.T) {
	m := newTestManager(t, 1)
	_, conn := pairConn(t)
	require.NoError(t, conn.Close())

	_, err := m.Assign(conn)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Zero(t, m.ClientCount())
}

func TestManager_RemoveForgetsMapping(t *testing.T) {
	m := newTestManager(t, 1)
	_, conn := pairConn(t)
	_, err := m.Assign(conn)
	require.NoError(t, err)
	require.Equal(t, 1, m.ClientCount())

	m.Remove(conn.FD())
	assert.Zero(t, m.ClientCount())
	_, ok := m.SessionOf(conn.FD())
	assert.False(t, ok)
}

func TestManager_SessionLookup(t *testing.T) {
	m := newTestManager(t, 2)

	assert.Equal(t, []int32{0, 1}, m.SessionIDs())
	s, ok := m.SessionByIndex(1)
	require.True(t, ok)
	assert.Equal(t, int32(1), s.ID())

	_, ok = m.SessionByIndex(9)
	assert.False(t, ok)
}

func TestManager_DefaultThreadCount(t *testing.T) {
	m := newTestManager(t, 0)
	assert.Len(t, m.SessionIDs(), runtime.NumCPU())
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager(t, 2)
	_, conn := pairConn(t)
	_, err := m.Assign(conn)
	require.NoError(t, err)

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, int32(0), stats[0].ID)
	assert.Equal(t, 1, stats[0].Clients)
	assert.Equal(t, int32(1), stats[1].ID)
	assert.Zero(t, stats[1].Clients)
}

func TestManager_StartedFleetServesEcho(t *testing.T) {
	m := newTestManager(t, 2)
	require.NoError(t, m.Start())
	defer m.Stop()
	assert.ErrorIs(t, m.Start(), api.ErrAlreadyRunning)

	peer, conn := pairConn(t)
	_, err := m.Assign(conn)
	require.NoError(t, err)

	send(t, peer, encode(t, protocol.ClientChat, []byte("live")))

	var acc []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(3 * time.Second)
	for len(acc) < protocol.HeaderSize+4 && time.Now().Before(deadline) {
		n, err := unix.Read(peer, buf)
		if err == unix.EAGAIN || err == unix.EINTR {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		require.NoError(t, err)
		acc = append(acc, buf[:n]...)
	}
	require.GreaterOrEqual(t, len(acc), protocol.HeaderSize+4)
	assert.Equal(t, byte(protocol.ServerEcho), acc[0])
	assert.Equal(t, []byte("live"), acc[protocol.HeaderSize:protocol.HeaderSize+4])
}

func TestManager_StopJoinsWorkersPromptly(t *testing.T) {
	m := newTestManager(t, 4)
	require.NoError(t, m.Start())

	_, conn := pairConn(t)
	_, err := m.Assign(conn)
	require.NoError(t, err)

	start := time.Now()
	m.Stop()
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, m.ClientCount())

	// A second stop is a no-op.
	m.Stop()
}

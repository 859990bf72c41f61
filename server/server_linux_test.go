//go:build linux

// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// server_linux_test.go — full-stack round trips over loopback TCP.

package server

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/momentics/hiochat/api"
	"github.com/momentics/hiochat/client"
	"github.com/momentics/hiochat/protocol"
)

func startTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	base := []ServerOption{
		WithLogger(zap.NewNop()),
		WithThreads(2),
		WithPollTimeout(10),
	}
	srv, err := New("127.0.0.1", 0, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func dialTestServer(t *testing.T, srv *Server) *client.Client {
	t.Helper()
	c, err := client.Dial("127.0.0.1", srv.Port(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	return c
}

func TestServer_EchoOverTCP(t *testing.T) {
	srv := startTestServer(t)
	c := dialTestServer(t, srv)

	require.NoError(t, c.SendChat("Hello"))
	frame, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.ServerEcho, frame.Header.Type)
	assert.Equal(t, []byte("Hello"), frame.Payload)
}

func TestServer_JoinThenEcho(t *testing.T) {
	srv := startTestServer(t)
	c := dialTestServer(t, srv)

	// The first connection lands on session 0; hop to session 1. A
	// successful move is silent, so wait for the fleet mapping to flip
	// before talking again.
	require.NoError(t, c.Join(1))
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		stats := srv.Manager().Stats()
		if len(stats) > 1 && stats[1].Clients == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, srv.Manager().Stats()[1].Clients)

	require.NoError(t, c.SendChat("moved"))
	frame, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.ServerEcho, frame.Header.Type)
	assert.Equal(t, []byte("moved"), frame.Payload)
}

func TestServer_JoinUnknownSession(t *testing.T) {
	srv := startTestServer(t)
	c := dialTestServer(t, srv)

	require.NoError(t, c.Join(42))
	frame, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.ServerError, frame.Header.Type)
	assert.Contains(t, string(frame.Payload), "Failed to join session")
}

func TestServer_StatsCommand(t *testing.T) {
	srv := startTestServer(t)
	c := dialTestServer(t, srv)

	require.NoError(t, c.Command("stats"))
	frame, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.ServerNotification, frame.Header.Type)
	assert.Contains(t, string(frame.Payload), "clients=1")
}

func TestServer_LeaveDisconnects(t *testing.T) {
	srv := startTestServer(t)
	c := dialTestServer(t, srv)

	require.NoError(t, c.Leave())
	_, err := c.Recv()
	assert.Error(t, err, "the server closes the connection on LEAVE")
}

func TestServer_ProtocolViolationDisconnects(t *testing.T) {
	srv := startTestServer(t)

	raw, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()), 2*time.Second)
	require.NoError(t, err)
	defer raw.Close()

	// An oversize length condemns the connection on the header alone.
	_, err = raw.Write([]byte{0x13, 0xFE, 0x03})
	require.NoError(t, err)

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 1)
	_, err = raw.Read(buf)
	assert.Error(t, err, "the server drops the offender without a reply")
}

func TestServer_StartStopLifecycle(t *testing.T) {
	srv, err := New("127.0.0.1", 0, WithLogger(zap.NewNop()), WithThreads(1), WithPollTimeout(10))
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	assert.ErrorIs(t, srv.Start(), api.ErrAlreadyRunning)
	assert.Greater(t, srv.Port(), 0)

	start := time.Now()
	srv.Stop()
	assert.Less(t, time.Since(start), 3*time.Second)

	// A second stop is a no-op.
	srv.Stop()
}

func TestServer_ManyClients(t *testing.T) {
	srv := startTestServer(t, WithThreads(3))

	const clients = 9
	conns := make([]*client.Client, clients)
	for i := range conns {
		conns[i] = dialTestServer(t, srv)
	}
	for i, c := range conns {
		require.NoError(t, c.SendChat("hello"))
		frame, err := c.Recv()
		require.NoError(t, err, "client %d", i)
		assert.Equal(t, []byte("hello"), frame.Payload)
	}
	assert.Equal(t, clients, srv.Manager().ClientCount())
}

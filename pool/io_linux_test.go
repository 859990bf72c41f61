//go:build linux

// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// io_linux_test.go — framed fd I/O over a loopback socketpair.

package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReadInto_AppendsAndWouldBlock(t *testing.T) {
	local, peer := socketPair(t)
	p, err := NewBufferPool(64, 1)
	require.NoError(t, err)
	buf, ok := p.Allocate()
	require.True(t, ok)

	_, err = unix.Write(peer, []byte("abc"))
	require.NoError(t, err)

	n, eof, err := ReadInto(local, buf)
	require.NoError(t, err)
	assert.False(t, eof)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("abc"), buf.Bytes())

	// Second append lands behind the first.
	_, err = unix.Write(peer, []byte("de"))
	require.NoError(t, err)
	n, eof, err = ReadInto(local, buf)
	require.NoError(t, err)
	assert.False(t, eof)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("abcde"), buf.Bytes())

	// Drained socket reports would-block, not an error.
	n, eof, err = ReadInto(local, buf)
	require.NoError(t, err)
	assert.False(t, eof)
	assert.Zero(t, n)
}

func TestReadInto_EOF(t *testing.T) {
	local, peer := socketPair(t)
	p, err := NewBufferPool(64, 1)
	require.NoError(t, err)
	buf, ok := p.Allocate()
	require.True(t, ok)

	require.NoError(t, unix.Close(peer))
	_, eof, err := ReadInto(local, buf)
	require.NoError(t, err)
	assert.True(t, eof)
}

func TestReadInto_FullBuffer(t *testing.T) {
	local, peer := socketPair(t)
	p, err := NewBufferPool(4, 1)
	require.NoError(t, err)
	buf, ok := p.Allocate()
	require.True(t, ok)

	_, err = unix.Write(peer, []byte("abcdef"))
	require.NoError(t, err)

	n, _, err := ReadInto(local, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "read stops at slot capacity")

	n, _, err = ReadInto(local, buf)
	require.NoError(t, err)
	assert.Zero(t, n, "a full buffer takes nothing more")
}

func TestWriteFrom_DrainsFromOffset(t *testing.T) {
	local, peer := socketPair(t)
	p, err := NewBufferPool(16, 1)
	require.NoError(t, err)
	buf, ok := p.Allocate()
	require.True(t, ok)

	copy(buf.Data, "hello")
	buf.Length = 5
	buf.WriteOffset = 2

	n, err := WriteFrom(local, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 5, buf.WriteOffset)
	assert.Zero(t, buf.Remaining())

	got := make([]byte, 8)
	k, err := unix.Read(peer, got)
	require.NoError(t, err)
	assert.Equal(t, []byte("llo"), got[:k])

	// Fully drained buffer writes nothing.
	n, err = WriteFrom(local, buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteFrom_PeerGone(t *testing.T) {
	local, peer := socketPair(t)
	require.NoError(t, unix.Close(peer))

	p, err := NewBufferPool(16, 1)
	require.NoError(t, err)
	buf, ok := p.Allocate()
	require.True(t, ok)
	copy(buf.Data, "x")
	buf.Length = 1

	_, err = WriteFrom(local, buf)
	assert.Error(t, err)
}

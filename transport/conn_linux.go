//go:build linux

// File: transport/conn_linux.go
// Package transport owns raw socket plumbing: the move-only connection
// handle, the non-blocking listener and the acceptor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"

	uatomic "go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/momentics/hiochat/api"
)

// Conn is the single owning handle for one socket descriptor. Exactly
// one Conn wraps a given fd at any time; closing is idempotent so a
// descriptor can never be closed twice through it.
type Conn struct {
	fd     int
	closed uatomic.Bool
}

// NewConn wraps an accepted descriptor.
func NewConn(fd int) (*Conn, error) {
	if fd < 0 {
		return nil, fmt.Errorf("fd %d: %w", fd, api.ErrInvalidArgument)
	}
	return &Conn{fd: fd}, nil
}

// FD returns the descriptor, which is also the connection's stable key
// in a session's connection map.
func (c *Conn) FD() int { return c.fd }

// Valid reports whether the handle still owns an open descriptor.
func (c *Conn) Valid() bool { return c != nil && c.fd >= 0 && !c.closed.Load() }

// SetNonblock flips the descriptor to non-blocking mode.
func (c *Conn) SetNonblock() error {
	if err := unix.SetNonblock(c.fd, true); err != nil {
		return fmt.Errorf("set nonblock fd %d: %w", c.fd, err)
	}
	return nil
}

// Close closes the descriptor once, retrying on interrupt. Later calls
// are no-ops.
func (c *Conn) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	for {
		err := unix.Close(c.fd)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("close fd %d: %w", c.fd, err)
		}
		return nil
	}
}

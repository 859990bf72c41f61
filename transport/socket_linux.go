//go:build linux

// File: transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking IPv4 listening socket helpers.

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/momentics/hiochat/api"
)

const listenBacklog = 128

// Listener owns the listening socket descriptor.
type Listener struct {
	conn *Conn
	port int
}

// Listen binds a non-blocking SO_REUSEADDR IPv4 listener. An empty host
// binds every interface; port 0 picks an ephemeral port, readable via
// Port afterwards.
func Listen(host string, port int) (*Listener, error) {
	addr, err := resolveIPv4(host)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s:%d: %w", host, port, err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	conn, _ := NewConn(fd)
	return &Listener{
		conn: conn,
		port: bound.(*unix.SockaddrInet4).Port,
	}, nil
}

// FD returns the listening descriptor.
func (l *Listener) FD() int { return l.conn.FD() }

// Port returns the bound TCP port.
func (l *Listener) Port() int { return l.port }

// Close shuts the listening socket.
func (l *Listener) Close() error { return l.conn.Close() }

// Accept takes one pending connection, already non-blocking. A drained
// backlog is reported as (nil, nil); the caller waits for the next
// readiness.
func (l *Listener) Accept() (*Conn, error) {
	for {
		fd, _, err := unix.Accept4(l.conn.FD(), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			return NewConn(fd)
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return nil, nil
		default:
			return nil, fmt.Errorf("accept: %w", err)
		}
	}
}

func resolveIPv4(host string) ([4]byte, error) {
	var out [4]byte
	if host == "" || host == "0.0.0.0" || host == "*" {
		return out, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return out, fmt.Errorf("resolve %q: %w", host, err)
		}
		for _, cand := range ips {
			if cand.To4() != nil {
				ip = cand
				break
			}
		}
	}
	if ip == nil || ip.To4() == nil {
		return out, fmt.Errorf("host %q has no IPv4 address: %w", host, api.ErrInvalidArgument)
	}
	copy(out[:], ip.To4())
	return out, nil
}

//go:build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll backend. Registrations are edge-triggered, so the caller
// must drain an fd until would-block after every readiness report.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hiochat/api"
)

const maxEvents = 128

type epollReactor struct {
	epfd    int
	events  []unix.EpollEvent
	pending int
	cursor  int
	closed  bool
}

func newReactor() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollReactor{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func epollMask(interest Interest) uint32 {
	mask := uint32(unix.EPOLLET)
	if interest&Readable != 0 {
		mask |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		mask |= unix.EPOLLOUT
	}
	if interest&PeerHangup != 0 {
		mask |= unix.EPOLLRDHUP
	}
	return mask
}

func (r *epollReactor) ctl(op, fd int, interest Interest) error {
	if r.closed {
		return api.ErrClosed
	}
	ev := unix.EpollEvent{
		Events: epollMask(interest),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(r.epfd, op, fd, &ev)
}

func (r *epollReactor) Add(fd int, interest Interest) error {
	if err := r.ctl(unix.EPOLL_CTL_ADD, fd, interest); err != nil {
		return fmt.Errorf("epoll add fd %d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Modify(fd int, interest Interest) error {
	if err := r.ctl(unix.EPOLL_CTL_MOD, fd, interest); err != nil {
		return fmt.Errorf("epoll mod fd %d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Remove(fd int) error {
	if r.closed {
		return api.ErrClosed
	}
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		// Already gone; removal is tolerant.
		return nil
	}
	if err != nil {
		return fmt.Errorf("epoll del fd %d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) PrepareRead(fd int) error {
	return r.Add(fd, Readable|PeerHangup)
}

func (r *epollReactor) Wait(timeoutMs int) (int, error) {
	if r.closed {
		return -1, api.ErrClosed
	}
	r.pending, r.cursor = 0, 0
	n, err := unix.EpollWait(r.epfd, r.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return -1, fmt.Errorf("epoll wait: %w", err)
	}
	r.pending = n
	return n, nil
}

func (r *epollReactor) Drain(out []Event) int {
	n := 0
	for ; r.cursor < r.pending && n < len(out); r.cursor++ {
		ev := r.events[r.cursor]
		out[n] = Event{
			FD:       int(ev.Fd),
			Readable: ev.Events&unix.EPOLLIN != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Closed:   ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		}
		n++
	}
	return n
}

func (r *epollReactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return unix.Close(r.epfd)
}

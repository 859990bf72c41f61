//go:build linux

// File: transport/acceptor_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Edge-triggered accept loop feeding the session fleet.

package transport

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hiochat/reactor"
)

// Assigner places an accepted connection onto a session.
type Assigner interface {
	Assign(conn *Conn) (int32, error)
}

// Acceptor watches the listening socket on its own small reactor and
// hands every accepted connection to the assigner.
type Acceptor struct {
	listener *Listener
	reactor  reactor.Reactor
	assigner Assigner
	log      *zap.Logger
	events   []reactor.Event
}

// NewAcceptor registers the listener for edge-triggered readability.
func NewAcceptor(l *Listener, assigner Assigner, log *zap.Logger) (*Acceptor, error) {
	r, err := reactor.New()
	if err != nil {
		return nil, err
	}
	if err := r.PrepareRead(l.FD()); err != nil {
		_ = r.Close()
		return nil, err
	}
	return &Acceptor{
		listener: l,
		reactor:  r,
		assigner: assigner,
		log:      log,
		events:   make([]reactor.Event, 16),
	}, nil
}

// ProcessEvents waits up to timeoutMs for backlog readiness and drains
// every pending connection. Accept failures other than a drained
// backlog are logged and the listener keeps going.
func (a *Acceptor) ProcessEvents(timeoutMs int) bool {
	n, err := a.reactor.Wait(timeoutMs)
	if err != nil {
		a.log.Error("acceptor wait failed", zap.Error(err))
		return false
	}
	if n == 0 {
		return false
	}
	accepted := false
	for a.reactor.Drain(a.events) > 0 {
		for {
			conn, err := a.listener.Accept()
			if err != nil {
				a.log.Error("accept failed", zap.Error(err))
				break
			}
			if conn == nil {
				// Backlog drained.
				break
			}
			id, err := a.assigner.Assign(conn)
			if err != nil {
				a.log.Error("assign failed", zap.Int("fd", conn.FD()), zap.Error(err))
				_ = conn.Close()
				continue
			}
			a.log.Info("client accepted", zap.Int("fd", conn.FD()), zap.Int32("session", id))
			accepted = true
		}
	}
	return accepted
}

// Stop deregisters and closes the listening socket and the reactor.
func (a *Acceptor) Stop() {
	if err := a.reactor.Remove(a.listener.FD()); err != nil && err != unix.EBADF {
		a.log.Warn("acceptor unregister failed", zap.Error(err))
	}
	if err := a.listener.Close(); err != nil {
		a.log.Warn("listener close failed", zap.Error(err))
	}
	if err := a.reactor.Close(); err != nil {
		a.log.Warn("acceptor reactor close failed", zap.Error(err))
	}
}

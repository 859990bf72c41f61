//go:build linux

// File: server/server_linux.go
// Package server composes the listener, the acceptor and the session
// fleet into one runnable chat server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"sync"

	uatomic "go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/momentics/hiochat/api"
	"github.com/momentics/hiochat/control"
	"github.com/momentics/hiochat/session"
	"github.com/momentics/hiochat/transport"
)

// Server is the composition root: one listener, one acceptor thread and
// the session fleet.
type Server struct {
	cfg      serverConfig
	log      *zap.Logger
	metrics  *control.Metrics
	manager  *session.Manager
	listener *transport.Listener
	acceptor *transport.Acceptor
	debug    *control.DebugServer

	running uatomic.Bool
	wg      sync.WaitGroup
}

// New builds the server without touching the network yet.
func New(host string, port int, opts ...ServerOption) (*Server, error) {
	cfg := defaultServerConfig(host, port)
	for _, opt := range opts {
		opt(&cfg)
	}

	metrics := control.NewMetrics()
	mgr, err := session.NewManager(cfg.threads,
		session.WithLogger(cfg.log),
		session.WithMetrics(metrics),
		session.WithBufferSize(cfg.bufferSize),
		session.WithBufferCount(cfg.bufferCount),
		session.WithPollTimeout(cfg.pollTimeout),
		session.WithCPUPinning(cfg.pinCPUs),
	)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		log:     cfg.log,
		metrics: metrics,
		manager: mgr,
	}, nil
}

// Port returns the bound TCP port once Start has succeeded.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Port()
}

// Manager exposes the fleet, chiefly for tests.
func (s *Server) Manager() *session.Manager { return s.manager }

// Start binds the listener and launches the fleet, the acceptor thread
// and the optional debug endpoint.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return api.ErrAlreadyRunning
	}
	l, err := transport.Listen(s.cfg.host, s.cfg.port)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("start listener: %w", err)
	}
	acc, err := transport.NewAcceptor(l, s.manager, s.log)
	if err != nil {
		_ = l.Close()
		s.running.Store(false)
		return fmt.Errorf("start acceptor: %w", err)
	}
	s.listener = l
	s.acceptor = acc

	if err := s.manager.Start(); err != nil {
		acc.Stop()
		s.running.Store(false)
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for s.running.Load() {
			s.acceptor.ProcessEvents(s.cfg.pollTimeout)
		}
	}()

	if s.cfg.debugAddr != "" {
		s.debug = control.NewDebugServer(s.cfg.debugAddr, s.metrics, s.manager.Stats, s.log)
		s.debug.Start()
	}

	s.log.Info("server listening",
		zap.String("host", s.cfg.host), zap.Int("port", l.Port()),
		zap.Int("sessions", len(s.manager.SessionIDs())))
	return nil
}

// Stop tears everything down in dependency order: no new connections,
// then the fleet, then the debug endpoint.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.wg.Wait()
	s.acceptor.Stop()
	s.manager.Stop()
	if s.debug != nil {
		s.debug.Stop()
	}
	s.log.Info("server stopped")
}

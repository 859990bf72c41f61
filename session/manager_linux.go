//go:build linux

// File: session/manager_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The fleet manager: fixed session pool, one worker thread per session,
// round-robin assignment and cross-session moves by message passing.

package session

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/samber/lo"
	uatomic "go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/momentics/hiochat/api"
	"github.com/momentics/hiochat/control"
	"github.com/momentics/hiochat/internal/affinity"
	"github.com/momentics/hiochat/transport"
)

// Manager owns the session fleet. Its two maps are the only state shared
// across threads; every mutation happens under one mutex, and the
// round-robin counter is atomic.
//
// Invariant: clientToSession[fd] = s exactly when session s holds fd.
// During a hand-off the mapping points at the target while the conn sits
// in its inbox; no reactor sees the fd in that window.
type Manager struct {
	cfg config
	log *zap.Logger

	mu              sync.Mutex
	sessions        map[int32]*Session
	ids             []int32
	clientToSession map[int]int32

	rr      uatomic.Uint64
	running uatomic.Bool
	wg      sync.WaitGroup
}

// NewManager builds a fleet of threadCount sessions with ids
// 0..threadCount-1. A non-positive count defaults to the host's
// hardware concurrency, minimum one.
func NewManager(threadCount int, opts ...Option) (*Manager, error) {
	if threadCount <= 0 {
		threadCount = runtime.NumCPU()
	}
	if threadCount < 1 {
		threadCount = 1
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Manager{
		cfg:             cfg,
		log:             cfg.log,
		sessions:        make(map[int32]*Session, threadCount),
		ids:             make([]int32, 0, threadCount),
		clientToSession: make(map[int]int32),
	}
	for i := 0; i < threadCount; i++ {
		id := int32(i)
		s, err := newSession(id, m, cfg)
		if err != nil {
			for _, built := range m.sessions {
				built.Close()
			}
			return nil, fmt.Errorf("create session %d: %w", id, err)
		}
		m.sessions[id] = s
		m.ids = append(m.ids, id)
	}
	m.log.Info("session fleet created", zap.Int("sessions", threadCount))
	return m, nil
}

// Start spawns one pinned worker thread per session.
func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return api.ErrAlreadyRunning
	}
	for _, id := range m.ids {
		s := m.sessions[id]
		m.wg.Add(1)
		go m.run(s)
	}
	m.log.Info("session fleet started", zap.Int("workers", len(m.ids)))
	return nil
}

func (m *Manager) run(s *Session) {
	defer m.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if m.cfg.pinCPUs {
		if err := affinity.Pin(int(s.id)); err != nil {
			m.log.Warn("cpu pin failed", zap.Int32("session", s.id), zap.Error(err))
		}
	}

	for m.running.Load() {
		if s.ConnCount() == 0 && s.InboxLen() == 0 {
			time.Sleep(m.cfg.idleSleep)
			continue
		}
		m.tick(s)
	}
}

// tick isolates one loop iteration so a panicking handler cannot take
// the worker down with it.
func (m *Manager) tick(s *Session) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("session tick panicked",
				zap.Int32("session", s.id), zap.Any("panic", r))
			time.Sleep(10 * time.Millisecond)
		}
	}()
	s.ProcessEvents(m.cfg.pollTimeout)
}

// Stop flips the running flag, joins every worker and clears all state.
// Workers exit within one poll timeout of the flip.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.Close()
	}
	m.clientToSession = make(map[int]int32)
	m.log.Info("session fleet stopped")
}

// Assign places an accepted connection on the next round-robin session
// and returns its id.
func (m *Manager) Assign(conn *transport.Conn) (int32, error) {
	if !conn.Valid() {
		return 0, api.ErrInvalidArgument
	}
	n := uint64(len(m.ids))
	if n == 0 {
		return 0, api.ErrClosed
	}
	id := m.ids[(m.rr.Inc()-1)%n]

	m.mu.Lock()
	s := m.sessions[id]
	m.clientToSession[conn.FD()] = id
	m.mu.Unlock()

	if err := s.Post(conn); err != nil {
		m.forget(conn.FD())
		return 0, err
	}
	m.cfg.metrics.OnAccepted()
	return id, nil
}

// Remove drops the fd's fleet mapping. The owning session detaches the
// connection itself on its own thread.
func (m *Manager) Remove(fd int) {
	m.forget(fd)
}

func (m *Manager) forget(fd int) {
	m.mu.Lock()
	delete(m.clientToSession, fd)
	m.mu.Unlock()
}

// move migrates a connection from the origin session to the target's
// inbox. Called on the origin's worker thread; the target's reactor is
// never touched from here.
func (m *Manager) move(conn *transport.Conn, origin *Session, target int32) error {
	dst, ok := m.SessionByIndex(target)
	if !ok {
		return fmt.Errorf("session %d: %w", target, api.ErrSessionNotFound)
	}

	origin.RemoveClient(conn)
	m.mu.Lock()
	m.clientToSession[conn.FD()] = target
	m.mu.Unlock()

	if err := dst.Post(conn); err != nil {
		// Inbox full: fall back to the origin so the client is not lost.
		if addErr := origin.AddClient(conn); addErr != nil {
			m.forget(conn.FD())
			_ = conn.Close()
			return fmt.Errorf("move fd %d: %w", conn.FD(), addErr)
		}
		m.mu.Lock()
		m.clientToSession[conn.FD()] = origin.id
		m.mu.Unlock()
		return err
	}
	return nil
}

// SessionByIndex returns the session with the given id.
func (m *Manager) SessionByIndex(id int32) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// SessionIDs returns the fleet ids in creation order.
func (m *Manager) SessionIDs() []int32 {
	return append([]int32(nil), m.ids...)
}

// SessionOf reports which session currently owns fd.
func (m *Manager) SessionOf(fd int) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.clientToSession[fd]
	return id, ok
}

// ClientCount returns the number of mapped connections fleet-wide.
func (m *Manager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clientToSession)
}

// Stats snapshots the fleet for the debug endpoint.
func (m *Manager) Stats() []control.SessionStat {
	return lo.Map(m.SessionIDs(), func(id int32, _ int) control.SessionStat {
		s := m.sessions[id]
		return control.SessionStat{
			ID:        id,
			Processed: s.Processed(),
			PoolFree:  s.PoolFree(),
			Clients:   m.clientsOn(id),
		}
	})
}

func (m *Manager) clientsOn(id int32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sid := range m.clientToSession {
		if sid == id {
			n++
		}
	}
	return n
}

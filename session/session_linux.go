//go:build linux

// File: session/session_linux.go
// Package session implements the per-session I/O engine and the fleet
// manager that drives one engine per worker thread.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"fmt"
	"strconv"

	uatomic "go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/momentics/hiochat/api"
	"github.com/momentics/hiochat/pool"
	"github.com/momentics/hiochat/protocol"
	"github.com/momentics/hiochat/reactor"
	"github.com/momentics/hiochat/transport"
)

// Session owns a set of client connections and drives their I/O on a
// single worker thread. The reactor, the pool, the connection map and
// the partial-frame buffers are touched only from that thread; the only
// cross-thread surface is the inbox.
type Session struct {
	id      int32
	mgr     *Manager
	log     *zap.Logger
	reactor reactor.Reactor
	pool    *pool.BufferPool

	conns   map[int]*transport.Conn
	partial map[int]*pool.IOBuffer
	inbox   chan *transport.Conn
	events  []reactor.Event

	readBudget int
	processed  uatomic.Uint64
}

func newSession(id int32, mgr *Manager, cfg config) (*Session, error) {
	r, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("session %d: %w", id, err)
	}
	p, err := pool.NewBufferPool(cfg.bufferSize, cfg.bufferCount)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("session %d: %w", id, err)
	}
	return &Session{
		id:         id,
		mgr:        mgr,
		log:        cfg.log.With(zap.Int32("session", id)),
		reactor:    r,
		pool:       p,
		conns:      make(map[int]*transport.Conn),
		partial:    make(map[int]*pool.IOBuffer),
		inbox:      make(chan *transport.Conn, cfg.inboxCap),
		events:     make([]reactor.Event, 64),
		readBudget: cfg.readBudget,
	}, nil
}

// ID returns the session's fleet-unique id.
func (s *Session) ID() int32 { return s.id }

// ConnCount reports the number of owned connections. Worker thread only.
func (s *Session) ConnCount() int { return len(s.conns) }

// InboxLen reports the queued cross-thread hand-offs.
func (s *Session) InboxLen() int { return len(s.inbox) }

// Processed returns the number of client frames dispatched so far.
func (s *Session) Processed() uint64 { return s.processed.Load() }

// PoolFree returns the pool's current free slot count.
func (s *Session) PoolFree() int { return s.pool.FreeCount() }

// Post hands a connection to this session from another thread. The
// worker adopts it at the top of its next tick.
func (s *Session) Post(conn *transport.Conn) error {
	select {
	case s.inbox <- conn:
		return nil
	default:
		return fmt.Errorf("session %d: %w", s.id, api.ErrInboxFull)
	}
}

// AddClient registers a connection with the reactor and the connection
// map. Worker thread only; external callers go through Post.
func (s *Session) AddClient(conn *transport.Conn) error {
	if !conn.Valid() {
		s.log.Error("rejecting invalid client socket")
		return api.ErrInvalidArgument
	}
	fd := conn.FD()
	if err := s.reactor.PrepareRead(fd); err != nil {
		return err
	}
	s.conns[fd] = conn
	s.log.Info("client added", zap.Int("fd", fd), zap.Int("clients", len(s.conns)))
	return nil
}

// RemoveClient detaches a connection without closing it. Any partial
// inbound bytes and queued outbound buffers are returned to the pool.
func (s *Session) RemoveClient(conn *transport.Conn) {
	fd := conn.FD()
	if _, ok := s.conns[fd]; !ok {
		s.log.Debug("remove: client not in session", zap.Int("fd", fd))
		return
	}
	delete(s.conns, fd)
	s.releasePartial(fd)
	s.pool.Clear(fd)
	if err := s.reactor.Remove(fd); err != nil {
		s.log.Warn("reactor remove failed", zap.Int("fd", fd), zap.Error(err))
	}
	s.log.Info("client removed", zap.Int("fd", fd), zap.Int("clients", len(s.conns)))
}

// ProcessEvents runs one tick of the event loop and reports whether any
// work was done.
func (s *Session) ProcessEvents(timeoutMs int) bool {
	worked := s.drainInbox() > 0
	if len(s.conns) == 0 {
		return worked
	}

	n, err := s.reactor.Wait(timeoutMs)
	if err != nil {
		s.log.Error("reactor wait failed", zap.Error(err))
		return worked
	}
	if n == 0 {
		return worked
	}

	for {
		k := s.reactor.Drain(s.events)
		if k == 0 {
			break
		}
		for i := 0; i < k; i++ {
			s.handleEvent(s.events[i])
		}
	}
	if s.mgr != nil {
		s.mgr.cfg.metrics.SetPoolFree(strconv.Itoa(int(s.id)), s.pool.FreeCount())
	}
	return true
}

func (s *Session) handleEvent(ev reactor.Event) {
	conn, ok := s.conns[ev.FD]
	if !ok {
		s.log.Warn("event for unknown fd", zap.Int("fd", ev.FD))
		_ = s.reactor.Remove(ev.FD)
		return
	}
	if ev.Closed {
		s.log.Info("client disconnected", zap.Int("fd", ev.FD))
		s.handleClose(conn)
		return
	}
	if ev.Writable {
		s.handleWrite(conn)
	}
	if ev.Readable {
		// The write path may have closed the connection.
		if _, ok := s.conns[ev.FD]; ok {
			s.handleRead(conn)
		}
	}
}

func (s *Session) drainInbox() int {
	n := 0
	for {
		select {
		case conn := <-s.inbox:
			if err := s.AddClient(conn); err != nil {
				s.log.Error("inbox add failed", zap.Int("fd", conn.FD()), zap.Error(err))
				s.mgr.forget(conn.FD())
				_ = conn.Close()
				continue
			}
			n++
		default:
			return n
		}
	}
}

// handleRead drains the socket until would-block, bounded by the read
// budget for fairness among fds. Partial frames accumulate in a
// per-connection buffer until complete; a frame can never outgrow one
// slot because the oversize rule rejects it first.
func (s *Session) handleRead(conn *transport.Conn) {
	fd := conn.FD()
	for attempt := 0; attempt < s.readBudget; attempt++ {
		buf, ok := s.partial[fd]
		if !ok {
			buf, ok = s.pool.Allocate()
			if !ok {
				// Backpressure: leave the connection open and retry on
				// the next readiness.
				s.log.Warn("pool exhausted, deferring read", zap.Int("fd", fd))
				return
			}
			s.partial[fd] = buf
		}

		want := cap(buf.Data) - buf.Length
		n, eof, err := pool.ReadInto(fd, buf)
		if err != nil {
			s.log.Error("read failed", zap.Int("fd", fd), zap.Error(err))
			s.handleClose(conn)
			return
		}
		if eof {
			s.log.Info("peer closed", zap.Int("fd", fd))
			s.handleClose(conn)
			return
		}
		if n == 0 {
			// Would-block; keep accumulated bytes for the next tick.
			if buf.Length == 0 {
				s.releasePartial(fd)
			}
			return
		}

		if !s.consumeFrames(conn, buf) {
			return
		}
		if buf.Length == 0 {
			s.releasePartial(fd)
		}
		if n < want {
			return
		}
	}
	s.log.Warn("read budget reached", zap.Int("fd", fd))
}

// consumeFrames dispatches every complete frame in buf and shifts any
// trailing partial frame to the front. Returns false when the
// connection was closed or migrated during dispatch.
func (s *Session) consumeFrames(conn *transport.Conn, buf *pool.IOBuffer) bool {
	fd := conn.FD()
	off := 0
	for off < buf.Length {
		frame, status := protocol.ParseFrame(buf.Data[off:buf.Length])
		switch status {
		case protocol.ParseInvalid:
			s.log.Warn("protocol violation, closing", zap.Int("fd", fd))
			s.handleClose(conn)
			return false
		case protocol.ParseIncomplete:
			s.compact(buf, off)
			return true
		}

		off += frame.TotalSize()
		s.processMessage(conn, frame)
		if _, ok := s.conns[fd]; !ok {
			// Closed or moved away; the partial buffer is already
			// reclaimed and the remaining bytes are void.
			return false
		}
	}
	s.compact(buf, off)
	return true
}

func (s *Session) compact(buf *pool.IOBuffer, off int) {
	if off == 0 {
		return
	}
	if off < buf.Length {
		copy(buf.Data, buf.Data[off:buf.Length])
	}
	buf.Length -= off
}

// handleWrite drains the connection's write queue in FIFO order.
func (s *Session) handleWrite(conn *transport.Conn) {
	fd := conn.FD()
	for {
		buf, ok := s.pool.Front(fd)
		if !ok {
			break
		}
		n, err := pool.WriteFrom(fd, buf)
		if err != nil {
			s.log.Error("write failed", zap.Int("fd", fd), zap.Error(err))
			s.handleClose(conn)
			return
		}
		if n == 0 {
			// Would-block; keep writable interest.
			break
		}
		if buf.Remaining() > 0 {
			// Partial drain; the head stays queued.
			break
		}
		if err := s.pool.PopAndRelease(fd); err != nil {
			s.log.Error("pop failed", zap.Int("fd", fd), zap.Error(err))
			break
		}
	}

	interest := reactor.Readable | reactor.PeerHangup
	if s.pool.HasPending(fd) {
		interest |= reactor.Writable
	}
	if err := s.reactor.Modify(fd, interest); err != nil {
		s.log.Warn("interest update failed", zap.Int("fd", fd), zap.Error(err))
	}
}

// handleClose tears one connection down: reactor, map, partial buffer,
// write queue, descriptor, manager mapping. Idempotent; never panics
// out of the event loop.
func (s *Session) handleClose(conn *transport.Conn) {
	fd := conn.FD()
	if _, ok := s.conns[fd]; !ok {
		return
	}
	if err := s.reactor.Remove(fd); err != nil {
		s.log.Warn("reactor remove failed", zap.Int("fd", fd), zap.Error(err))
	}
	delete(s.conns, fd)
	s.releasePartial(fd)
	s.pool.Clear(fd)
	if err := conn.Close(); err != nil {
		s.log.Warn("close failed", zap.Int("fd", fd), zap.Error(err))
	}
	if s.mgr != nil {
		s.mgr.forget(fd)
		s.mgr.cfg.metrics.OnDisconnect()
	}
	s.log.Info("connection closed", zap.Int("fd", fd), zap.Int("clients", len(s.conns)))
}

func (s *Session) releasePartial(fd int) {
	buf, ok := s.partial[fd]
	if !ok {
		return
	}
	delete(s.partial, fd)
	if err := s.pool.Release(buf.BufferID); err != nil {
		s.log.Error("partial release failed", zap.Int("fd", fd), zap.Error(err))
	}
}

// SendMessage frames a payload into a pool buffer, queues it on the
// connection and enables writable interest. Pool exhaustion surfaces as
// api.ErrPoolExhausted; the caller logs and carries on.
func (s *Session) SendMessage(conn *transport.Conn, t protocol.MessageType, payload []byte) error {
	fd := conn.FD()
	if _, ok := s.conns[fd]; !ok {
		return fmt.Errorf("fd %d: %w", fd, api.ErrNotRegistered)
	}
	if protocol.HeaderSize+len(payload) > s.pool.BufferSize() {
		return fmt.Errorf("payload %d bytes: %w", len(payload), api.ErrFrameTooLarge)
	}
	buf, ok := s.pool.Allocate()
	if !ok {
		return api.ErrPoolExhausted
	}
	encoded, err := protocol.AppendFrame(buf.Data[:0], t, payload)
	if err != nil {
		_ = s.pool.Release(buf.BufferID)
		return err
	}
	buf.Length = len(encoded)
	s.pool.Enqueue(fd, buf)
	if err := s.reactor.Modify(fd, reactor.Readable|reactor.PeerHangup|reactor.Writable); err != nil {
		s.pool.Clear(fd)
		return fmt.Errorf("enable write fd %d: %w", fd, err)
	}
	return nil
}

// Broadcast queues a SERVER_CHAT with the payload on every connection
// except the sender and returns how many were reached.
func (s *Session) Broadcast(sender *transport.Conn, payload []byte) int {
	n := 0
	for fd, conn := range s.conns {
		if fd == sender.FD() {
			continue
		}
		if err := s.SendMessage(conn, protocol.ServerChat, payload); err != nil {
			s.log.Warn("broadcast send failed", zap.Int("fd", fd), zap.Error(err))
			continue
		}
		n++
	}
	if s.mgr != nil {
		s.mgr.cfg.metrics.OnBroadcast(n)
	}
	return n
}

// Close releases the session's OS resources. Called after the worker
// has stopped.
func (s *Session) Close() {
	for _, conn := range s.conns {
		fd := conn.FD()
		_ = s.reactor.Remove(fd)
		s.releasePartial(fd)
		s.pool.Clear(fd)
		_ = conn.Close()
	}
	s.conns = make(map[int]*transport.Conn)
	if err := s.reactor.Close(); err != nil {
		s.log.Warn("reactor close failed", zap.Error(err))
	}
}

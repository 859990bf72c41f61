//go:build linux

// File: session/dispatch_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Protocol dispatch for one decoded client frame.

package session

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/momentics/hiochat/api"
	"github.com/momentics/hiochat/protocol"
	"github.com/momentics/hiochat/transport"
)

// processMessage routes one frame. The echo for a CLIENT_CHAT is queued
// before the connection's next frame is examined, which keeps the
// per-connection reply order aligned with arrival order.
func (s *Session) processMessage(conn *transport.Conn, frame protocol.Frame) {
	s.processed.Inc()
	if s.mgr != nil {
		s.mgr.cfg.metrics.OnFrame(frame.Header.Type.String())
	}

	switch frame.Header.Type {
	case protocol.ClientJoin:
		s.handleJoin(conn, frame.Payload)
	case protocol.ClientLeave:
		s.log.Info("client leaving", zap.Int("fd", conn.FD()))
		s.handleClose(conn)
	case protocol.ClientChat:
		if err := s.SendMessage(conn, protocol.ServerEcho, frame.Payload); err != nil {
			s.log.Error("echo failed", zap.Int("fd", conn.FD()), zap.Error(err))
			return
		}
		if s.mgr != nil {
			s.mgr.cfg.metrics.OnEcho()
		}
	case protocol.ClientCommand:
		s.handleCommand(conn, frame.Payload)
	default:
		// Unreachable through the parser, which admits only client types.
		s.log.Warn("unhandled message type",
			zap.Int("fd", conn.FD()), zap.String("type", frame.Header.Type.String()))
	}
}

func (s *Session) handleJoin(conn *transport.Conn, payload []byte) {
	target, err := protocol.ParseJoinTarget(payload)
	if err != nil {
		s.replyError(conn, fmt.Sprintf("Failed to join session: %v", err))
		return
	}
	if target == s.id {
		msg := fmt.Sprintf("Already in session %d", s.id)
		if err := s.SendMessage(conn, protocol.ServerAck, []byte(msg)); err != nil {
			s.log.Error("ack failed", zap.Int("fd", conn.FD()), zap.Error(err))
		}
		return
	}
	if err := s.mgr.move(conn, s, target); err != nil {
		s.replyError(conn, fmt.Sprintf("Failed to join session: %v", err))
		return
	}
	s.log.Info("client moved", zap.Int("fd", conn.FD()), zap.Int32("target", target))
}

// handleCommand serves the small command surface. "stats" answers with a
// one-line session summary, "broadcast <text>" fans the text out to the
// session's other members; anything else is ignored.
func (s *Session) handleCommand(conn *transport.Conn, payload []byte) {
	cmd := string(payload)
	switch {
	case cmd == "stats":
		line := fmt.Sprintf("session %d: clients=%d processed=%d",
			s.id, len(s.conns), s.processed.Load())
		if err := s.SendMessage(conn, protocol.ServerNotification, []byte(line)); err != nil {
			s.log.Error("stats reply failed", zap.Int("fd", conn.FD()), zap.Error(err))
		}
	case strings.HasPrefix(cmd, "broadcast "):
		n := s.Broadcast(conn, []byte(strings.TrimPrefix(cmd, "broadcast ")))
		line := fmt.Sprintf("broadcast delivered to %d clients", n)
		if err := s.SendMessage(conn, protocol.ServerNotification, []byte(line)); err != nil {
			s.log.Error("broadcast reply failed", zap.Int("fd", conn.FD()), zap.Error(err))
		}
	default:
		s.log.Debug("ignoring command", zap.Int("fd", conn.FD()), zap.ByteString("command", payload))
	}
}

func (s *Session) replyError(conn *transport.Conn, msg string) {
	err := s.SendMessage(conn, protocol.ServerError, []byte(msg))
	if err != nil && !errors.Is(err, api.ErrNotRegistered) {
		s.log.Error("error reply failed", zap.Int("fd", conn.FD()), zap.Error(err))
	}
}

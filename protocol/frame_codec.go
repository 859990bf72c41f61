// File: protocol/frame_codec.go
// Package protocol implements the frame codec with payload size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hiochat/api"
)

// ParseStatus classifies the outcome of a parse attempt.
type ParseStatus int

const (
	// ParseComplete means one whole frame was decoded.
	ParseComplete ParseStatus = iota
	// ParseIncomplete means more bytes are needed for a frame.
	ParseIncomplete
	// ParseInvalid means the stream violates the protocol and the
	// connection must be closed.
	ParseInvalid
)

// ParseFrame decodes the first frame from data. On ParseComplete the
// returned frame's payload aliases data. Validation order: short header,
// oversize length, empty length, short payload, then type. Only the four
// client → server types are accepted; this is the server-side ingress path.
func ParseFrame(data []byte) (Frame, ParseStatus) {
	if len(data) < HeaderSize {
		return Frame{}, ParseIncomplete
	}
	hdr := Header{
		Type:   MessageType(data[0]),
		Length: binary.LittleEndian.Uint16(data[1:3]),
	}
	if hdr.Length > MaxPayload {
		return Frame{}, ParseInvalid
	}
	if hdr.Length == 0 {
		return Frame{}, ParseInvalid
	}
	if len(data) < HeaderSize+int(hdr.Length) {
		return Frame{}, ParseIncomplete
	}
	if !IsClientType(hdr.Type) {
		return Frame{}, ParseInvalid
	}
	return Frame{
		Header:  hdr,
		Payload: data[HeaderSize : HeaderSize+int(hdr.Length)],
	}, ParseComplete
}

// AppendFrame encodes a frame into dst and returns the extended slice.
// The payload must be non-empty and at most MaxPayload bytes.
func AppendFrame(dst []byte, t MessageType, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return dst, api.ErrEmptyPayload
	}
	if len(payload) > MaxPayload {
		return dst, fmt.Errorf("payload %d bytes: %w", len(payload), api.ErrFrameTooLarge)
	}
	var hdr [HeaderSize]byte
	hdr[0] = byte(t)
	binary.LittleEndian.PutUint16(hdr[1:], uint16(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...), nil
}

// EncodeFrame is AppendFrame into a fresh slice of exact size.
func EncodeFrame(t MessageType, payload []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), t, payload)
}

// JoinPayload encodes a CLIENT_JOIN target session id, little-endian.
func JoinPayload(sessionID int32) []byte {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(sessionID))
	return p[:]
}

// ParseJoinTarget decodes the target session id from a CLIENT_JOIN
// payload. The payload must carry at least four bytes.
func ParseJoinTarget(payload []byte) (int32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("join payload %d bytes: %w", len(payload), api.ErrInvalidArgument)
	}
	return int32(binary.LittleEndian.Uint32(payload[:4])), nil
}

// File: client/client.go
// Package client is the protocol driver used by the interactive chat
// client: a blocking net.Conn speaking the framed wire format.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/momentics/hiochat/protocol"
)

// Client is a blocking protocol endpoint. Safe for one writer and one
// reader goroutine; the REPL sends while a receive loop prints.
type Client struct {
	conn net.Conn
	br   *bufio.Reader
}

// Dial connects to a chat server.
func Dial(host string, port int, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", host, port, err)
	}
	return &Client{conn: conn, br: bufio.NewReaderSize(conn, protocol.MaxFrame)}, nil
}

// Send frames one message and writes it out.
func (c *Client) Send(t protocol.MessageType, payload []byte) error {
	frame, err := protocol.EncodeFrame(t, payload)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// SendChat sends a CLIENT_CHAT payload.
func (c *Client) SendChat(text string) error {
	return c.Send(protocol.ClientChat, []byte(text))
}

// Join asks the server to move this connection to another session.
func (c *Client) Join(sessionID int32) error {
	return c.Send(protocol.ClientJoin, protocol.JoinPayload(sessionID))
}

// Leave disconnects from the current session; the server closes the
// connection in response.
func (c *Client) Leave() error {
	return c.Send(protocol.ClientLeave, []byte{0})
}

// Command sends a CLIENT_COMMAND payload such as "stats".
func (c *Client) Command(cmd string) error {
	return c.Send(protocol.ClientCommand, []byte(cmd))
}

// Recv blocks for the next server frame. The payload is freshly
// allocated and safe to retain.
func (c *Client) Recv() (protocol.Frame, error) {
	var hdr [protocol.HeaderSize]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return protocol.Frame{}, err
	}
	h := protocol.Header{
		Type:   protocol.MessageType(hdr[0]),
		Length: binary.LittleEndian.Uint16(hdr[1:]),
	}
	if h.Length > protocol.MaxPayload {
		return protocol.Frame{}, fmt.Errorf("server frame length %d exceeds protocol maximum", h.Length)
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(c.br, payload); err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Frame{Header: h, Payload: payload}, nil
}

// SetReadDeadline bounds the next Recv.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close shuts the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

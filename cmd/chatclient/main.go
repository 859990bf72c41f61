// File: cmd/chatclient/main.go
// The interactive chat client binary.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hiochat/client"
	"github.com/momentics/hiochat/protocol"
)

func main() {
	root := &cobra.Command{
		Use:          "chatclient <host> <port>",
		Short:        "Interactive chat client",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         runClient,
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

const helpText = `Commands:
  /echo <text>   send <text> and print the server echo
  /join <id>     move to session <id>
  /stats         request the session stats line
  /broadcast <text>  send <text> to everyone else in the session
  /leave         leave the session and disconnect
  /help          this text
  /quit          exit
Anything else is sent as a chat message.`

func runClient(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[1])
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", args[1])
	}
	c, err := client.Dial(args[0], port, 5*time.Second)
	if err != nil {
		return err
	}
	defer c.Close()
	fmt.Printf("connected to %s:%d\n", args[0], port)

	done := make(chan struct{})
	go receiveLoop(c, done)

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "/quit":
			return nil
		case line == "/help":
			fmt.Println(helpText)
		case line == "/leave":
			if err := c.Leave(); err != nil {
				return err
			}
			<-done
			return nil
		case line == "/stats":
			if err := c.Command("stats"); err != nil {
				return err
			}
		case strings.HasPrefix(line, "/broadcast "):
			if err := c.Command("broadcast " + strings.TrimPrefix(line, "/broadcast ")); err != nil {
				return err
			}
		case strings.HasPrefix(line, "/join "):
			id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/join ")))
			if err != nil {
				fmt.Println("usage: /join <session-id>")
				continue
			}
			if err := c.Join(int32(id)); err != nil {
				return err
			}
		case strings.HasPrefix(line, "/echo "):
			if err := c.SendChat(strings.TrimPrefix(line, "/echo ")); err != nil {
				return err
			}
		default:
			if err := c.SendChat(line); err != nil {
				return err
			}
		}
	}
	return sc.Err()
}

func receiveLoop(c *client.Client, done chan<- struct{}) {
	defer close(done)
	for {
		frame, err := c.Recv()
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "receive failed: %v\n", err)
			}
			fmt.Println("disconnected")
			return
		}
		switch frame.Header.Type {
		case protocol.ServerEcho:
			fmt.Printf("[echo] %s\n", frame.Payload)
		case protocol.ServerChat:
			fmt.Printf("[chat] %s\n", frame.Payload)
		case protocol.ServerAck:
			fmt.Printf("[ack] %s\n", frame.Payload)
		case protocol.ServerError:
			fmt.Printf("[error] %s\n", frame.Payload)
		case protocol.ServerNotification:
			fmt.Printf("[notice] %s\n", frame.Payload)
		default:
			fmt.Printf("[%#02x] %s\n", byte(frame.Header.Type), frame.Payload)
		}
	}
}

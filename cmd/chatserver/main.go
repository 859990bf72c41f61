// File: cmd/chatserver/main.go
// The chat server binary.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/momentics/hiochat/internal/logging"
	"github.com/momentics/hiochat/server"
)

var (
	flagThreads   int
	flagDebugAddr string
	flagLogFile   string
	flagDebugLog  bool
	flagBuffers   int
	flagBufSize   int
	flagPin       bool
)

func main() {
	root := &cobra.Command{
		Use:          "chatserver",
		Short:        "Session-affine TCP chat server",
		SilenceUsage: true,
	}
	serve := &cobra.Command{
		Use:   "serve <host> <port> [num_threads]",
		Short: "Run the server until SIGINT/SIGTERM",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runServe,
	}
	serve.Flags().IntVar(&flagThreads, "threads", 0, "session count (0 = hardware concurrency)")
	serve.Flags().StringVar(&flagDebugAddr, "debug-addr", "", "metrics/debug HTTP address (empty = disabled)")
	serve.Flags().StringVar(&flagLogFile, "log-file", "", "rotated JSON log file (empty = console only)")
	serve.Flags().BoolVar(&flagDebugLog, "debug", false, "debug log verbosity")
	serve.Flags().IntVar(&flagBuffers, "buffers", 256, "pool slots per session")
	serve.Flags().IntVar(&flagBufSize, "buffer-size", 1024, "pool slot size in bytes")
	serve.Flags().BoolVar(&flagPin, "pin", false, "pin session workers to CPUs")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	host := args[0]
	port, err := strconv.Atoi(args[1])
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", args[1])
	}
	threads := flagThreads
	if len(args) == 3 {
		threads, err = strconv.Atoi(args[2])
		if err != nil || threads < 1 {
			return fmt.Errorf("invalid num_threads %q", args[2])
		}
	}

	log := logging.New(logging.Options{Debug: flagDebugLog, File: flagLogFile})
	defer func() { _ = log.Sync() }()

	srv, err := server.New(host, port,
		server.WithThreads(threads),
		server.WithBufferCount(flagBuffers),
		server.WithBufferSize(flagBufSize),
		server.WithCPUPinning(flagPin),
		server.WithDebugAddr(flagDebugAddr),
		server.WithLogger(log),
	)
	if err != nil {
		log.Error("server init failed", zap.Error(err))
		return err
	}
	if err := srv.Start(); err != nil {
		log.Error("server start failed", zap.Error(err))
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info("shutting down", zap.String("signal", sig.String()))
	srv.Stop()
	return nil
}

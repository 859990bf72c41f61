// File: server/options.go
// Package server defines functional options for the server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "go.uber.org/zap"

type serverConfig struct {
	host        string
	port        int
	threads     int
	bufferSize  int
	bufferCount int
	pollTimeout int
	pinCPUs     bool
	debugAddr   string
	log         *zap.Logger
}

func defaultServerConfig(host string, port int) serverConfig {
	return serverConfig{
		host:        host,
		port:        port,
		bufferSize:  1024,
		bufferCount: 256,
		pollTimeout: 100,
		log:         zap.NewNop(),
	}
}

// ServerOption customizes server initialization.
type ServerOption func(*serverConfig)

// WithThreads fixes the session fleet size. Zero means one session per
// hardware thread.
func WithThreads(n int) ServerOption {
	return func(c *serverConfig) { c.threads = n }
}

// WithBufferSize sets the per-session pool slot size.
func WithBufferSize(n int) ServerOption {
	return func(c *serverConfig) { c.bufferSize = n }
}

// WithBufferCount sets the per-session pool slot count.
func WithBufferCount(n int) ServerOption {
	return func(c *serverConfig) { c.bufferCount = n }
}

// WithPollTimeout sets the reactor wait bound in milliseconds.
func WithPollTimeout(ms int) ServerOption {
	return func(c *serverConfig) { c.pollTimeout = ms }
}

// WithCPUPinning pins each session worker to one CPU.
func WithCPUPinning(on bool) ServerOption {
	return func(c *serverConfig) { c.pinCPUs = on }
}

// WithDebugAddr enables the metrics/debug HTTP endpoint. Empty disables.
func WithDebugAddr(addr string) ServerOption {
	return func(c *serverConfig) { c.debugAddr = addr }
}

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) ServerOption {
	return func(c *serverConfig) {
		if log != nil {
			c.log = log
		}
	}
}

//go:build linux

// File: session/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Functional options for the session fleet.

package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hiochat/control"
)

type config struct {
	bufferSize  int
	bufferCount int
	pollTimeout int
	idleSleep   time.Duration
	inboxCap    int
	readBudget  int
	pinCPUs     bool
	log         *zap.Logger
	metrics     *control.Metrics
}

func defaultConfig() config {
	return config{
		bufferSize:  1024,
		bufferCount: 256,
		pollTimeout: 100,
		idleSleep:   100 * time.Millisecond,
		inboxCap:    128,
		readBudget:  100,
		log:         zap.NewNop(),
	}
}

// Option customizes manager and session construction.
type Option func(*config)

// WithBufferSize sets the pool slot capacity in bytes.
func WithBufferSize(n int) Option {
	return func(c *config) { c.bufferSize = n }
}

// WithBufferCount sets the number of pool slots per session.
func WithBufferCount(n int) Option {
	return func(c *config) { c.bufferCount = n }
}

// WithPollTimeout sets the reactor wait bound in milliseconds. Shutdown
// latency is one timeout, so keep it short.
func WithPollTimeout(ms int) Option {
	return func(c *config) { c.pollTimeout = ms }
}

// WithIdleSleep sets the backoff of a worker whose session is empty.
func WithIdleSleep(d time.Duration) Option {
	return func(c *config) { c.idleSleep = d }
}

// WithInboxCapacity bounds the cross-thread hand-off queue.
func WithInboxCapacity(n int) Option {
	return func(c *config) { c.inboxCap = n }
}

// WithReadBudget caps handleRead iterations per readiness, for fairness
// among a session's connections.
func WithReadBudget(n int) Option {
	return func(c *config) { c.readBudget = n }
}

// WithCPUPinning pins each worker thread to one CPU.
func WithCPUPinning(on bool) Option {
	return func(c *config) { c.pinCPUs = on }
}

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics attaches the Prometheus metric set.
func WithMetrics(m *control.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

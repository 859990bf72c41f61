// File: control/debug.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Optional debug HTTP endpoint: /metrics, /healthz, /sessions.

package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SessionStat is one row of the /sessions report.
type SessionStat struct {
	ID        int32  `json:"id"`
	Clients   int    `json:"clients"`
	Processed uint64 `json:"processed"`
	PoolFree  int    `json:"pool_free"`
}

// StatsFunc snapshots the fleet for the /sessions endpoint.
type StatsFunc func() []SessionStat

// DebugServer serves the observability endpoints on a side address.
type DebugServer struct {
	srv *http.Server
	log *zap.Logger
}

// NewDebugServer wires the router. stats may be nil, in which case
// /sessions reports an empty fleet.
func NewDebugServer(addr string, metrics *Metrics, stats StatsFunc, log *zap.Logger) *DebugServer {
	mux := chi.NewRouter()
	if reg := metrics.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		rows := []SessionStat{}
		if stats != nil {
			rows = stats()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	})
	return &DebugServer{
		srv: &http.Server{Addr: addr, Handler: mux},
		log: log,
	}
}

// Handler exposes the router for tests.
func (d *DebugServer) Handler() http.Handler { return d.srv.Handler }

// Start serves in the background until Stop.
func (d *DebugServer) Start() {
	go func() {
		if err := d.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Error("debug server failed", zap.Error(err))
		}
	}()
	d.log.Info("debug endpoint listening", zap.String("addr", d.srv.Addr))
}

// Stop shuts the endpoint down with a short grace period.
func (d *DebugServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.srv.Shutdown(ctx)
}

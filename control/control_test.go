// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// control_test.go — metric recording and the debug HTTP surface.

package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMetrics_NilReceiverIsSilent(t *testing.T) {
	var m *Metrics
	assert.Nil(t, m.Registry())
	m.OnAccepted()
	m.OnDisconnect()
	m.OnFrame("CLIENT_CHAT")
	m.OnEcho()
	m.OnBroadcast(3)
	m.SetPoolFree("0", 7)
}

func TestMetrics_Recording(t *testing.T) {
	m := NewMetrics()

	m.OnAccepted()
	m.OnAccepted()
	m.OnDisconnect()
	m.OnFrame("CLIENT_CHAT")
	m.OnFrame("CLIENT_CHAT")
	m.OnFrame("CLIENT_JOIN")
	m.OnEcho()
	m.OnBroadcast(4)
	m.SetPoolFree("1", 200)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.AcceptedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DisconnectsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Connections))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.FramesTotal.WithLabelValues("CLIENT_CHAT")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FramesTotal.WithLabelValues("CLIENT_JOIN")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EchoesTotal))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.BroadcastsTotal))
	assert.Equal(t, float64(200), testutil.ToFloat64(m.PoolFree.WithLabelValues("1")))
}

func TestDebugServer_Healthz(t *testing.T) {
	d := NewDebugServer("127.0.0.1:0", nil, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestDebugServer_SessionsReport(t *testing.T) {
	stats := func() []SessionStat {
		return []SessionStat{
			{ID: 0, Clients: 2, Processed: 10, PoolFree: 254},
			{ID: 1, Clients: 0, Processed: 0, PoolFree: 256},
		}
	}
	d := NewDebugServer("127.0.0.1:0", nil, stats, zap.NewNop())

	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var rows []SessionStat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Clients)
	assert.Equal(t, uint64(10), rows[0].Processed)
}

func TestDebugServer_SessionsNilStats(t *testing.T) {
	d := NewDebugServer("127.0.0.1:0", nil, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestDebugServer_MetricsEndpoint(t *testing.T) {
	m := NewMetrics()
	m.OnAccepted()
	d := NewDebugServer("127.0.0.1:0", m, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hiochat_accepted_total 1")
}

func TestDebugServer_MetricsAbsentWithoutRegistry(t *testing.T) {
	d := NewDebugServer("127.0.0.1:0", nil, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

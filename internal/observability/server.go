// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package observability exposes plugin runtime metrics and health probes
// over HTTP.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker reports whether the host has finished starting plugins.
type ReadinessChecker func() bool

// Request status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the plugin runtime collectors. A nil *Metrics records
// nothing, so callers never need to guard their calls.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	EventsDeliveredTotal *prometheus.CounterVec
	SessionsRunning      prometheus.Gauge
	SessionExitsTotal    *prometheus.CounterVec
	StartFailuresTotal   *prometheus.CounterVec
}

// NewMetrics creates the plugin runtime collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spud_plugin_requests_total",
				Help: "Plugin requests handled, by plugin, method and response status",
			},
			[]string{"plugin", "method", "status"},
		),
		EventsDeliveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spud_plugin_events_delivered_total",
				Help: "Event notifications written to plugins, by category",
			},
			[]string{"category"},
		),
		SessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spud_plugin_sessions_running",
			Help: "Plugin sessions currently running",
		}),
		SessionExitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spud_plugin_session_exits_total",
				Help: "Plugin sessions that ended without an explicit shutdown, by plugin",
			},
			[]string{"plugin"},
		),
		StartFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spud_plugin_start_failures_total",
				Help: "Failed plugin starts, by plugin",
			},
			[]string{"plugin"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.EventsDeliveredTotal,
		m.SessionsRunning,
		m.SessionExitsTotal,
		m.StartFailuresTotal,
	)
	return m
}

// RecordRequest counts one handled plugin request.
func (m *Metrics) RecordRequest(plugin, method string, isError bool) {
	if m == nil {
		return
	}
	status := StatusOK
	if isError {
		status = StatusError
	}
	m.RequestsTotal.WithLabelValues(plugin, method, status).Inc()
}

// RecordEventsDelivered adds n deliveries for category.
func (m *Metrics) RecordEventsDelivered(category string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EventsDeliveredTotal.WithLabelValues(category).Add(float64(n))
}

// SetSessionsRunning sets the running session gauge.
func (m *Metrics) SetSessionsRunning(n int) {
	if m == nil {
		return
	}
	m.SessionsRunning.Set(float64(n))
}

// RecordSessionExit counts a session that ended on its own.
func (m *Metrics) RecordSessionExit(plugin string) {
	if m == nil {
		return
	}
	m.SessionExitsTotal.WithLabelValues(plugin).Inc()
}

// RecordStartFailure counts a failed spawn or handshake.
func (m *Metrics) RecordStartFailure(plugin string) {
	if m == nil {
		return
	}
	m.StartFailuresTotal.WithLabelValues(plugin).Inc()
}

// Server serves /metrics and the liveness/readiness probes.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a server with its own registry. addr is "host:port".
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  readinessChecker,
	}
}

// Metrics returns the collectors registered on this server.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start listens and serves in the background. The returned channel reports a
// serve failure and is closed once the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, "ok")
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.isReady == nil || s.isReady() {
		writeProbe(w, http.StatusOK, "ok")
		return
	}
	writeProbe(w, http.StatusServiceUnavailable, "not ready")
}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // probe clients may disconnect early
	w.Write([]byte(body + "\n"))
}

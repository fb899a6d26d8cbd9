// Package metrics exposes Prometheus counters and gauges for the voxchat server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     prometheus.Counter
	messagesTotal   *prometheus.CounterVec
	dialogsStarted  prometheus.Counter
	voiceSessions   prometheus.Gauge
	queuePending    prometheus.Gauge
	queueActive     prometheus.Gauge
	runsFailed      prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxchat_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxchat_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxchat_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxchat_messages_total",
			Help: "Messages appended through the API by role and kind",
		}, []string{"role", "kind"}),
		dialogsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxchat_dialogs_started_total",
			Help: "Dialogs created from the appointment form",
		}),
		voiceSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxchat_voice_sessions",
			Help: "Open browser voice sessions",
		}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxchat_reply_queue_pending",
			Help: "Reply runs queued or executing",
		}),
		queueActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxchat_reply_queue_active",
			Help: "Reply runs currently executing",
		}),
		runsFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxchat_reply_runs_failed",
			Help: "Reply runs that exhausted their retries since start",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.errorsTotal,
		m.messagesTotal,
		m.dialogsStarted,
		m.voiceSessions,
		m.queuePending,
		m.queueActive,
		m.runsFailed,
	)
	return m
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
	if status >= 400 {
		m.errorsTotal.Inc()
	}
}

// IncMessages counts an appended message. kind is "voice" or "text".
func (m *Metrics) IncMessages(role, kind string) {
	m.messagesTotal.WithLabelValues(role, kind).Inc()
}

// IncDialogsStarted counts a created dialog.
func (m *Metrics) IncDialogsStarted() {
	m.dialogsStarted.Inc()
}

// VoiceSessionOpened and VoiceSessionClosed track live websocket sessions.
func (m *Metrics) VoiceSessionOpened() { m.voiceSessions.Inc() }

func (m *Metrics) VoiceSessionClosed() { m.voiceSessions.Dec() }

// SetQueue sets the reply queue gauges.
func (m *Metrics) SetQueue(pending, active, failed int64) {
	m.queuePending.Set(float64(pending))
	m.queueActive.Set(float64(active))
	m.runsFailed.Set(float64(failed))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}

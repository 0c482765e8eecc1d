// Package metrics owns the prometheus registry of a projecthub instance.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"projecthub/cmd/identity"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "projecthub"

// Metrics holds every collector exported at /metrics.
type Metrics struct {
	reg *prometheus.Registry

	docstoreRequests *prometheus.CounterVec
	docstoreDuration *prometheus.HistogramVec
	authEvents       *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

// New builds a registry with runtime collectors and the service collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		docstoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "docstore_requests_total",
			Help:      "Document store client operations by outcome.",
		}, []string{"op", "result"}),
		docstoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "docstore_request_duration_seconds",
			Help:      "Latency of document store client operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Account and session events by outcome.",
		}, []string{"event", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.docstoreRequests,
		m.docstoreDuration,
		m.authEvents,
		m.httpRequests,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveDocstore records one document store client operation.
func (m *Metrics) ObserveDocstore(op string, err error, elapsed time.Duration) {
	op = strings.TrimPrefix(op, "docstore.")
	m.docstoreRequests.WithLabelValues(op, Result(err)).Inc()
	m.docstoreDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// AuthEvent records the outcome of an account operation.
func (m *Metrics) AuthEvent(event string, err error) {
	m.authEvents.WithLabelValues(event, Result(err)).Inc()
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(method string, status int) {
	class := "5xx"
	switch {
	case status < 300:
		class = "2xx"
	case status < 400:
		class = "3xx"
	case status < 500:
		class = "4xx"
	}
	m.httpRequests.WithLabelValues(method, class).Inc()
}

// RegisterIdentityGauges exports the sizes of the identity store tables.
func (m *Metrics) RegisterIdentityGauges(counts func() identity.Counts) {
	gauge := func(name, help string, pick func(identity.Counts) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(counts())) })
	}
	m.reg.MustRegister(
		gauge("cached_users", "Active users held in the local cache.", func(c identity.Counts) int { return c.Users }),
		gauge("pending_registrations", "Registrations awaiting activation.", func(c identity.Counts) int { return c.Pending }),
		gauge("sessions", "Sessions held in memory, including expired ones not yet swept.", func(c identity.Counts) int { return c.Sessions }),
		gauge("reset_codes", "Outstanding password reset codes.", func(c identity.Counts) int { return c.ResetCodes }),
	)
}

// Result maps an error to a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, identity.ErrNotFound):
		return "not_found"
	case errors.Is(err, identity.ErrConflict):
		return "conflict"
	case errors.Is(err, identity.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, identity.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, identity.ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
